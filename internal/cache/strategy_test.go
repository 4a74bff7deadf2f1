package cache

import (
	"testing"
	"time"
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time          { return c.t }
func (c *stepClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestHotKeyBecomesAggressive(t *testing.T) {
	clk := &stepClock{t: time.Now()}
	s := NewStrategyWithClock(clk.now)

	var ttl time.Duration
	for i := 0; i < 6; i++ {
		ttl = s.ExpiryFor("quote:AAPL")
		clk.advance(10 * time.Second)
	}
	if got := s.TierFor("quote:AAPL"); got != Aggressive {
		t.Fatalf("tier = %v after 6 accesses at 10s gaps, want aggressive", got)
	}
	if ttl != 2*time.Minute {
		t.Errorf("ttl = %v, want 2m", ttl)
	}
}

func TestColdKeyStaysConservative(t *testing.T) {
	clk := &stepClock{t: time.Now()}
	s := NewStrategyWithClock(clk.now)

	s.ExpiryFor("quote:BRK.A")
	clk.advance(5 * time.Minute)
	ttl := s.ExpiryFor("quote:BRK.A")

	if got := s.TierFor("quote:BRK.A"); got != Conservative {
		t.Fatalf("tier = %v for 2 accesses with 5m gap, want conservative", got)
	}
	if ttl != 15*time.Minute {
		t.Errorf("ttl = %v, want 15m", ttl)
	}
}

func TestTTLMonotonicAcrossTiers(t *testing.T) {
	clk := &stepClock{t: time.Now()}
	s := NewStrategyWithClock(clk.now)

	// Hot key: 6 accesses inside 30s intervals.
	for i := 0; i < 6; i++ {
		s.ExpiryFor("hot")
		clk.advance(10 * time.Second)
	}
	hotTTL := s.ExpiryFor("hot")

	// Cold key: two accesses with a gap over 60s.
	s.ExpiryFor("cold")
	clk.advance(2 * time.Minute)
	coldTTL := s.ExpiryFor("cold")

	if hotTTL >= coldTTL {
		t.Errorf("hot ttl %v must be strictly below cold ttl %v", hotTTL, coldTTL)
	}
}

func TestFirstAccessIsConservative(t *testing.T) {
	s := NewStrategy()
	if ttl := s.ExpiryFor("fresh"); ttl != 15*time.Minute {
		t.Errorf("first-access ttl = %v, want conservative 15m (single access)", ttl)
	}
}

func TestShouldUseCache(t *testing.T) {
	clk := &stepClock{t: time.Now()}
	s := NewStrategyWithClock(clk.now)

	updated := clk.t
	if !s.ShouldUseCache("k", updated) {
		t.Error("freshly updated entry reported stale")
	}
	clk.advance(16 * time.Minute)
	if s.ShouldUseCache("k", updated) {
		t.Error("entry older than every tier's window reported fresh")
	}
}

func TestSweepRemovesIdleStats(t *testing.T) {
	clk := &stepClock{t: time.Now()}
	s := NewStrategyWithClock(clk.now)

	s.ExpiryFor("stale")
	clk.advance(25 * time.Hour)
	s.ExpiryFor("active")

	if removed := s.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed %d, want 1", removed)
	}
	// Swept key starts over as a fresh entry.
	if got := s.TierFor("stale"); got != Normal {
		t.Errorf("tier after sweep = %v, want default", got)
	}
}

func TestQuotesCacheEvictsOldest(t *testing.T) {
	q := NewQuotes[string](2)
	q.Put("a", "1")
	q.Put("b", "2")
	q.Put("c", "3")

	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
	if _, ok := q.Get("a"); ok {
		t.Error("oldest entry survived eviction")
	}
	if e, ok := q.Get("c"); !ok || e.Value != "3" {
		t.Errorf("Get(c) = %+v, %v", e, ok)
	}
}
