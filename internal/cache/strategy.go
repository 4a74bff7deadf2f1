package cache

import (
	"sync"
	"time"

	"github.com/finwatch/wealthtracker/internal/observ"
)

// Tier classifies how hot a cache key is; hotter keys get shorter freshness
// windows so their data stays current, cold keys keep cached data longer to
// save upstream calls.
type Tier string

const (
	Aggressive   Tier = "aggressive"
	Normal       Tier = "normal"
	Conservative Tier = "conservative"
)

const (
	aggressiveTTL   = 2 * time.Minute
	normalTTL       = 5 * time.Minute
	conservativeTTL = 15 * time.Minute

	highFrequencyCount   = 5
	mediumFrequencyCount = 2
	highFrequencyGap     = 30 * time.Second
	mediumFrequencyGap   = 60 * time.Second

	// Keys untouched for this long are swept to bound memory.
	statsIdleLimit = 24 * time.Hour
)

type accessStats struct {
	count      int
	lastAccess time.Time
	averageGap time.Duration
	tier       Tier
}

// Strategy derives a per-key TTL from observed access frequency. The tier is
// recomputed from the full stats on every access, not aged incrementally.
type Strategy struct {
	mu    sync.Mutex
	stats map[string]*accessStats
	now   func() time.Time
}

func NewStrategy() *Strategy {
	return NewStrategyWithClock(time.Now)
}

func NewStrategyWithClock(now func() time.Time) *Strategy {
	return &Strategy{stats: make(map[string]*accessStats), now: now}
}

// ExpiryFor records an access to key and returns the freshness window its
// current tier grants.
func (s *Strategy) ExpiryFor(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stats[key]
	if !ok {
		st = &accessStats{tier: Normal}
		s.stats[key] = st
	}

	now := s.now()
	if !st.lastAccess.IsZero() {
		gap := now.Sub(st.lastAccess)
		if st.averageGap == 0 {
			st.averageGap = gap
		} else {
			st.averageGap = (st.averageGap + gap) / 2
		}
	}
	st.count++
	st.lastAccess = now

	switch {
	case st.count >= highFrequencyCount && st.averageGap < highFrequencyGap:
		st.tier = Aggressive
	case st.count >= mediumFrequencyCount && st.averageGap < mediumFrequencyGap:
		st.tier = Normal
	default:
		st.tier = Conservative
	}

	ttl := ttlFor(st.tier)
	observ.Log("cache_strategy", map[string]any{
		"key": key, "tier": string(st.tier), "ttl_ms": ttl.Milliseconds(),
	})
	return ttl
}

// ShouldUseCache reports whether data last updated at lastUpdated is still
// inside the key's freshness window. It counts as an access.
func (s *Strategy) ShouldUseCache(key string, lastUpdated time.Time) bool {
	ttl := s.ExpiryFor(key)
	return s.now().Sub(lastUpdated) < ttl
}

// TierFor returns the key's current tier without recording an access.
func (s *Strategy) TierFor(key string) Tier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stats[key]; ok {
		return st.tier
	}
	return Normal
}

// Sweep drops stats for keys idle past the 24-hour threshold and returns how
// many were removed.
func (s *Strategy) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, st := range s.stats {
		if now.Sub(st.lastAccess) >= statsIdleLimit {
			delete(s.stats, key)
			removed++
		}
	}
	if removed > 0 {
		observ.Log("cache_stats_sweep", map[string]any{"removed": removed, "remaining": len(s.stats)})
	}
	observ.SetGauge("cache_tracked_keys", float64(len(s.stats)), nil)
	return removed
}

func ttlFor(t Tier) time.Duration {
	switch t {
	case Aggressive:
		return aggressiveTTL
	case Conservative:
		return conservativeTTL
	default:
		return normalTTL
	}
}
