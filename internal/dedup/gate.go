package dedup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/finwatch/wealthtracker/internal/observ"
)

const (
	// Window after which an in-flight record is considered abandoned and a new
	// identical request may proceed.
	Window = 30 * time.Second
	// Cap on concurrently in-flight operations across all keys.
	MaxConcurrent = 3
)

// ErrTooManyConcurrent is returned when the in-flight cap is reached.
var ErrTooManyConcurrent = errors.New("too many concurrent requests")

// Outcome tags how the gate disposed of a request.
type Outcome int

const (
	Executed Outcome = iota
	Duplicate
	Rejected
)

type ongoing struct {
	id        string
	startedAt time.Time
	kind      string
}

// Gate collapses concurrent identical requests into one in-flight operation.
// The registry lock is held only to register and deregister; operations run
// outside it, so unrelated keys proceed concurrently up to MaxConcurrent.
type Gate struct {
	mu       sync.Mutex
	inFlight map[string]ongoing
	count    int
	now      func() time.Time
}

func NewGate() *Gate {
	return NewGateWithClock(time.Now)
}

func NewGateWithClock(now func() time.Time) *Gate {
	return &Gate{inFlight: make(map[string]ongoing), now: now}
}

// Execute runs op unless an identical request is already in flight inside the
// deduplication window (Duplicate, op not invoked) or the concurrency cap is
// reached (Rejected, op not invoked). Cleanup of the registration is
// unconditional: a panicking or failing operation never leaves its key behind
// to block future identical requests.
func (g *Gate) Execute(ctx context.Context, key, kind string, op func(ctx context.Context) error) (Outcome, error) {
	now := g.now()

	g.mu.Lock()
	if existing, ok := g.inFlight[key]; ok {
		age := now.Sub(existing.startedAt)
		if age < Window {
			g.mu.Unlock()
			observ.IncCounter("dedup_duplicates_total", map[string]string{"kind": kind})
			observ.Log("dedup_duplicate", map[string]any{"key": key, "in_flight_ms": age.Milliseconds()})
			return Duplicate, nil
		}
		// Stale record from an abandoned run; replace it.
		delete(g.inFlight, key)
		g.count--
	}
	if g.count >= MaxConcurrent {
		g.mu.Unlock()
		observ.Warn("dedup_concurrency_cap", map[string]any{"key": key, "in_flight": MaxConcurrent})
		observ.IncCounter("dedup_rejections_total", map[string]string{"kind": kind})
		return Rejected, ErrTooManyConcurrent
	}
	g.inFlight[key] = ongoing{id: kind + ":" + key, startedAt: now, kind: kind}
	g.count++
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.inFlight, key)
		g.count--
		g.mu.Unlock()
	}()

	return Executed, op(ctx)
}

// CleanupExpired drops records older than the deduplication window. The
// periodic maintenance sweep calls this so abandoned registrations cannot
// pin the concurrency count.
func (g *Gate) CleanupExpired() int {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for key, r := range g.inFlight {
		if now.Sub(r.startedAt) > Window {
			delete(g.inFlight, key)
			g.count--
			removed++
		}
	}
	if removed > 0 {
		observ.Log("dedup_cleanup", map[string]any{"removed": removed})
	}
	return removed
}

// Stats reports registry size and in-flight count.
func (g *Gate) Stats() (ongoingCount, inFlight int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inFlight), g.count
}
