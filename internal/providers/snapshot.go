package providers

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/finwatch/wealthtracker/internal/observ"
)

// SnapshotTTL is how long one bulk TWSE download serves all Taiwan lookups.
const SnapshotTTL = 15 * time.Minute

// SnapshotCache holds the most recent bulk exchange download. Concurrent
// refreshes collapse into a single upstream fetch via singleflight.
type SnapshotCache struct {
	mu        sync.Mutex
	rows      []twseRow
	fetchedAt time.Time

	group singleflight.Group
	now   func() time.Time
}

func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{now: time.Now}
}

// Rows returns the cached snapshot when it is still within SnapshotTTL.
func (s *SnapshotCache) Rows() ([]twseRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil || s.now().Sub(s.fetchedAt) >= SnapshotTTL {
		return nil, false
	}
	return s.rows, true
}

// GetOrFetch returns the cached snapshot or refreshes it through fetch.
// Callers racing on an expired snapshot share one fetch result.
func (s *SnapshotCache) GetOrFetch(ctx context.Context, fetch func(ctx context.Context) ([]twseRow, error)) ([]twseRow, error) {
	if rows, ok := s.Rows(); ok {
		observ.IncCounter("twse_snapshot_hits_total", nil)
		return rows, nil
	}

	observ.IncCounter("twse_snapshot_misses_total", nil)
	v, err, shared := s.group.Do("twse_snapshot", func() (any, error) {
		// Re-check under the flight: a racing caller may have refreshed
		// between the miss and the singleflight admission.
		if rows, ok := s.Rows(); ok {
			return rows, nil
		}
		rows, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.rows = rows
		s.fetchedAt = s.now()
		s.mu.Unlock()
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		observ.IncCounter("twse_snapshot_shared_total", nil)
	}
	return v.([]twseRow), nil
}

// Invalidate drops the cached snapshot so the next lookup refetches.
func (s *SnapshotCache) Invalidate() {
	s.mu.Lock()
	s.rows = nil
	s.fetchedAt = time.Time{}
	s.mu.Unlock()
}

// Age reports how old the cached snapshot is; ok is false when empty.
func (s *SnapshotCache) Age() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		return 0, false
	}
	return s.now().Sub(s.fetchedAt), true
}
