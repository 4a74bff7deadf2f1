package cache

import (
	"sync"
	"time"

	"github.com/finwatch/wealthtracker/internal/observ"
)

// Entry is a cached payload with its update time. Freshness is decided by the
// Strategy, not stored here.
type Entry[T any] struct {
	Value     T
	UpdatedAt time.Time
}

// Quotes is a mutex-guarded map of the most recent payload per key, bounded
// by maxSize with oldest-entry eviction.
type Quotes[T any] struct {
	mu      sync.RWMutex
	entries map[string]Entry[T]
	maxSize int
	now     func() time.Time
}

func NewQuotes[T any](maxSize int) *Quotes[T] {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Quotes[T]{entries: make(map[string]Entry[T]), maxSize: maxSize, now: time.Now}
}

// Get returns the cached entry for key, if present. Freshness is the
// caller's business via Strategy.ShouldUseCache.
func (q *Quotes[T]) Get(key string) (Entry[T], bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	e, ok := q.entries[key]
	if ok {
		observ.IncCounter("quote_cache_hits_total", nil)
	} else {
		observ.IncCounter("quote_cache_misses_total", nil)
	}
	return e, ok
}

// Put stores value under key, evicting the oldest entry when full.
func (q *Quotes[T]) Put(key string, value T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		var oldestKey string
		oldest := q.now()
		for k, e := range q.entries {
			if e.UpdatedAt.Before(oldest) {
				oldest = e.UpdatedAt
				oldestKey = k
			}
		}
		if oldestKey != "" {
			delete(q.entries, oldestKey)
			observ.IncCounter("quote_cache_evictions_total", nil)
		}
	}
	q.entries[key] = Entry[T]{Value: value, UpdatedAt: q.now()}
}

func (q *Quotes[T]) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}
