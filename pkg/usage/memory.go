package usage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/polisai/polis-dispatch/pkg/domain"
)

// MemoryStore is an in-memory implementation of Recorder.
type MemoryStore struct {
	mu      sync.RWMutex
	records []domain.UsageRecord
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends rec.
func (s *MemoryStore) Record(_ context.Context, rec domain.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// CountByRoute counts records for route received at or after since.
func (s *MemoryStore) CountByRoute(_ context.Context, route string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, rec := range s.records {
		if rec.Route == route && !rec.ReceivedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// CountBySession counts records for sessionID.
func (s *MemoryStore) CountBySession(_ context.Context, sessionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, rec := range s.records {
		if rec.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

// TopRoutes returns up to limit routes ordered by record count.
func (s *MemoryStore) TopRoutes(_ context.Context, limit int) ([]RouteCount, error) {
	s.mu.RLock()
	counts := make(map[string]int64)
	for _, rec := range s.records {
		counts[rec.Route]++
	}
	s.mu.RUnlock()

	out := make([]RouteCount, 0, len(counts))
	for route, n := range counts {
		out = append(out, RouteCount{Route: route, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Route < out[j].Route
		}
		return out[i].Count > out[j].Count
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op for memory store.
func (s *MemoryStore) Close() error {
	return nil
}
