package countstore

import (
	"context"
	"sync"
	"time"
)

type MemHitStore struct {
	mu   sync.Mutex
	Hits map[string][]time.Time
}

var _ HitStore = (*MemHitStore)(nil)

func NewMemHitStore() *MemHitStore {
	return &MemHitStore{
		Hits: make(map[string][]time.Time),
	}
}

// prune assumes s.mu is held. Hits are kept in insertion order, which is time order for a
// single series under its key lock.
func (s *MemHitStore) prune(k string, cutoff time.Time) []time.Time {
	hits := s.Hits[k]
	i := 0
	for i < len(hits) && hits[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		hits = append([]time.Time(nil), hits[i:]...)
		s.Hits[k] = hits
	}
	return hits
}

func (s *MemHitStore) Record(ctx context.Context, key Key, at time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.String()
	s.Hits[k] = append(s.Hits[k], at)
	hits := s.prune(k, at.Add(-window))
	return countUntil(hits, at), nil
}

func (s *MemHitStore) Count(ctx context.Context, key Key, at time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hits := s.prune(key.String(), at.Add(-window))
	return countUntil(hits, at), nil
}

func (s *MemHitStore) Clear(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Hits, key.String())
	return nil
}

func countUntil(hits []time.Time, at time.Time) int {
	n := 0
	for _, h := range hits {
		if !h.After(at) {
			n++
		}
	}
	return n
}
