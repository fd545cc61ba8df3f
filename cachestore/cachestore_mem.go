package cachestore

import (
	"context"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/puzpuzpuz/xsync/v4"
)

// MemCacheStore keeps one expiring LRU per cache name, each with the name's TTL.
type MemCacheStore struct {
	Policy Policy
	caches *xsync.Map[string, *expirable.LRU[string, string]]
}

var _ CacheStore = (*MemCacheStore)(nil)

func NewMemCacheStore(policy Policy) *MemCacheStore {
	return &MemCacheStore{
		Policy: policy,
		caches: xsync.NewMap[string, *expirable.LRU[string, string]](),
	}
}

func (s *MemCacheStore) cache(name string) *expirable.LRU[string, string] {
	c, _ := s.caches.LoadOrCompute(name, func() (*expirable.LRU[string, string], bool) {
		return expirable.NewLRU[string, string](s.Policy.capacity(), nil, s.Policy.TTL(name)), false
	})
	return c
}

func (s *MemCacheStore) Get(ctx context.Context, name, key string) (string, error) {
	v, ok := s.cache(name).Get(key)
	if !ok {
		return "", nil
	}
	return v, nil
}

func (s *MemCacheStore) Set(ctx context.Context, name, key string, val string) error {
	s.cache(name).Add(key, val)
	return nil
}

func (s *MemCacheStore) Purge(ctx context.Context, name, key string) error {
	if c, ok := s.caches.Load(name); ok {
		c.Remove(key)
	}
	return nil
}
