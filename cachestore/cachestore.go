package cachestore

import (
	"context"
	"encoding/json"
	"time"
)

type CacheStore interface {
	// Get returns "" on a miss.
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}

// Cache names.
const (
	NameMember = "member"
	// lookups that found no member; kept shorter so joins show up quickly
	NameMemberMissing = "member-missing"
)

// Policy sizes the in-process caches and sets entry lifetimes per cache name.
type Policy struct {
	// entries per name, for the in-process tier
	Capacity   int
	DefaultTTL time.Duration
	TTLs       map[string]time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Capacity:   50_000,
		DefaultTTL: time.Minute,
		TTLs: map[string]time.Duration{
			NameMember:        time.Minute,
			NameMemberMissing: 10 * time.Second,
		},
	}
}

func (p Policy) TTL(name string) time.Duration {
	if ttl, ok := p.TTLs[name]; ok && ttl > 0 {
		return ttl
	}
	if p.DefaultTTL > 0 {
		return p.DefaultTTL
	}
	return time.Minute
}

func (p Policy) capacity() int {
	if p.Capacity > 0 {
		return p.Capacity
	}
	return 10_000
}

// GetJSON decodes a cached value. The boolean is false on a miss or an undecodable entry.
func GetJSON[T any](ctx context.Context, c CacheStore, name, key string) (*T, bool, error) {
	raw, err := c.Get(ctx, name, key)
	if err != nil || raw == "" {
		return nil, false, err
	}
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false, nil
	}
	return &out, true, nil
}

func SetJSON(ctx context.Context, c CacheStore, name, key string, val any) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return c.Set(ctx, name, key, string(b))
}
