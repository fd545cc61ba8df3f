package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/guildwarden/warden/platform"
)

type member struct {
	Roles []string
	Admin bool
}

func TestMemCacheStoreJSON(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCacheStore(Policy{Capacity: 10, DefaultTTL: time.Hour})

	_, ok, err := GetJSON[member](ctx, cs, "member", "g1/u1")
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(SetJSON(ctx, cs, "member", "g1/u1", member{Roles: []string{"r1"}, Admin: true}))
	m, ok, err := GetJSON[member](ctx, cs, "member", "g1/u1")
	assert.NoError(err)
	assert.True(ok)
	assert.Equal([]string{"r1"}, m.Roles)
	assert.True(m.Admin)

	// garbage reads as a miss
	assert.NoError(cs.Set(ctx, "member", "g1/u2", "{not json"))
	_, ok, err = GetJSON[member](ctx, cs, "member", "g1/u2")
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(cs.Purge(ctx, "member", "g1/u1"))
	_, ok, err = GetJSON[member](ctx, cs, "member", "g1/u1")
	assert.NoError(err)
	assert.False(ok)

	// names are separate namespaces
	assert.NoError(cs.Set(ctx, "a", "k", "1"))
	v, err := cs.Get(ctx, "b", "k")
	assert.NoError(err)
	assert.Equal("", v)
	assert.NoError(cs.Purge(ctx, "never-used", "k"))
}

func TestMemCacheStorePerNameTTL(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemCacheStore(Policy{
		Capacity:   10,
		DefaultTTL: time.Hour,
		TTLs:       map[string]time.Duration{"short": 10 * time.Millisecond},
	})
	assert.NoError(cs.Set(ctx, "short", "k", "v"))
	assert.NoError(cs.Set(ctx, "long", "k", "v"))
	v, err := cs.Get(ctx, "short", "k")
	assert.NoError(err)
	assert.Equal("v", v)

	time.Sleep(50 * time.Millisecond)
	v, err = cs.Get(ctx, "short", "k")
	assert.NoError(err)
	assert.Equal("", v)
	v, err = cs.Get(ctx, "long", "k")
	assert.NoError(err)
	assert.Equal("v", v)
}

func TestPolicy(t *testing.T) {
	assert := assert.New(t)

	p := DefaultPolicy()
	assert.Equal(time.Minute, p.TTL(NameMember))
	assert.Equal(10*time.Second, p.TTL(NameMemberMissing))
	assert.Equal(time.Minute, p.TTL("other"))
	assert.Equal(10*time.Second, localTTL(p))

	assert.Equal(time.Minute, Policy{}.TTL("x"))
	assert.Equal(10_000, Policy{}.capacity())
}

func TestMemberCache(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mc := MemberCache{Store: NewMemCacheStore(DefaultPolicy())}

	m, missing, err := mc.Get(ctx, "g1", "u1")
	assert.NoError(err)
	assert.Nil(m)
	assert.False(missing)

	assert.NoError(mc.PutMissing(ctx, "g1", "u1"))
	m, missing, err = mc.Get(ctx, "g1", "u1")
	assert.NoError(err)
	assert.Nil(m)
	assert.True(missing)

	// a resolved member replaces the negative entry
	assert.NoError(mc.Put(ctx, &platform.Member{GuildID: "g1", UserID: "u1", Roles: []string{"r1"}}))
	m, missing, err = mc.Get(ctx, "g1", "u1")
	assert.NoError(err)
	assert.False(missing)
	if assert.NotNil(m) {
		assert.Equal([]string{"r1"}, m.Roles)
	}

	assert.NoError(mc.PutMissing(ctx, "g1", "u2"))
	assert.NoError(mc.Purge(ctx, "g1", "u1"))
	assert.NoError(mc.Purge(ctx, "g1", "u2"))
	for _, u := range []string{"u1", "u2"} {
		m, missing, err = mc.Get(ctx, "g1", u)
		assert.NoError(err)
		assert.Nil(m)
		assert.False(missing)
	}
}
