package cachestore

import (
	"context"

	"github.com/guildwarden/warden/platform"
)

// MemberCache holds resolved guild members, and remembers lookups that found nobody.
type MemberCache struct {
	Store CacheStore
}

func memberKey(guildID, userID string) string {
	return guildID + "/" + userID
}

// Get returns the cached member, or nil with missing set when a recent lookup found nobody.
func (mc MemberCache) Get(ctx context.Context, guildID, userID string) (m *platform.Member, missing bool, err error) {
	key := memberKey(guildID, userID)
	m, ok, err := GetJSON[platform.Member](ctx, mc.Store, NameMember, key)
	if err != nil || ok {
		return m, false, err
	}
	raw, err := mc.Store.Get(ctx, NameMemberMissing, key)
	if err != nil {
		return nil, false, err
	}
	return nil, raw != "", nil
}

func (mc MemberCache) Put(ctx context.Context, m *platform.Member) error {
	key := memberKey(m.GuildID, m.UserID)
	if err := mc.Store.Purge(ctx, NameMemberMissing, key); err != nil {
		return err
	}
	return SetJSON(ctx, mc.Store, NameMember, key, m)
}

func (mc MemberCache) PutMissing(ctx context.Context, guildID, userID string) error {
	return mc.Store.Set(ctx, NameMemberMissing, memberKey(guildID, userID), "1")
}

// Purge drops both the member and any negative entry, e.g. after a role change or a join.
func (mc MemberCache) Purge(ctx context.Context, guildID, userID string) error {
	key := memberKey(guildID, userID)
	if err := mc.Store.Purge(ctx, NameMember, key); err != nil {
		return err
	}
	return mc.Store.Purge(ctx, NameMemberMissing, key)
}
