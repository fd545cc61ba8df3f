package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/guildwarden/warden/event"
	"github.com/guildwarden/warden/perms"
)

func TestGuildConfiguration(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := MemoryStore()

	cfg, err := s.ModuleConfig(ctx, "g1", "limits")
	assert.NoError(err)
	assert.Nil(cfg)

	enabled := false
	req := perms.Capability("limits.manage")
	assert.NoError(s.SetModuleConfig(ctx, &GuildModuleConfiguration{GuildID: "g1", Module: "limits", Disabled: &enabled, DefaultPerms: &req}))
	cfg, err = s.ModuleConfig(ctx, "g1", "limits")
	assert.NoError(err)
	assert.NotNil(cfg)
	assert.False(*cfg.Disabled)
	assert.Equal(req, *cfg.DefaultPerms)

	// upsert replaces
	disabled := true
	assert.NoError(s.SetModuleConfig(ctx, &GuildModuleConfiguration{GuildID: "g1", Module: "limits", Disabled: &disabled}))
	cfg, err = s.ModuleConfig(ctx, "g1", "limits")
	assert.NoError(err)
	assert.True(*cfg.Disabled)
	assert.Nil(cfg.DefaultPerms)

	assert.NoError(s.SetCommandConfig(ctx, &GuildCommandConfiguration{GuildID: "g1", Command: "limits", Disabled: &disabled}))
	assert.NoError(s.SetCommandConfig(ctx, &GuildCommandConfiguration{GuildID: "g1", Command: "limits add", Disabled: &enabled}))
	cc, err := s.CommandConfig(ctx, "g1", []string{"limits add", "limits"})
	assert.NoError(err)
	assert.Equal("limits add", cc.Command)
	cc, err = s.CommandConfig(ctx, "g1", []string{"limits view", "limits"})
	assert.NoError(err)
	assert.Equal("limits", cc.Command)
	cc, err = s.CommandConfig(ctx, "g2", []string{"limits"})
	assert.NoError(err)
	assert.Nil(cc)
}

func TestGrants(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := MemoryStore()

	assert.NoError(s.SetRoleGrants(ctx, &GuildRole{GuildID: "g1", RoleID: "high", Position: 5, Perms: []string{"~limits.add"}}))
	assert.NoError(s.SetRoleGrants(ctx, &GuildRole{GuildID: "g1", RoleID: "low", Position: 1, Perms: []string{"limits.*"}}))
	assert.NoError(s.SetRoleGrants(ctx, &GuildRole{GuildID: "g2", RoleID: "low", Position: 1, Perms: []string{"*"}}))

	roles, err := s.RoleGrants(ctx, "g1", []string{"high", "low", "unknown"})
	assert.NoError(err)
	assert.Len(roles, 2)
	assert.Equal("low", roles[0].RoleID)
	assert.Equal("high", roles[1].RoleID)

	none, err := s.RoleGrants(ctx, "g1", nil)
	assert.NoError(err)
	assert.Empty(none)

	o, err := s.MemberOverrides(ctx, "g1", "u1")
	assert.NoError(err)
	assert.Nil(o)
	assert.NoError(s.SetMemberOverrides(ctx, "g1", "u1", []string{"limits.add"}))
	assert.NoError(s.SetMemberOverrides(ctx, "g1", "u1", []string{"limits.view"}))
	o, err = s.MemberOverrides(ctx, "g1", "u1")
	assert.NoError(err)
	assert.Equal([]string{"limits.view"}, o)
}

func TestExpiringEntities(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := MemoryStore()
	now := time.Now()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	assert.NoError(s.CreateSting(ctx, &Sting{GuildID: "g1", Stings: 1, Target: "user:1", ExpiresAt: &past}))
	assert.NoError(s.CreateSting(ctx, &Sting{GuildID: "g1", Stings: 1, Target: "user:2", ExpiresAt: &future}))
	assert.NoError(s.CreateSting(ctx, &Sting{GuildID: "g2", Stings: 1, Target: "user:3"}))

	expired, err := s.ExpiredStings(ctx, now)
	assert.NoError(err)
	assert.Len(expired, 1)
	assert.Equal(event.Target("user:1"), expired[0].Event().Target)

	ok, err := s.ExpireSting(ctx, expired[0].ID)
	assert.NoError(err)
	assert.True(ok)
	ok, err = s.ExpireSting(ctx, expired[0].ID)
	assert.NoError(err)
	assert.False(ok)
	expired, err = s.ExpiredStings(ctx, now)
	assert.NoError(err)
	assert.Empty(expired)

	d := time.Second
	p := &Punishment{GuildID: "g1", Module: "limits", Punishment: "ban", Target: "user:1", CreatedAt: now.Add(-time.Minute), Duration: &d}
	assert.NoError(s.CreatePunishment(ctx, p))
	assert.NoError(s.CreatePunishment(ctx, &Punishment{GuildID: "g1", Module: "limits", Punishment: "kick", Target: "user:2"}))
	ps, err := s.ExpiredPunishments(ctx, now)
	assert.NoError(err)
	assert.Len(ps, 1)
	assert.Equal(p.ID, ps[0].ID)

	ok, err = s.ClaimPunishment(ctx, p.ID)
	assert.NoError(err)
	assert.True(ok)
	ok, err = s.ClaimPunishment(ctx, p.ID)
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(s.SetPunishmentHandleLog(ctx, p.ID, map[string]string{"error": "not in guild"}))
	got, err := s.GetPunishment(ctx, p.ID)
	assert.NoError(err)
	assert.True(got.IsHandled)
	assert.JSONEq(`{"error":"not in guild"}`, string(got.HandleLog))

	all, err := s.ListPunishments(ctx, "g1", "limits")
	assert.NoError(err)
	assert.Len(all, 2)

	_, err = s.GetPunishment(ctx, "missing")
	assert.ErrorIs(err, ErrNotFound)
}

func TestLimits(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := MemoryStore()

	l := &LimitDefinition{GuildID: "g1", Name: "spam", Window: time.Minute, MaxHits: 5, Actions: []LimitAction{{Kind: ActionTimeout, Duration: time.Hour}, {Kind: ActionSting, Stings: 2}}}
	assert.NoError(s.CreateLimit(ctx, l))
	assert.NotEmpty(l.ID)

	got, err := s.GetLimit(ctx, "g1", l.ID)
	assert.NoError(err)
	assert.Equal(l.Actions, got.Actions)
	assert.Equal(time.Minute, got.Window)

	_, err = s.GetLimit(ctx, "g2", l.ID)
	assert.ErrorIs(err, ErrNotFound)

	all, err := s.ListLimits(ctx, "g1")
	assert.NoError(err)
	assert.Len(all, 1)

	assert.ErrorIs(s.DeleteLimit(ctx, "g2", l.ID), ErrNotFound)
	assert.NoError(s.DeleteLimit(ctx, "g1", l.ID))
	assert.ErrorIs(s.DeleteLimit(ctx, "g1", l.ID), ErrNotFound)
}
