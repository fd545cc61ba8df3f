package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guildwarden/warden/commands"
	"github.com/guildwarden/warden/engine"
	"github.com/guildwarden/warden/modules/limits"
	"github.com/guildwarden/warden/platform"
)

func setup() (*engine.Engine, func(user, cmd string, args map[string]any) (string, error)) {
	eng := engine.EngineTestFixture(Module(), limits.Module())
	mock := eng.MockPlatform()
	mock.InsertMember(platform.Member{GuildID: "g1", UserID: "admin", Administrator: true})
	mock.InsertMember(platform.Member{GuildID: "g1", UserID: "mod", Roles: []string{"r-mod"}})
	r := commands.NewRouter(eng)
	return eng, func(user, cmd string, args map[string]any) (string, error) {
		return r.Invoke(context.Background(), commands.Invocation{GuildID: "g1", UserID: user, Command: cmd, Args: args})
	}
}

func TestModuleToggles(t *testing.T) {
	assert := assert.New(t)
	eng, inv := setup()
	ctx := context.Background()

	reply, err := inv("admin", "modules list", nil)
	assert.NoError(err)
	assert.Contains(reply, "core (Core): enabled")
	assert.Contains(reply, "limits (Limits): disabled")

	_, err = inv("admin", "modules enable", map[string]any{"module": "limits"})
	assert.NoError(err)
	enabled, err := eng.ModuleEnabled(ctx, "g1", "limits")
	assert.NoError(err)
	assert.True(enabled)

	_, err = inv("admin", "modules disable", map[string]any{"module": "core"})
	assert.ErrorContains(err, "cannot be toggled")
	_, err = inv("admin", "modules disable", map[string]any{"module": "nope"})
	assert.ErrorIs(err, engine.ErrNotFound)

	_, err = inv("admin", "modules disable", map[string]any{"module": "limits"})
	assert.NoError(err)
	enabled, err = eng.ModuleEnabled(ctx, "g1", "limits")
	assert.NoError(err)
	assert.False(enabled)
}

func TestGrantTables(t *testing.T) {
	assert := assert.New(t)
	eng, inv := setup()
	ctx := context.Background()

	_, err := inv("admin", "guild_roles create", map[string]any{"role_id": "r-mod", "position": float64(3), "perms": "core.guild_members.*, limits.view"})
	assert.NoError(err)
	reply, err := inv("admin", "guild_roles view", nil)
	assert.NoError(err)
	assert.Equal("r-mod (position 3): core.guild_members.*, limits.view", reply)

	_, err = inv("admin", "guild_roles create", map[string]any{"role_id": "r-x", "perms": "bad..token"})
	assert.Error(err)

	// grants are checked against the caller's own set
	_, err = inv("mod", "guild_members update", map[string]any{"user_id": "u2", "perms": "limits.*"})
	assert.ErrorIs(err, ErrEscalation)
	_, err = inv("mod", "guild_members update", map[string]any{"user_id": "u2", "perms": "limits.view ~limits.add"})
	assert.NoError(err)
	overrides, err := eng.Store.MemberOverrides(ctx, "g1", "u2")
	assert.NoError(err)
	assert.Equal([]string{"limits.view", "~limits.add"}, overrides)

	reply, err = inv("mod", "guild_members view", map[string]any{"user_id": "u2"})
	assert.NoError(err)
	assert.Equal("u2: limits.view, ~limits.add", reply)

	// the mod has no grant for the roles table
	_, err = inv("mod", "guild_roles delete", map[string]any{"role_id": "r-mod"})
	assert.Error(err)

	_, err = inv("mod", "guild_members delete", map[string]any{"user_id": "u2"})
	assert.NoError(err)
	_, err = inv("admin", "guild_roles delete", map[string]any{"role_id": "r-mod"})
	assert.NoError(err)
	rows, err := eng.Store.ListRoleGrants(ctx, "g1")
	assert.NoError(err)
	assert.Empty(rows)
}
