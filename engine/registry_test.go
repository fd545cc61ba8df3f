package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guildwarden/warden/perms"
)

func reply(s string) CommandHandler {
	return func(c *CommandContext) (string, error) { return s, nil }
}

func limitsLike() Module {
	return Module{
		ID:         "limits",
		Name:       "Limits",
		Toggleable: true,
		Commands: []CommandEntry{
			{
				Command: Command{
					Name: "limits",
					Subcommands: []Subcommand{
						{Name: "add", Handler: reply("added")},
						{Name: "view", Handler: reply("viewed")},
					},
				},
				Data: ExtendedData{
					"add":  CapabilityOrAdmin("limits", "add"),
					"view": CapabilityOrAdmin("limits", "view"),
				},
			},
		},
		ConfigOptions: []ConfigOption{
			{ID: "limit_settings", Name: "Limit settings", Operations: map[SettingsOperation]CommandHandler{
				OpView:   reply("settings"),
				OpUpdate: reply("updated"),
			}},
		},
	}
}

func pingModule() Module {
	return Module{
		ID: "ping",
		Commands: []CommandEntry{{
			Command: Command{Name: "ping", Handler: reply("pong")},
			Data:    ExtendedData{"": {Requirement: perms.NoCheck(), IsDefaultEnabled: true}},
		}},
	}
}

func assertConfigPanic(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		r := recover()
		err, ok := r.(error)
		var cerr *ConfigurationError
		if !ok || !errors.As(err, &cerr) {
			t.Fatalf("expected ConfigurationError panic, got %v", r)
		}
	}()
	f()
}

func TestRegistryLookup(t *testing.T) {
	assert := assert.New(t)

	r := MustBuildRegistry(limitsLike(), pingModule())
	assert.Len(r.All(), 2)
	assert.Equal("limits", r.All()[0].ID)
	assert.Equal("ping", r.All()[1].ID)

	m, err := r.Lookup("ping")
	assert.NoError(err)
	assert.Equal("ping", m.ID)

	_, err = r.Lookup("nope")
	assert.ErrorIs(err, ErrNotFound)
}

func TestRegistryFullCommandList(t *testing.T) {
	assert := assert.New(t)

	r := MustBuildRegistry(limitsLike())
	full, err := r.FullCommandList("limits")
	assert.NoError(err)
	assert.Len(full, 3)
	assert.Equal("limits", full[0].Command.Name)
	assert.Equal("acl__limits_defaultperms_check", full[1].Command.Name)
	assert.Equal("limit_settings", full[2].Command.Name)

	// operations come out in fixed order, only those supported
	assert.Equal([]string{"view", "update"}, full[2].Command.Leaves())
	assert.Equal(perms.CapabilityOrAdmin("limits.limit_settings.update"), full[2].Data["update"].Requirement)
	assert.True(full[2].Data["update"].Virtual)

	assert.Equal([]string{
		"limits add",
		"limits view",
		"acl__limits_defaultperms_check",
		"limit_settings view",
		"limit_settings update",
	}, r.QualifiedNames("limits"))

	_, err = r.FullCommandList("nope")
	assert.ErrorIs(err, ErrNotFound)
}

func TestRegistryCompleteness(t *testing.T) {
	assert := assert.New(t)

	r := MustBuildRegistry(limitsLike(), pingModule())
	for _, m := range r.All() {
		for _, name := range r.QualifiedNames(m.ID) {
			data, err := r.LookupCapability(m.ID, name)
			assert.NoError(err, name)
			assert.NoError(data.Requirement.Validate(), name)
		}
	}

	_, err := r.LookupCapability("ping", "limits add")
	assert.ErrorIs(err, ErrNotFound)
}

func TestResolveCommand(t *testing.T) {
	assert := assert.New(t)

	r := MustBuildRegistry(limitsLike(), pingModule())

	rc, err := r.ResolveCommand("limits  add")
	assert.NoError(err)
	assert.Equal("limits", rc.Module.ID)
	assert.Equal("limits add", rc.Qualified)
	assert.Equal("add", rc.Sub)
	assert.Equal([]string{"limits add", "limits"}, rc.Permutations)
	assert.Equal(perms.CapabilityOrAdmin("limits.add"), rc.Data.Requirement)
	out, err := rc.Handler(nil)
	assert.NoError(err)
	assert.Equal("added", out)

	rc, err = r.ResolveCommand("ping")
	assert.NoError(err)
	assert.Equal("", rc.Sub)

	rc, err = r.ResolveCommand("acl__limits_defaultperms_check")
	assert.NoError(err)
	assert.True(rc.Data.Virtual)
	assert.Nil(rc.Handler)

	for _, bad := range []string{"", "limits", "limits remove", "ping extra", "nope", "a b c"} {
		_, err := r.ResolveCommand(bad)
		assert.ErrorIs(err, ErrNotFound, bad)
	}
}

func TestRegistryFailsFast(t *testing.T) {
	assertConfigPanic(t, func() { MustBuildRegistry(pingModule(), pingModule()) })
	assertConfigPanic(t, func() { MustBuildRegistry(Module{}) })

	missing := limitsLike()
	missing.Commands[0].Data = ExtendedData{"add": CapabilityOrAdmin("limits", "add")}
	assertConfigPanic(t, func() { MustBuildRegistry(missing) })

	extra := pingModule()
	extra.Commands[0].Data["ghost"] = CapabilityOrAdmin("ping", "ghost")
	assertConfigPanic(t, func() { MustBuildRegistry(extra) })

	badToken := pingModule()
	badToken.Commands[0].Data[""] = CommandExtendedData{Requirement: perms.Capability("ping.*")}
	assertConfigPanic(t, func() { MustBuildRegistry(badToken) })

	noHandler := pingModule()
	noHandler.Commands[0].Command.Handler = nil
	assertConfigPanic(t, func() { MustBuildRegistry(noHandler) })

	clash := pingModule()
	clash.ID = "ping2"
	assertConfigPanic(t, func() { MustBuildRegistry(pingModule(), clash) })

	r := MustBuildRegistry(pingModule())
	assertConfigPanic(t, func() { r.Register(limitsLike()) })
}

func TestPermutations(t *testing.T) {
	assert := assert.New(t)

	assert.Equal([]string{"limits add", "limits"}, Permutations("limits add"))
	assert.Equal([]string{"ping"}, Permutations(" ping "))
	assert.Empty(Permutations(""))
}
