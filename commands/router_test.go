package commands

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"

	"github.com/guildwarden/warden/authz"
	"github.com/guildwarden/warden/engine"
	"github.com/guildwarden/warden/platform"
)

func testRouter(calls *int) *Router {
	echo := func(c *engine.CommandContext) (string, error) {
		*calls++
		return "hello " + c.String("name"), nil
	}
	fail := func(c *engine.CommandContext) (string, error) {
		*calls++
		return "", errors.New("db down")
	}
	eng := engine.EngineTestFixture(engine.Module{
		ID:               "greet",
		Toggleable:       true,
		IsDefaultEnabled: true,
		Commands: []engine.CommandEntry{{
			Command: engine.Command{Name: "greet", Subcommands: []engine.Subcommand{
				{Name: "say", Handler: echo},
				{Name: "fail", Handler: fail},
			}},
			Data: engine.ExtendedData{
				"say":  engine.CapabilityOrAdmin("greet", "say"),
				"fail": engine.CapabilityOrAdmin("greet", "fail"),
			},
		}},
	})
	mock := eng.MockPlatform()
	mock.InsertMember(platform.Member{GuildID: "g1", UserID: "admin", Administrator: true})
	mock.InsertMember(platform.Member{GuildID: "g1", UserID: "plain"})
	return NewRouter(eng)
}

func TestInvoke(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	calls := 0
	r := testRouter(&calls)

	reply, err := r.Invoke(ctx, Invocation{GuildID: "g1", UserID: "admin", Command: "greet say", Args: map[string]any{"name": "bob"}})
	assert.NoError(err)
	assert.Equal("hello bob", reply)
	assert.Equal(1, calls)

	_, err = r.Invoke(ctx, Invocation{GuildID: "g1", UserID: "plain", Command: "greet say"})
	var denied *authz.DeniedError
	assert.True(errors.As(err, &denied))
	assert.Equal(authz.CodeMissingCapability, denied.Result.Code)
	assert.Equal("greet.say", denied.Result.Capability)
	assert.Equal(1, calls)

	_, err = r.Invoke(ctx, Invocation{GuildID: "g1", UserID: "admin", Command: "greet fail"})
	assert.ErrorContains(err, "db down")
	assert.False(errors.As(err, &denied))

	_, err = r.Invoke(ctx, Invocation{GuildID: "g1", UserID: "admin", Command: "nope"})
	assert.True(errors.As(err, &denied))
	assert.Equal(authz.CodeModuleNotFound, denied.Result.Code)

	// generated commands are virtual and have no handler
	_, err = r.Invoke(ctx, Invocation{GuildID: "g1", UserID: "admin", Command: "acl__greet_defaultperms_check"})
	assert.ErrorIs(err, ErrNoHandler)
}

func TestInvocationFromInteraction(t *testing.T) {
	assert := assert.New(t)

	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "g1",
		ChannelID: "c1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "u1"}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "limits",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{{
				Name: "hit",
				Type: discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{Name: "limit_id", Type: discordgo.ApplicationCommandOptionString, Value: "42"},
				},
			}},
		},
	}}
	inv, ok := InvocationFromInteraction(i)
	assert.True(ok)
	assert.Equal("limits hit", inv.Command)
	assert.Equal("u1", inv.UserID)
	assert.Equal("c1", inv.ChannelID)
	assert.Equal("42", inv.Args["limit_id"])

	i.GuildID = ""
	_, ok = InvocationFromInteraction(i)
	assert.False(ok)
}

func TestApplicationCommands(t *testing.T) {
	assert := assert.New(t)
	calls := 0
	r := testRouter(&calls)

	cmds := r.ApplicationCommands()
	assert.Len(cmds, 1)
	assert.Equal("greet", cmds[0].Name)
	assert.Len(cmds[0].Options, 2)
}
