package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/guildwarden/warden/commands"
	"github.com/guildwarden/warden/platform"
)

func attachGateway(discord *platform.DiscordClient, router *commands.Router) {
	logger := router.Logger.With("component", "gateway")
	discord.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		logger.Info("gateway ready", "shard", s.ShardID, "guilds", len(r.Guilds), "user", r.User.ID)
	})
	discord.AddHandler(router.HandleInteraction)

	// cached members carry roles and flags used by permission checks
	purge := func(guildID, userID string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := router.Checker.PurgeMember(ctx, guildID, userID); err != nil {
			logger.Warn("failed to purge cached member", "guild", guildID, "user", userID, "err", err)
		}
	}
	discord.AddHandler(func(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
		if m.Member != nil && m.User != nil {
			purge(m.GuildID, m.User.ID)
		}
	})
	discord.AddHandler(func(s *discordgo.Session, m *discordgo.GuildMemberUpdate) {
		if m.Member != nil && m.User != nil {
			purge(m.GuildID, m.User.ID)
		}
	})
	discord.AddHandler(func(s *discordgo.Session, m *discordgo.GuildMemberRemove) {
		if m.Member != nil && m.User != nil {
			purge(m.GuildID, m.User.ID)
		}
	})
}

// registerCommands overwrites the application's global commands with the router's.
func registerCommands(ctx context.Context, discord *platform.DiscordClient, router *commands.Router) (int, error) {
	if router == nil {
		return 0, errors.New("command router not initialized")
	}
	ids := discord.Shards.Owned.Sorted()
	if len(ids) == 0 {
		return 0, errors.New("no gateway sessions")
	}
	s := discord.Sessions[ids[0]]
	if s.State == nil || s.State.User == nil {
		return 0, errors.New("gateway session is not ready")
	}
	created, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, "", router.ApplicationCommands(), discordgo.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("registering commands: %w", err)
	}
	return len(created), nil
}
