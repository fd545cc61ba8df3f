package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/guildwarden/warden/shard"
)

// DiscordClient serves the owned shards of one process. REST calls are throttled with a
// process-wide limiter on top of discordgo's own per-route buckets.
type DiscordClient struct {
	Logger   *slog.Logger
	Sessions map[uint16]*discordgo.Session
	Shards   shard.Config
	Limiter  *rate.Limiter
}

var _ Client = (*DiscordClient)(nil)

// NewDiscordClient creates (but does not open) one gateway session per owned shard.
func NewDiscordClient(logger *slog.Logger, token string, shards shard.Config, perSecond float64) (*DiscordClient, error) {
	if err := shards.Validate(); err != nil {
		return nil, err
	}
	sessions := make(map[uint16]*discordgo.Session, len(shards.Owned))
	for _, id := range shards.Owned.Sorted() {
		s, err := discordgo.New("Bot " + token)
		if err != nil {
			return nil, fmt.Errorf("creating session for shard %d: %w", id, err)
		}
		s.ShardID = int(id)
		s.ShardCount = int(shards.Count)
		s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
		s.StateEnabled = true
		sessions[id] = s
	}
	if perSecond <= 0 {
		perSecond = 40
	}
	return &DiscordClient{
		Logger:   logger.With("component", "discord"),
		Sessions: sessions,
		Shards:   shards,
		Limiter:  rate.NewLimiter(rate.Limit(perSecond), int(perSecond)),
	}, nil
}

// AddHandler registers a gateway handler on every session.
func (c *DiscordClient) AddHandler(handler any) {
	for _, s := range c.Sessions {
		s.AddHandler(handler)
	}
}

func (c *DiscordClient) Open() error {
	for _, id := range c.Shards.Owned.Sorted() {
		if err := c.Sessions[id].Open(); err != nil {
			return fmt.Errorf("opening shard %d: %w", id, err)
		}
		c.Logger.Info("shard connected", "shard", id, "count", c.Shards.Count)
	}
	return nil
}

func (c *DiscordClient) Close() error {
	var errs []error
	for id, s := range c.Sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing shard %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// session picks the session whose shard routes the guild, falling back to any session for REST.
func (c *DiscordClient) session(guildID string) *discordgo.Session {
	if id, err := shard.ParseGuildID(guildID); err == nil {
		if s, ok := c.Sessions[shard.ID(id, c.Shards.Count)]; ok {
			return s
		}
	}
	if ids := c.Shards.Owned.Sorted(); len(ids) > 0 {
		return c.Sessions[ids[0]]
	}
	return nil
}

func (c *DiscordClient) wait(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	return c.Limiter.Wait(ctx)
}

// translate maps REST status codes onto the package sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Response != nil {
		switch rerr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrForbidden, err)
		}
	}
	return err
}

func (c *DiscordClient) Member(ctx context.Context, guildID, userID string) (*Member, error) {
	s := c.session(guildID)
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	m, err := s.State.Member(guildID, userID)
	if err != nil {
		m, err = s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
		if err != nil {
			return nil, translate(err)
		}
	}
	g, err := s.State.Guild(guildID)
	if err != nil {
		g, err = s.Guild(guildID, discordgo.WithContext(ctx))
		if err != nil {
			return nil, translate(err)
		}
	}

	type positioned struct {
		id  string
		pos int
	}
	var roles []positioned
	var perms int64
	if everyone, err := s.State.Role(guildID, guildID); err == nil {
		perms |= everyone.Permissions
	}
	for _, rid := range m.Roles {
		r, err := s.State.Role(guildID, rid)
		if err != nil {
			roles = append(roles, positioned{id: rid})
			continue
		}
		perms |= r.Permissions
		roles = append(roles, positioned{id: rid, pos: r.Position})
	}
	sort.SliceStable(roles, func(i, j int) bool { return roles[i].pos < roles[j].pos })

	out := &Member{
		GuildID:       guildID,
		UserID:        userID,
		IsOwner:       g.OwnerID == userID,
		Administrator: perms&discordgo.PermissionAdministrator != 0,
	}
	for _, r := range roles {
		out.Roles = append(out.Roles, r.id)
	}
	return out, nil
}

func (c *DiscordClient) Ban(ctx context.Context, guildID, userID, reason string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return translate(c.session(guildID).GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx)))
}

func (c *DiscordClient) Unban(ctx context.Context, guildID, userID, reason string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return translate(c.session(guildID).GuildBanDelete(guildID, userID, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

func (c *DiscordClient) Kick(ctx context.Context, guildID, userID, reason string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return translate(c.session(guildID).GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx)))
}

func (c *DiscordClient) Timeout(ctx context.Context, guildID, userID string, until *time.Time, reason string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return translate(c.session(guildID).GuildMemberTimeout(guildID, userID, until, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

func (c *DiscordClient) SetRoles(ctx context.Context, guildID, userID string, roles []string, reason string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	params := &discordgo.GuildMemberParams{Roles: &roles}
	_, err := c.session(guildID).GuildMemberEdit(guildID, userID, params, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	return translate(err)
}

func (c *DiscordClient) SetStatus(ctx context.Context, status Status) error {
	var kind discordgo.ActivityType
	switch status.Kind {
	case ActivityPlaying:
		kind = discordgo.ActivityTypeGame
	case ActivityListening:
		kind = discordgo.ActivityTypeListening
	default:
		kind = discordgo.ActivityTypeWatching
	}
	data := discordgo.UpdateStatusData{
		Status:     string(discordgo.StatusOnline),
		Activities: []*discordgo.Activity{{Name: status.Text, Type: kind}},
	}
	var errs []error
	for id, s := range c.Sessions {
		if err := s.UpdateStatusComplex(data); err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
