// Boundary to the chat platform: member lookup, moderation actions, and presence.
package platform

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("platform: not found")
	ErrForbidden = errors.New("platform: missing permissions")
)

// Member is the subset of guild member state used for authorization and moderation.
type Member struct {
	GuildID string
	UserID  string
	// role ids ordered by ascending position
	Roles         []string
	Administrator bool
	IsOwner       bool
}

type ActivityKind string

const (
	ActivityWatching  ActivityKind = "watching"
	ActivityPlaying   ActivityKind = "playing"
	ActivityListening ActivityKind = "listening"
)

type Status struct {
	Kind ActivityKind
	Text string
}

type Client interface {
	Member(ctx context.Context, guildID, userID string) (*Member, error)
	Ban(ctx context.Context, guildID, userID, reason string) error
	Unban(ctx context.Context, guildID, userID, reason string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	// a nil until clears any timeout
	Timeout(ctx context.Context, guildID, userID string, until *time.Time, reason string) error
	SetRoles(ctx context.Context, guildID, userID string, roles []string, reason string) error
	SetStatus(ctx context.Context, status Status) error
}
