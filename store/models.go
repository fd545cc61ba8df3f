package store

import (
	"encoding/json"
	"time"

	"github.com/guildwarden/warden/event"
	"github.com/guildwarden/warden/perms"
)

// Per-guild module toggle and default requirement override. Nil fields fall back to the module
// descriptor.
type GuildModuleConfiguration struct {
	ID           uint   `gorm:"primaryKey"`
	GuildID      string `gorm:"uniqueIndex:idx_guild_module;not null"`
	Module       string `gorm:"uniqueIndex:idx_guild_module;not null"`
	Disabled     *bool
	DefaultPerms *perms.Requirement `gorm:"serializer:json"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Per-guild override for one qualified command name ("limits", "limits add").
type GuildCommandConfiguration struct {
	ID        uint   `gorm:"primaryKey"`
	GuildID   string `gorm:"uniqueIndex:idx_guild_command;not null"`
	Command   string `gorm:"uniqueIndex:idx_guild_command;not null"`
	Disabled  *bool
	Perms     *perms.Requirement `gorm:"serializer:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Capability entries granted by a platform role. Entries of higher positioned roles override
// lower ones.
type GuildRole struct {
	ID        uint   `gorm:"primaryKey"`
	GuildID   string `gorm:"uniqueIndex:idx_guild_role;not null"`
	RoleID    string `gorm:"uniqueIndex:idx_guild_role;not null"`
	Position  int
	Perms     []string `gorm:"serializer:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Direct entries for a single member, layered over their role grants.
type GuildMemberOverride struct {
	ID            uint     `gorm:"primaryKey"`
	GuildID       string   `gorm:"uniqueIndex:idx_guild_member;not null"`
	UserID        string   `gorm:"uniqueIndex:idx_guild_member;not null"`
	PermOverrides []string `gorm:"serializer:json"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Sting struct {
	ID        string `gorm:"primaryKey"`
	Module    string
	GuildID   string `gorm:"index;not null"`
	Stings    int
	Reason    string
	Creator   string
	Target    string
	State     string          `gorm:"index"`
	ExpiresAt *time.Time      `gorm:"index"`
	HandleLog json.RawMessage `gorm:"serializer:json"`
	CreatedAt time.Time
}

func (s Sting) Event() event.Sting {
	return event.Sting{
		ID:        s.ID,
		Module:    s.Module,
		GuildID:   s.GuildID,
		Stings:    s.Stings,
		Reason:    s.Reason,
		Creator:   event.Target(s.Creator),
		Target:    event.Target(s.Target),
		State:     event.StingState(s.State),
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
		HandleLog: s.HandleLog,
	}
}

type Punishment struct {
	ID         string `gorm:"primaryKey"`
	Module     string `gorm:"index"`
	GuildID    string `gorm:"index;not null"`
	Punishment string
	Reason     string
	Creator    string
	Target     string
	Duration   *time.Duration
	ExpiresAt  *time.Time      `gorm:"index"`
	IsHandled  bool            `gorm:"index"`
	HandleLog  json.RawMessage `gorm:"serializer:json"`
	Data       json.RawMessage `gorm:"serializer:json"`
	CreatedAt  time.Time
}

func (p Punishment) Event() event.Punishment {
	return event.Punishment{
		ID:         p.ID,
		Module:     p.Module,
		GuildID:    p.GuildID,
		Punishment: p.Punishment,
		Reason:     p.Reason,
		Creator:    event.Target(p.Creator),
		Target:     event.Target(p.Target),
		CreatedAt:  p.CreatedAt,
		Duration:   p.Duration,
		IsHandled:  p.IsHandled,
		HandleLog:  p.HandleLog,
		Data:       p.Data,
	}
}

type LimitActionKind string

const (
	ActionTimeout        LimitActionKind = "timeout"
	ActionKick           LimitActionKind = "kick"
	ActionBan            LimitActionKind = "ban"
	ActionRemoveAllRoles LimitActionKind = "removeallroles"
	ActionSting          LimitActionKind = "sting"
)

func (k LimitActionKind) Valid() bool {
	switch k {
	case ActionTimeout, ActionKick, ActionBan, ActionRemoveAllRoles, ActionSting:
		return true
	}
	return false
}

// Duration is the timeout length for timeouts, and the expiry for bans and stings.
type LimitAction struct {
	Kind     LimitActionKind `json:"kind"`
	Duration time.Duration   `json:"duration,omitempty"`
	Stings   int             `json:"stings,omitempty"`
}

type LimitDefinition struct {
	ID        string `gorm:"primaryKey"`
	GuildID   string `gorm:"index;not null"`
	Name      string
	Window    time.Duration
	MaxHits   int
	Actions   []LimitAction `gorm:"serializer:json"`
	CreatedAt time.Time
}

type AuditLogEntry struct {
	ID         uint   `gorm:"primaryKey"`
	GuildID    string `gorm:"index"`
	EventName  string
	EventTitle string
	Data       json.RawMessage `gorm:"serializer:json"`
	CreatedAt  time.Time
}

// AuditLogSink forwards audit log entries of a guild to an external destination.
type AuditLogSink struct {
	ID      string `gorm:"primaryKey"`
	GuildID string `gorm:"index;not null"`
	// "webhook"
	Type   string
	Target string
	// event names to forward; empty forwards everything
	Events    []string `gorm:"serializer:json"`
	Broken    bool
	CreatedBy string
	CreatedAt time.Time
}
