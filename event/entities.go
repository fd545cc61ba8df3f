package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Target names who a sting or punishment applies to: "user:<id>" or "system".
type Target string

const TargetSystem Target = "system"

func UserTarget(userID string) Target {
	return Target("user:" + userID)
}

// UserID returns the user id for user targets.
func (t Target) UserID() (string, bool) {
	id, ok := strings.CutPrefix(string(t), "user:")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func ParseTarget(raw string) (Target, error) {
	t := Target(raw)
	if t == TargetSystem {
		return t, nil
	}
	if _, ok := t.UserID(); ok {
		return t, nil
	}
	return "", fmt.Errorf("invalid target %q", raw)
}

type StingState string

const (
	StingActive  StingState = "active"
	StingVoided  StingState = "voided"
	StingHandled StingState = "handled"
)

// Sting is a weighted strike against a target. Active stings with an expiry are expired by the
// sweep, which moves them to StingHandled before emitting a StingExpire event.
type Sting struct {
	ID        string          `json:"id"`
	Module    string          `json:"module"`
	GuildID   string          `json:"guild_id"`
	Stings    int             `json:"stings"`
	Reason    string          `json:"reason,omitempty"`
	Creator   Target          `json:"creator"`
	Target    Target          `json:"target"`
	State     StingState      `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	HandleLog json.RawMessage `json:"handle_log,omitempty"`
}

// Punishment is a moderation action that may be reverted once its duration elapses.
type Punishment struct {
	ID         string          `json:"id"`
	Module     string          `json:"module"`
	GuildID    string          `json:"guild_id"`
	Punishment string          `json:"punishment"`
	Reason     string          `json:"reason,omitempty"`
	Creator    Target          `json:"creator"`
	Target     Target          `json:"target"`
	CreatedAt  time.Time       `json:"created_at"`
	Duration   *time.Duration  `json:"duration,omitempty"`
	IsHandled  bool            `json:"is_handled"`
	HandleLog  json.RawMessage `json:"handle_log,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// ExpiresAt is nil for permanent punishments.
func (p Punishment) ExpiresAt() *time.Time {
	if p.Duration == nil {
		return nil
	}
	t := p.CreatedAt.Add(*p.Duration)
	return &t
}
