// Entry point for user-issued commands: authorization followed by the leaf handler.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/guildwarden/warden/authz"
	"github.com/guildwarden/warden/engine"
)

var commandInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_command_invocations",
	Help: "Number of command invocations, by command and result code",
}, []string{"command", "result"})

var ErrNoHandler = errors.New("command has no handler")

// Invocation is one command issued by a guild member.
type Invocation struct {
	GuildID   string
	UserID    string
	ChannelID string
	// qualified name, e.g. "limits add"
	Command string
	Args    map[string]any
}

type Router struct {
	Logger  *slog.Logger
	Engine  *engine.Engine
	Checker *authz.Checker
}

func NewRouter(eng *engine.Engine) *Router {
	return &Router{
		Logger:  eng.Logger.With("component", "commands"),
		Engine:  eng,
		Checker: authz.NewChecker(eng),
	}
}

// Invoke authorizes and runs a command. Denials are returned as *authz.DeniedError.
func (r *Router) Invoke(ctx context.Context, inv Invocation) (string, error) {
	res := r.Checker.CheckCommand(ctx, inv.Command, inv.GuildID, inv.UserID, authz.Options{ChannelID: inv.ChannelID})
	commandInvocations.WithLabelValues(res.Command, string(res.Code)).Inc()
	if !res.IsOK() {
		r.Logger.Debug("command denied", "guild", inv.GuildID, "user", inv.UserID, "command", inv.Command, "code", res.Code)
		return "", res.Err()
	}

	rc, err := r.Engine.Registry.ResolveCommand(inv.Command)
	if err != nil {
		return "", err
	}
	if rc.Handler == nil {
		return "", fmt.Errorf("%s: %w", rc.Qualified, ErrNoHandler)
	}

	cctx := r.Engine.NewCommandContext(ctx, inv.GuildID, inv.UserID, inv.ChannelID, rc.Qualified, inv.Args)
	reply, err := rc.Handler(cctx)
	if err != nil {
		r.Logger.Warn("command failed", "guild", inv.GuildID, "command", rc.Qualified, "err", err)
		return "", fmt.Errorf("%s: %w", rc.Qualified, err)
	}
	return reply, nil
}
