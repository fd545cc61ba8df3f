package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/guildwarden/warden/event"
	"github.com/guildwarden/warden/platform"
)

// EventHandlerContext is built once per dispatch and shared, read-only, by every listener
// invocation for that event.
type EventHandlerContext struct {
	// not cancelled when the dispatch caller's context is; handlers set their own timeouts
	Ctx context.Context
	// slog logger handle with guild and event kind pre-populated. Pointer, but expected to never be nil.
	Logger   *slog.Logger
	GuildID  string
	Event    event.Event
	Platform platform.Client

	engine *Engine // NOTE: pointer, but expected never to be nil
}

// Engine returns the shared application state.
func (c *EventHandlerContext) Engine() *Engine {
	return c.engine
}

func (eng *Engine) NewEventHandlerContext(ctx context.Context, guildID string, evt event.Event) *EventHandlerContext {
	return &EventHandlerContext{
		Ctx:      context.WithoutCancel(ctx),
		Logger:   eng.Logger.With("guild", guildID, "event", string(evt.Kind())),
		GuildID:  guildID,
		Event:    evt,
		Platform: eng.Platform,
		engine:   eng,
	}
}

// CommandContext is passed to command handlers once authorization has passed.
type CommandContext struct {
	Ctx       context.Context
	Logger    *slog.Logger
	GuildID   string
	UserID    string
	ChannelID string
	// qualified command name, e.g. "limits add"
	Command string
	Args    map[string]any

	engine *Engine
}

func (eng *Engine) NewCommandContext(ctx context.Context, guildID, userID, channelID, command string, args map[string]any) *CommandContext {
	if args == nil {
		args = map[string]any{}
	}
	return &CommandContext{
		Ctx:       ctx,
		Logger:    eng.Logger.With("guild", guildID, "user", userID, "command", command),
		GuildID:   guildID,
		UserID:    userID,
		ChannelID: channelID,
		Command:   command,
		Args:      args,
		engine:    eng,
	}
}

func (c *CommandContext) Engine() *Engine {
	return c.engine
}

// CommandHandler runs a leaf command and returns the reply text.
type CommandHandler func(c *CommandContext) (string, error)

// String returns a string argument, or "" when absent.
func (c *CommandContext) String(name string) string {
	switch v := c.Args[name].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// RequireString returns a non-empty string argument.
func (c *CommandContext) RequireString(name string) (string, error) {
	s := c.String(name)
	if s == "" {
		return "", fmt.Errorf("missing argument %q", name)
	}
	return s, nil
}

// Int accepts JSON numbers as well as numeric strings.
func (c *CommandContext) Int(name string) (int, bool, error) {
	switch v := c.Args[name].(type) {
	case nil:
		return 0, false, nil
	case int:
		return v, true, nil
	case int64:
		return int(v), true, nil
	case float64:
		return int(v), true, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false, fmt.Errorf("argument %q: %w", name, err)
		}
		return n, true, nil
	default:
		return 0, false, fmt.Errorf("argument %q: unsupported type %T", name, v)
	}
}

// Duration accepts Go duration strings ("10m") or a number of seconds.
func (c *CommandContext) Duration(name string) (time.Duration, bool, error) {
	switch v := c.Args[name].(type) {
	case nil:
		return 0, false, nil
	case time.Duration:
		return v, true, nil
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d, true, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false, fmt.Errorf("argument %q: not a duration", name)
		}
		return time.Duration(n) * time.Second, true, nil
	default:
		n, ok, err := c.Int(name)
		return time.Duration(n) * time.Second, ok, err
	}
}
