package engine

import (
	"github.com/guildwarden/warden/event"
	"github.com/guildwarden/warden/perms"
)

// Module is the immutable descriptor of one feature plugin.
type Module struct {
	// unique short token, also the namespace of the module's capabilities
	ID          string
	Name        string
	Description string
	// false means guild configuration can never disable the module
	Toggleable           bool
	Configurable         bool
	CommandsConfigurable bool
	IsDefaultEnabled     bool
	WebHidden            bool

	Commands      []CommandEntry
	ConfigOptions []ConfigOption
	// nil when the module does not listen to events
	Listener Listener
}

// Command is a top-level command with optional sub-commands. A command without sub-commands is
// itself a leaf and runs Handler.
type Command struct {
	Name        string
	Description string
	Subcommands []Subcommand
	Handler     CommandHandler
}

type Subcommand struct {
	Name        string
	Description string
	Handler     CommandHandler
}

// Leaves returns the extended data keys a command must define: "" for a command without
// sub-commands, each sub-command's name otherwise.
func (c Command) Leaves() []string {
	if len(c.Subcommands) == 0 {
		return []string{""}
	}
	out := make([]string, 0, len(c.Subcommands))
	for _, s := range c.Subcommands {
		out = append(out, s.Name)
	}
	return out
}

func (c Command) handler(sub string) CommandHandler {
	if sub == "" {
		return c.Handler
	}
	for _, s := range c.Subcommands {
		if s.Name == sub {
			return s.Handler
		}
	}
	return nil
}

// CommandExtendedData is per-leaf metadata.
type CommandExtendedData struct {
	Requirement      perms.Requirement
	IsDefaultEnabled bool
	WebHidden        bool
	// generated by the registry, not declared by the module
	Virtual bool
}

// ExtendedData maps leaf names ("" for the root) to their metadata.
type ExtendedData map[string]CommandExtendedData

type CommandEntry struct {
	Command Command
	Data    ExtendedData
}

// CapabilityOrAdmin is the common leaf shape: enabled by default, native administrators bypass,
// everyone else needs "<module>.<action>".
func CapabilityOrAdmin(module, action string) CommandExtendedData {
	return CommandExtendedData{
		Requirement:      perms.CapabilityOrAdmin(module + "." + action),
		IsDefaultEnabled: true,
	}
}

// Capability requires the stored capability with no administrator bypass.
func Capability(module, action string) CommandExtendedData {
	return CommandExtendedData{
		Requirement:      perms.Capability(module + "." + action),
		IsDefaultEnabled: true,
	}
}

type SettingsOperation string

const (
	OpView   SettingsOperation = "view"
	OpCreate SettingsOperation = "create"
	OpUpdate SettingsOperation = "update"
	OpDelete SettingsOperation = "delete"
)

var SettingsOperations = []SettingsOperation{OpView, OpCreate, OpUpdate, OpDelete}

// ConfigOption is a guild-configurable settings table of a module. The registry exposes each
// option as a virtual command with one sub-command per supported operation.
type ConfigOption struct {
	ID          string
	Name        string
	Description string
	Operations  map[SettingsOperation]CommandHandler
}

// Listener receives dispatched events. Filter must be pure and cheap; Handle runs on its own
// goroutine and may block.
type Listener interface {
	Filter(evt event.Event) bool
	Handle(ectx *EventHandlerContext) error
}

// ListenerFuncs adapts a filter and a handler function to Listener.
type ListenerFuncs struct {
	FilterFunc event.Filter
	HandleFunc func(ectx *EventHandlerContext) error
}

func (l ListenerFuncs) Filter(evt event.Event) bool {
	if l.FilterFunc == nil {
		return false
	}
	return l.FilterFunc(evt)
}

func (l ListenerFuncs) Handle(ectx *EventHandlerContext) error {
	return l.HandleFunc(ectx)
}
