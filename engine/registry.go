package engine

import (
	"fmt"
	"strings"

	"github.com/guildwarden/warden/perms"
)

// Registry is the process-wide table of module descriptors. It is populated once at startup
// and then frozen by Build; every method is safe for concurrent use after Build.
type Registry struct {
	modules []*Module
	byID    map[string]*Module
	// root command name -> owning module
	commandModule map[string]*Module
	// module id -> declared commands followed by generated ones
	fullCommands map[string][]CommandEntry
	// qualified name ("limits add") -> entry
	commandEntry map[string]CommandEntry
	built        bool
}

func NewRegistry() *Registry {
	return &Registry{
		byID:          make(map[string]*Module),
		commandModule: make(map[string]*Module),
		fullCommands:  make(map[string][]CommandEntry),
		commandEntry:  make(map[string]CommandEntry),
	}
}

// MustBuildRegistry registers all modules in order and builds the registry. It panics with a
// *ConfigurationError on any descriptor problem.
func MustBuildRegistry(modules ...Module) *Registry {
	r := NewRegistry()
	for _, m := range modules {
		r.Register(m)
	}
	r.Build()
	return r
}

// Register adds a module. Panics on an empty or duplicate id, or after Build.
func (r *Registry) Register(m Module) {
	if r.built {
		panic(configErrorf("register %q after registry was built", m.ID))
	}
	if m.ID == "" {
		panic(configErrorf("module with empty id"))
	}
	if _, ok := r.byID[m.ID]; ok {
		panic(configErrorf("duplicate module id %q", m.ID))
	}
	mod := m
	r.modules = append(r.modules, &mod)
	r.byID[m.ID] = &mod
}

// Build derives the full command list of every module and validates the metadata of every
// leaf. It panics with a *ConfigurationError on the first problem.
func (r *Registry) Build() {
	if r.built {
		return
	}
	for _, m := range r.modules {
		full := append(append([]CommandEntry(nil), m.Commands...), commonCommands(m)...)
		for _, ce := range full {
			if err := validateEntry(m, ce); err != nil {
				panic(err)
			}
			name := ce.Command.Name
			if owner, ok := r.commandModule[name]; ok {
				panic(configErrorf("command %q registered by both %q and %q", name, owner.ID, m.ID))
			}
			r.commandModule[name] = m
			for _, leaf := range ce.Command.Leaves() {
				r.commandEntry[qualify(name, leaf)] = ce
			}
		}
		r.fullCommands[m.ID] = full
	}
	r.built = true
}

func validateEntry(m *Module, ce CommandEntry) error {
	name := ce.Command.Name
	if name == "" || strings.ContainsAny(name, " \t") {
		return configErrorf("module %q: invalid command name %q", m.ID, name)
	}
	leaves := ce.Command.Leaves()
	seen := make(map[string]bool, len(leaves))
	for _, leaf := range leaves {
		if seen[leaf] {
			return configErrorf("module %q: command %q declares sub-command %q twice", m.ID, name, leaf)
		}
		seen[leaf] = true
		data, ok := ce.Data[leaf]
		if !ok {
			return configErrorf("module %q: command %q has no extended data for %q", m.ID, name, qualify(name, leaf))
		}
		if err := data.Requirement.Validate(); err != nil {
			return configErrorf("module %q: command %q: %v", m.ID, qualify(name, leaf), err)
		}
		if ce.Command.handler(leaf) == nil && !data.Virtual {
			return configErrorf("module %q: command %q has no handler", m.ID, qualify(name, leaf))
		}
	}
	for key := range ce.Data {
		if !seen[key] {
			return configErrorf("module %q: command %q has extended data for unknown leaf %q", m.ID, name, key)
		}
	}
	return nil
}

// commonCommands generates the commands every module carries in addition to its own: the
// default permission check and one settings command per config option.
func commonCommands(m *Module) []CommandEntry {
	out := []CommandEntry{{
		Command: Command{
			Name:        "acl__" + m.ID + "_defaultperms_check",
			Description: "Checks the module's default permissions",
		},
		Data: ExtendedData{
			"": {Requirement: perms.NoCheck(), IsDefaultEnabled: true, WebHidden: true, Virtual: true},
		},
	}}
	for _, opt := range m.ConfigOptions {
		cmd := Command{Name: opt.ID, Description: opt.Description}
		data := ExtendedData{}
		for _, op := range SettingsOperations {
			h, ok := opt.Operations[op]
			if !ok {
				continue
			}
			cmd.Subcommands = append(cmd.Subcommands, Subcommand{
				Name:        string(op),
				Description: fmt.Sprintf("%s %s", op, opt.Name),
				Handler:     h,
			})
			data[string(op)] = CommandExtendedData{
				Requirement:      perms.CapabilityOrAdmin(m.ID + "." + opt.ID + "." + string(op)),
				IsDefaultEnabled: true,
				Virtual:          true,
			}
		}
		if len(cmd.Subcommands) == 0 {
			continue
		}
		out = append(out, CommandEntry{Command: cmd, Data: data})
	}
	return out
}

func qualify(root, sub string) string {
	if sub == "" {
		return root
	}
	return root + " " + sub
}

// All returns descriptors in registration order.
func (r *Registry) All() []*Module {
	return r.modules
}

func (r *Registry) Lookup(id string) (*Module, error) {
	m, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("module %q: %w", id, ErrNotFound)
	}
	return m, nil
}

// FullCommandList returns the module's own commands followed by the generated ones.
func (r *Registry) FullCommandList(moduleID string) ([]CommandEntry, error) {
	full, ok := r.fullCommands[moduleID]
	if !ok {
		return nil, fmt.Errorf("module %q: %w", moduleID, ErrNotFound)
	}
	return full, nil
}

// Permutations splits a qualified name into its prefixes, most specific first:
// "limits add" gives ["limits add", "limits"].
func Permutations(qualified string) []string {
	fields := strings.Fields(qualified)
	out := make([]string, 0, len(fields))
	for i := len(fields); i > 0; i-- {
		out = append(out, strings.Join(fields[:i], " "))
	}
	return out
}

// ResolvedCommand is a leaf command with everything needed to authorize and run it.
type ResolvedCommand struct {
	Module    *Module
	Qualified string
	Root      string
	Sub       string
	// most specific first
	Permutations []string
	Data         CommandExtendedData
	Handler      CommandHandler
}

// ResolveCommand finds the leaf named by a qualified command name.
func (r *Registry) ResolveCommand(qualified string) (*ResolvedCommand, error) {
	fields := strings.Fields(qualified)
	if len(fields) == 0 || len(fields) > 2 {
		return nil, fmt.Errorf("command %q: %w", qualified, ErrNotFound)
	}
	m, ok := r.commandModule[fields[0]]
	if !ok {
		return nil, fmt.Errorf("command %q: %w", qualified, ErrNotFound)
	}
	name := strings.Join(fields, " ")
	ce, ok := r.commandEntry[name]
	if !ok {
		return nil, fmt.Errorf("command %q of module %q: %w", name, m.ID, ErrNotFound)
	}
	sub := ""
	if len(fields) == 2 {
		sub = fields[1]
	}
	return &ResolvedCommand{
		Module:       m,
		Qualified:    name,
		Root:         fields[0],
		Sub:          sub,
		Permutations: Permutations(name),
		Data:         ce.Data[sub],
		Handler:      ce.Command.handler(sub),
	}, nil
}

// CommandModule returns the module owning a root command name, if any.
func (r *Registry) CommandModule(root string) (*Module, bool) {
	m, ok := r.commandModule[root]
	return m, ok
}

// LookupCapability returns extended data for a leaf of a module. Total for every leaf of a
// built registry.
func (r *Registry) LookupCapability(moduleID, qualified string) (CommandExtendedData, error) {
	rc, err := r.ResolveCommand(qualified)
	if err != nil {
		return CommandExtendedData{}, err
	}
	if rc.Module.ID != moduleID {
		return CommandExtendedData{}, fmt.Errorf("command %q is not in module %q: %w", qualified, moduleID, ErrNotFound)
	}
	return rc.Data, nil
}

// QualifiedNames lists every leaf of a module's full command list, in declaration order.
func (r *Registry) QualifiedNames(moduleID string) []string {
	var out []string
	for _, ce := range r.fullCommands[moduleID] {
		for _, leaf := range ce.Command.Leaves() {
			out = append(out, qualify(ce.Command.Name, leaf))
		}
	}
	return out
}
