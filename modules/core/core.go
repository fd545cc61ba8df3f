// Always-on guild administration: module toggles and the capability grant tables.
package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/guildwarden/warden/authz"
	"github.com/guildwarden/warden/engine"
	"github.com/guildwarden/warden/perms"
	"github.com/guildwarden/warden/store"
)

const ModuleID = "core"

var ErrEscalation = errors.New("cannot grant capabilities you do not hold")

func Module() engine.Module {
	return engine.Module{
		ID:               ModuleID,
		Name:             "Core",
		Description:      "Module toggles and capability grants",
		Toggleable:       false,
		Configurable:     true,
		IsDefaultEnabled: true,
		Commands: []engine.CommandEntry{{
			Command: engine.Command{
				Name:        "modules",
				Description: "Turn modules on or off for this server",
				Subcommands: []engine.Subcommand{
					{Name: "list", Description: "List modules and whether they are enabled", Handler: handleModulesList},
					{Name: "enable", Description: "Enable a module", Handler: handleModuleToggle(false)},
					{Name: "disable", Description: "Disable a module", Handler: handleModuleToggle(true)},
				},
			},
			Data: engine.ExtendedData{
				"list":    engine.CapabilityOrAdmin(ModuleID, "modules_list"),
				"enable":  engine.CapabilityOrAdmin(ModuleID, "modules_toggle"),
				"disable": engine.CapabilityOrAdmin(ModuleID, "modules_toggle"),
			},
		}},
		ConfigOptions: []engine.ConfigOption{
			{
				ID:          "guild_roles",
				Name:        "Role capabilities",
				Description: "Capabilities granted to server roles",
				Operations: map[engine.SettingsOperation]engine.CommandHandler{
					engine.OpView:   viewRoles,
					engine.OpCreate: setRole,
					engine.OpUpdate: setRole,
					engine.OpDelete: deleteRole,
				},
			},
			{
				ID:          "guild_members",
				Name:        "Member capabilities",
				Description: "Capability overrides of single members",
				Operations: map[engine.SettingsOperation]engine.CommandHandler{
					engine.OpView:   viewMember,
					engine.OpUpdate: setMember,
					engine.OpDelete: deleteMember,
				},
			},
		},
	}
}

func handleModulesList(c *engine.CommandContext) (string, error) {
	eng := c.Engine()
	var b strings.Builder
	for _, m := range eng.Registry.All() {
		if m.WebHidden {
			continue
		}
		enabled, err := eng.ModuleEnabled(c.Ctx, c.GuildID, m.ID)
		if err != nil {
			return "", err
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		fmt.Fprintf(&b, "%s (%s): %s\n", m.ID, m.Name, state)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func handleModuleToggle(disable bool) engine.CommandHandler {
	return func(c *engine.CommandContext) (string, error) {
		id, err := c.RequireString("module")
		if err != nil {
			return "", err
		}
		eng := c.Engine()
		m, err := eng.Registry.Lookup(id)
		if err != nil {
			return "", err
		}
		if !m.Toggleable {
			return "", fmt.Errorf("module %s cannot be toggled", id)
		}
		cfg, err := eng.Store.ModuleConfig(c.Ctx, c.GuildID, id)
		if err != nil {
			return "", err
		}
		if cfg == nil {
			cfg = &store.GuildModuleConfiguration{GuildID: c.GuildID, Module: id}
		}
		cfg.Disabled = &disable
		if err := eng.Store.SetModuleConfig(c.Ctx, cfg); err != nil {
			return "", err
		}
		if disable {
			return "Disabled " + id, nil
		}
		return "Enabled " + id, nil
	}
}

// parseEntries splits a comma or space separated list of capability entries.
func parseEntries(raw string) ([]string, error) {
	var out []string
	for _, f := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		e, err := perms.ParseEntry(f)
		if err != nil {
			return nil, err
		}
		out = append(out, e.String())
	}
	return out, nil
}

// ensureCanGrant rejects grants beyond the caller's own capabilities. Owners and administrators
// may grant anything.
func ensureCanGrant(c *engine.CommandContext, entries []string) error {
	checker := authz.NewChecker(c.Engine())
	m, err := c.Engine().Platform.Member(c.Ctx, c.GuildID, c.UserID)
	if err != nil {
		return err
	}
	if m.IsOwner || m.Administrator {
		return nil
	}
	held, err := checker.EffectivePerms(c.Ctx, m)
	if err != nil {
		return err
	}
	fitted := perms.Fit(entries, held)
	if len(fitted) != len(entries) {
		return ErrEscalation
	}
	return nil
}

func viewRoles(c *engine.CommandContext) (string, error) {
	rows, err := c.Engine().Store.ListRoleGrants(c.Ctx, c.GuildID)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "No role capabilities configured", nil
	}
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "%s (position %d): %s\n", r.RoleID, r.Position, strings.Join(r.Perms, ", "))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func setRole(c *engine.CommandContext) (string, error) {
	roleID, err := c.RequireString("role_id")
	if err != nil {
		return "", err
	}
	pos, _, err := c.Int("position")
	if err != nil {
		return "", err
	}
	entries, err := parseEntries(c.String("perms"))
	if err != nil {
		return "", err
	}
	if err := ensureCanGrant(c, entries); err != nil {
		return "", err
	}
	if err := c.Engine().Store.SetRoleGrants(c.Ctx, &store.GuildRole{GuildID: c.GuildID, RoleID: roleID, Position: pos, Perms: entries}); err != nil {
		return "", err
	}
	return fmt.Sprintf("Role %s now has %d capability entries", roleID, len(entries)), nil
}

func deleteRole(c *engine.CommandContext) (string, error) {
	roleID, err := c.RequireString("role_id")
	if err != nil {
		return "", err
	}
	if err := c.Engine().Store.DeleteRoleGrants(c.Ctx, c.GuildID, roleID); err != nil {
		return "", err
	}
	return "Removed capabilities of role " + roleID, nil
}

func viewMember(c *engine.CommandContext) (string, error) {
	userID, err := c.RequireString("user_id")
	if err != nil {
		return "", err
	}
	entries, err := c.Engine().Store.MemberOverrides(c.Ctx, c.GuildID, userID)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "No overrides for " + userID, nil
	}
	return userID + ": " + strings.Join(entries, ", "), nil
}

func setMember(c *engine.CommandContext) (string, error) {
	userID, err := c.RequireString("user_id")
	if err != nil {
		return "", err
	}
	entries, err := parseEntries(c.String("perms"))
	if err != nil {
		return "", err
	}
	if err := ensureCanGrant(c, entries); err != nil {
		return "", err
	}
	if err := c.Engine().Store.SetMemberOverrides(c.Ctx, c.GuildID, userID, entries); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s now has %d override entries", userID, len(entries)), nil
}

func deleteMember(c *engine.CommandContext) (string, error) {
	userID, err := c.RequireString("user_id")
	if err != nil {
		return "", err
	}
	if err := c.Engine().Store.DeleteMemberOverrides(c.Ctx, c.GuildID, userID); err != nil {
		return "", err
	}
	return "Removed overrides of " + userID, nil
}
