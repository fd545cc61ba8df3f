package limits

import (
	"errors"
	"fmt"
	"strings"

	"github.com/guildwarden/warden/engine"
	"github.com/guildwarden/warden/store"
)

func Module() engine.Module {
	return engine.Module{
		ID:                   ModuleID,
		Name:                 "Limits",
		Description:          "Server rate limiting: count actions per user and punish those who go over",
		Toggleable:           true,
		Configurable:         true,
		CommandsConfigurable: true,
		IsDefaultEnabled:     false,
		Commands: []engine.CommandEntry{
			{
				Command: engine.Command{
					Name:        "limits",
					Description: "Manage server limits",
					Subcommands: []engine.Subcommand{
						{Name: "add", Description: "Add a limit", Handler: handleAdd},
						{Name: "view", Description: "View the server's limits", Handler: handleView},
						{Name: "remove", Description: "Remove a limit", Handler: handleRemove},
						{Name: "hit", Description: "Record a hit against a limit", Handler: handleHit},
					},
				},
				Data: engine.ExtendedData{
					"add":    engine.CapabilityOrAdmin(ModuleID, "add"),
					"view":   engine.CapabilityOrAdmin(ModuleID, "view"),
					"remove": engine.CapabilityOrAdmin(ModuleID, "remove"),
					"hit":    engine.CapabilityOrAdmin(ModuleID, "hit"),
				},
			},
			{
				Command: engine.Command{
					Name:        "limitactions",
					Description: "Actions taken by limits",
					Subcommands: []engine.Subcommand{
						{Name: "view", Description: "View actions taken by limits", Handler: handleActionsView},
					},
				},
				Data: engine.ExtendedData{
					"view": engine.CapabilityOrAdmin(ModuleID, "limitactions_view"),
				},
			},
		},
	}
}

func handleAdd(c *engine.CommandContext) (string, error) {
	name, err := c.RequireString("name")
	if err != nil {
		return "", err
	}
	window, ok, err := c.Duration("window")
	if err != nil {
		return "", err
	} else if !ok {
		return "", errors.New(`missing argument "window"`)
	}
	maxHits, ok, err := c.Int("max_hits")
	if err != nil {
		return "", err
	} else if !ok {
		return "", errors.New(`missing argument "max_hits"`)
	}
	actions, err := ParseActions(c.String("actions"))
	if err != nil {
		return "", err
	}

	def, err := Add(c.Ctx, c.Engine(), c.GuildID, store.LimitDefinition{
		Name:    name,
		Window:  window,
		MaxHits: maxHits,
		Actions: actions,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Added limit %s (%s)", def.ID, def.Name), nil
}

func handleView(c *engine.CommandContext) (string, error) {
	defs, err := View(c.Ctx, c.Engine(), c.GuildID)
	if err != nil {
		return "", err
	}
	if len(defs) == 0 {
		return "No limits configured", nil
	}
	var b strings.Builder
	for _, d := range defs {
		fmt.Fprintf(&b, "%s %q: %d hits per %s -> %s\n", d.ID, d.Name, d.MaxHits, d.Window, FormatActions(d.Actions))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func handleRemove(c *engine.CommandContext) (string, error) {
	id, err := c.RequireString("limit_id")
	if err != nil {
		return "", err
	}
	if err := Remove(c.Ctx, c.Engine(), c.GuildID, id); err != nil {
		return "", err
	}
	return "Removed limit " + id, nil
}

func handleHit(c *engine.CommandContext) (string, error) {
	id, err := c.RequireString("limit_id")
	if err != nil {
		return "", err
	}
	target := c.String("target")
	if target == "" {
		target = c.UserID
	}
	res, err := Hit(c.Ctx, c.Engine(), c.GuildID, id, target)
	if err != nil {
		return "", err
	}
	if !res.Breached {
		return fmt.Sprintf("%d/%d", res.Count, res.Threshold), nil
	}
	msg := fmt.Sprintf("%d/%d: limit exceeded", res.Count, res.Threshold)
	for _, a := range res.Actions {
		if a.Err != nil {
			msg += fmt.Sprintf("\n%s failed: %v", a.Kind, a.Err)
		} else {
			msg += fmt.Sprintf("\n%s applied", a.Kind)
		}
	}
	return msg, nil
}

func handleActionsView(c *engine.CommandContext) (string, error) {
	rows, err := c.Engine().Store.ListPunishments(c.Ctx, c.GuildID, ModuleID)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "No actions taken", nil
	}
	var b strings.Builder
	for _, p := range rows {
		fmt.Fprintf(&b, "%s %s %s at %s", p.ID, p.Punishment, p.Target, p.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
		if p.ExpiresAt != nil {
			fmt.Fprintf(&b, " until %s", p.ExpiresAt.UTC().Format("2006-01-02 15:04:05"))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
