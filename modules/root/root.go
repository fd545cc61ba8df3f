// Staff-only commands, restricted to the configured root users.
package root

import (
	"context"
	"fmt"
	"strings"

	"github.com/guildwarden/warden/engine"
	"github.com/guildwarden/warden/perms"
)

// ModuleID is special-cased by authorization: only root users pass.
const ModuleID = "root"

// Registrar publishes the command list to the chat platform and returns the number of commands
// registered.
type Registrar func(ctx context.Context) (int, error)

func Module(register Registrar) engine.Module {
	none := engine.CommandExtendedData{Requirement: perms.NoCheck(), IsDefaultEnabled: true}
	return engine.Module{
		ID:               ModuleID,
		Name:             "Root",
		Description:      "Commands only available to bot staff",
		Toggleable:       false,
		IsDefaultEnabled: true,
		WebHidden:        true,
		Commands: []engine.CommandEntry{{
			Command: engine.Command{
				Name:        "sudo",
				Description: "Staff commands",
				Subcommands: []engine.Subcommand{
					{Name: "register", Description: "Register commands with the platform", Handler: registerHandler(register)},
					{Name: "modules", Description: "Show loaded modules", Handler: handleModules},
				},
			},
			Data: engine.ExtendedData{
				"register": none,
				"modules":  none,
			},
		}},
	}
}

func registerHandler(register Registrar) engine.CommandHandler {
	return func(c *engine.CommandContext) (string, error) {
		if register == nil {
			return "", fmt.Errorf("command registration is not available")
		}
		n, err := register(c.Ctx)
		if err != nil {
			return "", fmt.Errorf("registering commands: %w", err)
		}
		c.Logger.Info("registered commands", "count", n)
		return fmt.Sprintf("Registered %d commands", n), nil
	}
}

func handleModules(c *engine.CommandContext) (string, error) {
	reg := c.Engine().Registry
	var b strings.Builder
	for _, m := range reg.All() {
		fmt.Fprintf(&b, "%s: %d commands", m.ID, len(reg.QualifiedNames(m.ID)))
		if m.Listener != nil {
			b.WriteString(", listener")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
