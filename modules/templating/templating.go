// Runs ad-hoc templates from chat. The remote execute-template endpoint is authorized against the
// same command.
package templating

import (
	"encoding/json"
	"errors"

	"github.com/guildwarden/warden/engine"
	tmpl "github.com/guildwarden/warden/templating"
)

const (
	ModuleID = "templating"
	// command checked by every template execution surface
	ExecCommand = "exec_template"
)

func Module(exec tmpl.Executor) engine.Module {
	return engine.Module{
		ID:                   ModuleID,
		Name:                 "Templating",
		Description:          "Run Lua templates",
		Toggleable:           true,
		CommandsConfigurable: true,
		IsDefaultEnabled:     true,
		Commands: []engine.CommandEntry{{
			Command: engine.Command{
				Name:        ExecCommand,
				Description: "Execute a template",
				Handler:     execHandler(exec),
			},
			Data: engine.ExtendedData{
				"": engine.Capability(ModuleID, ExecCommand),
			},
		}},
	}
}

func execHandler(exec tmpl.Executor) engine.CommandHandler {
	return func(c *engine.CommandContext) (string, error) {
		source, err := c.RequireString("template")
		if err != nil {
			return "", err
		}
		var args json.RawMessage
		if raw := c.String("args"); raw != "" {
			if !json.Valid([]byte(raw)) {
				return "", errors.New("args must be JSON")
			}
			args = json.RawMessage(raw)
		}
		out, err := exec.Execute(c.Ctx, source, tmpl.ExecContext{Args: args, GuildID: c.GuildID, UserID: c.UserID})
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}
