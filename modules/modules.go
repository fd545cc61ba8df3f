// Package modules assembles the built-in feature modules.
package modules

import (
	"github.com/guildwarden/warden/engine"
	"github.com/guildwarden/warden/modules/auditlogs"
	"github.com/guildwarden/warden/modules/core"
	"github.com/guildwarden/warden/modules/limits"
	"github.com/guildwarden/warden/modules/root"
	tmplmod "github.com/guildwarden/warden/modules/templating"
	"github.com/guildwarden/warden/modules/temporarypunishments"
	"github.com/guildwarden/warden/templating"
)

// Default returns every built-in module in registration order.
func Default(exec templating.Executor, register root.Registrar) []engine.Module {
	return []engine.Module{
		core.Module(),
		root.Module(register),
		limits.Module(),
		temporarypunishments.Module(),
		auditlogs.Module(),
		tmplmod.Module(exec),
	}
}
