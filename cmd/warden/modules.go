package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"github.com/xlab/treeprint"

	"github.com/guildwarden/warden/engine"
	"github.com/guildwarden/warden/modules"
	"github.com/guildwarden/warden/templating"
)

var cmdModules = &cli.Command{
	Name:  "modules",
	Usage: "print the built-in modules with their commands and capabilities",
	Action: func(cctx *cli.Context) error {
		noop := func(ctx context.Context) (int, error) { return 0, nil }
		reg := engine.MustBuildRegistry(modules.Default(templating.NewLuaExecutor(nil), noop)...)
		fmt.Fprint(os.Stdout, moduleTree(reg).String())
		return nil
	},
}

func moduleTree(reg *engine.Registry) treeprint.Tree {
	tree := treeprint.NewWithRoot("modules")
	for _, m := range reg.All() {
		var flags []string
		if !m.Toggleable {
			flags = append(flags, "always-on")
		} else if !m.IsDefaultEnabled {
			flags = append(flags, "default-off")
		}
		if m.Listener != nil {
			flags = append(flags, "listener")
		}
		label := m.ID
		if len(flags) > 0 {
			label += " (" + strings.Join(flags, ", ") + ")"
		}
		branch := tree.AddBranch(label)
		for _, name := range reg.QualifiedNames(m.ID) {
			data, err := reg.LookupCapability(m.ID, name)
			if err != nil {
				branch.AddNode(name)
				continue
			}
			branch.AddMetaNode(data.Requirement.String(), name)
		}
	}
	return tree
}
