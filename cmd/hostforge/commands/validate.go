package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hostforge/hostforge/pkg/graph"
	"github.com/hostforge/hostforge/pkg/kinds"
	"github.com/hostforge/hostforge/pkg/resource"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [manifest...]",
		Short: "Validate manifests and their dependency graph",
		Long: `Parse the manifests, validate every declaration against its kind, and
build the dependency graph. Reports duplicate identities, unresolved
references, and dependency cycles without touching the host.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			decls, err := loadDecls(ctx, args)
			if err != nil {
				return err
			}

			registry := resource.NewRegistry()
			if err := kinds.RegisterBuiltins(registry); err != nil {
				return err
			}
			if pluginDir != "" {
				plugins, err := kinds.LoadPlugins(ctx, registry, pluginDir, 0)
				defer closePlugins(ctx, plugins)
				if err != nil {
					return err
				}
			}

			for _, decl := range decls {
				kind, err := registry.Lookup(decl.Ref.Kind)
				if err != nil {
					return err
				}
				if err := kind.Validate(decl); err != nil {
					return err
				}
			}

			g, err := graph.NewBuilder().Build(decls)
			if err != nil {
				return err
			}

			fmt.Printf("ok: %d resources, %d edges, %d levels\n", g.Len(), len(g.Edges()), g.Depth())
			return nil
		},
	}

	return cmd
}
