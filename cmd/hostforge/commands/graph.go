package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hostforge/hostforge/pkg/graph"
)

func newGraphCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph [manifest...]",
		Short: "Render the dependency graph as DOT",
		Long: `Build the dependency graph from the manifests and write it to stdout in
Graphviz DOT format. Notify edges render dashed.`,
		Example: `  hostforge graph site.cue | dot -Tsvg -o graph.svg`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decls, err := loadDecls(cmd.Context(), args)
			if err != nil {
				return err
			}

			g, err := graph.NewBuilder().Build(decls)
			if err != nil {
				return err
			}

			fmt.Print(g.ToDOT())
			return nil
		},
	}

	return cmd
}
