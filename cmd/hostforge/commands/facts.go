package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newFactsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Show the collected facts for the target host",
		Long: `Collect and print the facts hostforge gathers before a run: hostname,
OS family, kernel, and architecture. With --target the facts come from
the remote host.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rt.sys.Facts)
			}

			data, err := yaml.Marshal(rt.sys.Facts)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}

	return cmd
}
