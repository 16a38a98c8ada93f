// Package commands implements the hostforge CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	jsonOutput bool
	target     string
	keyPath    string
	insecure   bool
	policyDir  string
	pluginDir  string
	dbPath     string
)

// ExitError carries a specific process exit code through cobra.
type ExitError struct {
	Code int
	Msg  string
}

// Error implements the error interface.
func (e *ExitError) Error() string { return e.Msg }

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hostforge",
		Short: "hostforge - declarative host configuration engine",
		Long: `hostforge converges hosts to a declared configuration.

Manifests written in CUE or YAML declare resources (files, packages,
services, users) and the dependencies between them. hostforge builds the
dependency graph, probes each resource's actual state, and applies only
what drifted, locally or over SSH.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVarP(&target, "target", "t", "", "converge a remote host (user@host[:port]) instead of the local one")
	rootCmd.PersistentFlags().StringVar(&keyPath, "key", "", "SSH private key path for --target")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure-host-key", false, "skip SSH host key verification")
	rootCmd.PersistentFlags().StringVar(&policyDir, "policy-dir", "", "directory of Rego policies gating runs")
	rootCmd.PersistentFlags().StringVar(&pluginDir, "plugin-dir", "", "directory of WASM plugin kinds")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath(), "run history database path")

	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newFactsCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}
