package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostforge/hostforge/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var (
		parallel int
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "plan [manifest...]",
		Short: "Show what apply would change without changing anything",
		Long: `Probe every declared resource and report the changes a run would make.
Nothing is applied; refresh actions are reported but not executed.`,
		Example: `  # Preview local changes
  hostforge plan site.cue

  # Preview against a remote host
  hostforge plan --target admin@web01 site.cue`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runConverge(cmd.Context(), args, engine.Options{
				MaxParallel: parallel,
				Timeout:     timeout,
				DryRun:      true,
			}, "", false)
			if err != nil {
				return err
			}

			printReport(report)
			if report.Failed() {
				return &ExitError{Code: 1, Msg: fmt.Sprintf("%d resources failed", report.Summary.Failed)}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&parallel, "parallel", "p", engine.DefaultMaxParallel, "max resources probing concurrently")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "bound the whole run")

	return cmd
}
