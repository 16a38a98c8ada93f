package commands

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hostforge/hostforge/pkg/config"
	"github.com/hostforge/hostforge/pkg/engine"
)

func newWatchCommand() *cobra.Command {
	var (
		parallel int
		timeout  time.Duration
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch [manifest...]",
		Short: "Continuously converge when manifests change",
		Long: `Apply the manifests, then watch their files and re-apply after every
change. With --interval the host is also re-converged periodically even
without manifest edits, correcting external drift.`,
		Example: `  # Re-apply on manifest edits
  hostforge watch manifests/

  # Also re-converge every 30 minutes
  hostforge watch --interval 30m manifests/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			apply := func() {
				report, err := runConverge(ctx, args, engine.Options{
					MaxParallel: parallel,
					Timeout:     timeout,
				}, "", true)
				if err != nil {
					log.Error().Err(err).Msg("convergence run failed")
					return
				}
				printReport(report)
			}

			apply()

			if interval > 0 {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				go func() {
					for {
						select {
						case <-ctx.Done():
							return
						case <-ticker.C:
							log.Info().Msg("periodic convergence")
							apply()
						}
					}
				}()
			}

			watcher := config.NewWatcher(log.Logger)
			return watcher.Watch(ctx, args, func() {
				log.Info().Msg("manifests changed, re-converging")
				apply()
			})
		},
	}

	cmd.Flags().IntVarP(&parallel, "parallel", "p", engine.DefaultMaxParallel, "max resources converging concurrently")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "bound each run")
	cmd.Flags().DurationVar(&interval, "interval", 0, "also re-converge at this interval")

	return cmd
}
