package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hostforge/hostforge/pkg/engine"
	"github.com/hostforge/hostforge/pkg/resource"
	"github.com/hostforge/hostforge/pkg/stores"
	"github.com/hostforge/hostforge/pkg/telemetry"
)

func newApplyCommand() *cobra.Command {
	var (
		parallel    int
		timeout     time.Duration
		metricsAddr string
		noHistory   bool
	)

	cmd := &cobra.Command{
		Use:   "apply [manifest...]",
		Short: "Converge resources to their declared state",
		Long: `Build the dependency graph from the given manifests and converge every
resource: probe its actual state, compare against the declaration, and
apply only what drifted. Changed resources trigger refresh actions on
their notify targets after the pass completes.`,
		Example: `  # Converge the local host
  hostforge apply site.cue

  # Converge a remote host over SSH
  hostforge apply --target admin@web01 site.cue

  # Bound the run to two minutes
  hostforge apply --timeout 2m manifests/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runConverge(cmd.Context(), args, engine.Options{
				MaxParallel: parallel,
				Timeout:     timeout,
			}, metricsAddr, !noHistory)
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

	cmd.Flags().IntVarP(&parallel, "parallel", "p", engine.DefaultMaxParallel, "max resources converging concurrently")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "bound the whole run (resources not started are skipped)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record the run in the history database")

	return cmd
}

// runConverge wires a full convergence run: runtime, engine, metrics,
// and history recording.
func runConverge(ctx context.Context, sources []string, opts engine.Options, metricsAddr string, record bool) (*engine.RunReport, error) {
	rt, err := newRuntime(ctx)
	if err != nil {
		return nil, err
	}
	defer rt.close(ctx)

	decls, err := loadDecls(ctx, sources)
	if err != nil {
		return nil, err
	}

	var metrics *telemetry.Metrics
	if metricsAddr != "" {
		cfg := telemetry.DefaultMetricsConfig()
		cfg.Enabled = true
		cfg.Addr = metricsAddr
		metrics, err = telemetry.NewMetrics(cfg)
		if err != nil {
			return nil, fmt.Errorf("create metrics: %w", err)
		}
		go func() {
			if err := metrics.Serve(metricsAddr); err != nil {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	conv := engine.New(rt.registry, rt.sys, rt.logger).WithMetrics(metrics)
	if rt.policy != nil {
		conv.WithPolicy(rt.policy)
	}

	report, err := conv.Converge(ctx, decls, opts)
	if err != nil {
		return nil, err
	}

	if record && !opts.DryRun {
		if err := recordRun(ctx, report); err != nil {
			log.Warn().Err(err).Msg("failed to record run history")
		}
	}

	return report, nil
}

// recordRun persists the report in the history database.
func recordRun(ctx context.Context, report *engine.RunReport) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return err
	}

	store, err := stores.NewSQLiteStore(dbPath)
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	if err := store.SaveReport(ctx, report); err != nil {
		return err
	}
	return logRunEvents(ctx, store, report)
}

// logRunEvents appends the run's notable moments to the event log.
func logRunEvents(ctx context.Context, store stores.Store, report *engine.RunReport) error {
	events := []stores.Event{
		{
			RunID:     report.RunID,
			Message:   fmt.Sprintf("run completed with status %s", report.Status()),
			Timestamp: report.CompletedAt,
		},
	}

	for _, res := range report.Results {
		switch res.Outcome {
		case resource.OutcomeFailed:
			msg := "resource failed"
			if res.Err != nil {
				msg = res.Err.Error()
			}
			events = append(events, stores.Event{
				RunID:     report.RunID,
				Resource:  res.Ref.String(),
				Level:     stores.EventError,
				Message:   msg,
				Timestamp: report.CompletedAt,
			})
		case resource.OutcomeSkipped:
			events = append(events, stores.Event{
				RunID:     report.RunID,
				Resource:  res.Ref.String(),
				Level:     stores.EventWarn,
				Message:   res.Reason,
				Timestamp: report.CompletedAt,
			})
		}
	}

	for i := range events {
		if err := store.AppendEvent(ctx, &events[i]); err != nil {
			return err
		}
	}
	return nil
}
