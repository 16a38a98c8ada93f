package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostforge/hostforge/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded convergence runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tSTATUS\tSTARTED\tTOTAL\tCHANGED\tFAILED\tSKIPPED")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
					run.ID, run.Status, run.StartedAt.Format(time.RFC3339),
					run.Total, run.Changed, run.Failed, run.Skipped)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	cmd.AddCommand(newRunsShowCommand())

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one recorded run with its per-resource results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			run, results, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			events, err := store.GetEvents(cmd.Context(), args[0], 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{"run": run, "results": results, "events": events})
			}

			fmt.Printf("run %s: %s (started %s)\n", run.ID, run.Status, run.StartedAt.Format(time.RFC3339))
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RESOURCE\tOUTCOME\tREFRESHED\tDURATION\tDETAIL")
			for _, res := range results {
				detail := res.Reason
				if res.Error != "" {
					detail = res.Error
				}
				fmt.Fprintf(w, "%s[%s]\t%s\t%v\t%dms\t%s\n",
					res.Kind, res.Title, res.Outcome, res.Refreshed, res.DurationMS, detail)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if len(events) > 0 {
				fmt.Println("\nevents:")
				for _, e := range events {
					target := e.Resource
					if target == "" {
						target = "run"
					}
					fmt.Printf("  %s [%s] %s: %s\n",
						e.Timestamp.Format(time.RFC3339), e.Level, target, e.Message)
				}
			}
			return nil
		},
	}
}

// openHistory opens the run history database read-write.
func openHistory(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
