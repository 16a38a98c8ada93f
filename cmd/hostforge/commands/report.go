package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hostforge/hostforge/pkg/engine"
	"github.com/hostforge/hostforge/pkg/resource"
)

// printReport renders a run report as text or JSON per the --json flag.
func printReport(report *engine.RunReport) {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		return
	}

	for _, res := range report.Results {
		line := fmt.Sprintf("%-10s %s", res.Outcome, res.Ref)
		switch res.Outcome {
		case resource.OutcomeChanged:
			if len(res.Changes) > 0 {
				var parts []string
				for _, c := range res.Changes {
					parts = append(parts, c.String())
				}
				line += "  (" + strings.Join(parts, ", ") + ")"
			}
		case resource.OutcomeSkipped:
			if res.Reason != "" {
				line += "  (" + res.Reason + ")"
			}
		case resource.OutcomeFailed:
			if res.Err != nil {
				line += "  " + res.Err.Error()
			}
		}
		if res.Refreshed {
			line += "  [refreshed]"
		}
		fmt.Println(line)
	}

	fmt.Printf("\nrun %s: %s in %s\n", report.RunID, report.Status(), report.Duration.Round(time.Millisecond))
	fmt.Printf("  %d total, %d changed, %d unchanged, %d failed, %d skipped, %d refreshed\n",
		report.Summary.Total, report.Summary.Changed, report.Summary.Unchanged,
		report.Summary.Failed, report.Summary.Skipped, report.Summary.Refreshed)
}
