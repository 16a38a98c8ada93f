// Package engine implements the convergence core: it walks the resource
// graph in topological order, drives each resource to its declared state,
// and propagates refresh notifications once the apply pass completes.
package engine

import (
	"time"

	"github.com/hostforge/hostforge/pkg/resource"
)

// RunStatus is the overall status of a convergence run.
type RunStatus string

const (
	// RunStatusSucceeded indicates every resource converged.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates at least one resource failed.
	RunStatusFailed RunStatus = "failed"

	// RunStatusPartial indicates some resources were skipped but none failed.
	RunStatusPartial RunStatus = "partial"
)

// ResourceResult is the per-resource outcome of a run.
type ResourceResult struct {
	// Ref is the resource identity.
	Ref resource.Ref `json:"ref"`

	// Outcome is the final outcome.
	Outcome resource.Outcome `json:"outcome"`

	// Changes lists the attribute transitions applied (or, in dry-run
	// mode, the transitions that would be applied).
	Changes []resource.Change `json:"changes,omitempty"`

	// Refreshed reports whether the resource's refresh action ran.
	Refreshed bool `json:"refreshed,omitempty"`

	// Reason explains a skip.
	Reason string `json:"reason,omitempty"`

	// Err is the probe or apply failure, if any.
	Err *resource.Error `json:"error,omitempty"`

	// Duration is the time spent probing and applying.
	Duration time.Duration `json:"duration"`
}

// Summary aggregates outcome counts for a run.
type Summary struct {
	Total     int `json:"total"`
	Changed   int `json:"changed"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Refreshed int `json:"refreshed"`
}

// RunReport is the user-visible result of a convergence run, enumerating
// every resource's final outcome in declaration order.
type RunReport struct {
	// RunID is the unique identifier of this run.
	RunID string `json:"run_id"`

	// DryRun reports whether apply was suppressed.
	DryRun bool `json:"dry_run,omitempty"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`

	// Results holds one entry per declared resource, in declaration order.
	Results []ResourceResult `json:"results"`

	// Summary aggregates the outcome counts.
	Summary Summary `json:"summary"`
}

// Status derives the overall run status from the summary.
func (r *RunReport) Status() RunStatus {
	switch {
	case r.Summary.Failed > 0:
		return RunStatusFailed
	case r.Summary.Skipped > 0:
		return RunStatusPartial
	default:
		return RunStatusSucceeded
	}
}

// Failed reports whether any resource failed, driving the process exit
// status.
func (r *RunReport) Failed() bool {
	return r.Summary.Failed > 0
}

// Result returns the result for a reference, or nil when absent.
func (r *RunReport) Result(ref resource.Ref) *ResourceResult {
	for i := range r.Results {
		if r.Results[i].Ref == ref {
			return &r.Results[i]
		}
	}
	return nil
}

// summarize recomputes the summary from the results.
func (r *RunReport) summarize() {
	s := Summary{Total: len(r.Results)}
	for i := range r.Results {
		switch r.Results[i].Outcome {
		case resource.OutcomeChanged:
			s.Changed++
		case resource.OutcomeUnchanged:
			s.Unchanged++
		case resource.OutcomeFailed:
			s.Failed++
		case resource.OutcomeSkipped:
			s.Skipped++
		}
		if r.Results[i].Refreshed {
			s.Refreshed++
		}
	}
	r.Summary = s
}
