package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hostforge/hostforge/pkg/graph"
	"github.com/hostforge/hostforge/pkg/resource"
	"github.com/hostforge/hostforge/pkg/system"
	"github.com/hostforge/hostforge/pkg/telemetry"
)

// DefaultMaxParallel bounds concurrent resource convergence when the
// caller does not set a limit.
const DefaultMaxParallel = 4

// Options control a convergence run.
type Options struct {
	// MaxParallel bounds the number of resources converging concurrently.
	// Zero or negative selects DefaultMaxParallel.
	MaxParallel int

	// DryRun reports the changes each resource would make without
	// applying any of them.
	DryRun bool

	// Timeout bounds the whole run. Resources not yet started when the
	// timeout fires are recorded as skipped. Zero means no timeout.
	Timeout time.Duration
}

// PolicyChecker gates a run before any resource is touched.
type PolicyChecker interface {
	Check(ctx context.Context, decls []*resource.Decl) error
}

// Converger drives a set of resource declarations to their desired
// state, honoring the dependency graph between them.
type Converger struct {
	registry *resource.Registry
	sys      *system.Context
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	policy   PolicyChecker
}

// New creates a Converger resolving kinds through registry and touching
// the host through sys.
func New(registry *resource.Registry, sys *system.Context, logger *telemetry.Logger) *Converger {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Converger{
		registry: registry,
		sys:      sys,
		logger:   logger,
	}
}

// WithMetrics attaches a metrics recorder.
func (c *Converger) WithMetrics(m *telemetry.Metrics) *Converger {
	c.metrics = m
	return c
}

// WithTracer attaches a tracer.
func (c *Converger) WithTracer(t *telemetry.Tracer) *Converger {
	c.tracer = t
	return c
}

// WithPolicy attaches a policy gate evaluated before the run starts.
func (c *Converger) WithPolicy(p PolicyChecker) *Converger {
	c.policy = p
	return c
}

// runState tracks per-resource progress for one run.
type runState struct {
	mu      sync.Mutex
	results map[resource.Ref]*ResourceResult

	// refresh holds notify targets queued by changed resources, in the
	// order they were first queued. queued deduplicates.
	refresh []resource.Ref
	queued  map[resource.Ref]bool
}

func (s *runState) result(ref resource.Ref) *ResourceResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[ref]
}

func (s *runState) record(res *ResourceResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[res.Ref] = res
}

func (s *runState) queueRefresh(ref resource.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queued[ref] {
		return
	}
	s.queued[ref] = true
	s.refresh = append(s.refresh, ref)
}

// Converge builds the dependency graph for decls and walks it level by
// level, converging each resource at most once. A graph build failure or
// policy denial aborts before any resource is touched; per-resource
// failures are recorded in the report and block only dependents.
func (c *Converger) Converge(ctx context.Context, decls []*resource.Decl, opts Options) (*RunReport, error) {
	runID := uuid.New().String()
	log := c.logger.WithRunID(runID)

	for _, d := range decls {
		kind, err := c.registry.Lookup(d.Ref.Kind)
		if err != nil {
			return nil, err
		}
		if err := kind.Validate(d); err != nil {
			return nil, resource.NewError(resource.ErrCodeValidation, "invalid declaration", err).WithRef(d.Ref)
		}
	}

	g, err := graph.NewBuilder().Build(decls)
	if err != nil {
		c.metrics.RecordGraphBuildFailure(resource.CodeOf(err))
		return nil, err
	}

	if c.policy != nil {
		if err := c.policy.Check(ctx, decls); err != nil {
			return nil, err
		}
	}

	c.metrics.RecordRunStarted()
	c.metrics.RecordGraph(g.Len(), g.Depth())

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	ctx, span := c.tracer.StartRun(ctx, runID, g.Len())

	report := &RunReport{
		RunID:     runID,
		DryRun:    opts.DryRun,
		StartedAt: time.Now(),
	}
	state := &runState{
		results: make(map[resource.Ref]*ResourceResult, g.Len()),
		queued:  make(map[resource.Ref]bool),
	}

	workers := opts.MaxParallel
	if workers <= 0 {
		workers = DefaultMaxParallel
	}

	log.Zerolog().Info().
		Int("resources", g.Len()).
		Int("levels", g.Depth()).
		Int("max_parallel", workers).
		Bool("dry_run", opts.DryRun).
		Msg("starting convergence run")

	for _, level := range g.Levels() {
		c.convergeLevel(ctx, g, level, state, opts, workers, log)
	}

	c.runRefreshes(ctx, g, state, opts, log)

	report.CompletedAt = time.Now()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)
	report.Results = collectResults(g, state)
	report.summarize()

	c.metrics.RecordRunCompleted(string(report.Status()), report.Duration)
	var runErr error
	if report.Failed() {
		runErr = fmt.Errorf("%d of %d resources failed", report.Summary.Failed, report.Summary.Total)
	}
	telemetry.EndSpan(span, runErr)

	log.Zerolog().Info().
		Str("status", string(report.Status())).
		Int("changed", report.Summary.Changed).
		Int("unchanged", report.Summary.Unchanged).
		Int("failed", report.Summary.Failed).
		Int("skipped", report.Summary.Skipped).
		Int("refreshed", report.Summary.Refreshed).
		Dur("duration", report.Duration).
		Msg("convergence run completed")

	return report, nil
}

// convergeLevel runs every node in one graph level through a bounded
// worker pool. Levels are independent by construction, so ordering inside
// a level only matters for log stability, which the per-level declaration
// sort in the graph already provides.
func (c *Converger) convergeLevel(ctx context.Context, g *graph.Graph, level []resource.Ref, state *runState, opts Options, workers int, log *telemetry.Logger) {
	if workers > len(level) {
		workers = len(level)
	}

	queue := make(chan resource.Ref, len(level))
	for _, ref := range level {
		queue <- ref
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range queue {
				c.convergeOne(ctx, g, ref, state, opts, log)
			}
		}()
	}
	wg.Wait()
}

// convergeOne drives a single resource: skip if a predecessor did not
// converge, otherwise probe, diff, and apply when drift exists.
func (c *Converger) convergeOne(ctx context.Context, g *graph.Graph, ref resource.Ref, state *runState, opts Options, log *telemetry.Logger) {
	res := &ResourceResult{Ref: ref}
	defer func() {
		state.record(res)
		c.metrics.RecordResource(ref.Kind, string(res.Outcome), res.Duration)
	}()

	if reason, blocked := c.blockedBy(g, ref, state); blocked {
		res.Outcome = resource.OutcomeSkipped
		res.Reason = reason
		log.Zerolog().Warn().Str("resource", ref.String()).Str("reason", reason).Msg("resource skipped")
		return
	}

	if err := ctx.Err(); err != nil {
		res.Outcome = resource.OutcomeSkipped
		if err == context.DeadlineExceeded {
			res.Reason = "run timeout exceeded"
		} else {
			res.Reason = "run canceled"
		}
		log.Zerolog().Warn().Str("resource", ref.String()).Str("reason", res.Reason).Msg("resource skipped")
		return
	}

	node := g.Node(ref)
	kind, err := c.registry.Lookup(ref.Kind)
	if err != nil {
		res.Outcome = resource.OutcomeFailed
		res.Err = resource.NewError(resource.ErrCodeInternal, "kind vanished from registry", err).WithRef(ref)
		return
	}

	ctx, span := c.tracer.StartResource(ctx, ref.String(), ref.Kind)
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		var spanErr error
		if res.Err != nil {
			spanErr = res.Err
		}
		telemetry.EndSpan(span, spanErr)
	}()

	current, err := kind.Probe(ctx, c.sys, node.Decl)
	if err != nil {
		res.Outcome = resource.OutcomeFailed
		res.Err = resource.NewError(resource.ErrCodeProbeFailed, "probe failed", err).WithRef(ref).WithOp("probe")
		log.Zerolog().Error().Err(err).Str("resource", ref.String()).Msg("probe failed")
		return
	}

	changes := kind.Diff(node.Decl, current)
	if len(changes) == 0 {
		res.Outcome = resource.OutcomeUnchanged
		log.Zerolog().Debug().Str("resource", ref.String()).Msg("resource already converged")
		return
	}
	res.Changes = changes

	if opts.DryRun {
		res.Outcome = resource.OutcomeChanged
		c.queueNotifications(g, ref, state)
		log.Zerolog().Info().Str("resource", ref.String()).Int("changes", len(changes)).Msg("resource would change")
		return
	}

	if err := kind.Apply(ctx, c.sys, node.Decl, current); err != nil {
		res.Outcome = resource.OutcomeFailed
		res.Err = resource.NewError(resource.ErrCodeApplyFailed, "apply failed", err).WithRef(ref).WithOp("apply")
		log.Zerolog().Error().Err(err).Str("resource", ref.String()).Msg("apply failed")
		return
	}

	res.Outcome = resource.OutcomeChanged
	c.queueNotifications(g, ref, state)
	log.Zerolog().Info().Str("resource", ref.String()).Int("changes", len(changes)).Msg("resource changed")
}

// blockedBy reports whether any predecessor of ref failed or was skipped.
// Both require and notify edges block, so a failed resource fences off
// its whole downstream subtree.
func (c *Converger) blockedBy(g *graph.Graph, ref resource.Ref, state *runState) (string, bool) {
	for _, edge := range g.In(ref) {
		pred := state.result(edge.From)
		if pred == nil {
			continue
		}
		switch pred.Outcome {
		case resource.OutcomeFailed:
			return "dependency " + edge.From.String() + " failed", true
		case resource.OutcomeSkipped:
			return "dependency " + edge.From.String() + " skipped", true
		}
	}
	return "", false
}

// queueNotifications enqueues a refresh for every notify successor of a
// changed resource. Duplicate notifications collapse to one refresh.
func (c *Converger) queueNotifications(g *graph.Graph, ref resource.Ref, state *runState) {
	for _, edge := range g.Out(ref) {
		if edge.Kind == graph.EdgeNotify {
			state.queueRefresh(edge.To)
		}
	}
}

// runRefreshes executes the queued refresh actions after the apply pass,
// in topological order so a refreshed resource never runs before one it
// depends on. Targets that failed or were skipped are not refreshed, and
// targets whose kind has no refresh action are ignored.
func (c *Converger) runRefreshes(ctx context.Context, g *graph.Graph, state *runState, opts Options, log *telemetry.Logger) {
	if len(state.refresh) == 0 {
		return
	}

	for _, ref := range g.Order() {
		if !state.queued[ref] {
			continue
		}
		res := state.result(ref)
		if res == nil || !res.Outcome.IsApplied() {
			continue
		}

		kind, err := c.registry.Lookup(ref.Kind)
		if err != nil {
			continue
		}
		refresher, ok := kind.(resource.Refresher)
		if !ok {
			log.Zerolog().Debug().Str("resource", ref.String()).Msg("notify target has no refresh action")
			continue
		}

		if opts.DryRun {
			res.Refreshed = true
			log.Zerolog().Info().Str("resource", ref.String()).Msg("resource would refresh")
			continue
		}

		node := g.Node(ref)
		if err := refresher.Refresh(ctx, c.sys, node.Decl); err != nil {
			res.Outcome = resource.OutcomeFailed
			res.Err = resource.NewError(resource.ErrCodeApplyFailed, "refresh failed", err).WithRef(ref).WithOp("refresh")
			log.Zerolog().Error().Err(err).Str("resource", ref.String()).Msg("refresh failed")
			continue
		}
		res.Refreshed = true
		c.metrics.RecordRefresh(ref.Kind)
		log.Zerolog().Info().Str("resource", ref.String()).Msg("resource refreshed")
	}
}

// collectResults orders the per-resource results by declaration order.
func collectResults(g *graph.Graph, state *runState) []ResourceResult {
	type indexed struct {
		index int
		res   *ResourceResult
	}
	out := make([]indexed, 0, g.Len())
	for ref, res := range state.results {
		out = append(out, indexed{index: g.Node(ref).Index, res: res})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })

	results := make([]ResourceResult, len(out))
	for i, e := range out {
		results[i] = *e.res
	}
	return results
}
