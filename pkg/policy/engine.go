// Package policy gates convergence runs through Rego policies: every run
// is evaluated against the loaded policy set before any resource is
// touched, and deny rules abort it.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/hostforge/hostforge/pkg/resource"
)

// Mode selects how violations affect a run.
type Mode string

const (
	// ModeEnforcing aborts the run on any violation.
	ModeEnforcing Mode = "enforcing"

	// ModeAdvisory logs violations but lets the run proceed.
	ModeAdvisory Mode = "advisory"
)

// Violation is one deny result from a policy.
type Violation struct {
	// Policy names the policy that produced the violation.
	Policy string `json:"policy"`

	// Message is the deny rule's message.
	Message string `json:"message"`
}

// Result is the outcome of evaluating the policy set against a run.
type Result struct {
	// Allowed reports whether the run may proceed.
	Allowed bool `json:"allowed"`

	// Violations lists every deny result.
	Violations []Violation `json:"violations,omitempty"`
}

// compiledPolicy is one loaded policy with its prepared deny query.
type compiledPolicy struct {
	name  string
	query rego.PreparedEvalQuery
}

// Engine evaluates Rego policies against resource declarations.
type Engine struct {
	mu       sync.RWMutex
	policies []*compiledPolicy
	mode     Mode
	logger   zerolog.Logger
}

// NewEngine creates a policy engine in the given mode.
func NewEngine(logger zerolog.Logger, mode Mode) *Engine {
	if mode == "" {
		mode = ModeEnforcing
	}
	return &Engine{
		mode:   mode,
		logger: logger.With().Str("component", "policy").Logger(),
	}
}

var packagePattern = regexp.MustCompile(`(?m)^package\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)

// LoadPolicy compiles a Rego module and prepares its deny query.
func (e *Engine) LoadPolicy(ctx context.Context, name, module string) error {
	match := packagePattern.FindStringSubmatch(module)
	if match == nil {
		return fmt.Errorf("policy %s has no package declaration", name)
	}

	query, err := rego.New(
		rego.Module(name, module),
		rego.Query(fmt.Sprintf("data.%s.deny", match[1])),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("prepare policy %s: %w", name, err)
	}

	e.mu.Lock()
	e.policies = append(e.policies, &compiledPolicy{name: name, query: query})
	e.mu.Unlock()

	e.logger.Debug().Str("policy", name).Str("package", match[1]).Msg("policy loaded")
	return nil
}

// LoadDir loads every *.rego file in a directory. A missing directory is
// not an error.
func (e *Engine) LoadDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(entry.Name(), ".rego")
		if err := e.LoadPolicy(ctx, name, string(data)); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate runs every loaded policy against the declarations. The policy
// input is {"resources": [{"kind", "title", "attrs"}, ...]}.
func (e *Engine) Evaluate(ctx context.Context, decls []*resource.Decl) (*Result, error) {
	e.mu.RLock()
	policies := e.policies
	e.mu.RUnlock()

	input := buildInput(decls)
	result := &Result{Allowed: true}

	for _, cp := range policies {
		rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			return nil, fmt.Errorf("evaluate policy %s: %w", cp.name, err)
		}

		for _, r := range rs {
			for _, expr := range r.Expressions {
				for _, msg := range denyMessages(expr.Value) {
					result.Violations = append(result.Violations, Violation{
						Policy:  cp.name,
						Message: msg,
					})
				}
			}
		}
	}

	if len(result.Violations) > 0 {
		result.Allowed = false
	}
	return result, nil
}

// Check implements the engine's policy gate. In advisory mode violations
// are logged and the run proceeds; in enforcing mode they abort it.
func (e *Engine) Check(ctx context.Context, decls []*resource.Decl) error {
	result, err := e.Evaluate(ctx, decls)
	if err != nil {
		return err
	}
	if result.Allowed {
		return nil
	}

	for _, v := range result.Violations {
		e.logger.Warn().Str("policy", v.Policy).Str("message", v.Message).Msg("policy violation")
	}

	if e.mode == ModeAdvisory {
		return nil
	}

	msgs := make([]string, len(result.Violations))
	for i, v := range result.Violations {
		msgs[i] = v.Policy + ": " + v.Message
	}
	return resource.NewError(resource.ErrCodePolicyDenied,
		fmt.Sprintf("run denied by policy: %s", strings.Join(msgs, "; ")), nil)
}

// buildInput converts declarations to the policy input document.
func buildInput(decls []*resource.Decl) map[string]interface{} {
	resources := make([]interface{}, len(decls))
	for i, d := range decls {
		resources[i] = map[string]interface{}{
			"kind":  d.Ref.Kind,
			"title": d.Ref.Title,
			"attrs": d.Attrs,
		}
	}
	return map[string]interface{}{"resources": resources}
}

// denyMessages extracts string messages from a deny rule result, which
// is a set (list) of strings or message objects.
func denyMessages(value interface{}) []string {
	items, ok := value.([]interface{})
	if !ok {
		return nil
	}
	var msgs []string
	for _, item := range items {
		switch v := item.(type) {
		case string:
			msgs = append(msgs, v)
		case map[string]interface{}:
			if msg, ok := v["msg"].(string); ok {
				msgs = append(msgs, msg)
			}
		default:
			msgs = append(msgs, fmt.Sprint(v))
		}
	}
	return msgs
}
