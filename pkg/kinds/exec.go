package kinds

import (
	"context"
	"strings"

	"github.com/hostforge/hostforge/pkg/resource"
	"github.com/hostforge/hostforge/pkg/system"
)

// Exec runs an ad-hoc shell command. The title is a descriptive label;
// the command itself lives in the attributes. Without a guard the
// command runs on every pass, so most declarations should set either
// "creates" or "refreshonly".
//
// Attributes:
//
//	command     shell command to run (required)
//	creates     path whose existence marks the command as done
//	refreshonly boolean; run only when notified, never in the apply pass
type Exec struct{}

// Name returns the kind name.
func (e *Exec) Name() string { return "exec" }

// Validate checks the declaration's attributes.
func (e *Exec) Validate(decl *resource.Decl) error {
	if strings.TrimSpace(decl.StringAttr("command", "")) == "" {
		return validationError(decl, "attribute \"command\" is required")
	}
	if v, ok := decl.Attr("refreshonly"); ok {
		if _, isBool := v.(bool); !isBool {
			return validationError(decl, "attribute \"refreshonly\" must be a boolean")
		}
	}
	return nil
}

// Probe checks the creates guard when one is declared.
func (e *Exec) Probe(ctx context.Context, sys *system.Context, decl *resource.Decl) (*resource.CurrentState, error) {
	creates := decl.StringAttr("creates", "")
	if creates == "" {
		return &resource.CurrentState{Exists: false}, nil
	}

	info, err := sys.Runner.Stat(ctx, creates)
	if err != nil {
		return nil, err
	}
	return &resource.CurrentState{Exists: info.Exists}, nil
}

// Diff reports whether the command needs to run. Refresh-only commands
// never drift; they run solely through notifications.
func (e *Exec) Diff(decl *resource.Decl, current *resource.CurrentState) []resource.Change {
	if decl.BoolAttr("refreshonly", false) {
		return nil
	}
	if decl.StringAttr("creates", "") != "" && current.Exists {
		return nil
	}
	return []resource.Change{{Attr: "command", After: decl.StringAttr("command", "")}}
}

// Apply runs the command through the shell.
func (e *Exec) Apply(ctx context.Context, sys *system.Context, decl *resource.Decl, current *resource.CurrentState) error {
	return e.run(ctx, sys, decl)
}

// Refresh runs the command when a notifying resource changed.
func (e *Exec) Refresh(ctx context.Context, sys *system.Context, decl *resource.Decl) error {
	return e.run(ctx, sys, decl)
}

func (e *Exec) run(ctx context.Context, sys *system.Context, decl *resource.Decl) error {
	command := decl.StringAttr("command", "")
	res, err := sys.Runner.Run(ctx, "/bin/sh", "-c", command)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return cmdError(command, strings.TrimSpace(res.Stderr), res.ExitCode)
	}
	return nil
}
