package kinds

import (
	"context"
	"strings"

	"github.com/hostforge/hostforge/pkg/resource"
	"github.com/hostforge/hostforge/pkg/system"
)

// Service manages a systemd unit. The title is the unit name, with or
// without the ".service" suffix.
//
// Attributes:
//
//	ensure  "running" | "stopped" (default "running")
//	enable  boolean, start at boot
//	refresh "restart" | "reload" (default "restart"), the action a
//	        notification triggers
type Service struct{}

// Name returns the kind name.
func (s *Service) Name() string { return "service" }

// Validate checks the declaration's attributes.
func (s *Service) Validate(decl *resource.Decl) error {
	if strings.TrimSpace(decl.Ref.Title) == "" {
		return validationError(decl, "service title must be a unit name")
	}
	if _, err := enumAttr(decl, "ensure", "running", "running", "stopped"); err != nil {
		return err
	}
	if _, err := enumAttr(decl, "refresh", "restart", "restart", "reload"); err != nil {
		return err
	}
	if v, ok := decl.Attr("enable"); ok {
		if _, isBool := v.(bool); !isBool {
			return validationError(decl, "attribute \"enable\" must be a boolean")
		}
	}
	return nil
}

// Probe queries systemd for the unit's active and enabled state.
func (s *Service) Probe(ctx context.Context, sys *system.Context, decl *resource.Decl) (*resource.CurrentState, error) {
	unit := decl.Ref.Title

	active, err := sys.Runner.Run(ctx, "systemctl", "is-active", unit)
	if err != nil {
		return nil, err
	}

	state := &resource.CurrentState{
		Exists: true,
		Attrs: map[string]interface{}{
			"ensure": "stopped",
		},
	}
	if active.Ok() {
		state.Attrs["ensure"] = "running"
	}

	if _, managed := decl.Attr("enable"); managed {
		enabled, err := sys.Runner.Run(ctx, "systemctl", "is-enabled", unit)
		if err != nil {
			return nil, err
		}
		state.Attrs["enable"] = enabled.Ok()
	}

	return state, nil
}

// Diff compares active and enabled state against the declaration.
func (s *Service) Diff(decl *resource.Decl, current *resource.CurrentState) []resource.Change {
	var changes []resource.Change

	ensure := decl.StringAttr("ensure", "running")
	got, _ := current.Attr("ensure")
	if got != ensure {
		changes = append(changes, resource.Change{Attr: "ensure", Before: got, After: ensure})
	}

	if _, managed := decl.Attr("enable"); managed {
		want := decl.BoolAttr("enable", false)
		gotEnable, _ := current.Attr("enable")
		if gotEnable != want {
			changes = append(changes, resource.Change{Attr: "enable", Before: gotEnable, After: want})
		}
	}

	return changes
}

// Apply starts or stops the unit and aligns its boot enablement.
func (s *Service) Apply(ctx context.Context, sys *system.Context, decl *resource.Decl, current *resource.CurrentState) error {
	unit := decl.Ref.Title

	ensure := decl.StringAttr("ensure", "running")
	got, _ := current.Attr("ensure")
	if got != ensure {
		verb := "start"
		if ensure == "stopped" {
			verb = "stop"
		}
		if err := systemctl(ctx, sys, verb, unit); err != nil {
			return err
		}
	}

	if _, managed := decl.Attr("enable"); managed {
		want := decl.BoolAttr("enable", false)
		gotEnable, _ := current.Attr("enable")
		if gotEnable != want {
			verb := "enable"
			if !want {
				verb = "disable"
			}
			if err := systemctl(ctx, sys, verb, unit); err != nil {
				return err
			}
		}
	}

	return nil
}

// Refresh restarts or reloads the unit when a notifying resource changed.
// A unit declared stopped is not restarted.
func (s *Service) Refresh(ctx context.Context, sys *system.Context, decl *resource.Decl) error {
	if decl.StringAttr("ensure", "running") == "stopped" {
		return nil
	}
	verb := decl.StringAttr("refresh", "restart")
	return systemctl(ctx, sys, verb, decl.Ref.Title)
}

func systemctl(ctx context.Context, sys *system.Context, verb, unit string) error {
	res, err := sys.Runner.Run(ctx, "systemctl", verb, unit)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return cmdError("systemctl "+verb+" "+unit, strings.TrimSpace(res.Stderr), res.ExitCode)
	}
	return nil
}
