package kinds

import (
	"context"
	"strings"

	"github.com/hostforge/hostforge/pkg/resource"
	"github.com/hostforge/hostforge/pkg/system"
)

// SELBoolean manages a persistent SELinux boolean. The title is the
// boolean name as listed by getsebool.
//
// Attributes:
//
//	value "on" | "off" (required)
type SELBoolean struct{}

// Name returns the kind name.
func (s *SELBoolean) Name() string { return "selboolean" }

// Validate checks the declaration's attributes.
func (s *SELBoolean) Validate(decl *resource.Decl) error {
	if strings.TrimSpace(decl.Ref.Title) == "" {
		return validationError(decl, "selboolean title must be a boolean name")
	}
	if _, ok := decl.Attr("value"); !ok {
		return validationError(decl, "attribute \"value\" is required")
	}
	_, err := enumAttr(decl, "value", "", "on", "off")
	return err
}

// Probe reads the boolean's current setting.
func (s *SELBoolean) Probe(ctx context.Context, sys *system.Context, decl *resource.Decl) (*resource.CurrentState, error) {
	res, err := sys.Runner.Run(ctx, "getsebool", decl.Ref.Title)
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		return nil, cmdError("getsebool "+decl.Ref.Title, strings.TrimSpace(res.Stderr), res.ExitCode)
	}

	// Output: "name --> on"
	value := "off"
	if strings.HasSuffix(strings.TrimSpace(res.Stdout), "on") {
		value = "on"
	}

	return &resource.CurrentState{
		Exists: true,
		Attrs:  map[string]interface{}{"value": value},
	}, nil
}

// Diff compares the current setting against the declared value.
func (s *SELBoolean) Diff(decl *resource.Decl, current *resource.CurrentState) []resource.Change {
	want := decl.StringAttr("value", "")
	got, _ := current.Attr("value")
	if got == want {
		return nil
	}
	return []resource.Change{{Attr: "value", Before: got, After: want}}
}

// Apply sets the boolean persistently.
func (s *SELBoolean) Apply(ctx context.Context, sys *system.Context, decl *resource.Decl, current *resource.CurrentState) error {
	want := decl.StringAttr("value", "")
	res, err := sys.Runner.Run(ctx, "setsebool", "-P", decl.Ref.Title, want)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return cmdError("setsebool -P "+decl.Ref.Title, strings.TrimSpace(res.Stderr), res.ExitCode)
	}
	return nil
}
