package resource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hostforge/hostforge/pkg/system"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		input string
		kind  string
		title string
		valid bool
	}{
		{"file[/etc/motd]", "file", "/etc/motd", true},
		{"service[nginx]", "service", "nginx", true},
		{"package[nginx-1.24]", "package", "nginx-1.24", true},
		{"exec[echo [hi]]", "exec", "echo [hi]", true},
		{"file[]", "", "", false},
		{"[/etc/motd]", "", "", false},
		{"file", "", "", false},
		{"file[/etc/motd", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		ref, err := ParseRef(tt.input)
		if tt.valid {
			if err != nil {
				t.Errorf("ParseRef(%q): unexpected error: %v", tt.input, err)
				continue
			}
			if ref.Kind != tt.kind || ref.Title != tt.title {
				t.Errorf("ParseRef(%q) = %s[%s], want %s[%s]",
					tt.input, ref.Kind, ref.Title, tt.kind, tt.title)
			}
			continue
		}
		if err == nil {
			t.Errorf("ParseRef(%q): expected error, got %s", tt.input, ref)
		}
		if err != nil && !IsCode(err, ErrCodeValidation) {
			t.Errorf("ParseRef(%q): expected %s, got %s", tt.input, ErrCodeValidation, CodeOf(err))
		}
	}
}

func TestRef_String(t *testing.T) {
	r := Ref{Kind: "file", Title: "/etc/motd"}
	if r.String() != "file[/etc/motd]" {
		t.Errorf("Expected file[/etc/motd], got %s", r.String())
	}
	if !(Ref{}).IsZero() {
		t.Error("Expected zero ref to report IsZero")
	}
	if r.IsZero() {
		t.Error("Expected populated ref not to report IsZero")
	}
}

func TestOutcome_IsApplied(t *testing.T) {
	if !OutcomeUnchanged.IsApplied() {
		t.Error("Expected unchanged to count as applied")
	}
	if !OutcomeChanged.IsApplied() {
		t.Error("Expected changed to count as applied")
	}
	if OutcomeFailed.IsApplied() {
		t.Error("Expected failed not to count as applied")
	}
	if OutcomeSkipped.IsApplied() {
		t.Error("Expected skipped not to count as applied")
	}
}

func TestOutcome_Validate(t *testing.T) {
	for _, o := range []Outcome{OutcomeUnchanged, OutcomeChanged, OutcomeFailed, OutcomeSkipped} {
		if err := o.Validate(); err != nil {
			t.Errorf("Expected %s to validate, got: %v", o, err)
		}
	}
	if err := Outcome("exploded").Validate(); err == nil {
		t.Error("Expected unknown outcome to fail validation")
	}
}

func TestDecl_Attrs(t *testing.T) {
	d := &Decl{
		Ref: Ref{Kind: "file", Title: "/etc/motd"},
		Attrs: map[string]interface{}{
			"ensure":  "file",
			"content": "hello\n",
			"backup":  true,
		},
	}

	if got := d.StringAttr("ensure", "absent"); got != "file" {
		t.Errorf("Expected file, got %s", got)
	}
	if got := d.StringAttr("missing", "fallback"); got != "fallback" {
		t.Errorf("Expected fallback, got %s", got)
	}
	if got := d.StringAttr("backup", "x"); got != "x" {
		t.Errorf("Expected non-string attr to fall back, got %s", got)
	}
	if !d.BoolAttr("backup", false) {
		t.Error("Expected backup attr true")
	}
	if d.BoolAttr("missing", false) {
		t.Error("Expected missing bool attr to fall back")
	}

	names := d.AttrNames()
	want := []string{"backup", "content", "ensure"}
	if len(names) != len(want) {
		t.Fatalf("Expected %d names, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, names[i])
		}
	}
}

func TestChange_String(t *testing.T) {
	c := Change{Attr: "mode", Before: "0644", After: "0600"}
	if c.String() != "mode: 0644 -> 0600" {
		t.Errorf("Unexpected change rendering: %s", c.String())
	}
}

func TestError_Rendering(t *testing.T) {
	base := errors.New("disk full")
	err := NewError(ErrCodeApplyFailed, "write failed", base).
		WithRef(Ref{Kind: "file", Title: "/etc/motd"}).
		WithOp("apply")

	msg := err.Error()
	for _, part := range []string{"APPLY_FAILED", "write failed", "file[/etc/motd]", "op=apply", "disk full"} {
		if !strings.Contains(msg, part) {
			t.Errorf("Expected error message to contain %q, got: %s", part, msg)
		}
	}
	if !errors.Is(err, base) {
		t.Error("Expected wrapped error to match errors.Is")
	}
}

func TestErrorCodes(t *testing.T) {
	err := fmt.Errorf("context: %w", NewError(ErrCodeCycleDetected, "loop", nil))
	if !IsCode(err, ErrCodeCycleDetected) {
		t.Error("Expected IsCode to see through wrapping")
	}
	if IsCode(err, ErrCodeApplyFailed) {
		t.Error("Expected code mismatch to return false")
	}
	if CodeOf(err) != ErrCodeCycleDetected {
		t.Errorf("Expected %s, got %s", ErrCodeCycleDetected, CodeOf(err))
	}
	if CodeOf(errors.New("plain")) != ErrCodeInternal {
		t.Errorf("Expected unclassified errors to report %s", ErrCodeInternal)
	}
	if !IsBuildError(NewError(ErrCodeDuplicateIdentity, "dup", nil)) {
		t.Error("Expected duplicate identity to be a build error")
	}
	if IsBuildError(NewError(ErrCodeProbeFailed, "probe", nil)) {
		t.Error("Expected probe failure not to be a build error")
	}
}

type namedKind struct {
	name string
}

func (k *namedKind) Name() string              { return k.name }
func (k *namedKind) Validate(decl *Decl) error { return nil }

func (k *namedKind) Probe(ctx context.Context, sys *system.Context, decl *Decl) (*CurrentState, error) {
	return &CurrentState{Exists: true}, nil
}

func (k *namedKind) Diff(decl *Decl, current *CurrentState) []Change {
	return nil
}

func (k *namedKind) Apply(ctx context.Context, sys *system.Context, decl *Decl, current *CurrentState) error {
	return nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(&namedKind{name: "file"}); err != nil {
		t.Fatalf("Expected registration to succeed, got: %v", err)
	}
	if err := reg.Register(&namedKind{name: "file"}); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
	if err := reg.Register(&namedKind{name: ""}); err == nil {
		t.Error("Expected empty kind name to fail")
	}
	if err := reg.Register(&namedKind{name: "service"}); err != nil {
		t.Fatalf("Expected registration to succeed, got: %v", err)
	}

	k, err := reg.Lookup("file")
	if err != nil {
		t.Fatalf("Expected lookup to succeed, got: %v", err)
	}
	if k.Name() != "file" {
		t.Errorf("Expected file kind, got %s", k.Name())
	}

	if _, err := reg.Lookup("unknown"); err == nil {
		t.Error("Expected unknown kind lookup to fail")
	} else if !IsCode(err, ErrCodeValidation) {
		t.Errorf("Expected %s, got %s", ErrCodeValidation, CodeOf(err))
	}

	names := reg.Names()
	if len(names) != 2 || names[0] != "file" || names[1] != "service" {
		t.Errorf("Expected sorted [file service], got %v", names)
	}
}
