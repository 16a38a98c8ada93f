// Package resource defines the declarative resource model for the hostforge
// convergence engine: identities, declarations of desired state, and the
// capability contract each resource kind implements.
package resource

import (
	"fmt"
	"sort"
	"strings"
)

// Ref is the unique identity of a resource: a kind plus a title.
// It renders as "kind[title]", e.g. "file[/etc/foreman/settings.yaml]".
type Ref struct {
	// Kind is the resource kind name (e.g. "file", "package", "service").
	Kind string `json:"kind"`

	// Title is the per-kind unique title of the resource.
	Title string `json:"title"`
}

// String renders the reference in its canonical "kind[title]" form.
func (r Ref) String() string {
	return r.Kind + "[" + r.Title + "]"
}

// IsZero reports whether the reference is empty.
func (r Ref) IsZero() bool {
	return r.Kind == "" && r.Title == ""
}

// ParseRef parses a reference in "kind[title]" form.
func ParseRef(s string) (Ref, error) {
	open := strings.IndexByte(s, '[')
	if open <= 0 || !strings.HasSuffix(s, "]") {
		return Ref{}, NewError(ErrCodeValidation,
			fmt.Sprintf("malformed resource reference %q (want kind[title])", s), nil)
	}
	ref := Ref{
		Kind:  strings.TrimSpace(s[:open]),
		Title: s[open+1 : len(s)-1],
	}
	if ref.Kind == "" || ref.Title == "" {
		return Ref{}, NewError(ErrCodeValidation,
			fmt.Sprintf("malformed resource reference %q (empty kind or title)", s), nil)
	}
	return ref, nil
}

// Decl is a single declaration of desired state for one resource.
// Declarations are immutable once handed to the graph builder.
type Decl struct {
	// Ref is the resource identity.
	Ref Ref `json:"ref"`

	// Attrs maps attribute names to their desired values.
	Attrs map[string]interface{} `json:"attrs,omitempty"`

	// Require lists resources that must be applied before this one.
	Require []Ref `json:"require,omitempty"`

	// Before lists resources that must be applied after this one.
	Before []Ref `json:"before,omitempty"`

	// Notify lists resources to apply after this one and refresh when
	// this one changes.
	Notify []Ref `json:"notify,omitempty"`

	// Subscribe lists resources to apply before this one whose changes
	// refresh this one.
	Subscribe []Ref `json:"subscribe,omitempty"`
}

// Attr returns the raw value of an attribute.
func (d *Decl) Attr(name string) (interface{}, bool) {
	v, ok := d.Attrs[name]
	return v, ok
}

// StringAttr returns a string attribute, or def when unset.
func (d *Decl) StringAttr(name, def string) string {
	if v, ok := d.Attrs[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// BoolAttr returns a boolean attribute, or def when unset.
func (d *Decl) BoolAttr(name string, def bool) bool {
	if v, ok := d.Attrs[name]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// AttrNames returns the declared attribute names in sorted order.
func (d *Decl) AttrNames() []string {
	names := make([]string, 0, len(d.Attrs))
	for name := range d.Attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CurrentState is the probed actual state of a resource.
type CurrentState struct {
	// Exists reports whether the target exists on the system at all.
	Exists bool `json:"exists"`

	// Attrs maps attribute names to their observed values. Only
	// attributes the kind manages are populated.
	Attrs map[string]interface{} `json:"attrs,omitempty"`
}

// Attr returns an observed attribute value.
func (s *CurrentState) Attr(name string) (interface{}, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.Attrs[name]
	return v, ok
}

// Change describes one attribute transition an apply will perform.
type Change struct {
	// Attr is the attribute name being changed.
	Attr string `json:"attr"`

	// Before is the observed value, nil when the target does not exist.
	Before interface{} `json:"before,omitempty"`

	// After is the desired value.
	After interface{} `json:"after,omitempty"`
}

// String renders the change for log and report output.
func (c Change) String() string {
	return fmt.Sprintf("%s: %v -> %v", c.Attr, c.Before, c.After)
}

// Outcome is the final per-run result of a resource.
type Outcome string

const (
	// OutcomeUnchanged indicates the resource was already in its desired state.
	OutcomeUnchanged Outcome = "unchanged"

	// OutcomeChanged indicates the resource was transitioned to its desired state.
	OutcomeChanged Outcome = "changed"

	// OutcomeFailed indicates the probe or apply of the resource failed.
	OutcomeFailed Outcome = "failed"

	// OutcomeSkipped indicates the resource was not applied because an
	// ancestor failed or the run timed out.
	OutcomeSkipped Outcome = "skipped"
)

// IsApplied reports whether the resource reached its desired state this run.
func (o Outcome) IsApplied() bool {
	return o == OutcomeUnchanged || o == OutcomeChanged
}

// Validate checks that the outcome is one of the known values.
func (o Outcome) Validate() error {
	switch o {
	case OutcomeUnchanged, OutcomeChanged, OutcomeFailed, OutcomeSkipped:
		return nil
	default:
		return fmt.Errorf("invalid outcome: %s", o)
	}
}
