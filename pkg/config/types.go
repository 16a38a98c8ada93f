// Package config loads resource manifests from CUE and YAML sources,
// evaluates embedded Starlark expressions, and validates the result into
// resource declarations the engine can converge.
package config

import (
	"fmt"

	"github.com/hostforge/hostforge/pkg/resource"
)

// Manifest is the parsed form of one or more configuration sources.
type Manifest struct {
	// Vars holds manifest-level variables available to Starlark
	// expressions in resource attributes.
	Vars map[string]interface{} `json:"vars,omitempty" yaml:"vars,omitempty"`

	// Resources lists the declared resources in source order.
	Resources []ResourceDecl `json:"resources" yaml:"resources"`
}

// ResourceDecl is one resource declaration as written in a manifest.
type ResourceDecl struct {
	// Kind is the resource kind name.
	Kind string `json:"kind" yaml:"kind" validate:"required"`

	// Title is the per-kind unique title.
	Title string `json:"title" yaml:"title" validate:"required"`

	// Attrs maps attribute names to desired values. String values
	// prefixed with "starlark:" are evaluated before validation.
	Attrs map[string]interface{} `json:"attrs,omitempty" yaml:"attrs,omitempty"`

	// Require, Before, Notify, and Subscribe hold dependency references
	// in "kind[title]" form.
	Require   []string `json:"require,omitempty" yaml:"require,omitempty" validate:"dive,min=1"`
	Before    []string `json:"before,omitempty" yaml:"before,omitempty" validate:"dive,min=1"`
	Notify    []string `json:"notify,omitempty" yaml:"notify,omitempty" validate:"dive,min=1"`
	Subscribe []string `json:"subscribe,omitempty" yaml:"subscribe,omitempty" validate:"dive,min=1"`
}

// ToDecl converts the manifest form into an engine declaration, parsing
// all dependency references.
func (rd *ResourceDecl) ToDecl() (*resource.Decl, error) {
	decl := &resource.Decl{
		Ref:   resource.Ref{Kind: rd.Kind, Title: rd.Title},
		Attrs: rd.Attrs,
	}

	lists := []struct {
		name string
		refs []string
		dst  *[]resource.Ref
	}{
		{"require", rd.Require, &decl.Require},
		{"before", rd.Before, &decl.Before},
		{"notify", rd.Notify, &decl.Notify},
		{"subscribe", rd.Subscribe, &decl.Subscribe},
	}
	for _, l := range lists {
		for _, s := range l.refs {
			ref, err := resource.ParseRef(s)
			if err != nil {
				return nil, fmt.Errorf("resource %s[%s] %s: %w", rd.Kind, rd.Title, l.name, err)
			}
			*l.dst = append(*l.dst, ref)
		}
	}

	return decl, nil
}

// Decls converts every resource in the manifest, preserving source order.
func (m *Manifest) Decls() ([]*resource.Decl, error) {
	decls := make([]*resource.Decl, 0, len(m.Resources))
	for i := range m.Resources {
		decl, err := m.Resources[i].ToDecl()
		if err != nil {
			return nil, err
		}
		decls = append(decls, decl)
	}
	return decls, nil
}

// Merge folds another manifest into this one. Resources append in source
// order; later variables override earlier ones.
func (m *Manifest) Merge(other *Manifest) {
	if other == nil {
		return
	}
	if len(other.Vars) > 0 && m.Vars == nil {
		m.Vars = make(map[string]interface{}, len(other.Vars))
	}
	for k, v := range other.Vars {
		m.Vars[k] = v
	}
	m.Resources = append(m.Resources, other.Resources...)
}
