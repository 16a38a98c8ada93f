// Package kinds implements the built-in resource kinds: files, system
// packages, systemd services, local users, SELinux booleans, ad-hoc
// commands, and WASM plugin resources.
package kinds

import (
	"fmt"

	"github.com/hostforge/hostforge/pkg/resource"
)

// RegisterBuiltins registers every built-in kind into the registry.
func RegisterBuiltins(registry *resource.Registry) error {
	builtins := []resource.Kind{
		&File{},
		&Package{},
		&Service{},
		&User{},
		&SELBoolean{},
		&Exec{},
	}
	for _, k := range builtins {
		if err := registry.Register(k); err != nil {
			return err
		}
	}
	return nil
}

// validationError builds a classified validation error for a declaration.
func validationError(decl *resource.Decl, format string, args ...interface{}) error {
	return resource.NewError(resource.ErrCodeValidation,
		fmt.Sprintf(format, args...), nil).WithRef(decl.Ref)
}

// enumAttr validates that an attribute, when set, is one of the allowed
// values and returns it (or def when unset).
func enumAttr(decl *resource.Decl, name, def string, allowed ...string) (string, error) {
	v := decl.StringAttr(name, def)
	for _, a := range allowed {
		if v == a {
			return v, nil
		}
	}
	return "", validationError(decl, "attribute %q must be one of %v, got %q", name, allowed, v)
}

// cmdError wraps a failed command's stderr into a readable error.
func cmdError(what string, stderr string, exitCode int) error {
	if stderr == "" {
		return fmt.Errorf("%s exited %d", what, exitCode)
	}
	return fmt.Errorf("%s exited %d: %s", what, exitCode, stderr)
}
