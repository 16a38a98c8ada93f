package kinds

import (
	"context"
	"strings"

	"github.com/hostforge/hostforge/pkg/resource"
	"github.com/hostforge/hostforge/pkg/system"
)

// User manages a local user account. The title is the login name.
//
// Attributes:
//
//	ensure  "present" | "absent" (default "present")
//	uid     numeric user id as a string
//	shell   login shell path
//	home    home directory path
//	comment GECOS field
type User struct{}

// Name returns the kind name.
func (u *User) Name() string { return "user" }

// Validate checks the declaration's attributes.
func (u *User) Validate(decl *resource.Decl) error {
	if strings.TrimSpace(decl.Ref.Title) == "" {
		return validationError(decl, "user title must be a login name")
	}
	_, err := enumAttr(decl, "ensure", "present", "present", "absent")
	return err
}

// Probe reads the account from the passwd database via getent so remote
// hosts resolve their own NSS sources.
func (u *User) Probe(ctx context.Context, sys *system.Context, decl *resource.Decl) (*resource.CurrentState, error) {
	res, err := sys.Runner.Run(ctx, "getent", "passwd", decl.Ref.Title)
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		return &resource.CurrentState{Exists: false}, nil
	}

	// name:x:uid:gid:comment:home:shell
	fields := strings.Split(strings.TrimSpace(res.Stdout), ":")
	if len(fields) < 7 {
		return &resource.CurrentState{Exists: false}, nil
	}

	return &resource.CurrentState{
		Exists: true,
		Attrs: map[string]interface{}{
			"uid":     fields[2],
			"comment": fields[4],
			"home":    fields[5],
			"shell":   fields[6],
		},
	}, nil
}

// managedUserAttrs are the account fields the kind can converge.
var managedUserAttrs = []string{"uid", "comment", "home", "shell"}

// Diff compares the declared account fields against the passwd entry.
func (u *User) Diff(decl *resource.Decl, current *resource.CurrentState) []resource.Change {
	ensure := decl.StringAttr("ensure", "present")

	if ensure == "absent" {
		if !current.Exists {
			return nil
		}
		return []resource.Change{{Attr: "ensure", Before: "present", After: "absent"}}
	}

	var changes []resource.Change
	if !current.Exists {
		changes = append(changes, resource.Change{Attr: "ensure", After: "present"})
	}

	for _, attr := range managedUserAttrs {
		want := decl.StringAttr(attr, "")
		if want == "" {
			continue
		}
		got, _ := current.Attr(attr)
		if !current.Exists || got != want {
			changes = append(changes, resource.Change{Attr: attr, Before: got, After: want})
		}
	}

	return changes
}

// Apply creates, modifies, or removes the account.
func (u *User) Apply(ctx context.Context, sys *system.Context, decl *resource.Decl, current *resource.CurrentState) error {
	name := decl.Ref.Title
	ensure := decl.StringAttr("ensure", "present")

	if ensure == "absent" {
		return runUserCmd(ctx, sys, "userdel", nil, name)
	}

	flags := userFlags(decl)
	if !current.Exists {
		return runUserCmd(ctx, sys, "useradd", flags, name)
	}
	if len(flags) == 0 {
		return nil
	}
	return runUserCmd(ctx, sys, "usermod", flags, name)
}

// userFlags maps declared attributes to useradd/usermod flags.
func userFlags(decl *resource.Decl) []string {
	var flags []string
	if v := decl.StringAttr("uid", ""); v != "" {
		flags = append(flags, "-u", v)
	}
	if v := decl.StringAttr("comment", ""); v != "" {
		flags = append(flags, "-c", v)
	}
	if v := decl.StringAttr("home", ""); v != "" {
		flags = append(flags, "-d", v)
	}
	if v := decl.StringAttr("shell", ""); v != "" {
		flags = append(flags, "-s", v)
	}
	return flags
}

func runUserCmd(ctx context.Context, sys *system.Context, cmd string, flags []string, name string) error {
	args := append(append([]string{}, flags...), name)
	res, err := sys.Runner.Run(ctx, cmd, args...)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return cmdError(cmd+" "+name, strings.TrimSpace(res.Stderr), res.ExitCode)
	}
	return nil
}
