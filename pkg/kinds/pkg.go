package kinds

import (
	"context"
	"fmt"
	"strings"

	"github.com/hostforge/hostforge/pkg/resource"
	"github.com/hostforge/hostforge/pkg/system"
)

// Package manages a system package through the platform package manager.
// The title is the package name. RedHat-family hosts use rpm/dnf and
// Debian-family hosts use dpkg/apt-get, selected by the collected facts.
//
// Attributes:
//
//	ensure "installed" | "absent" | "latest" (default "installed")
type Package struct{}

// Name returns the kind name.
func (p *Package) Name() string { return "package" }

// Validate checks the declaration's attributes.
func (p *Package) Validate(decl *resource.Decl) error {
	if strings.TrimSpace(decl.Ref.Title) == "" {
		return validationError(decl, "package title must be a package name")
	}
	_, err := enumAttr(decl, "ensure", "installed", "installed", "absent", "latest")
	return err
}

// Probe queries the package manager for installation state and, for
// ensure=latest, update availability.
func (p *Package) Probe(ctx context.Context, sys *system.Context, decl *resource.Decl) (*resource.CurrentState, error) {
	name := decl.Ref.Title

	var installed bool
	var version string
	var err error

	switch {
	case sys.Facts.IsRedHat():
		installed, version, err = rpmQuery(ctx, sys.Runner, name)
	case sys.Facts.IsDebian():
		installed, version, err = dpkgQuery(ctx, sys.Runner, name)
	default:
		return nil, fmt.Errorf("unsupported os family %q for package management", sys.Facts.OSFamily)
	}
	if err != nil {
		return nil, err
	}

	state := &resource.CurrentState{Exists: installed}
	if installed {
		state.Attrs = map[string]interface{}{
			"ensure":  "installed",
			"version": version,
		}
	}

	if decl.StringAttr("ensure", "installed") == "latest" && installed {
		upgradable, err := updateAvailable(ctx, sys, name)
		if err != nil {
			return nil, err
		}
		state.Attrs["update_available"] = upgradable
	}

	return state, nil
}

// Diff compares installation state against the declared ensure.
func (p *Package) Diff(decl *resource.Decl, current *resource.CurrentState) []resource.Change {
	ensure := decl.StringAttr("ensure", "installed")

	switch ensure {
	case "absent":
		if !current.Exists {
			return nil
		}
		return []resource.Change{{Attr: "ensure", Before: "installed", After: "absent"}}
	case "installed":
		if current.Exists {
			return nil
		}
		return []resource.Change{{Attr: "ensure", After: "installed"}}
	case "latest":
		if !current.Exists {
			return []resource.Change{{Attr: "ensure", After: "latest"}}
		}
		if up, _ := current.Attr("update_available"); up == true {
			version, _ := current.Attr("version")
			return []resource.Change{{Attr: "version", Before: version, After: "latest"}}
		}
		return nil
	}
	return nil
}

// Apply installs, upgrades, or removes the package.
func (p *Package) Apply(ctx context.Context, sys *system.Context, decl *resource.Decl, current *resource.CurrentState) error {
	name := decl.Ref.Title
	ensure := decl.StringAttr("ensure", "installed")

	var args []string
	switch {
	case sys.Facts.IsRedHat():
		switch ensure {
		case "absent":
			args = []string{"dnf", "-y", "remove", name}
		case "latest":
			args = []string{"dnf", "-y", "upgrade", name}
			if !current.Exists {
				args = []string{"dnf", "-y", "install", name}
			}
		default:
			args = []string{"dnf", "-y", "install", name}
		}
	case sys.Facts.IsDebian():
		switch ensure {
		case "absent":
			args = []string{"apt-get", "-y", "remove", name}
		case "latest":
			args = []string{"apt-get", "-y", "install", "--only-upgrade", name}
			if !current.Exists {
				args = []string{"apt-get", "-y", "install", name}
			}
		default:
			args = []string{"apt-get", "-y", "install", name}
		}
	default:
		return fmt.Errorf("unsupported os family %q for package management", sys.Facts.OSFamily)
	}

	res, err := sys.Runner.Run(ctx, args[0], args[1:]...)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return cmdError(strings.Join(args, " "), strings.TrimSpace(res.Stderr), res.ExitCode)
	}
	return nil
}

// rpmQuery checks installation via the rpm database.
func rpmQuery(ctx context.Context, r system.Runner, name string) (bool, string, error) {
	res, err := r.Run(ctx, "rpm", "-q", "--queryformat", "%{VERSION}-%{RELEASE}", name)
	if err != nil {
		return false, "", err
	}
	if !res.Ok() {
		// rpm -q exits non-zero for uninstalled packages.
		return false, "", nil
	}
	return true, strings.TrimSpace(res.Stdout), nil
}

// dpkgQuery checks installation via the dpkg database.
func dpkgQuery(ctx context.Context, r system.Runner, name string) (bool, string, error) {
	res, err := r.Run(ctx, "dpkg-query", "-W", "-f", "${Status}\t${Version}", name)
	if err != nil {
		return false, "", err
	}
	if !res.Ok() {
		return false, "", nil
	}
	parts := strings.SplitN(strings.TrimSpace(res.Stdout), "\t", 2)
	if len(parts) != 2 || !strings.Contains(parts[0], "ok installed") {
		return false, "", nil
	}
	return true, parts[1], nil
}

// updateAvailable reports whether a newer version is available.
func updateAvailable(ctx context.Context, sys *system.Context, name string) (bool, error) {
	if sys.Facts.IsRedHat() {
		// dnf check-update exits 100 when updates are pending.
		res, err := sys.Runner.Run(ctx, "dnf", "-q", "check-update", name)
		if err != nil {
			return false, err
		}
		return res.ExitCode == 100, nil
	}

	res, err := sys.Runner.Run(ctx, "apt-get", "-s", "install", "--only-upgrade", name)
	if err != nil {
		return false, err
	}
	if !res.Ok() {
		return false, cmdError("apt-get -s install --only-upgrade "+name,
			strings.TrimSpace(res.Stderr), res.ExitCode)
	}
	return strings.Contains(res.Stdout, "Inst "+name), nil
}
