package kinds

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/hostforge/hostforge/pkg/resource"
	"github.com/hostforge/hostforge/pkg/system"
)

// File manages a filesystem entry: a regular file with optional content,
// a directory, or the absence of either. The title is the absolute path.
//
// Attributes:
//
//	ensure  "file" | "directory" | "absent" (default "file")
//	content desired file content (regular files only)
//	mode    octal permission string, e.g. "0644"
//	owner   owning user name
//	group   owning group name
type File struct{}

// Name returns the kind name.
func (f *File) Name() string { return "file" }

// Validate checks the declaration's attributes.
func (f *File) Validate(decl *resource.Decl) error {
	if !strings.HasPrefix(decl.Ref.Title, "/") {
		return validationError(decl, "file title must be an absolute path, got %q", decl.Ref.Title)
	}

	ensure, err := enumAttr(decl, "ensure", "file", "file", "directory", "absent")
	if err != nil {
		return err
	}

	if _, ok := decl.Attr("content"); ok && ensure != "file" {
		return validationError(decl, "attribute \"content\" is only valid with ensure=file")
	}

	if mode := decl.StringAttr("mode", ""); mode != "" {
		if _, err := parseMode(mode); err != nil {
			return validationError(decl, "invalid mode %q: %v", mode, err)
		}
	}

	return nil
}

// Probe reads the current state of the path.
func (f *File) Probe(ctx context.Context, sys *system.Context, decl *resource.Decl) (*resource.CurrentState, error) {
	path := decl.Ref.Title

	info, err := sys.Runner.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	if !info.Exists {
		return &resource.CurrentState{Exists: false}, nil
	}

	state := &resource.CurrentState{
		Exists: true,
		Attrs: map[string]interface{}{
			"mode":  fmt.Sprintf("%04o", info.Mode),
			"owner": info.Owner,
			"group": info.Group,
		},
	}
	if info.IsDir {
		state.Attrs["ensure"] = "directory"
	} else {
		state.Attrs["ensure"] = "file"
	}

	// Hash the content only when the declaration manages it; large
	// unmanaged files are never read.
	if _, managed := decl.Attr("content"); managed && !info.IsDir {
		data, err := sys.Runner.ReadFile(ctx, path)
		if err != nil {
			return nil, err
		}
		state.Attrs["content_sha256"] = hashContent(data)
	}

	return state, nil
}

// Diff computes the attribute transitions needed to reach the declared
// state. An empty result means the path is already converged.
func (f *File) Diff(decl *resource.Decl, current *resource.CurrentState) []resource.Change {
	ensure := decl.StringAttr("ensure", "file")

	if ensure == "absent" {
		if !current.Exists {
			return nil
		}
		before, _ := current.Attr("ensure")
		return []resource.Change{{Attr: "ensure", Before: before, After: "absent"}}
	}

	var changes []resource.Change

	currentEnsure, _ := current.Attr("ensure")
	if !current.Exists {
		changes = append(changes, resource.Change{Attr: "ensure", After: ensure})
	} else if currentEnsure != ensure {
		changes = append(changes, resource.Change{Attr: "ensure", Before: currentEnsure, After: ensure})
	}

	if _, managed := decl.Attr("content"); managed {
		want := hashContent([]byte(decl.StringAttr("content", "")))
		got, _ := current.Attr("content_sha256")
		if !current.Exists || got != want {
			changes = append(changes, resource.Change{Attr: "content", Before: got, After: want})
		}
	}

	if mode := decl.StringAttr("mode", ""); mode != "" {
		want := canonicalMode(mode)
		got, _ := current.Attr("mode")
		if !current.Exists || got != want {
			changes = append(changes, resource.Change{Attr: "mode", Before: got, After: want})
		}
	}

	for _, attr := range []string{"owner", "group"} {
		if want := decl.StringAttr(attr, ""); want != "" {
			got, _ := current.Attr(attr)
			if !current.Exists || got != want {
				changes = append(changes, resource.Change{Attr: attr, Before: got, After: want})
			}
		}
	}

	return changes
}

// Apply transitions the path to its declared state.
func (f *File) Apply(ctx context.Context, sys *system.Context, decl *resource.Decl, current *resource.CurrentState) error {
	path := decl.Ref.Title
	ensure := decl.StringAttr("ensure", "file")

	if ensure == "absent" {
		return sys.Runner.Remove(ctx, path)
	}

	mode := fs.FileMode(0644)
	if ensure == "directory" {
		mode = 0755
	}
	if m := decl.StringAttr("mode", ""); m != "" {
		parsed, err := parseMode(m)
		if err != nil {
			return err
		}
		mode = parsed
	}

	currentEnsure, _ := current.Attr("ensure")
	if current.Exists && currentEnsure != ensure {
		// A file in the way of a directory (or vice versa) is replaced.
		if err := sys.Runner.Remove(ctx, path); err != nil {
			return err
		}
		current = &resource.CurrentState{Exists: false}
	}

	switch ensure {
	case "directory":
		if !current.Exists {
			if err := sys.Runner.MkdirAll(ctx, path, mode); err != nil {
				return err
			}
		}
	case "file":
		_, managed := decl.Attr("content")
		want := hashContent([]byte(decl.StringAttr("content", "")))
		got, _ := current.Attr("content_sha256")
		if !current.Exists || (managed && got != want) {
			data := []byte(decl.StringAttr("content", ""))
			if err := sys.Runner.WriteFile(ctx, path, data, mode); err != nil {
				return err
			}
		}
	}

	if m := decl.StringAttr("mode", ""); m != "" {
		if err := sys.Runner.Chmod(ctx, path, mode); err != nil {
			return err
		}
	}

	owner := decl.StringAttr("owner", "")
	group := decl.StringAttr("group", "")
	if owner != "" || group != "" {
		if err := sys.Runner.Chown(ctx, path, owner, group); err != nil {
			return err
		}
	}

	return nil
}

// parseMode parses an octal permission string like "0644".
func parseMode(s string) (fs.FileMode, error) {
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, err
	}
	if n > 0o7777 {
		return 0, fmt.Errorf("mode out of range")
	}
	return fs.FileMode(n), nil
}

// canonicalMode normalizes a mode string to four octal digits.
func canonicalMode(s string) string {
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%04o", n)
}

func hashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
