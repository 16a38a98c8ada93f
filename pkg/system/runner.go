// Package system provides the host access layer resource kinds delegate
// to: command execution, file operations, and collected node facts. The
// same interface backs local and SSH-remote convergence.
package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
)

// CmdResult is the outcome of a command execution.
type CmdResult struct {
	// Stdout is the captured standard output.
	Stdout string

	// Stderr is the captured standard error.
	Stderr string

	// ExitCode is the command's exit status.
	ExitCode int
}

// Ok reports whether the command exited zero.
func (r *CmdResult) Ok() bool {
	return r != nil && r.ExitCode == 0
}

// FileInfo describes a probed filesystem entry.
type FileInfo struct {
	// Exists reports whether the path exists.
	Exists bool

	// IsDir reports whether the path is a directory.
	IsDir bool

	// Mode is the permission bits of the entry.
	Mode fs.FileMode

	// Size is the entry size in bytes.
	Size int64

	// Owner is the owning user name (numeric when unresolvable).
	Owner string

	// Group is the owning group name (numeric when unresolvable).
	Group string
}

// Runner executes commands and file operations on a target host. A
// non-zero exit status is reported via CmdResult, not as an error; errors
// are reserved for transport and spawn failures.
type Runner interface {
	// Run executes a command with arguments.
	Run(ctx context.Context, name string, args ...string) (*CmdResult, error)

	// ReadFile reads the full content of a file.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile writes content to a file with the given mode, creating
	// it if needed.
	WriteFile(ctx context.Context, path string, data []byte, mode fs.FileMode) error

	// Stat probes a filesystem entry. A missing path is not an error;
	// it returns FileInfo{Exists: false}.
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// MkdirAll creates a directory and any missing parents.
	MkdirAll(ctx context.Context, path string, mode fs.FileMode) error

	// Remove deletes a file or directory tree.
	Remove(ctx context.Context, path string) error

	// Chmod sets permission bits.
	Chmod(ctx context.Context, path string, mode fs.FileMode) error

	// Chown sets ownership by user and group name. Empty names are
	// left unchanged.
	Chown(ctx context.Context, path, owner, group string) error
}

// Context is the immutable per-run context handed to every probe and
// apply: the collected node facts plus the host access runner.
type Context struct {
	Facts  *Facts
	Runner Runner
}

// NewContext builds a run context from a runner and collected facts.
func NewContext(facts *Facts, runner Runner) *Context {
	return &Context{Facts: facts, Runner: runner}
}

// Local is a Runner operating on the local host.
type Local struct{}

// NewLocal creates a local runner.
func NewLocal() *Local {
	return &Local{}
}

// Run executes a local command, capturing output.
func (l *Local) Run(ctx context.Context, name string, args ...string) (*CmdResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &CmdResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("exec %s: %w", name, err)
	}

	return result, nil
}

// ReadFile reads a local file.
func (l *Local) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes a local file.
func (l *Local) WriteFile(_ context.Context, path string, data []byte, mode fs.FileMode) error {
	return os.WriteFile(path, data, mode)
}

// Stat probes a local filesystem entry.
func (l *Local) Stat(_ context.Context, path string) (*FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileInfo{Exists: false}, nil
		}
		return nil, err
	}

	fi := &FileInfo{
		Exists: true,
		IsDir:  info.IsDir(),
		Mode:   info.Mode().Perm(),
		Size:   info.Size(),
	}

	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		fi.Owner = lookupUserName(stat.Uid)
		fi.Group = lookupGroupName(stat.Gid)
	}

	return fi, nil
}

// MkdirAll creates a local directory tree.
func (l *Local) MkdirAll(_ context.Context, path string, mode fs.FileMode) error {
	return os.MkdirAll(path, mode)
}

// Remove deletes a local file or directory tree.
func (l *Local) Remove(_ context.Context, path string) error {
	return os.RemoveAll(path)
}

// Chmod sets local permission bits.
func (l *Local) Chmod(_ context.Context, path string, mode fs.FileMode) error {
	return os.Chmod(path, mode)
}

// Chown sets local ownership by name.
func (l *Local) Chown(_ context.Context, path, owner, group string) error {
	uid, gid := -1, -1

	if owner != "" {
		u, err := user.Lookup(owner)
		if err != nil {
			return fmt.Errorf("lookup user %s: %w", owner, err)
		}
		id, err := strconv.Atoi(u.Uid)
		if err != nil {
			return fmt.Errorf("parse uid for %s: %w", owner, err)
		}
		uid = id
	}

	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return fmt.Errorf("lookup group %s: %w", group, err)
		}
		id, err := strconv.Atoi(g.Gid)
		if err != nil {
			return fmt.Errorf("parse gid for %s: %w", group, err)
		}
		gid = id
	}

	if uid == -1 && gid == -1 {
		return nil
	}

	return os.Chown(path, uid, gid)
}

func lookupUserName(uid uint32) string {
	if u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10)); err == nil {
		return u.Username
	}
	return strconv.FormatUint(uint64(uid), 10)
}

func lookupGroupName(gid uint32) string {
	if g, err := user.LookupGroupId(strconv.FormatUint(uint64(gid), 10)); err == nil {
		return g.Name
	}
	return strconv.FormatUint(uint64(gid), 10)
}
