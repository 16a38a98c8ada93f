package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/hostforge/hostforge/pkg/system"
)

// Runner implements system.Runner over an SSH connection. Commands run in
// fresh sessions; file operations go through a shared SFTP client.
type Runner struct {
	config *Config
	client *ssh.Client
	sftp   *sftp.Client
}

// Connect dials the target and establishes the SFTP channel.
func Connect(cfg *Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientConfig, err := cfg.BuildClientConfig()
	if err != nil {
		return nil, err
	}

	client, err := ssh.Dial("tcp", cfg.Addr(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr(), err)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("open sftp channel: %w", err)
	}

	return &Runner{config: cfg, client: client, sftp: sftpClient}, nil
}

// Close tears down the SFTP channel and the connection.
func (r *Runner) Close() error {
	var errs []error
	if r.sftp != nil {
		if err := r.sftp.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.client != nil {
		if err := r.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run executes a command in a fresh session. A non-zero exit status is
// reported through the result, matching the local runner.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (*system.CmdResult, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	command := buildCommand(name, args)

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case err = <-done:
	}

	result := &system.CmdResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, fmt.Errorf("run %s: %w", name, err)
	}

	return result, nil
}

// ReadFile reads a remote file through SFTP.
func (r *Runner) ReadFile(_ context.Context, path string) ([]byte, error) {
	f, err := r.sftp.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// WriteFile writes a remote file through SFTP.
func (r *Runner) WriteFile(_ context.Context, path string, data []byte, mode fs.FileMode) error {
	f, err := r.sftp.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return r.sftp.Chmod(path, mode)
}

// Stat probes a remote filesystem entry. Ownership is reported as
// numeric IDs; SFTP has no name resolution.
func (r *Runner) Stat(_ context.Context, path string) (*system.FileInfo, error) {
	info, err := r.sftp.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return &system.FileInfo{Exists: false}, nil
		}
		return nil, err
	}

	fi := &system.FileInfo{
		Exists: true,
		IsDir:  info.IsDir(),
		Mode:   info.Mode().Perm(),
		Size:   info.Size(),
	}
	if stat, ok := info.Sys().(*sftp.FileStat); ok {
		fi.Owner = strconv.FormatUint(uint64(stat.UID), 10)
		fi.Group = strconv.FormatUint(uint64(stat.GID), 10)
	}

	return fi, nil
}

// MkdirAll creates a remote directory tree.
func (r *Runner) MkdirAll(_ context.Context, path string, mode fs.FileMode) error {
	if err := r.sftp.MkdirAll(path); err != nil {
		return err
	}
	return r.sftp.Chmod(path, mode)
}

// Remove deletes a remote file or directory tree.
func (r *Runner) Remove(_ context.Context, path string) error {
	err := r.sftp.RemoveAll(path)
	if err != nil && (errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err)) {
		return nil
	}
	return err
}

// Chmod sets remote permission bits.
func (r *Runner) Chmod(_ context.Context, path string, mode fs.FileMode) error {
	return r.sftp.Chmod(path, mode)
}

// Chown sets remote ownership by name, resolving IDs through the remote
// NSS databases.
func (r *Runner) Chown(ctx context.Context, path, owner, group string) error {
	uid, gid := -1, -1

	if owner != "" {
		id, err := r.lookupID(ctx, "passwd", owner)
		if err != nil {
			return fmt.Errorf("lookup user %s: %w", owner, err)
		}
		uid = id
	}
	if group != "" {
		id, err := r.lookupID(ctx, "group", group)
		if err != nil {
			return fmt.Errorf("lookup group %s: %w", group, err)
		}
		gid = id
	}
	if uid == -1 && gid == -1 {
		return nil
	}

	return r.sftp.Chown(path, uid, gid)
}

// lookupID resolves a user or group name to its numeric ID via getent.
func (r *Runner) lookupID(ctx context.Context, database, name string) (int, error) {
	res, err := r.Run(ctx, "getent", database, name)
	if err != nil {
		return -1, err
	}
	if !res.Ok() {
		return -1, fmt.Errorf("%s entry not found", database)
	}
	fields := strings.Split(strings.TrimSpace(res.Stdout), ":")
	if len(fields) < 3 {
		return -1, fmt.Errorf("malformed %s entry", database)
	}
	return strconv.Atoi(fields[2])
}

// buildCommand renders a command and arguments as a shell line with each
// argument single-quoted.
func buildCommand(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(name))
	for _, arg := range args {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
