package commands

import (
	"errors"
	"strings"
	"testing"
)

func TestExitError(t *testing.T) {
	err := &ExitError{Code: 1, Msg: "2 of 5 resources failed"}
	if err.Error() != "2 of 5 resources failed" {
		t.Errorf("Unexpected message: %s", err.Error())
	}

	var exitErr *ExitError
	if !errors.As(error(err), &exitErr) {
		t.Fatal("Expected errors.As to unwrap an ExitError")
	}
	if exitErr.Code != 1 {
		t.Errorf("Expected code 1, got %d", exitErr.Code)
	}
}

func TestNewRootCommand(t *testing.T) {
	cmd := newRootCommand("1.0.0", "abc123", "2026-01-01")

	if cmd.Use != "hostforge" {
		t.Errorf("Unexpected use: %s", cmd.Use)
	}
	if !strings.Contains(cmd.Version, "abc123") {
		t.Errorf("Expected the commit in the version string, got %s", cmd.Version)
	}

	want := []string{"apply", "plan", "validate", "graph", "facts", "watch", "runs"}
	for _, name := range want {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected subcommand %s", name)
		}
	}

	for _, flag := range []string{"json", "target", "key", "policy-dir", "plugin-dir", "db"} {
		if cmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("Expected persistent flag --%s", flag)
		}
	}
}

func TestDefaultDBPath(t *testing.T) {
	path := defaultDBPath()
	if path == "" {
		t.Fatal("Expected a default database path")
	}
	if !strings.HasSuffix(path, ".db") {
		t.Errorf("Expected a database file path, got %s", path)
	}
}
