package kinds

import (
	"context"
	"testing"

	"github.com/hostforge/hostforge/pkg/system"
)

const deployPasswd = "deploy:x:1200:1200:Deploy robot:/home/deploy:/bin/bash\n"

func TestUser_Validate(t *testing.T) {
	u := &User{}

	if err := u.Validate(newDecl("user", "deploy", nil)); err != nil {
		t.Errorf("Expected bare declaration to validate, got: %v", err)
	}
	if err := u.Validate(newDecl("user", "", nil)); err == nil {
		t.Error("Expected blank title to fail validation")
	}
	if err := u.Validate(newDecl("user", "deploy", map[string]interface{}{"ensure": "locked"})); err == nil {
		t.Error("Expected unknown ensure to fail validation")
	}
}

func TestUser_CreateMissing(t *testing.T) {
	u := &User{}
	runner := newFakeRunner()
	runner.script("getent passwd deploy", &system.CmdResult{ExitCode: 2})
	runner.script("useradd -u 1200 -s /bin/bash deploy", &system.CmdResult{})
	sys := redhatContext(runner)
	ctx := context.Background()

	decl := newDecl("user", "deploy", map[string]interface{}{
		"uid":   "1200",
		"shell": "/bin/bash",
	})

	current, err := u.Probe(ctx, sys, decl)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if current.Exists {
		t.Fatal("Expected the user to be reported missing")
	}

	changes := u.Diff(decl, current)
	if len(changes) != 3 {
		t.Fatalf("Expected ensure, uid and shell changes, got: %v", changes)
	}

	if err := u.Apply(ctx, sys, decl, current); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !runner.called("useradd -u 1200 -s /bin/bash deploy") {
		t.Errorf("Expected useradd with flags, calls: %v", runner.calls)
	}
}

func TestUser_ConvergedUnchanged(t *testing.T) {
	u := &User{}
	runner := newFakeRunner()
	runner.script("getent passwd deploy", &system.CmdResult{Stdout: deployPasswd})
	sys := redhatContext(runner)

	decl := newDecl("user", "deploy", map[string]interface{}{
		"uid":   "1200",
		"home":  "/home/deploy",
		"shell": "/bin/bash",
	})

	current, err := u.Probe(context.Background(), sys, decl)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if !current.Exists {
		t.Fatal("Expected the user to be reported present")
	}
	if changes := u.Diff(decl, current); len(changes) != 0 {
		t.Errorf("Expected no drift, got: %v", changes)
	}
}

func TestUser_ModifyShell(t *testing.T) {
	u := &User{}
	runner := newFakeRunner()
	runner.script("getent passwd deploy", &system.CmdResult{Stdout: deployPasswd})
	runner.script("usermod -s /usr/sbin/nologin deploy", &system.CmdResult{})
	sys := redhatContext(runner)
	ctx := context.Background()

	decl := newDecl("user", "deploy", map[string]interface{}{"shell": "/usr/sbin/nologin"})

	current, err := u.Probe(ctx, sys, decl)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	changes := u.Diff(decl, current)
	if len(changes) != 1 || changes[0].Attr != "shell" {
		t.Fatalf("Expected a shell change, got: %v", changes)
	}

	if err := u.Apply(ctx, sys, decl, current); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !runner.called("usermod -s /usr/sbin/nologin deploy") {
		t.Error("Expected usermod")
	}
}

func TestUser_Remove(t *testing.T) {
	u := &User{}
	runner := newFakeRunner()
	runner.script("getent passwd legacy", &system.CmdResult{Stdout: "legacy:x:1300:1300::/home/legacy:/bin/sh\n"})
	runner.script("userdel legacy", &system.CmdResult{})
	sys := redhatContext(runner)
	ctx := context.Background()

	decl := newDecl("user", "legacy", map[string]interface{}{"ensure": "absent"})

	current, err := u.Probe(ctx, sys, decl)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	changes := u.Diff(decl, current)
	if len(changes) != 1 {
		t.Fatalf("Expected a removal change, got: %v", changes)
	}

	if err := u.Apply(ctx, sys, decl, current); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !runner.called("userdel legacy") {
		t.Error("Expected userdel")
	}
}

func TestUser_AbsentMissingUnchanged(t *testing.T) {
	u := &User{}
	runner := newFakeRunner()
	runner.script("getent passwd ghost", &system.CmdResult{ExitCode: 2})
	sys := redhatContext(runner)

	decl := newDecl("user", "ghost", map[string]interface{}{"ensure": "absent"})
	current, err := u.Probe(context.Background(), sys, decl)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if changes := u.Diff(decl, current); len(changes) != 0 {
		t.Errorf("Expected no drift for an already absent user, got: %v", changes)
	}
}
