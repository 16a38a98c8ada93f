package kinds

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hostforge/hostforge/pkg/resource"
)

func TestNewPlugin_RejectsInvalidModule(t *testing.T) {
	if _, err := NewPlugin(context.Background(), "bogus", []byte("not wasm"), 0); err == nil {
		t.Fatal("Expected invalid module bytes to fail compilation")
	}
}

func TestPlugin_DiffComparesDeclaredAttrs(t *testing.T) {
	p := &Plugin{name: "example"}

	decl := newDecl("example", "thing", map[string]interface{}{
		"size":  3,
		"state": "ready",
	})

	// Missing resource: every declared attribute drifts.
	changes := p.Diff(decl, &resource.CurrentState{Exists: false})
	if len(changes) != 2 {
		t.Fatalf("Expected 2 changes for a missing resource, got: %v", changes)
	}
	if changes[0].Attr != "size" || changes[1].Attr != "state" {
		t.Errorf("Expected sorted attribute order, got: %v", changes)
	}

	// Matching values: converged, including numeric values observed as
	// a different concrete type.
	current := &resource.CurrentState{
		Exists: true,
		Attrs: map[string]interface{}{
			"size":  int64(3),
			"state": "ready",
		},
	}
	if changes := p.Diff(decl, current); len(changes) != 0 {
		t.Errorf("Expected no drift, got: %v", changes)
	}

	current.Attrs["state"] = "stopped"
	changes = p.Diff(decl, current)
	if len(changes) != 1 || changes[0].Attr != "state" {
		t.Errorf("Expected a single state change, got: %v", changes)
	}
}

func TestLoadPlugins_MissingDir(t *testing.T) {
	reg := resource.NewRegistry()
	plugins, err := LoadPlugins(context.Background(), reg, "/nonexistent/plugins", 0)
	if err != nil {
		t.Fatalf("Expected a missing plugin directory to be tolerated, got: %v", err)
	}
	if len(plugins) != 0 {
		t.Errorf("Expected no plugins, got %d", len(plugins))
	}
}

func TestLoadPlugins_EmptyDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("no wasm here"), 0o644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	reg := resource.NewRegistry()
	plugins, err := LoadPlugins(context.Background(), reg, dir, 0)
	if err != nil {
		t.Fatalf("LoadPlugins failed: %v", err)
	}
	if len(plugins) != 0 {
		t.Errorf("Expected non-wasm files ignored, got %d plugins", len(plugins))
	}
}

func TestLoadPlugins_BadModuleFails(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.wasm"), []byte("not wasm"), 0o644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	reg := resource.NewRegistry()
	if _, err := LoadPlugins(context.Background(), reg, dir, 0); err == nil {
		t.Fatal("Expected a broken module to fail loading")
	}
}
