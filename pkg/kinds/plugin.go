package kinds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	wazerosys "github.com/tetratelabs/wazero/sys"

	"github.com/hostforge/hostforge/pkg/resource"
	"github.com/hostforge/hostforge/pkg/system"
)

// DefaultPluginTimeout bounds a single plugin operation.
const DefaultPluginTimeout = 30 * time.Second

// pluginMemoryLimitPages caps plugin memory at 16MB (64KB pages).
const pluginMemoryLimitPages = 256

// Plugin is a resource kind implemented by a WASM module. The module is
// a WASI command: each operation runs it once with a JSON request on
// stdin and reads a JSON response from stdout, so a misbehaving plugin
// cannot corrupt engine state between operations.
type Plugin struct {
	name     string
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	timeout  time.Duration
}

// pluginRequest is the JSON request handed to the module on stdin.
type pluginRequest struct {
	Op      string                 `json:"op"`
	Title   string                 `json:"title"`
	Attrs   map[string]interface{} `json:"attrs,omitempty"`
	Current *pluginState           `json:"current,omitempty"`
	Facts   *system.Facts          `json:"facts,omitempty"`
}

// pluginState mirrors resource.CurrentState on the wire.
type pluginState struct {
	Exists bool                   `json:"exists"`
	Attrs  map[string]interface{} `json:"attrs,omitempty"`
}

// pluginResponse is the JSON response read from the module's stdout.
type pluginResponse struct {
	Error  string                 `json:"error,omitempty"`
	Exists bool                   `json:"exists,omitempty"`
	Attrs  map[string]interface{} `json:"attrs,omitempty"`
}

// NewPlugin compiles a WASM module into a plugin kind named name. The
// caller owns the returned plugin and must Close it when done.
func NewPlugin(ctx context.Context, name string, wasm []byte, timeout time.Duration) (*Plugin, error) {
	if timeout <= 0 {
		timeout = DefaultPluginTimeout
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(pluginMemoryLimitPages).
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi for plugin %s: %w", name, err)
	}

	compiled, err := runtime.CompileModule(ctx, wasm)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("compile plugin %s: %w", name, err)
	}

	return &Plugin{
		name:     name,
		runtime:  runtime,
		compiled: compiled,
		timeout:  timeout,
	}, nil
}

// Name returns the plugin's kind name.
func (p *Plugin) Name() string { return p.name }

// Close releases the compiled module and runtime.
func (p *Plugin) Close(ctx context.Context) error {
	return p.runtime.Close(ctx)
}

// Validate delegates validation to the module.
func (p *Plugin) Validate(decl *resource.Decl) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	_, err := p.call(ctx, &pluginRequest{
		Op:    "validate",
		Title: decl.Ref.Title,
		Attrs: decl.Attrs,
	})
	return err
}

// Probe asks the module for the resource's current state.
func (p *Plugin) Probe(ctx context.Context, sys *system.Context, decl *resource.Decl) (*resource.CurrentState, error) {
	resp, err := p.call(ctx, &pluginRequest{
		Op:    "probe",
		Title: decl.Ref.Title,
		Attrs: decl.Attrs,
		Facts: sys.Facts,
	})
	if err != nil {
		return nil, err
	}
	return &resource.CurrentState{Exists: resp.Exists, Attrs: resp.Attrs}, nil
}

// Diff compares declared attributes against the probed state. Attribute
// comparison is generic: every declared attribute the probe reported a
// different value for is a change.
func (p *Plugin) Diff(decl *resource.Decl, current *resource.CurrentState) []resource.Change {
	var changes []resource.Change
	for _, name := range decl.AttrNames() {
		want := decl.Attrs[name]
		got, _ := current.Attr(name)
		if !current.Exists || fmt.Sprint(got) != fmt.Sprint(want) {
			changes = append(changes, resource.Change{Attr: name, Before: got, After: want})
		}
	}
	return changes
}

// Apply asks the module to converge the resource.
func (p *Plugin) Apply(ctx context.Context, sys *system.Context, decl *resource.Decl, current *resource.CurrentState) error {
	_, err := p.call(ctx, &pluginRequest{
		Op:    "apply",
		Title: decl.Ref.Title,
		Attrs: decl.Attrs,
		Current: &pluginState{
			Exists: current.Exists,
			Attrs:  current.Attrs,
		},
		Facts: sys.Facts,
	})
	return err
}

// Refresh forwards a notification to the module.
func (p *Plugin) Refresh(ctx context.Context, sys *system.Context, decl *resource.Decl) error {
	_, err := p.call(ctx, &pluginRequest{
		Op:    "refresh",
		Title: decl.Ref.Title,
		Attrs: decl.Attrs,
		Facts: sys.Facts,
	})
	return err
}

// call runs the module once with a JSON request and decodes its response.
func (p *Plugin) call(ctx context.Context, req *pluginRequest) (*pluginResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	reqData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode plugin request: %w", err)
	}

	var stdout, stderr bytes.Buffer
	config := wazero.NewModuleConfig().
		WithName(""). // anonymous so concurrent calls don't collide
		WithStdin(bytes.NewReader(reqData)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithArgs(p.name, req.Op)

	mod, err := p.runtime.InstantiateModule(ctx, p.compiled, config)
	if mod != nil {
		defer mod.Close(ctx)
	}
	if err != nil {
		var exitErr *wazerosys.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
			// Normal proc_exit(0) termination.
		} else {
			return nil, fmt.Errorf("plugin %s %s: %w (stderr: %s)",
				p.name, req.Op, err, strings.TrimSpace(stderr.String()))
		}
	}

	var resp pluginResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode plugin %s %s response: %w", p.name, req.Op, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("plugin %s %s: %s", p.name, req.Op, resp.Error)
	}
	return &resp, nil
}

// LoadPlugins compiles every *.wasm file in dir and registers each as a
// kind named after its file stem. A missing directory is not an error.
func LoadPlugins(ctx context.Context, registry *resource.Registry, dir string, timeout time.Duration) ([]*Plugin, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var plugins []*Plugin
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wasm") {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".wasm")
		wasm, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return plugins, err
		}

		plugin, err := NewPlugin(ctx, name, wasm, timeout)
		if err != nil {
			return plugins, err
		}
		if err := registry.Register(plugin); err != nil {
			plugin.Close(ctx)
			return plugins, err
		}
		plugins = append(plugins, plugin)
	}

	return plugins, nil
}
