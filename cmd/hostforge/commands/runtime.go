package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/hostforge/hostforge/pkg/config"
	"github.com/hostforge/hostforge/pkg/kinds"
	"github.com/hostforge/hostforge/pkg/policy"
	"github.com/hostforge/hostforge/pkg/resource"
	"github.com/hostforge/hostforge/pkg/system"
	"github.com/hostforge/hostforge/pkg/telemetry"
	sshtransport "github.com/hostforge/hostforge/pkg/transports/ssh"
)

// runtime bundles everything a convergence command needs: the kind
// registry, the target host context, the policy gate, and telemetry.
type runtime struct {
	registry *resource.Registry
	sys      *system.Context
	logger   *telemetry.Logger
	policy   *policy.Engine
	plugins  []*kinds.Plugin
	remote   *sshtransport.Runner
}

// newRuntime assembles the runtime from the global flags. The caller
// must close it.
func newRuntime(ctx context.Context) (*runtime, error) {
	logger, err := telemetry.NewLogger(telemetry.DefaultLoggingConfig())
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	rt := &runtime{logger: logger}

	registry := resource.NewRegistry()
	if err := kinds.RegisterBuiltins(registry); err != nil {
		return nil, err
	}
	if pluginDir != "" {
		plugins, err := kinds.LoadPlugins(ctx, registry, pluginDir, 0)
		if err != nil {
			closePlugins(ctx, plugins)
			return nil, fmt.Errorf("load plugins from %s: %w", pluginDir, err)
		}
		rt.plugins = plugins
	}
	rt.registry = registry

	runner, remote, err := buildRunner()
	if err != nil {
		rt.close(ctx)
		return nil, err
	}
	rt.remote = remote

	facts, err := system.CollectFacts(ctx, runner)
	if err != nil {
		rt.close(ctx)
		return nil, fmt.Errorf("collect facts: %w", err)
	}
	rt.sys = system.NewContext(facts, runner)

	if policyDir != "" {
		engine := policy.NewEngine(*logger.Zerolog(), policy.ModeEnforcing)
		if err := engine.LoadDir(ctx, policyDir); err != nil {
			rt.close(ctx)
			return nil, fmt.Errorf("load policies from %s: %w", policyDir, err)
		}
		rt.policy = engine
	}

	return rt, nil
}

// buildRunner selects the local runner or an SSH runner from --target.
func buildRunner() (system.Runner, *sshtransport.Runner, error) {
	if target == "" {
		return system.NewLocal(), nil, nil
	}

	user, host, port, err := sshtransport.ParseTarget(target)
	if err != nil {
		return nil, nil, err
	}

	cfg := sshtransport.DefaultConfig(host, user)
	cfg.Port = port
	if keyPath != "" {
		cfg.PrivateKeyPath = keyPath
	}
	if insecure {
		cfg.StrictHostKeyChecking = false
	}

	remote, err := sshtransport.Connect(cfg)
	if err != nil {
		return nil, nil, err
	}
	return remote, remote, nil
}

// close releases the runtime's plugins and remote connection.
func (rt *runtime) close(ctx context.Context) {
	closePlugins(ctx, rt.plugins)
	if rt.remote != nil {
		if err := rt.remote.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close ssh connection")
		}
	}
}

func closePlugins(ctx context.Context, plugins []*kinds.Plugin) {
	for _, p := range plugins {
		if err := p.Close(ctx); err != nil {
			log.Warn().Err(err).Str("plugin", p.Name()).Msg("failed to close plugin")
		}
	}
}

// loadDecls parses the manifest sources into declarations.
func loadDecls(ctx context.Context, sources []string) ([]*resource.Decl, error) {
	manifest, err := config.NewLoader().Load(ctx, sources...)
	if err != nil {
		return nil, err
	}
	return manifest.Decls()
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "hostforge.db"
	}
	return filepath.Join(home, ".hostforge", "runs.db")
}
