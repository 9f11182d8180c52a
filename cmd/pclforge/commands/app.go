package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pclforge/pkg/config"
	"github.com/openfroyo/pclforge/pkg/engine"
	"github.com/openfroyo/pclforge/pkg/policy"
	"github.com/openfroyo/pclforge/pkg/probe"
	"github.com/openfroyo/pclforge/pkg/recipe"
	"github.com/openfroyo/pclforge/pkg/stores"
	"github.com/openfroyo/pclforge/pkg/telemetry"
)

// optionFlags are the per-invocation option overrides.
type optionFlags struct {
	with    []string
	without []string
	set     []string
}

func (f *optionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.with, "with", nil, "enable a bool option (repeatable)")
	cmd.Flags().StringSliceVar(&f.without, "without", nil, "disable a bool option (repeatable)")
	cmd.Flags().StringArrayVar(&f.set, "set", nil, "set an option, name=value (repeatable)")
}

// apply overlays the flags onto input. --set wins over --with/--without.
func (f *optionFlags) apply(input map[string]string) error {
	for _, name := range f.with {
		input[name] = "true"
	}
	for _, name := range f.without {
		input[name] = "false"
	}
	for _, kv := range f.set {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return engine.NewConfigurationError(fmt.Sprintf("invalid --set %q, want name=value", kv)).
				WithCode(engine.ErrCodeInvalidValue)
		}
		input[name] = value
	}
	return nil
}

// loadOptions merges the option files and the command line overrides.
func (a *app) loadOptions(files []string, flags *optionFlags) (*config.OptionFile, map[string]string, error) {
	file, err := config.NewLoader().LoadAll(files)
	if err != nil {
		return nil, nil, err
	}
	input := file.Input()
	if flags != nil {
		if err := flags.apply(input); err != nil {
			return nil, nil, err
		}
	}
	return file, input, nil
}

// recipe compiles the PCL recipe against the configured layout. The option
// file's layout root wins over --prefix.
func (a *app) recipe(file *config.OptionFile) *engine.Recipe {
	root := a.settings.Prefix
	var buildType string
	if file != nil && file.Layout != nil {
		if file.Layout.Root != "" {
			root = file.Layout.Root
		}
		buildType = file.Layout.BuildType
	}
	layout := recipe.LayoutFor(root)
	if buildType != "" {
		layout.BuildType = buildType
	}
	return recipe.PCL(layout)
}

// hostProbe returns the local probe with any configured plugins loaded.
// The returned func releases the plugin runtimes.
func (a *app) hostProbe(ctx context.Context) (*probe.HostProbe, func(), error) {
	if a.settings.PluginDir == "" {
		return probe.NewHostProbe(), func() {}, nil
	}

	registry := probe.NewRegistry(probe.DefaultPluginConfig())
	if err := registry.LoadDir(ctx, a.settings.PluginDir); err != nil {
		_ = registry.Close(ctx)
		return nil, nil, engine.NewInternalError("failed to load probe plugins", err)
	}
	closeFn := func() {
		if err := registry.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("failed to close probe plugins")
		}
	}
	return probe.NewHostProbe(probe.WithPlugins(registry)), closeFn, nil
}

// policyPaths returns the extra policy locations: the option file's list
// and --policy-dir.
func (a *app) policyPaths(file *config.OptionFile) []string {
	var paths []string
	if file != nil {
		paths = append(paths, file.Policies...)
	}
	if a.settings.PolicyDir != "" {
		paths = append(paths, a.settings.PolicyDir)
	}
	return paths
}

// policyEngine returns the policy engine with builtins and extra policies.
func (a *app) policyEngine(ctx context.Context, file *config.OptionFile) (*policy.Engine, error) {
	pe, err := policy.NewEngine(log.Logger)
	if err != nil {
		return nil, engine.NewInternalError("failed to create policy engine", err)
	}
	if paths := a.policyPaths(file); len(paths) > 0 {
		if err := pe.LoadPolicies(ctx, paths); err != nil {
			return nil, engine.NewConfigurationError("failed to load policies").
				WithCode(engine.ErrCodeRecipeInvalid).
				WithErr(err)
		}
	}
	return pe, nil
}

// planner assembles a planner for file. recorder and observer may be nil.
func (a *app) planner(ctx context.Context, file *config.OptionFile, p engine.Probe, recorder engine.PlanRecorder, observer engine.Observer) (*engine.Planner, error) {
	hooks, err := config.NewHooks(file.Hooks, config.DefaultHookTimeout)
	if err != nil {
		return nil, err
	}
	pe, err := a.policyEngine(ctx, file)
	if err != nil {
		return nil, err
	}

	opts := []engine.PlannerOption{engine.WithPolicy(pe), engine.WithHooks(hooks...)}
	if recorder != nil {
		opts = append(opts, engine.WithRecorder(recorder))
	}
	if observer != nil {
		opts = append(opts, engine.WithObserver(observer))
	}
	return engine.NewPlanner(a.recipe(file), p, opts...)
}

// openStore opens and migrates the run history database.
func (a *app) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if dir := filepath.Dir(a.settings.DB); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: a.settings.DB})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate run history: %w", err)
	}
	return store, nil
}

// telemetry builds the process telemetry from the settings.
func (a *app) telemetry() (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	if a.settings.Verbose {
		cfg.Logging.Level = "debug"
	}
	if a.settings.OTLPEndpoint != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = "otlp"
		cfg.Tracing.Endpoint = a.settings.OTLPEndpoint
		cfg.Tracing.Insecure = true
	}
	cfg.Metrics.ListenAddress = a.settings.MetricsAddr
	return telemetry.NewTelemetry(cfg)
}
