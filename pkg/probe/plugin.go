package probe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/pclforge/pkg/engine"
)

// DefaultExport is the function a probe plugin exports when the manifest
// names none. It takes no arguments and returns nonzero when satisfied.
const DefaultExport = "satisfied"

// Manifest describes a WASM probe plugin.
type Manifest struct {
	// Name is what requirements reference as the plugin check target.
	Name string `yaml:"name" validate:"required"`

	Version     string `yaml:"version" validate:"required"`
	Description string `yaml:"description,omitempty"`

	// Module is the path of the .wasm file, relative to the manifest.
	Module string `yaml:"module" validate:"required"`

	// Export is the probe function name.
	Export string `yaml:"export,omitempty"`

	// Checksum is the hex SHA-256 of the module; verified when set.
	Checksum string `yaml:"checksum,omitempty" validate:"omitempty,len=64,hexadecimal"`

	// Dir is the directory the manifest was loaded from.
	Dir string `yaml:"-"`
}

var validate = validator.New()

// ParseManifest parses and validates manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if m.Export == "" {
		m.Export = DefaultExport
	}
	return &m, nil
}

// LoadManifest reads a manifest file and the module it references.
func LoadManifest(path string) (*Manifest, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, nil, err
	}
	m.Dir = filepath.Dir(path)

	modulePath := m.Module
	if !filepath.IsAbs(modulePath) {
		modulePath = filepath.Join(m.Dir, modulePath)
	}
	wasm, err := os.ReadFile(modulePath)
	if err != nil {
		return nil, nil, fmt.Errorf("WASM module not found at %s: %w", modulePath, err)
	}
	return m, wasm, nil
}

// VerifyChecksum compares the module digest with the manifest checksum.
func (m *Manifest) VerifyChecksum(wasm []byte) error {
	if m.Checksum == "" {
		return nil
	}
	sum := sha256.Sum256(wasm)
	if got := hex.EncodeToString(sum[:]); got != m.Checksum {
		return fmt.Errorf("WASM module checksum mismatch: expected %s, got %s", m.Checksum, got)
	}
	return nil
}

// PluginConfig bounds plugin execution.
type PluginConfig struct {
	// Timeout limits one probe call.
	Timeout time.Duration

	// MemoryLimitPages caps guest memory in 64KiB pages.
	MemoryLimitPages uint32
}

// DefaultPluginConfig returns the default limits: 5s and 16MiB.
func DefaultPluginConfig() PluginConfig {
	return PluginConfig{Timeout: 5 * time.Second, MemoryLimitPages: 256}
}

// Plugin is a compiled probe plugin. Each check runs in a fresh module
// instance, so plugins cannot carry state between requirements.
type Plugin struct {
	manifest *Manifest
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	timeout  time.Duration
}

type callState struct {
	target string
	host   *HostProbe
}

type callStateKey struct{}

// NewPlugin compiles the module and registers the host functions it may
// import from "env".
func NewPlugin(ctx context.Context, m *Manifest, wasm []byte, cfg PluginConfig) (*Plugin, error) {
	if err := m.VerifyChecksum(wasm); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultPluginConfig().Timeout
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = DefaultPluginConfig().MemoryLimitPages
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true))

	if _, err := hostModule(runtime).Instantiate(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasm)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to compile WASM module: %w", err)
	}
	if _, ok := compiled.ExportedFunctions()[m.Export]; !ok {
		runtime.Close(ctx)
		return nil, fmt.Errorf("WASM module does not export %s function", m.Export)
	}

	return &Plugin{manifest: m, runtime: runtime, compiled: compiled, timeout: cfg.Timeout}, nil
}

// hostModule exposes host lookups to the guest. Strings are passed as
// (pointer, length) pairs into guest memory; booleans come back as 0 or 1.
func hostModule(runtime wazero.Runtime) wazero.HostModuleBuilder {
	lookup := func(check func(*HostProbe, string) engine.ProbeResult) func(context.Context, api.Module, uint32, uint32) uint32 {
		return func(ctx context.Context, mod api.Module, ptr, n uint32) uint32 {
			state, ok := ctx.Value(callStateKey{}).(*callState)
			if !ok || state.host == nil {
				return 0
			}
			buf, ok := mod.Memory().Read(ptr, n)
			if !ok {
				return 0
			}
			if check(state.host, string(buf)).Satisfied {
				return 1
			}
			return 0
		}
	}

	builder := runtime.NewHostModuleBuilder("env")
	builder.NewFunctionBuilder().
		WithFunc(lookup((*HostProbe).executable)).
		Export("has_executable")
	builder.NewFunctionBuilder().
		WithFunc(lookup((*HostProbe).env)).
		Export("has_env")
	builder.NewFunctionBuilder().
		WithFunc(lookup((*HostProbe).path)).
		Export("path_exists")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context) uint32 {
			state, ok := ctx.Value(callStateKey{}).(*callState)
			if !ok {
				return 0
			}
			return uint32(len(state.target))
		}).
		Export("target_len")

	// read_target copies at most n bytes of the target into guest memory
	// and returns the count written.
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, n uint32) uint32 {
			state, ok := ctx.Value(callStateKey{}).(*callState)
			if !ok {
				return 0
			}
			data := []byte(state.target)
			if uint32(len(data)) < n {
				n = uint32(len(data))
			}
			if !mod.Memory().Write(ptr, data[:n]) {
				return 0
			}
			return n
		}).
		Export("read_target")

	return builder
}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return p.manifest.Name
}

// Check instantiates the module and calls the probe export.
func (p *Plugin) Check(ctx context.Context, target string, host *HostProbe) (engine.ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, callStateKey{}, &callState{target: target, host: host})

	mod, err := p.runtime.InstantiateModule(ctx, p.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return engine.ProbeResult{}, fmt.Errorf("failed to instantiate plugin %s: %w", p.manifest.Name, err)
	}
	defer mod.Close(ctx)

	results, err := mod.ExportedFunction(p.manifest.Export).Call(ctx)
	if err != nil {
		return engine.ProbeResult{}, fmt.Errorf("plugin %s failed: %w", p.manifest.Name, err)
	}
	if len(results) == 0 {
		return engine.ProbeResult{}, fmt.Errorf("plugin %s returned no result", p.manifest.Name)
	}

	res := engine.ProbeResult{Satisfied: uint32(results[0]) != 0}
	if res.Satisfied {
		res.Location = "plugin:" + p.manifest.Name
	}
	return res, nil
}

// Close releases the plugin runtime.
func (p *Plugin) Close(ctx context.Context) error {
	if err := p.runtime.Close(ctx); err != nil {
		return fmt.Errorf("failed to close WASM runtime: %w", err)
	}
	return nil
}

// Registry holds loaded probe plugins by name.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*Plugin
	config  PluginConfig
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg PluginConfig) *Registry {
	return &Registry{plugins: make(map[string]*Plugin), config: cfg}
}

// Register compiles and registers a plugin.
func (r *Registry) Register(ctx context.Context, m *Manifest, wasm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[m.Name]; exists {
		return fmt.Errorf("probe plugin %s already registered", m.Name)
	}
	p, err := NewPlugin(ctx, m, wasm, r.config)
	if err != nil {
		return fmt.Errorf("probe plugin %s: %w", m.Name, err)
	}
	r.plugins[m.Name] = p
	return nil
}

// LoadDir registers every *.yaml and *.yml manifest in dir. A missing
// directory loads nothing.
func (r *Registry) LoadDir(ctx context.Context, dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return fmt.Errorf("failed to list plugin manifests: %w", err)
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	for _, path := range paths {
		m, wasm, err := LoadManifest(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := r.Register(ctx, m, wasm); err != nil {
			return err
		}
		log.Debug().Str("plugin", m.Name).Str("manifest", path).Msg("probe plugin loaded")
	}
	return nil
}

// Names returns the registered plugin names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs the plugin named by target, given as "name" or "name:argument".
// The argument is what the guest reads through read_target.
func (r *Registry) Check(ctx context.Context, target string, host *HostProbe) (engine.ProbeResult, error) {
	name, arg, _ := strings.Cut(target, ":")

	r.mu.RLock()
	p, ok := r.plugins[name]
	r.mu.RUnlock()
	if !ok {
		return engine.ProbeResult{}, fmt.Errorf("probe plugin %s not found", name)
	}
	return p.Check(ctx, arg, host)
}

// Close releases every plugin.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, p := range r.plugins {
		if err := p.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.plugins, name)
	}
	return firstErr
}
