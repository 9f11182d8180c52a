package probe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/pclforge/pkg/engine"
)

// HostProbe answers requirement checks against the local machine. Every host
// lookup goes through a replaceable function so tests never touch real state.
type HostProbe struct {
	lookPath func(string) (string, error)
	lookEnv  func(string) (string, bool)
	stat     func(string) (os.FileInfo, error)
	plugins  *Registry
}

// Option configures a HostProbe.
type Option func(*HostProbe)

// WithLookPath replaces the executable search.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(p *HostProbe) { p.lookPath = fn }
}

// WithLookupEnv replaces the environment lookup.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(p *HostProbe) { p.lookEnv = fn }
}

// WithStat replaces the file system lookup.
func WithStat(fn func(string) (os.FileInfo, error)) Option {
	return func(p *HostProbe) { p.stat = fn }
}

// WithPlugins answers plugin checks from the registry.
func WithPlugins(r *Registry) Option {
	return func(p *HostProbe) { p.plugins = r }
}

// NewHostProbe creates a probe backed by the process environment.
func NewHostProbe(opts ...Option) *HostProbe {
	p := &HostProbe{
		lookPath: exec.LookPath,
		lookEnv:  os.LookupEnv,
		stat:     os.Stat,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check implements engine.Probe.
func (p *HostProbe) Check(ctx context.Context, req engine.Requirement) (engine.ProbeResult, error) {
	if err := ctx.Err(); err != nil {
		return engine.ProbeResult{}, err
	}

	var (
		res engine.ProbeResult
		err error
	)
	switch req.Check.Kind {
	case engine.CheckExecutable:
		res = p.executable(req.Check.Target)
	case engine.CheckEnv:
		res = p.env(req.Check.Target)
	case engine.CheckPath:
		res = p.path(req.Check.Target)
	case engine.CheckPlugin:
		if p.plugins == nil {
			return engine.ProbeResult{}, fmt.Errorf("no probe plugins loaded for %q", req.Check.Target)
		}
		res, err = p.plugins.Check(ctx, req.Check.Target, p)
	default:
		return engine.ProbeResult{}, fmt.Errorf("unsupported check kind: %s", req.Check.Kind)
	}
	if err != nil {
		return engine.ProbeResult{}, err
	}

	log.Debug().
		Str("requirement", req.Name).
		Str("check", req.Check.String()).
		Bool("satisfied", res.Satisfied).
		Str("location", res.Location).
		Msg("probe")
	return res, nil
}

func (p *HostProbe) executable(name string) engine.ProbeResult {
	path, err := p.lookPath(name)
	if err != nil {
		return engine.ProbeResult{}
	}
	return engine.ProbeResult{Satisfied: true, Location: path}
}

func (p *HostProbe) env(name string) engine.ProbeResult {
	v, ok := p.lookEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return engine.ProbeResult{}
	}
	return engine.ProbeResult{Satisfied: true, Location: v}
}

func (p *HostProbe) path(path string) engine.ProbeResult {
	if _, err := p.stat(path); err != nil {
		return engine.ProbeResult{}
	}
	return engine.ProbeResult{Satisfied: true, Location: path}
}
