package invoker

import (
	"context"
	"fmt"
	"path"
	"runtime"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/pclforge/pkg/engine"
	"github.com/openfroyo/pclforge/pkg/recipe"
	"github.com/openfroyo/pclforge/pkg/telemetry"
)

// Step names.
const (
	StepConfigure   = "configure"
	StepBuild       = "build"
	StepInstall     = "install"
	StepInstallApps = "install-apps"
)

// Listener is told about every step as it runs.
type Listener interface {
	StepStarted(ctx context.Context, step string, command []string)
	StepFinished(ctx context.Context, result engine.StepResult)
}

// Config describes where a plan is built.
type Config struct {
	// SourceDir is the unpacked source tree on the build host.
	SourceDir string

	// BuildDir is the out-of-source build directory. Relative paths are
	// resolved against SourceDir; empty means recipe.BuildDir.
	BuildDir string

	// Prefix is the install prefix; application bundles found under
	// Prefix/bin are moved into it after install.
	Prefix string

	// Jobs is the build parallelism; zero means the number of CPUs.
	Jobs int
}

// Invoker runs the native configure, build and install steps of a plan. It
// implements engine.Invoker.
type Invoker struct {
	runner   Runner
	cfg      Config
	listener Listener
	tracer   trace.Tracer
}

var _ engine.Invoker = (*Invoker)(nil)

// Option configures an Invoker.
type Option func(*Invoker)

// WithListener reports step progress to l.
func WithListener(l Listener) Option {
	return func(i *Invoker) { i.listener = l }
}

// New creates an invoker running commands through runner.
func New(runner Runner, cfg Config, opts ...Option) *Invoker {
	if cfg.BuildDir == "" {
		cfg.BuildDir = recipe.BuildDir
	}
	if !path.IsAbs(cfg.BuildDir) {
		cfg.BuildDir = path.Join(cfg.SourceDir, cfg.BuildDir)
	}
	if cfg.Jobs <= 0 {
		cfg.Jobs = runtime.NumCPU()
	}
	inv := &Invoker{
		runner:   runner,
		cfg:      cfg,
		listener: nopListener{},
		tracer:   otel.Tracer("github.com/openfroyo/pclforge/pkg/invoker"),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Target returns the build host identifier of the runner.
func (i *Invoker) Target() string {
	return i.runner.Target()
}

// ParallelEnv returns the mutations that set build parallelism. They are
// added by the invoker after the plan's own environment.
func ParallelEnv(jobs int) []engine.EnvMutation {
	n := strconv.Itoa(jobs)
	return []engine.EnvMutation{
		engine.Set("MAKEFLAGS", "-j"+n),
		engine.Set("CMAKE_BUILD_PARALLEL_LEVEL", n),
	}
}

// Env returns the mutations applied to every step: the plan's environment
// followed by the parallelism settings.
func (i *Invoker) Env(plan *engine.BuildPlan) []engine.EnvMutation {
	env := make([]engine.EnvMutation, 0, len(plan.Env)+2)
	env = append(env, plan.Env...)
	return append(env, ParallelEnv(i.cfg.Jobs)...)
}

// Steps returns the commands of the configure, build and install steps.
// The environment is left unset.
func (i *Invoker) Steps(plan *engine.BuildPlan) []Command {
	configure := append([]string{"cmake"}, plan.Args...)
	configure = append(configure, i.cfg.SourceDir)

	return []Command{
		{Step: StepConfigure, Args: configure, Dir: i.cfg.BuildDir},
		{Step: StepBuild, Args: []string{"make"}, Dir: i.cfg.BuildDir},
		{Step: StepInstall, Args: []string{"make", "install"}, Dir: i.cfg.BuildDir},
	}
}

// Invoke implements engine.Invoker. Steps run in order; the first step that
// exits nonzero stops the build and its exit code becomes the result's.
func (i *Invoker) Invoke(ctx context.Context, plan *engine.BuildPlan) (*engine.InvocationResult, error) {
	result := &engine.InvocationResult{}

	if err := i.runner.MkdirAll(ctx, i.cfg.BuildDir); err != nil {
		return result, fmt.Errorf("failed to create build directory %s: %w", i.cfg.BuildDir, err)
	}
	base, err := i.runner.Environ(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to read build environment: %w", err)
	}
	env := engine.ApplyEnv(base, i.Env(plan))

	for _, cmd := range i.Steps(plan) {
		cmd.Env = env
		step, err := i.run(ctx, cmd)
		result.Steps = append(result.Steps, step)
		if err != nil {
			return result, err
		}
		if step.ExitCode != 0 {
			result.ExitCode = step.ExitCode
			return result, nil
		}
	}

	apps, err := i.runner.Glob(ctx, path.Join(i.cfg.Prefix, "bin", "*.app"))
	if err != nil {
		return result, fmt.Errorf("failed to look for application bundles: %w", err)
	}
	if len(apps) == 0 {
		log.Debug().Msg("no application bundles to install")
		return result, nil
	}

	args := append([]string{"mv"}, apps...)
	args = append(args, i.cfg.Prefix+"/")
	step, err := i.run(ctx, Command{Step: StepInstallApps, Args: args, Dir: i.cfg.BuildDir, Env: env})
	result.Steps = append(result.Steps, step)
	if err != nil {
		return result, err
	}
	result.ExitCode = step.ExitCode
	return result, nil
}

func (i *Invoker) run(ctx context.Context, cmd Command) (engine.StepResult, error) {
	ctx, span := i.tracer.Start(ctx, "build.step", trace.WithAttributes(
		telemetry.AttrStep.String(cmd.Step),
		telemetry.AttrTarget.String(i.runner.Target()),
	))
	defer span.End()

	i.listener.StepStarted(ctx, cmd.Step, cmd.Args)
	start := time.Now()
	output, code, err := i.runner.Run(ctx, cmd)
	step := engine.StepResult{
		Step:     cmd.Step,
		Command:  cmd.Args,
		ExitCode: code,
		Output:   output,
		Duration: time.Since(start),
	}
	if err != nil && step.ExitCode == 0 {
		step.ExitCode = -1
	}
	i.listener.StepFinished(ctx, step)

	span.SetAttributes(telemetry.AttrExitCode.Int(step.ExitCode))
	switch {
	case err != nil:
		telemetry.RecordError(span, err)
		return step, fmt.Errorf("step %s: %w", cmd.Step, err)
	case step.ExitCode != 0:
		telemetry.RecordError(span, fmt.Errorf("%s exited with status %d", cmd.Args[0], step.ExitCode))
	default:
		telemetry.RecordSuccess(span)
	}
	return step, nil
}

type nopListener struct{}

func (nopListener) StepStarted(context.Context, string, []string) {}
func (nopListener) StepFinished(context.Context, engine.StepResult) {}
