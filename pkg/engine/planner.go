package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// planNamespace seeds deterministic plan IDs.
var planNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/openfroyo/pclforge/plan"))

// Planner turns user option input into a resolved build plan and hands the
// plan to a build invoker.
type Planner struct {
	recipe   *Recipe
	resolver *Resolver
	synth    *Synthesizer
	probe    Probe

	policy   PolicyEvaluator
	hooks    []Hook
	recorder PlanRecorder
	observer Observer
	tracer   trace.Tracer
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithPolicy evaluates policies on every plan.
func WithPolicy(p PolicyEvaluator) PlannerOption {
	return func(pl *Planner) { pl.policy = p }
}

// WithHooks appends hook contributions after synthesis.
func WithHooks(hooks ...Hook) PlannerOption {
	return func(pl *Planner) { pl.hooks = append(pl.hooks, hooks...) }
}

// WithRecorder persists every successful plan.
func WithRecorder(r PlanRecorder) PlannerOption {
	return func(pl *Planner) { pl.recorder = r }
}

// WithObserver reports measurements to o.
func WithObserver(o Observer) PlannerOption {
	return func(pl *Planner) { pl.observer = o }
}

// NewPlanner validates the recipe and creates a planner.
func NewPlanner(recipe *Recipe, probe Probe, opts ...PlannerOption) (*Planner, error) {
	if recipe == nil {
		return nil, NewInternalError("recipe is nil", nil)
	}
	if err := recipe.Validate(); err != nil {
		return nil, err
	}

	p := &Planner{
		recipe:   recipe,
		resolver: NewResolver(recipe),
		synth:    NewSynthesizer(recipe),
		probe:    probe,
		observer: nopObserver{},
		tracer:   otel.Tracer("github.com/openfroyo/pclforge/pkg/engine"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Recipe returns the recipe the planner compiles.
func (p *Planner) Recipe() *Recipe {
	return p.recipe
}

// Plan builds the option set, resolves dependencies, synthesizes arguments
// and evaluates policies. Any failure aborts the pass; no partial plan is
// returned.
func (p *Planner) Plan(ctx context.Context, input map[string]string) (plan *BuildPlan, err error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "plan", trace.WithAttributes(
		attribute.String("recipe", p.recipe.Name),
		attribute.String("version", p.recipe.Version),
	))
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = string(ClassOf(err))
			p.observer.ObserveError(ClassOf(err), codeOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("plan.id", plan.ID))
			span.SetStatus(codes.Ok, "")
		}
		p.observer.ObservePlan(outcome, time.Since(start))
		span.End()
	}()

	opts, err := p.recipe.NewOptionSet(input)
	if err != nil {
		return nil, err
	}
	for _, name := range opts.Ignored() {
		log.Debug().Str("option", name).Msg("ignoring option")
	}

	_, rspan := p.tracer.Start(ctx, "resolve")
	res, err := p.resolver.Resolve(ctx, opts, p.probe)
	rspan.End()
	if res != nil {
		for _, r := range res.Requirements {
			p.observer.ObserveRequirement(r.Name, r.Satisfied)
		}
	}
	if err != nil {
		return nil, err
	}

	_, sspan := p.tracer.Start(ctx, "synthesize")
	syn := p.synth.Synthesize(opts)
	sspan.End()

	var env EnvList
	env.AddAll(res.Env)
	env.AddAll(syn.Env)
	args := syn.Args

	for _, h := range p.hooks {
		out, err := h.Extend(ctx, opts.Effective())
		if err != nil {
			return nil, NewConfigurationError(fmt.Sprintf("hook %s failed", h.Name())).
				WithCode(ErrCodeHookFailed).
				WithErr(err)
		}
		if out == nil {
			continue
		}
		args = append(args, out.Args...)
		env.AddAll(out.Env)
	}

	levels, err := NewDAGBuilder().Build(res.Dependencies)
	if err != nil {
		return nil, err
	}

	plan = &BuildPlan{
		Recipe:        p.recipe.Name,
		Version:       p.recipe.Version,
		Options:       opts.Effective(),
		Dependencies:  res.Dependencies,
		Requirements:  res.Requirements,
		InstallLevels: levels,
		Args:          args,
		Env:           env.Items(),
		Warnings:      res.Warnings,
		Skipped:       res.Skipped,
		Ignored:       opts.Ignored(),
	}

	if err := p.evaluatePolicy(ctx, plan); err != nil {
		return nil, err
	}

	if err := Seal(plan); err != nil {
		return nil, err
	}

	if p.recorder != nil {
		if err := p.recorder.SavePlan(ctx, plan); err != nil {
			return nil, fmt.Errorf("failed to record plan: %w", err)
		}
	}

	log.Debug().
		Str("plan_id", plan.ID).
		Int("dependencies", len(plan.Dependencies)).
		Int("args", len(plan.Args)).
		Msg("plan resolved")

	return plan, nil
}

func (p *Planner) evaluatePolicy(ctx context.Context, plan *BuildPlan) error {
	if p.policy == nil {
		return nil
	}
	result, err := p.policy.EvaluatePlan(ctx, plan)
	if err != nil {
		return NewInternalError("policy evaluation failed", err)
	}
	for _, w := range result.Warnings {
		plan.PolicyFindings = append(plan.PolicyFindings, PolicyFinding{
			Policy: w.Policy, Severity: w.Severity, Message: w.Message,
		})
	}
	if !result.Allowed {
		var msgs []string
		for _, v := range result.Violations {
			msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
		}
		return NewConfigurationError(fmt.Sprintf("plan denied by policy: %v", msgs)).
			WithCode(ErrCodePolicyDenied).
			WithDetail("violations", result.Violations)
	}
	return nil
}

// Seal computes the plan fingerprint and the ID derived from it.
func Seal(plan *BuildPlan) error {
	canonical, err := json.Marshal(struct {
		Recipe       string        `json:"recipe"`
		Version      string        `json:"version"`
		Options      []OptionValue `json:"options"`
		Dependencies []Dependency  `json:"dependencies"`
		Args         []string      `json:"args"`
		Env          []EnvMutation `json:"env"`
	}{plan.Recipe, plan.Version, plan.Options, plan.Dependencies, plan.Args, plan.Env})
	if err != nil {
		return NewInternalError("failed to encode plan", err)
	}
	sum := sha256.Sum256(canonical)
	plan.Fingerprint = hex.EncodeToString(sum[:])
	plan.ID = uuid.NewSHA1(planNamespace, sum[:]).String()
	return nil
}

// Build runs the native build through the invoker. A nonzero exit status is
// an unrecoverable failure for this attempt and is returned as a
// BuildInvocationFailure carrying the captured diagnostics verbatim.
func (p *Planner) Build(ctx context.Context, plan *BuildPlan, invoker Invoker) (*InvocationResult, error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "build", trace.WithAttributes(attribute.String("plan.id", plan.ID)))
	defer span.End()

	result, err := invoker.Invoke(ctx, plan)
	status := string(RunStatusSucceeded)
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		status = string(RunStatusCancelled)
		err = NewBuildInvocationFailure(lastStep(result), -1, diagnostics(result), err).WithCode(ErrCodeBuildCanceled)
	case err != nil:
		status = string(RunStatusFailed)
		var ee *EngineError
		if !errors.As(err, &ee) {
			err = NewBuildInvocationFailure(lastStep(result), -1, diagnostics(result), err)
		}
	case result == nil:
		status = string(RunStatusFailed)
		err = NewInternalError("invoker returned no result", nil)
	case result.ExitCode != 0:
		status = string(RunStatusFailed)
		output := ""
		if n := len(result.Steps); n > 0 {
			output = result.Steps[n-1].Output
		}
		err = NewBuildInvocationFailure(lastStep(result), result.ExitCode, output, nil)
	}

	p.observer.ObserveBuild(status, time.Since(start))
	if err != nil {
		p.observer.ObserveError(ClassOf(err), codeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		return result, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func lastStep(r *InvocationResult) string {
	if r == nil || len(r.Steps) == 0 {
		return ""
	}
	return r.Steps[len(r.Steps)-1].Step
}

func diagnostics(r *InvocationResult) string {
	if r == nil {
		return ""
	}
	return r.Diagnostics()
}

func codeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
