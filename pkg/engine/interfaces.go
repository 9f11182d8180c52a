package engine

import (
	"context"
	"time"
)

// Probe checks whether an external capability is present on the host.
// Absence is reported as an unsatisfied result; an error means the probe
// itself is broken.
type Probe interface {
	Check(ctx context.Context, req Requirement) (ProbeResult, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context, req Requirement) (ProbeResult, error)

// Check calls f.
func (f ProbeFunc) Check(ctx context.Context, req Requirement) (ProbeResult, error) {
	return f(ctx, req)
}

// Invoker runs the native build for a resolved plan. It returns an error only
// when the build could not be started or was cancelled; a step exiting
// nonzero is reported through InvocationResult.ExitCode.
type Invoker interface {
	Invoke(ctx context.Context, plan *BuildPlan) (*InvocationResult, error)
}

// PolicyEvaluator evaluates policies against a resolved plan.
type PolicyEvaluator interface {
	EvaluatePlan(ctx context.Context, plan *BuildPlan) (*PolicyResult, error)
}

// PolicyResult represents the result of policy evaluation.
type PolicyResult struct {
	// Allowed is false when any deny rule matched.
	Allowed bool `json:"allowed"`

	// Violations lists deny findings.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings lists warn findings.
	Warnings []PolicyViolation `json:"warnings,omitempty"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// PolicyViolation represents a single policy finding.
type PolicyViolation struct {
	Policy   string `json:"policy"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// HookResult is what a hook contributes to a plan.
type HookResult struct {
	Args []string
	Env  []EnvMutation
}

// Hook extends the synthesized arguments. Hooks must be deterministic.
type Hook interface {
	Name() string
	Extend(ctx context.Context, options []OptionValue) (*HookResult, error)
}

// PlanRecorder persists resolved plans.
type PlanRecorder interface {
	SavePlan(ctx context.Context, plan *BuildPlan) error
}

// Observer receives measurements from the planner and build steps.
type Observer interface {
	ObservePlan(outcome string, duration time.Duration)
	ObserveRequirement(name string, satisfied bool)
	ObserveBuild(status string, duration time.Duration)
	ObserveError(class ErrorClass, code string)
}

type nopObserver struct{}

func (nopObserver) ObservePlan(string, time.Duration)  {}
func (nopObserver) ObserveRequirement(string, bool)    {}
func (nopObserver) ObserveBuild(string, time.Duration) {}
func (nopObserver) ObserveError(ErrorClass, string)    {}
