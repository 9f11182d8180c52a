package engine

import (
	"time"
)

// Severity is the consequence of an unsatisfied requirement.
type Severity string

const (
	// SeverityFatal aborts resolution when the requirement is unsatisfied.
	SeverityFatal Severity = "fatal"

	// SeverityAdvisory records a warning with the remediation text and proceeds.
	SeverityAdvisory Severity = "advisory"
)

// Phase is when a requirement or dependency is needed.
type Phase string

const (
	PhaseBuild   Phase = "build"
	PhaseRuntime Phase = "runtime"
)

// CheckKind is the host capability a probe inspects.
type CheckKind string

const (
	// CheckExecutable resolves an executable name on the search path.
	CheckExecutable CheckKind = "executable"

	// CheckEnv tests that an environment variable is present and non-empty.
	CheckEnv CheckKind = "env"

	// CheckPath tests that a file or directory exists.
	CheckPath CheckKind = "path"

	// CheckPlugin delegates to a WASM probe plugin.
	CheckPlugin CheckKind = "plugin"
)

// Check describes what a probe has to look for.
type Check struct {
	Kind   CheckKind `json:"kind" yaml:"kind"`
	Target string    `json:"target" yaml:"target"`
}

func (c Check) String() string {
	return string(c.Kind) + ":" + c.Target
}

// ProbeResult is the outcome of a single requirement check. An absent
// capability is a normal result, not an error.
type ProbeResult struct {
	Satisfied bool `json:"satisfied"`

	// Location is where the capability was found (resolved executable path,
	// variable value, path), if satisfied.
	Location string `json:"location,omitempty"`
}

// Requirement is a named external capability gating an optional feature.
type Requirement struct {
	// Name identifies the requirement in rules, errors and metrics.
	Name string `json:"name"`

	// Severity decides between abort and warning when unsatisfied.
	Severity Severity `json:"severity"`

	// Phase is informational: when the capability is needed.
	Phase Phase `json:"phase"`

	// Check is the satisfaction predicate handed to the probe.
	Check Check `json:"check"`

	// Remediation is the multi-line message shown to the user when the
	// requirement is unsatisfied.
	Remediation string `json:"remediation"`

	// Env derives environment mutations from a satisfied probe result.
	Env func(ProbeResult) []EnvMutation `json:"-"`
}

// RequirementResult records how a requirement was evaluated in a pass.
type RequirementResult struct {
	Name      string   `json:"name" yaml:"name"`
	Severity  Severity `json:"severity" yaml:"severity"`
	Satisfied bool     `json:"satisfied" yaml:"satisfied"`
	Location  string   `json:"location,omitempty" yaml:"location,omitempty"`
}

// Dependency is a named external library or tool the build needs.
type Dependency struct {
	// Name is the package name; dependencies are deduplicated by name.
	Name string `json:"name" yaml:"name"`

	// Phase is build for tools only needed to compile, runtime otherwise.
	Phase Phase `json:"phase" yaml:"phase"`

	// Args are variant sub-arguments, e.g. "with-qt5".
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Recommended marks dependencies included by default when available.
	Recommended bool `json:"recommended,omitempty" yaml:"recommended,omitempty"`

	// After lists dependency names that must be installed first. Names not
	// present in the resolved list are ignored.
	After []string `json:"after,omitempty" yaml:"after,omitempty"`
}

// DependencyRule activates dependencies and requirements when its condition
// holds.
type DependencyRule struct {
	// Name identifies the rule in logs and graph output.
	Name string

	// When is the activation condition.
	When Condition

	// Requires names requirements evaluated when the rule is active.
	Requires []string

	// IfAvailable names a requirement that, when unsatisfied, silently skips
	// this rule's dependencies. Used for recommended-if-available deps.
	IfAvailable string

	// Dependencies are appended in order when the rule is active.
	Dependencies []Dependency
}

// Warning is a non-fatal finding attached to a plan.
type Warning struct {
	Source  string `json:"source" yaml:"source"`
	Message string `json:"message" yaml:"message"`
}

// PolicyFinding is a policy result attached to a plan.
type PolicyFinding struct {
	Policy   string `json:"policy" yaml:"policy"`
	Severity string `json:"severity" yaml:"severity"`
	Message  string `json:"message" yaml:"message"`
}

// Layout is the installation layout the recipe is compiled against.
type Layout struct {
	// Prefix is the install prefix for this package (keg).
	Prefix string `json:"prefix" yaml:"prefix"`

	// OptRoot holds one directory per installed dependency.
	OptRoot string `json:"opt_root" yaml:"opt_root"`

	// BuildType is the CMake build type.
	BuildType string `json:"build_type" yaml:"build_type"`
}

// Resolution is the output of the dependency resolver.
type Resolution struct {
	Dependencies []Dependency
	Requirements []RequirementResult
	Warnings     []Warning

	// Env holds mutations contributed by satisfied requirements, in
	// evaluation order.
	Env []EnvMutation

	// Skipped lists rules whose availability gate was unsatisfied.
	Skipped []string
}

// Synthesis is the output of the argument synthesizer.
type Synthesis struct {
	Args []string
	Env  []EnvMutation
}

// BuildPlan is the resolved build plan handed to the build invoker.
type BuildPlan struct {
	// ID is derived from Fingerprint; identical inputs give identical IDs.
	ID string `json:"id" yaml:"id"`

	// Fingerprint is the hex SHA-256 of the canonical plan content.
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`

	Recipe  string `json:"recipe" yaml:"recipe"`
	Version string `json:"version" yaml:"version"`

	Options      []OptionValue       `json:"options" yaml:"options"`
	Dependencies []Dependency        `json:"dependencies" yaml:"dependencies"`
	Requirements []RequirementResult `json:"requirements,omitempty" yaml:"requirements,omitempty"`

	// InstallLevels groups dependency names by install order; names within
	// a level have no ordering constraint between them.
	InstallLevels [][]string `json:"install_levels" yaml:"install_levels"`

	Args []string      `json:"args" yaml:"args"`
	Env  []EnvMutation `json:"env" yaml:"env"`

	Warnings       []Warning       `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	PolicyFindings []PolicyFinding `json:"policy_findings,omitempty" yaml:"policy_findings,omitempty"`
	Skipped        []string        `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Ignored        []string        `json:"ignored,omitempty" yaml:"ignored,omitempty"`
}

// DependencyNames returns the ordered dependency names.
func (p *BuildPlan) DependencyNames() []string {
	names := make([]string, len(p.Dependencies))
	for i, d := range p.Dependencies {
		names[i] = d.Name
	}
	return names
}

// Run records one build attempt of a plan.
type Run struct {
	ID          string     `json:"id"`
	PlanID      string     `json:"plan_id"`
	Status      RunStatus  `json:"status"`
	Target      string     `json:"target"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExitCode    int        `json:"exit_code"`
	Error       string     `json:"error,omitempty"`
}

// StepResult is the outcome of one native build step.
type StepResult struct {
	Step     string        `json:"step"`
	Command  []string      `json:"command"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// InvocationResult is what the build invoker reports back to the core.
type InvocationResult struct {
	ExitCode int          `json:"exit_code"`
	Steps    []StepResult `json:"steps"`
}

// Diagnostics concatenates the captured output of every step.
func (r *InvocationResult) Diagnostics() string {
	var out string
	for _, s := range r.Steps {
		out += s.Output
	}
	return out
}
