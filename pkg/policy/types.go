package policy

import (
	"time"

	"github.com/openfroyo/pclforge/pkg/engine"
)

// Severity represents the severity level of a policy finding.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is the default for warn rules.
	SeverityWarning Severity = "warning"

	// SeverityError is the default for deny rules.
	SeverityError Severity = "error"
)

// Policy represents a policy rule with its Rego code. A policy package may
// define a "deny" set, which blocks the plan, and a "warn" set, whose
// entries are attached to the plan as findings. Entries are either strings
// or objects with "message" and optional "severity".
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the tool.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`
}

// PolicyInput is the document policies see as "input".
type PolicyInput struct {
	Recipe  string `json:"recipe"`
	Version string `json:"version"`

	// Options maps option names to effective values: "true"/"false" for
	// booleans, "on"/"off"/"auto" for tri-states.
	Options map[string]string `json:"options"`

	// Explicit lists the options the user set.
	Explicit []string `json:"explicit"`

	Dependencies []string                   `json:"dependencies"`
	Requirements []engine.RequirementResult `json:"requirements"`
	Args         []string                   `json:"args"`
	Env          []engine.EnvMutation       `json:"env"`
	Warnings     []engine.Warning           `json:"warnings"`

	Context *PolicyContext `json:"context"`
}

// PolicyContext provides context information for policy evaluation.
type PolicyContext struct {
	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the operation being performed, e.g. "plan".
	Operation string `json:"operation,omitempty"`
}

// NewPolicyInput flattens a plan into policy input.
func NewPolicyInput(plan *engine.BuildPlan) *PolicyInput {
	in := &PolicyInput{
		Recipe:       plan.Recipe,
		Version:      plan.Version,
		Options:      make(map[string]string, len(plan.Options)),
		Explicit:     []string{},
		Dependencies: plan.DependencyNames(),
		Requirements: plan.Requirements,
		Args:         plan.Args,
		Env:          plan.Env,
		Warnings:     plan.Warnings,
		Context: &PolicyContext{
			Timestamp: time.Now(),
			Operation: "plan",
		},
	}
	for _, o := range plan.Options {
		in.Options[o.Name] = o.Value
		if o.Explicit {
			in.Explicit = append(in.Explicit, o.Name)
		}
	}
	return in
}
