package policy

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/pclforge/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

// testPlan returns a plan with PCL-like defaults overridden by explicit.
func testPlan(explicit map[string]string) *engine.BuildPlan {
	defaults := map[string]string{
		"apps":         "true",
		"apps-modeler": "auto",
		"cuda":         "false",
		"gpu-people":   "on",
		"qt":           "false",
		"qt5":          "false",
		"vtk":          "auto",
	}
	var opts []engine.OptionValue
	for _, name := range []string{"apps", "apps-modeler", "cuda", "gpu-people", "qt", "qt5", "vtk"} {
		v, ok := explicit[name]
		if !ok {
			v = defaults[name]
		}
		opts = append(opts, engine.OptionValue{Name: name, Value: v, Explicit: ok})
	}
	return &engine.BuildPlan{
		Recipe:       "pcl",
		Version:      "1.8.1",
		Options:      opts,
		Dependencies: []engine.Dependency{{Name: "cmake", Phase: engine.PhaseBuild}, {Name: "boost", Phase: engine.PhaseRuntime}},
		Args:         []string{"-Wno-dev"},
	}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	var names []string
	for _, p := range eng.ListPolicies() {
		names = append(names, p.Name)
		if !p.Builtin || !p.Enabled {
			t.Errorf("Expected %s to be an enabled builtin", p.Name)
		}
	}
	if diff := cmp.Diff([]string{"apps-visualization", "gpu-modules", "modeler-toolkit"}, names); diff != "" {
		t.Errorf("Builtin policies mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluatePlan_Builtins(t *testing.T) {
	tests := []struct {
		name     string
		explicit map[string]string
		want     []engine.PolicyViolation
	}{
		{
			name:     "defaults",
			explicit: nil,
		},
		{
			name:     "apps with vtk off",
			explicit: map[string]string{"vtk": "off"},
			want: []engine.PolicyViolation{{
				Policy:   "apps-visualization",
				Severity: "warning",
				Message:  "apps are enabled but vtk=off; apps that need visualization will not be built",
			}},
		},
		{
			name:     "apps off with vtk off",
			explicit: map[string]string{"vtk": "off", "apps": "false"},
		},
		{
			name:     "modeler forced without toolkit",
			explicit: map[string]string{"apps-modeler": "on"},
			want: []engine.PolicyViolation{{
				Policy:   "modeler-toolkit",
				Severity: "warning",
				Message:  "apps-modeler=on without qt or qt5; the modeler will fail to configure",
			}},
		},
		{
			name:     "modeler forced with qt5",
			explicit: map[string]string{"apps-modeler": "on", "qt5": "true"},
		},
		{
			name:     "gpu module without cuda",
			explicit: map[string]string{"gpu-people": "on"},
			want: []engine.PolicyViolation{{
				Policy:   "gpu-modules",
				Severity: "info",
				Message:  "gpu-people=on has no effect without cuda",
			}},
		},
		{
			name:     "gpu module with cuda",
			explicit: map[string]string{"gpu-people": "on", "cuda": "true"},
		},
	}

	eng := newTestEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluatePlan(context.Background(), testPlan(tt.explicit))
			if err != nil {
				t.Fatalf("EvaluatePlan failed: %v", err)
			}
			if !result.Allowed {
				t.Errorf("Builtin policies must never deny, got %+v", result.Violations)
			}
			if diff := cmp.Diff(tt.want, result.Warnings); diff != "" {
				t.Errorf("Warnings mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEvaluatePlan_UserDeny(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	err := eng.AddPolicies(ctx, []Policy{{
		Name:    "no-cuda",
		Enabled: true,
		Rego: `package site.no_cuda

import rego.v1

deny contains "cuda builds are not allowed on this host" if {
	input.options.cuda == "true"
}

deny contains {"message": "boost is pinned", "severity": "critical"} if {
	"boost" in input.dependencies
	input.options.cuda == "true"
}
`,
	}})
	if err != nil {
		t.Fatalf("AddPolicies failed: %v", err)
	}

	result, err := eng.EvaluatePlan(ctx, testPlan(map[string]string{"cuda": "true"}))
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if result.Allowed {
		t.Error("Expected plan to be denied")
	}
	want := []engine.PolicyViolation{
		{Policy: "no-cuda", Severity: "critical", Message: "boost is pinned"},
		{Policy: "no-cuda", Severity: "error", Message: "cuda builds are not allowed on this host"},
	}
	if diff := cmp.Diff(want, result.Violations); diff != "" {
		t.Errorf("Violations mismatch (-want +got):\n%s", diff)
	}

	result, err = eng.EvaluatePlan(ctx, testPlan(nil))
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected plan without cuda to be allowed, got %+v", result.Violations)
	}
}

func TestEvaluatePlan_RuntimeError(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	err := eng.AddPolicies(ctx, []Policy{{
		Name:    "conflict",
		Enabled: true,
		Rego: `package site.conflict

import rego.v1

level := "a" if input.options.apps == "true"
level := "b" if input.options.vtk == "auto"
`,
	}})
	if err != nil {
		t.Fatalf("AddPolicies failed: %v", err)
	}

	if _, err := eng.EvaluatePlan(ctx, testPlan(nil)); err == nil {
		t.Error("Expected conflicting rule values to fail evaluation")
	}
}

func TestAddPolicies_Invalid(t *testing.T) {
	eng := newTestEngine(t)
	err := eng.AddPolicies(context.Background(), []Policy{
		{Name: "ok", Enabled: true, Rego: "package ok\n"},
		{Name: "broken", Enabled: true, Rego: "package broken\n\ndeny contains if {"},
	})
	if err == nil {
		t.Fatal("Expected compile error")
	}
	if _, err := eng.GetPolicy("ok"); err == nil {
		t.Error("Expected no policy to be added when one fails")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	plan := testPlan(map[string]string{"vtk": "off"})

	if err := eng.DisablePolicy("apps-visualization"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}
	result, err := eng.EvaluatePlan(ctx, plan)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Expected no warnings from a disabled policy, got %+v", result.Warnings)
	}

	if err := eng.EnablePolicy("apps-visualization"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}
	result, err = eng.EvaluatePlan(ctx, plan)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("Expected 1 warning, got %+v", result.Warnings)
	}

	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestReplacePolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.AddPolicies(ctx, []Policy{{Name: "old", Enabled: true, Rego: "package old\n"}}); err != nil {
		t.Fatalf("AddPolicies failed: %v", err)
	}
	if err := eng.ReplacePolicies(ctx, []Policy{{Name: "new", Enabled: true, Rego: "package new\n"}}); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}

	if _, err := eng.GetPolicy("old"); err == nil {
		t.Error("Expected old policy to be removed")
	}
	if _, err := eng.GetPolicy("new"); err != nil {
		t.Errorf("Expected new policy: %v", err)
	}
	if _, err := eng.GetPolicy("modeler-toolkit"); err != nil {
		t.Errorf("Expected builtins to survive replace: %v", err)
	}
}

func TestPlannerIntegration(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	if err := eng.AddPolicies(ctx, []Policy{{
		Name:    "deny-all",
		Enabled: true,
		Rego:    "package site.deny_all\n\nimport rego.v1\n\ndeny contains \"nothing is allowed\" if true\n",
	}}); err != nil {
		t.Fatalf("AddPolicies failed: %v", err)
	}

	var evaluator engine.PolicyEvaluator = eng
	result, err := evaluator.EvaluatePlan(ctx, testPlan(nil))
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if result.Allowed || len(result.Violations) != 1 {
		t.Errorf("Expected one deny, got %+v", result)
	}
}
