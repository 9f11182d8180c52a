package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fakePolicy struct {
	result *PolicyResult
	err    error
	seen   *BuildPlan
}

func (f *fakePolicy) EvaluatePlan(_ context.Context, plan *BuildPlan) (*PolicyResult, error) {
	f.seen = plan
	return f.result, f.err
}

type fakeHook struct {
	result *HookResult
	err    error
}

func (f fakeHook) Name() string { return "fake" }

func (f fakeHook) Extend(context.Context, []OptionValue) (*HookResult, error) {
	return f.result, f.err
}

type memoryRecorder struct {
	plans []*BuildPlan
}

func (m *memoryRecorder) SavePlan(_ context.Context, plan *BuildPlan) error {
	m.plans = append(m.plans, plan)
	return nil
}

type recordingObserver struct {
	plans  []string
	reqs   map[string]bool
	builds []string
	errors []ErrorClass
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{reqs: map[string]bool{}}
}

func (o *recordingObserver) ObservePlan(outcome string, _ time.Duration) {
	o.plans = append(o.plans, outcome)
}

func (o *recordingObserver) ObserveRequirement(name string, satisfied bool) {
	o.reqs[name] = satisfied
}

func (o *recordingObserver) ObserveBuild(status string, _ time.Duration) {
	o.builds = append(o.builds, status)
}

func (o *recordingObserver) ObserveError(class ErrorClass, _ string) {
	o.errors = append(o.errors, class)
}

type invokerFunc func(ctx context.Context, plan *BuildPlan) (*InvocationResult, error)

func (f invokerFunc) Invoke(ctx context.Context, plan *BuildPlan) (*InvocationResult, error) {
	return f(ctx, plan)
}

func newTestPlanner(t *testing.T, probe Probe, opts ...PlannerOption) *Planner {
	t.Helper()
	p, err := NewPlanner(testRecipe(), probe, opts...)
	if err != nil {
		t.Fatalf("NewPlanner failed: %v", err)
	}
	return p
}

func TestNewPlanner_InvalidRecipe(t *testing.T) {
	r := testRecipe()
	r.Options = append(r.Options, OptionSpec{Name: "orphan", Kind: OptionBool, Default: "false"})
	if _, err := NewPlanner(r, newCountingProbe(nil)); err == nil {
		t.Fatal("Expected invalid recipe to be rejected")
	}
}

func TestPlanner_DeterministicID(t *testing.T) {
	p := newTestPlanner(t, newCountingProbe(nil))
	ctx := context.Background()

	first, err := p.Plan(ctx, map[string]string{"docs": "true"})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	second, err := p.Plan(ctx, map[string]string{"docs": "yes"})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if first.ID == "" || first.ID != second.ID {
		t.Errorf("Expected identical IDs for equivalent input, got %q and %q", first.ID, second.ID)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Plans differ (-first +second):\n%s", diff)
	}

	other, err := p.Plan(ctx, nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if other.ID == first.ID {
		t.Error("Expected different input to give a different ID")
	}
}

func TestPlanner_ExclusiveGroupProbesNothing(t *testing.T) {
	probe := newCountingProbe(nil)
	p := newTestPlanner(t, probe)

	plan, err := p.Plan(context.Background(), map[string]string{"tk-a": "true", "tk-b": "true", "gpu": "true"})
	if plan != nil {
		t.Error("Expected no plan")
	}
	var ee *EngineError
	if !asEngineError(err, &ee) || ee.Code != ErrCodeExclusiveGroup {
		t.Fatalf("Expected %s, got: %v", ErrCodeExclusiveGroup, err)
	}
	if probe.total() != 0 {
		t.Errorf("Expected no probe calls, got %v", probe.calls)
	}
}

func TestPlanner_EnvOrder(t *testing.T) {
	probe := newCountingProbe(map[string]ProbeResult{
		"gpu-compiler": {Satisfied: true, Location: "/opt/gpu/bin/gpucc"},
		"sensor-env":   {Satisfied: true, Location: "/opt/sensor"},
	})
	p := newTestPlanner(t, probe)

	plan, err := p.Plan(context.Background(), map[string]string{"gpu": "true", "sensor": "true"})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	want := []EnvMutation{
		{Variable: "PATH", Op: EnvAppend, Value: "/opt/gpu/bin", Separator: ":"},
		{Variable: "SENSOR_INC", Op: EnvAppend, Value: "/usr/local/opt/sensordrv/include", Separator: " "},
	}
	if diff := cmp.Diff(want, plan.Env); diff != "" {
		t.Errorf("Env mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]string{{"make", "zlib", "gpurt"}, {"sensordrv"}}, plan.InstallLevels); diff != "" {
		t.Errorf("InstallLevels mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanner_Policy(t *testing.T) {
	t.Run("warnings become findings", func(t *testing.T) {
		policy := &fakePolicy{result: &PolicyResult{
			Allowed:  true,
			Warnings: []PolicyViolation{{Policy: "viz", Message: "viz is recommended", Severity: "warning"}},
		}}
		p := newTestPlanner(t, newCountingProbe(nil), WithPolicy(policy))

		plan, err := p.Plan(context.Background(), nil)
		if err != nil {
			t.Fatalf("Plan failed: %v", err)
		}
		want := []PolicyFinding{{Policy: "viz", Severity: "warning", Message: "viz is recommended"}}
		if diff := cmp.Diff(want, plan.PolicyFindings); diff != "" {
			t.Errorf("PolicyFindings mismatch (-want +got):\n%s", diff)
		}
		if policy.seen == nil || len(policy.seen.Args) == 0 {
			t.Error("Expected policy to see the synthesized plan")
		}
	})

	t.Run("deny aborts", func(t *testing.T) {
		policy := &fakePolicy{result: &PolicyResult{
			Violations: []PolicyViolation{{Policy: "site", Message: "docs are not allowed", Severity: "error"}},
		}}
		p := newTestPlanner(t, newCountingProbe(nil), WithPolicy(policy))

		_, err := p.Plan(context.Background(), map[string]string{"docs": "true"})
		var ee *EngineError
		if !asEngineError(err, &ee) || ee.Code != ErrCodePolicyDenied {
			t.Fatalf("Expected %s, got: %v", ErrCodePolicyDenied, err)
		}
	})

	t.Run("evaluation error is internal", func(t *testing.T) {
		policy := &fakePolicy{err: errors.New("rego compile error")}
		p := newTestPlanner(t, newCountingProbe(nil), WithPolicy(policy))

		_, err := p.Plan(context.Background(), nil)
		var ee *EngineError
		if !asEngineError(err, &ee) || ee.Class != ErrorClassInternal || ee.Code != ErrCodeInternal {
			t.Fatalf("Expected internal error, got: %v", err)
		}
	})
}

func TestPlanner_Hooks(t *testing.T) {
	hook := fakeHook{result: &HookResult{
		Args: []string{"-DEXTRA=1"},
		Env:  []EnvMutation{Set("CC", "clang")},
	}}
	p := newTestPlanner(t, newCountingProbe(nil), WithHooks(hook))

	plan, err := p.Plan(context.Background(), nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if last := plan.Args[len(plan.Args)-1]; last != "-DEXTRA=1" {
		t.Errorf("Expected hook args appended last, got %q", last)
	}
	if diff := cmp.Diff([]EnvMutation{Set("CC", "clang")}, plan.Env); diff != "" {
		t.Errorf("Env mismatch (-want +got):\n%s", diff)
	}

	failing := newTestPlanner(t, newCountingProbe(nil), WithHooks(fakeHook{err: errors.New("starlark: undefined")}))
	if _, err := failing.Plan(context.Background(), nil); !IsConfigurationError(err) {
		t.Fatalf("Expected configuration error from failing hook, got: %v", err)
	}
}

func TestPlanner_RecorderAndObserver(t *testing.T) {
	rec := &memoryRecorder{}
	obs := newRecordingObserver()
	p := newTestPlanner(t, newCountingProbe(nil), WithRecorder(rec), WithObserver(obs))

	plan, err := p.Plan(context.Background(), nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(rec.plans) != 1 || rec.plans[0].ID != plan.ID {
		t.Errorf("Expected plan to be recorded once, got %d", len(rec.plans))
	}

	if _, err := p.Plan(context.Background(), map[string]string{"gpu": "true"}); err == nil {
		t.Fatal("Expected unsatisfied fatal requirement")
	}
	if len(rec.plans) != 1 {
		t.Error("Failed plans must not be recorded")
	}

	if diff := cmp.Diff([]string{"success", string(ErrorClassRequirement)}, obs.plans); diff != "" {
		t.Errorf("Plan outcomes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]bool{"viz-present": false}, obs.reqs); diff != "" {
		t.Errorf("Requirement observations mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]ErrorClass{ErrorClassRequirement}, obs.errors); diff != "" {
		t.Errorf("Error observations mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanner_Build(t *testing.T) {
	p := newTestPlanner(t, newCountingProbe(nil))
	plan, err := p.Plan(context.Background(), nil)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	t.Run("success", func(t *testing.T) {
		inv := invokerFunc(func(context.Context, *BuildPlan) (*InvocationResult, error) {
			return &InvocationResult{Steps: []StepResult{{Step: "configure"}, {Step: "build"}}}, nil
		})
		result, err := p.Build(context.Background(), plan, inv)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if len(result.Steps) != 2 {
			t.Errorf("Expected 2 steps, got %d", len(result.Steps))
		}
	})

	t.Run("nonzero exit", func(t *testing.T) {
		inv := invokerFunc(func(context.Context, *BuildPlan) (*InvocationResult, error) {
			return &InvocationResult{
				ExitCode: 2,
				Steps: []StepResult{
					{Step: "configure", Output: "-- Configuring done\n"},
					{Step: "build", ExitCode: 2, Output: "make: *** [all] Error 2\n"},
				},
			}, nil
		})
		_, err := p.Build(context.Background(), plan, inv)
		if !IsBuildInvocationFailure(err) {
			t.Fatalf("Expected BuildInvocationFailure, got: %v", err)
		}
		var ee *EngineError
		asEngineError(err, &ee)
		if ee.Step != "build" || ee.ExitCode != 2 {
			t.Errorf("Expected step build exit 2, got step %q exit %d", ee.Step, ee.ExitCode)
		}
		if ee.Diagnostics != "make: *** [all] Error 2\n" {
			t.Errorf("Expected verbatim diagnostics, got %q", ee.Diagnostics)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		inv := invokerFunc(func(ctx context.Context, _ *BuildPlan) (*InvocationResult, error) {
			return &InvocationResult{ExitCode: -1}, ctx.Err()
		})
		_, err := p.Build(ctx, plan, inv)
		var ee *EngineError
		if !asEngineError(err, &ee) || ee.Code != ErrCodeBuildCanceled {
			t.Fatalf("Expected %s, got: %v", ErrCodeBuildCanceled, err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Error("Expected the context error to be wrapped")
		}
	})

	t.Run("start failure", func(t *testing.T) {
		inv := invokerFunc(func(context.Context, *BuildPlan) (*InvocationResult, error) {
			return nil, errors.New("exec: \"cmake\": executable file not found in $PATH")
		})
		_, err := p.Build(context.Background(), plan, inv)
		if !IsBuildInvocationFailure(err) {
			t.Fatalf("Expected BuildInvocationFailure, got: %v", err)
		}
	})

	t.Run("no result", func(t *testing.T) {
		inv := invokerFunc(func(context.Context, *BuildPlan) (*InvocationResult, error) {
			return nil, nil
		})
		result, err := p.Build(context.Background(), plan, inv)
		var ee *EngineError
		if !asEngineError(err, &ee) || ee.Class != ErrorClassInternal || ee.Code != ErrCodeInternal {
			t.Fatalf("Expected internal error, got: %v", err)
		}
		if result != nil {
			t.Errorf("Expected nil result, got %+v", result)
		}
	})
}
