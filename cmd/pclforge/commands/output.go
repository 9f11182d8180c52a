package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/pclforge/pkg/engine"
	"github.com/openfroyo/pclforge/pkg/render"
)

// writePlan prints plan in format: text, json, yaml or dot.
func writePlan(w io.Writer, plan *engine.BuildPlan, format string) error {
	switch format {
	case "text", "":
		writePlanText(w, plan)
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(plan); err != nil {
			return err
		}
		return enc.Close()
	case "dot":
		dot, err := render.DOT(plan)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, dot)
		return err
	default:
		return fmt.Errorf("unsupported format %q (use text, json, yaml or dot)", format)
	}
}

func writePlanText(w io.Writer, plan *engine.BuildPlan) {
	fmt.Fprintf(w, "Plan %s (%s %s)\n", plan.ID, plan.Recipe, plan.Version)

	fmt.Fprintln(w, "\nDependencies:")
	for i, level := range plan.InstallLevels {
		fmt.Fprintf(w, "  level %d: %s\n", i, strings.Join(annotated(plan, level), ", "))
	}

	if len(plan.Requirements) > 0 {
		fmt.Fprintln(w, "\nRequirements:")
		for _, r := range plan.Requirements {
			state := "missing"
			if r.Satisfied {
				state = "found"
				if r.Location != "" {
					state += " at " + r.Location
				}
			}
			fmt.Fprintf(w, "  %s (%s): %s\n", r.Name, r.Severity, state)
		}
	}

	fmt.Fprintln(w, "\nArguments:")
	for _, arg := range plan.Args {
		fmt.Fprintf(w, "  %s\n", arg)
	}

	if len(plan.Env) > 0 {
		fmt.Fprintln(w, "\nEnvironment:")
		for _, m := range plan.Env {
			fmt.Fprintf(w, "  %s %s %q\n", m.Op, m.Variable, m.Value)
		}
	}

	if len(plan.Warnings) > 0 || len(plan.PolicyFindings) > 0 {
		fmt.Fprintln(w, "\nWarnings:")
		for _, warn := range plan.Warnings {
			fmt.Fprintf(w, "  %s: %s\n", warn.Source, strings.TrimSpace(warn.Message))
		}
		for _, f := range plan.PolicyFindings {
			fmt.Fprintf(w, "  policy %s: %s\n", f.Policy, f.Message)
		}
	}

	if len(plan.Skipped) > 0 {
		fmt.Fprintf(w, "\nSkipped: %s\n", strings.Join(plan.Skipped, ", "))
	}
	if len(plan.Ignored) > 0 {
		fmt.Fprintf(w, "Ignored options: %s\n", strings.Join(plan.Ignored, ", "))
	}
}

// annotated returns names with their variant arguments, e.g. vtk[with-qt5].
func annotated(plan *engine.BuildPlan, names []string) []string {
	args := make(map[string][]string, len(plan.Dependencies))
	for _, d := range plan.Dependencies {
		args[d.Name] = d.Args
	}
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = name
		if a := args[name]; len(a) > 0 {
			out[i] += "[" + strings.Join(a, ", ") + "]"
		}
	}
	return out
}
