package invoker

import (
	"context"
	"fmt"
	"path"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/openfroyo/pclforge/pkg/engine"
)

// Render returns the build as a POSIX shell script without running it. Each
// step is one line prefixed with the variables the plan changes relative to
// the runner's environment.
func (i *Invoker) Render(ctx context.Context, plan *engine.BuildPlan) (string, error) {
	base, err := i.runner.Environ(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read build environment: %w", err)
	}
	changed := ChangedEnv(base, engine.ApplyEnv(base, i.Env(plan)))

	var b strings.Builder
	fmt.Fprintf(&b, "# plan %s (%s %s) on %s\n", plan.ID, plan.Recipe, plan.Version, i.runner.Target())

	dir, err := quote(i.cfg.BuildDir)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "mkdir -p %s && cd %s\n", dir, dir)

	for _, cmd := range i.Steps(plan) {
		line, err := quoteCommand(changed, cmd.Args)
		if err != nil {
			return "", fmt.Errorf("step %s: %w", cmd.Step, err)
		}
		fmt.Fprintf(&b, "%s\n", line)
	}

	bin, err := quote(path.Join(i.cfg.Prefix, "bin"))
	if err != nil {
		return "", err
	}
	prefix, err := quote(i.cfg.Prefix + "/")
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "for app in %s/*.app; do [ -e \"$app\" ] && mv \"$app\" %s; done\n", bin, prefix)
	return b.String(), nil
}

// ChangedEnv returns the KEY=value entries of env that are new or differ
// from base, in env order.
func ChangedEnv(base, env []string) []string {
	seen := make(map[string]string, len(base))
	for _, kv := range base {
		k, v, _ := strings.Cut(kv, "=")
		seen[k] = v
	}
	var out []string
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		if old, ok := seen[k]; !ok || old != v {
			out = append(out, kv)
		}
	}
	return out
}

// quoteCommand renders env assignments followed by argv. Assignment values
// are quoted separately so the variable names stay bare.
func quoteCommand(env, args []string) (string, error) {
	words := make([]string, 0, len(env)+len(args))
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		q, err := quote(v)
		if err != nil {
			return "", err
		}
		words = append(words, k+"="+q)
	}
	for _, a := range args {
		q, err := quote(a)
		if err != nil {
			return "", err
		}
		words = append(words, q)
	}
	return strings.Join(words, " "), nil
}

func quote(s string) (string, error) {
	q, err := syntax.Quote(s, syntax.LangPOSIX)
	if err != nil {
		return "", fmt.Errorf("cannot quote %q: %w", s, err)
	}
	return q, nil
}
