package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// probePass memoizes probe results for a single resolution pass so that a
// requirement cannot change outcome mid-pass. It is discarded with the pass.
type probePass struct {
	probe   Probe
	results map[string]ProbeResult
	order   []string
}

func newProbePass(p Probe) *probePass {
	return &probePass{probe: p, results: make(map[string]ProbeResult)}
}

func (p *probePass) check(ctx context.Context, req Requirement) (ProbeResult, error) {
	if res, ok := p.results[req.Name]; ok {
		return res, nil
	}
	if p.probe == nil {
		return ProbeResult{}, NewInternalError("no probe configured", nil).WithDetail("requirement", req.Name)
	}
	res, err := p.probe.Check(ctx, req)
	if err != nil {
		return ProbeResult{}, NewInternalError(fmt.Sprintf("probe for %q failed", req.Name), err).
			WithCode(ErrCodeProbeFailed)
	}
	p.results[req.Name] = res
	p.order = append(p.order, req.Name)
	return res, nil
}

// Resolver maps an option set and probe results to the dependency list.
type Resolver struct {
	recipe *Recipe
}

// NewResolver creates a resolver for the recipe.
func NewResolver(recipe *Recipe) *Resolver {
	return &Resolver{recipe: recipe}
}

// Resolve computes the ordered, deduplicated dependency list. Exclusive
// groups are checked before any probe is queried. A fatal requirement that is
// unsatisfied aborts the pass and no partial resolution is returned.
func (r *Resolver) Resolve(ctx context.Context, opts *OptionSet, probe Probe) (*Resolution, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	pass := newProbePass(probe)
	res := &Resolution{}
	seen := make(map[string]bool)
	warned := make(map[string]bool)
	var env EnvList

	add := func(deps []Dependency) {
		for _, d := range deps {
			if seen[d.Name] {
				continue
			}
			seen[d.Name] = true
			res.Dependencies = append(res.Dependencies, d)
		}
	}

	add(r.recipe.Base)

	for _, rule := range r.recipe.Rules {
		if !rule.When.Eval(opts) {
			continue
		}

		for _, name := range rule.Requires {
			req, _ := r.recipe.Requirement(name)
			_, cached := pass.results[name]
			result, err := pass.check(ctx, req)
			if err != nil {
				return nil, err
			}
			if result.Satisfied {
				if !cached && req.Env != nil {
					env.AddAll(req.Env(result))
				}
				continue
			}
			if req.Severity == SeverityFatal {
				log.Debug().Str("requirement", name).Str("rule", rule.Name).Msg("fatal requirement unsatisfied")
				return nil, NewRequirementUnsatisfiedError(name, req.Remediation)
			}
			if !warned[name] {
				warned[name] = true
				res.Warnings = append(res.Warnings, Warning{
					Source:  "requirement:" + name,
					Message: req.Remediation,
				})
			}
		}

		if rule.IfAvailable != "" {
			req, _ := r.recipe.Requirement(rule.IfAvailable)
			result, err := pass.check(ctx, req)
			if err != nil {
				return nil, err
			}
			if !result.Satisfied {
				res.Skipped = append(res.Skipped, rule.Name)
				continue
			}
		}

		add(rule.Dependencies)
	}

	for _, name := range pass.order {
		req, _ := r.recipe.Requirement(name)
		result := pass.results[name]
		res.Requirements = append(res.Requirements, RequirementResult{
			Name:      name,
			Severity:  req.Severity,
			Satisfied: result.Satisfied,
			Location:  result.Location,
		})
	}
	res.Env = env.Items()

	return res, nil
}
