package engine

import (
	"fmt"
	"slices"
	"strings"
)

// Recipe is the declarative table the resolver and synthesizer evaluate.
type Recipe struct {
	Name    string
	Version string
	Layout  Layout

	Options   []OptionSpec
	Groups    []ExclusiveGroup
	Ignorable []string

	// Base dependencies are always required, in this order.
	Base []Dependency

	// Rules are evaluated in order after the base set.
	Rules []DependencyRule

	Requirements []Requirement

	// Flags are evaluated in order to produce the argument sequence.
	Flags []FlagEffect

	// Env effects are evaluated in order to produce environment mutations.
	Env []EnvEffect
}

// NewOptionSet builds an option set from raw user input against this recipe.
func (r *Recipe) NewOptionSet(input map[string]string) (*OptionSet, error) {
	return NewOptionSet(r.Options, r.Groups, r.Ignorable, input)
}

// Requirement returns the requirement with the given name.
func (r *Recipe) Requirement(name string) (Requirement, bool) {
	for _, req := range r.Requirements {
		if req.Name == name {
			return req, true
		}
	}
	return Requirement{}, false
}

// Option returns the option spec with the given name.
func (r *Recipe) Option(name string) (OptionSpec, bool) {
	for _, o := range r.Options {
		if o.Name == name {
			return o, true
		}
	}
	return OptionSpec{}, false
}

// Validate checks the table for internal consistency: every option is
// mapped by some effect or rule, group members are bool options, and every
// referenced requirement and option exists.
func (r *Recipe) Validate() error {
	var problems []string
	var names []string

	declared := make(map[string]OptionSpec, len(r.Options))
	for _, o := range r.Options {
		if _, dup := declared[o.Name]; dup {
			problems = append(problems, fmt.Sprintf("option %q declared twice", o.Name))
			names = append(names, o.Name)
		}
		declared[o.Name] = o
		if _, err := normalizeValue(o, o.Default); err != nil {
			problems = append(problems, fmt.Sprintf("option %q has invalid default: %v", o.Name, err))
			names = append(names, o.Name)
		}
	}

	groups := make(map[string][]string, len(r.Groups))
	for _, g := range r.Groups {
		groups[g.Name] = g.Members
		for _, m := range g.Members {
			spec, ok := declared[m]
			if !ok || spec.Kind != OptionBool {
				problems = append(problems, fmt.Sprintf("group %q member %q is not a bool option", g.Name, m))
				names = append(names, m)
			}
		}
	}

	covered := make(map[string]bool)
	cover := func(refs []string) {
		for _, ref := range refs {
			if group, ok := strings.CutPrefix(ref, "group:"); ok {
				members, known := groups[group]
				if !known {
					problems = append(problems, fmt.Sprintf("unknown group %q", group))
				}
				for _, m := range members {
					covered[m] = true
				}
				continue
			}
			if _, ok := declared[ref]; !ok {
				problems = append(problems, fmt.Sprintf("reference to undeclared option %q", ref))
				names = append(names, ref)
			}
			covered[ref] = true
		}
	}

	for _, f := range r.Flags {
		if t, ok := f.(Toggle); ok && t.On == nil && t.Off == nil {
			problems = append(problems, fmt.Sprintf("toggle %q maps neither state", t.Option))
			names = append(names, t.Option)
		}
		cover(f.References())
	}
	for _, e := range r.Env {
		cover(e.References())
	}
	for _, rule := range r.Rules {
		cover(rule.When.References())
		for _, req := range append(slices.Clone(rule.Requires), rule.IfAvailable) {
			if req == "" {
				continue
			}
			if _, ok := r.Requirement(req); !ok {
				problems = append(problems, fmt.Sprintf("rule %q references unknown requirement %q", rule.Name, req))
			}
		}
	}

	for _, o := range r.Options {
		if !covered[o.Name] {
			problems = append(problems, fmt.Sprintf("option %q has no mapping", o.Name))
			names = append(names, o.Name)
		}
	}

	if len(problems) > 0 {
		return NewConfigurationError(
			fmt.Sprintf("recipe %s is invalid: %s", r.Name, strings.Join(problems, "; ")),
			names...,
		).WithCode(ErrCodeRecipeInvalid)
	}
	return nil
}
