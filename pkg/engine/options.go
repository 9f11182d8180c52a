package engine

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// OptionKind is the value type of a recognized option.
type OptionKind string

const (
	// OptionBool is an on/off toggle.
	OptionBool OptionKind = "bool"

	// OptionEnum takes one of a fixed set of named members.
	OptionEnum OptionKind = "enum"

	// OptionTriState is on, off, or auto. Auto lets the build system decide.
	OptionTriState OptionKind = "tristate"

	// OptionPath is a free-form path override. Empty means unset.
	OptionPath OptionKind = "path"
)

// Tri-state values.
const (
	TriOn   = "on"
	TriOff  = "off"
	TriAuto = "auto"
)

// OptionSpec declares a recognized option.
type OptionSpec struct {
	Name        string     `json:"name" yaml:"name"`
	Kind        OptionKind `json:"kind" yaml:"kind"`
	Default     string     `json:"default" yaml:"default"`
	Members     []string   `json:"members,omitempty" yaml:"members,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
}

// ExclusiveGroup is a set of bool options of which at most one may be enabled.
// Member order is the selection precedence.
type ExclusiveGroup struct {
	Name    string   `json:"name" yaml:"name"`
	Members []string `json:"members" yaml:"members"`
}

// OptionValue is a single effective option value.
type OptionValue struct {
	Name     string `json:"name" yaml:"name"`
	Value    string `json:"value" yaml:"value"`
	Explicit bool   `json:"explicit,omitempty" yaml:"explicit,omitempty"`
}

// OptionSet is the immutable record of effective option values: declared
// defaults overridden by user input.
type OptionSet struct {
	specs    []OptionSpec
	index    map[string]int
	groups   []ExclusiveGroup
	values   map[string]string
	explicit map[string]bool
	ignored  []string
}

// NewOptionSet parses raw user input against the declared options. Every
// problem found is reported at once in a single configuration error.
func NewOptionSet(specs []OptionSpec, groups []ExclusiveGroup, ignorable []string, input map[string]string) (*OptionSet, error) {
	set := &OptionSet{
		specs:    specs,
		index:    make(map[string]int, len(specs)),
		groups:   groups,
		values:   make(map[string]string, len(specs)),
		explicit: make(map[string]bool),
	}

	for i, spec := range specs {
		set.index[spec.Name] = i
		v, err := normalizeValue(spec, spec.Default)
		if err != nil {
			return nil, NewConfigurationError(fmt.Sprintf("invalid default: %v", err), spec.Name).
				WithCode(ErrCodeRecipeInvalid)
		}
		set.values[spec.Name] = v
	}

	// Sorted so that error lists do not depend on map order.
	names := make([]string, 0, len(input))
	for name := range input {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		unknown  []string
		invalid  = make(map[string]string) // name to message
		messages []string
	)
	for _, name := range names {
		idx, ok := set.index[name]
		if !ok {
			if slices.Contains(ignorable, name) {
				set.ignored = append(set.ignored, name)
				continue
			}
			unknown = append(unknown, name)
			continue
		}
		v, err := normalizeValue(specs[idx], input[name])
		if err != nil {
			invalid[name] = err.Error()
			continue
		}
		set.values[name] = v
		set.explicit[name] = true
	}

	// Problems are collected across all categories; the code names the first
	// category hit and the "codes" detail lists every one.
	var codes []string
	offending := make(map[string]bool)
	if len(unknown) > 0 {
		codes = append(codes, ErrCodeUnknownOption)
		messages = append(messages, "unknown option")
	}
	if len(invalid) > 0 {
		codes = append(codes, ErrCodeInvalidValue)
		for _, spec := range specs {
			if msg, ok := invalid[spec.Name]; ok {
				messages = append(messages, msg)
				offending[spec.Name] = true
			}
		}
	}
	violations := set.exclusiveViolations()
	if len(violations) > 0 {
		codes = append(codes, ErrCodeExclusiveGroup)
		for _, v := range violations {
			messages = append(messages, v.message())
			for _, m := range v.active {
				offending[m] = true
			}
		}
	}
	if len(codes) == 0 {
		return set, nil
	}

	// Unknown names first, then declared options in declaration order.
	options := append([]string(nil), unknown...)
	for _, spec := range specs {
		if offending[spec.Name] {
			options = append(options, spec.Name)
		}
	}
	err := NewConfigurationError(strings.Join(messages, "; "), options...).
		WithCode(codes[0]).
		WithDetail("codes", codes)
	if len(violations) > 0 {
		err = err.WithDetail("group", violations[0].group)
	}
	return nil, err
}

type groupViolation struct {
	group  string
	active []string
}

func (v groupViolation) message() string {
	return fmt.Sprintf("options %s are mutually exclusive (group %q)", strings.Join(v.active, " and "), v.group)
}

// exclusiveViolations returns every group with more than one member enabled,
// in group order.
func (s *OptionSet) exclusiveViolations() []groupViolation {
	var out []groupViolation
	for _, g := range s.groups {
		var active []string
		for _, m := range g.Members {
			if s.values[m] == "true" {
				active = append(active, m)
			}
		}
		if len(active) > 1 {
			out = append(out, groupViolation{group: g.Name, active: active})
		}
	}
	return out
}

// Validate checks the exclusive groups. It performs no I/O and is safe to call
// before any probing.
func (s *OptionSet) Validate() error {
	violations := s.exclusiveViolations()
	if len(violations) == 0 {
		return nil
	}
	v := violations[0]
	return NewConfigurationError(v.message(), v.active...).
		WithCode(ErrCodeExclusiveGroup).
		WithDetail("group", v.group)
}

// normalizeValue converts raw input into the canonical representation for the
// option kind.
func normalizeValue(spec OptionSpec, raw string) (string, error) {
	v := strings.TrimSpace(raw)
	switch spec.Kind {
	case OptionBool:
		switch strings.ToLower(v) {
		case "true", "on", "yes", "1":
			return "true", nil
		case "false", "off", "no", "0", "":
			return "false", nil
		}
		return "", fmt.Errorf("%s: %q is not a boolean", spec.Name, raw)
	case OptionTriState:
		switch strings.ToLower(v) {
		case "on", "true", "yes", "1":
			return TriOn, nil
		case "off", "false", "no", "0":
			return TriOff, nil
		case "auto", "":
			return TriAuto, nil
		}
		return "", fmt.Errorf("%s: %q is not one of on, off, auto", spec.Name, raw)
	case OptionEnum:
		if slices.Contains(spec.Members, v) {
			return v, nil
		}
		return "", fmt.Errorf("%s: %q is not one of %s", spec.Name, raw, strings.Join(spec.Members, ", "))
	case OptionPath:
		return v, nil
	default:
		return "", fmt.Errorf("%s: unsupported option kind %q", spec.Name, spec.Kind)
	}
}

// Has reports whether name is a declared option.
func (s *OptionSet) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Value returns the canonical value of an option, or "" if undeclared.
func (s *OptionSet) Value(name string) string {
	return s.values[name]
}

// Enabled reports whether a bool option is true or a tri-state option is on.
func (s *OptionSet) Enabled(name string) bool {
	v := s.values[name]
	return v == "true" || v == TriOn
}

// Explicit reports whether the user supplied a value for name.
func (s *OptionSet) Explicit(name string) bool {
	return s.explicit[name]
}

// Variant returns the selected member of an exclusive group following member
// precedence, or "" when none is selected.
func (s *OptionSet) Variant(group string) string {
	for _, g := range s.groups {
		if g.Name != group {
			continue
		}
		for _, m := range g.Members {
			if s.values[m] == "true" {
				return m
			}
		}
	}
	return ""
}

// Group returns the declared exclusive group with the given name.
func (s *OptionSet) Group(name string) (ExclusiveGroup, bool) {
	for _, g := range s.groups {
		if g.Name == name {
			return g, true
		}
	}
	return ExclusiveGroup{}, false
}

// Ignored returns the ignorable option names that were supplied and dropped.
func (s *OptionSet) Ignored() []string {
	return slices.Clone(s.ignored)
}

// Effective returns every option value in declaration order.
func (s *OptionSet) Effective() []OptionValue {
	out := make([]OptionValue, 0, len(s.specs))
	for _, spec := range s.specs {
		out = append(out, OptionValue{
			Name:     spec.Name,
			Value:    s.values[spec.Name],
			Explicit: s.explicit[spec.Name],
		})
	}
	return out
}

// Specs returns the declared option specs.
func (s *OptionSet) Specs() []OptionSpec {
	return slices.Clone(s.specs)
}
