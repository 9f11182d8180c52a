package engine

import (
	"fmt"
	"strings"
)

// Condition is a pure boolean expression over an OptionSet.
type Condition interface {
	// Eval evaluates the condition. It must not have side effects.
	Eval(opts *OptionSet) bool

	// References returns the option and group names the condition reads.
	References() []string

	String() string
}

type alwaysCond struct{}

// Always is the condition that holds for every option set.
func Always() Condition { return alwaysCond{} }

func (alwaysCond) Eval(*OptionSet) bool  { return true }
func (alwaysCond) References() []string { return nil }
func (alwaysCond) String() string       { return "always" }

type enabledCond struct{ name string }

// Enabled holds when a bool option is true or a tri-state option is on.
func Enabled(name string) Condition { return enabledCond{name} }

func (c enabledCond) Eval(o *OptionSet) bool { return o.Enabled(c.name) }
func (c enabledCond) References() []string  { return []string{c.name} }
func (c enabledCond) String() string        { return c.name }

// Disabled holds when a bool option is false or a tri-state option is off.
func Disabled(name string) Condition { return Equals(name, "false", TriOff) }

type equalsCond struct {
	name   string
	values []string
}

// Equals holds when the option's canonical value is one of values.
func Equals(name string, values ...string) Condition {
	return equalsCond{name: name, values: values}
}

func (c equalsCond) Eval(o *OptionSet) bool {
	v := o.Value(c.name)
	for _, want := range c.values {
		if v == want {
			return true
		}
	}
	return false
}

func (c equalsCond) References() []string { return []string{c.name} }

func (c equalsCond) String() string {
	if len(c.values) == 2 && c.values[0] == "false" && c.values[1] == TriOff {
		return "!" + c.name
	}
	return fmt.Sprintf("%s=%s", c.name, strings.Join(c.values, "|"))
}

type variantCond struct {
	group  string
	member string
}

// VariantSelected holds when member is the selected variant of group.
func VariantSelected(group, member string) Condition {
	return variantCond{group: group, member: member}
}

func (c variantCond) Eval(o *OptionSet) bool { return o.Variant(c.group) == c.member }
func (c variantCond) References() []string  { return []string{c.member} }
func (c variantCond) String() string        { return fmt.Sprintf("%s==%s", c.group, c.member) }

type anyVariantCond struct {
	group string
	none  bool
}

// AnyVariant holds when some member of group is selected.
func AnyVariant(group string) Condition { return anyVariantCond{group: group} }

// NoVariant holds when no member of group is selected.
func NoVariant(group string) Condition { return anyVariantCond{group: group, none: true} }

func (c anyVariantCond) Eval(o *OptionSet) bool {
	selected := o.Variant(c.group) != ""
	if c.none {
		return !selected
	}
	return selected
}

func (c anyVariantCond) References() []string { return []string{groupRef(c.group)} }

func (c anyVariantCond) String() string {
	if c.none {
		return fmt.Sprintf("%s==none", c.group)
	}
	return fmt.Sprintf("%s!=none", c.group)
}

type allCond []Condition

// And holds when every operand holds.
func And(conds ...Condition) Condition { return allCond(conds) }

func (c allCond) Eval(o *OptionSet) bool {
	for _, cond := range c {
		if !cond.Eval(o) {
			return false
		}
	}
	return true
}

func (c allCond) References() []string { return collectRefs(c) }
func (c allCond) String() string        { return joinConds(c, " && ") }

type anyCond []Condition

// Or holds when at least one operand holds.
func Or(conds ...Condition) Condition { return anyCond(conds) }

func (c anyCond) Eval(o *OptionSet) bool {
	for _, cond := range c {
		if cond.Eval(o) {
			return true
		}
	}
	return false
}

func (c anyCond) References() []string { return collectRefs(c) }
func (c anyCond) String() string        { return joinConds(c, " || ") }

type notCond struct{ inner Condition }

// Not negates a condition.
func Not(c Condition) Condition { return notCond{c} }

func (c notCond) Eval(o *OptionSet) bool { return !c.inner.Eval(o) }
func (c notCond) References() []string  { return c.inner.References() }
func (c notCond) String() string        { return "!(" + c.inner.String() + ")" }

// groupRef marks a reference to every member of an exclusive group.
func groupRef(group string) string { return "group:" + group }

func collectRefs(conds []Condition) []string {
	var refs []string
	for _, c := range conds {
		refs = append(refs, c.References()...)
	}
	return refs
}

func joinConds(conds []Condition, sep string) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}
