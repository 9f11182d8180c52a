package engine

import (
	"path/filepath"
	"strings"
)

// PathRef points at a directory of an installed dependency. The path option,
// when set, overrides the layout's opt root.
type PathRef struct {
	Option     string
	Dependency string
	Suffix     string
}

// Value is a flag or environment value: a literal or a dependency path.
type Value struct {
	Literal string
	Path    *PathRef
}

// Lit returns a literal value.
func Lit(s string) Value { return Value{Literal: s} }

// DepPath returns a value resolved to <prefix of dependency>/<suffix>, where
// the prefix comes from the path option when set.
func DepPath(option, dependency, suffix string) Value {
	return Value{Path: &PathRef{Option: option, Dependency: dependency, Suffix: suffix}}
}

func (v Value) resolve(opts *OptionSet, layout Layout) string {
	if v.Path == nil {
		return v.Literal
	}
	base := ""
	if v.Path.Option != "" {
		base = opts.Value(v.Path.Option)
	}
	if base == "" {
		base = filepath.Join(layout.OptRoot, v.Path.Dependency)
	}
	if v.Path.Suffix == "" {
		return base
	}
	return filepath.Join(base, v.Path.Suffix)
}

// Define is one build-system argument: -D<Name>[:<Type>]=<Value>, or a raw
// argument when Raw is set.
type Define struct {
	Name  string
	Type  string
	Value Value
	Raw   string
}

// D builds an untyped define.
func D(name, value string) Define { return Define{Name: name, Value: Lit(value)} }

// Bool builds a BOOL-typed define.
func Bool(name, value string) Define { return Define{Name: name, Type: "BOOL", Value: Lit(value)} }

// Arg builds a raw argument.
func Arg(raw string) Define { return Define{Raw: raw} }

func (d Define) render(opts *OptionSet, layout Layout) string {
	if d.Raw != "" {
		return d.Raw
	}
	var sb strings.Builder
	sb.WriteString("-D")
	sb.WriteString(d.Name)
	if d.Type != "" {
		sb.WriteString(":")
		sb.WriteString(d.Type)
	}
	sb.WriteString("=")
	sb.WriteString(d.Value.resolve(opts, layout))
	return sb.String()
}

// FlagEffect maps option values to build arguments. Effects are evaluated in
// declaration order by the synthesizer.
type FlagEffect interface {
	emit(opts *OptionSet, layout Layout, out []string) []string

	// References returns the option and group names the effect covers.
	References() []string
}

// Fixed is always emitted.
type Fixed struct {
	Defines []Define
}

func (f Fixed) emit(opts *OptionSet, layout Layout, out []string) []string {
	return renderAll(f.Defines, opts, layout, out)
}

func (f Fixed) References() []string { return defineRefs(f.Defines) }

// Toggle maps a bool option. Both states are declared; an empty slice is a
// declared no-op.
type Toggle struct {
	Option string
	On     []Define
	Off    []Define
}

func (t Toggle) emit(opts *OptionSet, layout Layout, out []string) []string {
	if opts.Enabled(t.Option) {
		return renderAll(t.On, opts, layout, out)
	}
	return renderAll(t.Off, opts, layout, out)
}

func (t Toggle) References() []string {
	refs := []string{t.Option}
	refs = append(refs, defineRefs(t.On)...)
	return append(refs, defineRefs(t.Off)...)
}

// TriState maps a tri-state option to a single define. On and off render as
// typed BOOL values; auto renders AUTO_OFF, typed only when Typed is set. When
// AutoOff holds, auto renders a typed OFF instead.
type TriState struct {
	Option  string
	Name    string
	Typed   bool
	AutoOff Condition
}

// AutoValue is the value the build system interprets as "build if possible".
const AutoValue = "AUTO_OFF"

func (t TriState) emit(opts *OptionSet, layout Layout, out []string) []string {
	var d Define
	switch opts.Value(t.Option) {
	case TriOn:
		d = Bool(t.Name, "ON")
	case TriOff:
		d = Bool(t.Name, "OFF")
	default:
		switch {
		case t.AutoOff != nil && t.AutoOff.Eval(opts):
			d = Bool(t.Name, "OFF")
		case t.Typed:
			d = Bool(t.Name, AutoValue)
		default:
			d = D(t.Name, AutoValue)
		}
	}
	return append(out, d.render(opts, layout))
}

func (t TriState) References() []string {
	refs := []string{t.Option}
	if t.AutoOff != nil {
		refs = append(refs, t.AutoOff.References()...)
	}
	return refs
}

// Variant maps an exclusive group: the selected member's defines, or None
// when nothing is selected.
type Variant struct {
	Group   string
	Members map[string][]Define
	None    []Define
}

func (v Variant) emit(opts *OptionSet, layout Layout, out []string) []string {
	selected := opts.Variant(v.Group)
	if selected == "" {
		return renderAll(v.None, opts, layout, out)
	}
	return renderAll(v.Members[selected], opts, layout, out)
}

func (v Variant) References() []string { return []string{groupRef(v.Group)} }

// Gate emits Then when the condition holds and Else otherwise. Options only
// referenced inside a closed gate produce nothing.
type Gate struct {
	When Condition
	Then []FlagEffect
	Else []FlagEffect
}

func (g Gate) emit(opts *OptionSet, layout Layout, out []string) []string {
	effects := g.Else
	if g.When.Eval(opts) {
		effects = g.Then
	}
	for _, e := range effects {
		out = e.emit(opts, layout, out)
	}
	return out
}

func (g Gate) References() []string {
	refs := g.When.References()
	for _, e := range g.Then {
		refs = append(refs, e.References()...)
	}
	for _, e := range g.Else {
		refs = append(refs, e.References()...)
	}
	return refs
}

// EnvEffect contributes environment mutations when its condition holds.
type EnvEffect struct {
	When      Condition
	Variable  string
	Op        EnvOp
	Value     Value
	Separator string
}

// References returns the option names the effect reads.
func (e EnvEffect) References() []string {
	refs := e.When.References()
	if e.Value.Path != nil && e.Value.Path.Option != "" {
		refs = append(refs, e.Value.Path.Option)
	}
	return refs
}

func renderAll(defs []Define, opts *OptionSet, layout Layout, out []string) []string {
	for _, d := range defs {
		out = append(out, d.render(opts, layout))
	}
	return out
}

func defineRefs(defs []Define) []string {
	var refs []string
	for _, d := range defs {
		if d.Value.Path != nil && d.Value.Path.Option != "" {
			refs = append(refs, d.Value.Path.Option)
		}
	}
	return refs
}
