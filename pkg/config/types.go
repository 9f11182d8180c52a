package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// OptionFile is a declarative option file. The same shape is accepted as
// CUE, TOML, YAML or JSON.
type OptionFile struct {
	// Recipe names the recipe the options apply to.
	Recipe string `json:"recipe,omitempty" yaml:"recipe,omitempty" toml:"recipe,omitempty" validate:"omitempty,oneof=pcl"`

	// Options maps option names to values. Booleans and numbers are
	// accepted and converted to their text form.
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`

	// Layout overrides the installation layout.
	Layout *LayoutConfig `json:"layout,omitempty" yaml:"layout,omitempty" toml:"layout,omitempty"`

	// Hooks are Starlark scripts extending the synthesized arguments.
	Hooks []HookConfig `json:"hooks,omitempty" yaml:"hooks,omitempty" toml:"hooks,omitempty" validate:"dive"`

	// Policies are extra Rego policy files.
	Policies []string `json:"policies,omitempty" yaml:"policies,omitempty" toml:"policies,omitempty" validate:"dive,required"`

	// Sources lists the files this option file was merged from.
	Sources []string `json:"-" yaml:"-" toml:"-"`
}

// LayoutConfig overrides parts of the installation layout.
type LayoutConfig struct {
	// Root is the Homebrew-style prefix, e.g. /opt/homebrew.
	Root string `json:"root,omitempty" yaml:"root,omitempty" toml:"root,omitempty" validate:"omitempty,startswith=/"`

	// BuildType is the CMake build type.
	BuildType string `json:"build_type,omitempty" yaml:"build_type,omitempty" toml:"build_type,omitempty" validate:"omitempty,oneof=Release Debug RelWithDebInfo MinSizeRel"`
}

// HookConfig declares a Starlark hook, inline or from a file.
type HookConfig struct {
	Name   string `json:"name" yaml:"name" toml:"name" validate:"required"`
	Script string `json:"script,omitempty" yaml:"script,omitempty" toml:"script,omitempty" validate:"required_without=File"`
	File   string `json:"file,omitempty" yaml:"file,omitempty" toml:"file,omitempty" validate:"required_without=Script"`
}

// Input returns the options as planner input.
func (f *OptionFile) Input() map[string]string {
	out := make(map[string]string, len(f.Options))
	for name, v := range f.Options {
		out[name] = valueString(v)
	}
	return out
}

// OptionNames returns the option names in sorted order.
func (f *OptionFile) OptionNames() []string {
	names := make([]string, 0, len(f.Options))
	for name := range f.Options {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge overlays other onto f: options and layout fields in other win,
// hooks and policies are appended.
func (f *OptionFile) Merge(other *OptionFile) {
	if other == nil {
		return
	}
	if other.Recipe != "" {
		f.Recipe = other.Recipe
	}
	if f.Options == nil {
		f.Options = make(map[string]any, len(other.Options))
	}
	for name, v := range other.Options {
		f.Options[name] = v
	}
	if other.Layout != nil {
		if f.Layout == nil {
			f.Layout = &LayoutConfig{}
		}
		if other.Layout.Root != "" {
			f.Layout.Root = other.Layout.Root
		}
		if other.Layout.BuildType != "" {
			f.Layout.BuildType = other.Layout.BuildType
		}
	}
	f.Hooks = append(f.Hooks, other.Hooks...)
	f.Policies = append(f.Policies, other.Policies...)
	f.Sources = append(f.Sources, other.Sources...)
}

func valueString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path, e.g. "layout.build_type".
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var sb strings.Builder
	if e.File != "" {
		sb.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&sb, ":%d:%d", e.Line, e.Column)
		}
		sb.WriteString(": ")
	}
	if e.Path != "" {
		sb.WriteString(e.Path)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	return sb.String()
}
