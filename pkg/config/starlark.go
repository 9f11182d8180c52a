package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/pclforge/pkg/engine"
)

// DefaultHookTimeout bounds a single hook execution.
const DefaultHookTimeout = 5 * time.Second

// StarlarkHook runs a Starlark script that contributes extra configure
// arguments and environment mutations.
//
// The script sees a predeclared dict "options" (name to effective value)
// and a list "explicit" naming the options the user set. It contributes
// either by assigning the globals "args" (list of strings) and "env" (list
// of dicts with keys variable, op, value and optional separator), or by
// defining extend(options) returning a dict with the same two keys.
type StarlarkHook struct {
	name    string
	script  string
	timeout time.Duration
}

// NewStarlarkHook creates a hook from inline source.
func NewStarlarkHook(name, script string, timeout time.Duration) *StarlarkHook {
	if timeout == 0 {
		timeout = DefaultHookTimeout
	}
	return &StarlarkHook{name: name, script: script, timeout: timeout}
}

// NewHooks builds hooks from option file declarations, reading script files
// where given.
func NewHooks(cfgs []HookConfig, timeout time.Duration) ([]engine.Hook, error) {
	hooks := make([]engine.Hook, 0, len(cfgs))
	for _, cfg := range cfgs {
		script := cfg.Script
		if cfg.File != "" {
			data, err := os.ReadFile(cfg.File)
			if err != nil {
				return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read hook %s", cfg.Name)).
					WithCode(engine.ErrCodeOptionFileInvalid).
					WithErr(err)
			}
			script = string(data)
		}
		hooks = append(hooks, NewStarlarkHook(cfg.Name, script, timeout))
	}
	return hooks, nil
}

// Name returns the hook name.
func (h *StarlarkHook) Name() string {
	return h.name
}

// Extend executes the script against the effective options.
func (h *StarlarkHook) Extend(ctx context.Context, options []engine.OptionValue) (*engine.HookResult, error) {
	evalCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  h.name,
		Print: func(_ *starlark.Thread, _ string) {},
	}

	type outcome struct {
		result *engine.HookResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.run(thread, options)
		done <- outcome{res, err}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("timeout")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("hook %s timed out after %v", h.name, h.timeout)
	case o := <-done:
		return o.result, o.err
	}
}

func (h *StarlarkHook) run(thread *starlark.Thread, options []engine.OptionValue) (*engine.HookResult, error) {
	opts := starlark.NewDict(len(options))
	var explicit []starlark.Value
	for _, o := range options {
		if err := opts.SetKey(starlark.String(o.Name), starlark.String(o.Value)); err != nil {
			return nil, err
		}
		if o.Explicit {
			explicit = append(explicit, starlark.String(o.Name))
		}
	}
	opts.Freeze()

	predeclared := starlark.StringDict{
		"struct":   starlarkstruct.Default,
		"options":  opts,
		"explicit": starlark.NewList(explicit),
	}

	globals, err := starlark.ExecFile(thread, h.name+".star", h.script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	out := map[string]any{}
	if fn, ok := globals["extend"].(starlark.Callable); ok {
		v, err := starlark.Call(thread, fn, starlark.Tuple{opts}, nil)
		if err != nil {
			return nil, fmt.Errorf("extend failed: %w", err)
		}
		if v != starlark.None {
			conv, err := fromStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			m, ok := conv.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("extend must return a dict, got %s", v.Type())
			}
			out = m
		}
	} else {
		for _, name := range []string{"args", "env"} {
			if v, ok := globals[name]; ok {
				conv, err := fromStarlarkValue(v)
				if err != nil {
					return nil, fmt.Errorf("failed to convert %s: %w", name, err)
				}
				out[name] = conv
			}
		}
	}
	return toHookResult(out)
}

func toHookResult(out map[string]any) (*engine.HookResult, error) {
	res := &engine.HookResult{}
	if raw, ok := out["args"]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("args must be a list")
		}
		for _, a := range list {
			s, ok := a.(string)
			if !ok {
				return nil, fmt.Errorf("args must contain strings, got %T", a)
			}
			res.Args = append(res.Args, s)
		}
	}
	if raw, ok := out["env"]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("env must be a list")
		}
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("env entries must be dicts, got %T", item)
			}
			mut := engine.EnvMutation{
				Variable:  valueString(m["variable"]),
				Op:        engine.EnvOp(valueString(m["op"])),
				Value:     valueString(m["value"]),
				Separator: valueString(m["separator"]),
			}
			if mut.Variable == "" {
				return nil, fmt.Errorf("env entry without variable")
			}
			switch mut.Op {
			case "", engine.EnvAppend, engine.EnvPrepend, engine.EnvSet:
			default:
				return nil, fmt.Errorf("env entry %s: unknown op %q", mut.Variable, mut.Op)
			}
			res.Env = append(res.Env, mut)
		}
	}
	return res, nil
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]any, len(val))
		for i, elem := range val {
			item, err := fromStarlarkValue(elem)
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
