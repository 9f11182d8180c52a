package ssh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"mvdan.cc/sh/v3/syntax"

	"github.com/openfroyo/pclforge/pkg/engine"
	"github.com/openfroyo/pclforge/pkg/invoker"
)

// maxOutput bounds the output kept for one remote command.
const maxOutput = 256 << 10

// Runner runs build commands on a remote host. It implements
// invoker.Runner, so the invoker drives a remote build exactly as it does a
// local one.
type Runner struct {
	client *Client
	stream io.Writer

	mu   sync.Mutex
	base []string
}

var _ invoker.Runner = (*Runner)(nil)

// NewRunner creates a runner over a connected client. Output is copied to
// stream as it arrives when stream is non-nil.
func NewRunner(client *Client, stream io.Writer) *Runner {
	return &Runner{client: client, stream: stream}
}

// Run implements invoker.Runner. Only the variables of cmd.Env that differ
// from the remote login environment are passed, through env(1).
func (r *Runner) Run(ctx context.Context, cmd invoker.Command) (string, int, error) {
	if len(cmd.Args) == 0 {
		return "", -1, errors.New("empty command")
	}

	var changed []string
	if cmd.Env != nil {
		base, err := r.Environ(ctx)
		if err != nil {
			return "", -1, err
		}
		changed = invoker.ChangedEnv(base, cmd.Env)
	}

	line, err := commandLine(cmd.Dir, changed, cmd.Args)
	if err != nil {
		return "", -1, err
	}

	var out bytes.Buffer
	var w io.Writer = &out
	if r.stream != nil {
		w = io.MultiWriter(&out, r.stream)
	}

	log.Debug().Str("host", r.client.config.Host).Str("step", cmd.Step).Str("command", line).Msg("running remote command")
	code, err := r.client.Exec(ctx, line, w, w)
	return tail(out.Bytes()), code, err
}

// Environ implements invoker.Runner. The remote environment is read once
// per runner.
func (r *Runner) Environ(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.base != nil {
		return r.base, nil
	}

	out, code, err := r.client.Output(ctx, "env")
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, &TransportError{Op: "environ", Err: fmt.Errorf("env exited with %d", code)}
	}
	r.base = parseEnv(out)
	return r.base, nil
}

// Glob implements invoker.Runner.
func (r *Runner) Glob(_ context.Context, pattern string) ([]string, error) {
	return r.client.Glob(pattern)
}

// MkdirAll implements invoker.Runner.
func (r *Runner) MkdirAll(_ context.Context, dir string) error {
	return r.client.MkdirAll(dir)
}

// Target implements invoker.Runner.
func (r *Runner) Target() string {
	return r.client.config.Target()
}

// UploadPlan writes plan as JSON into dir on the remote host and returns
// the remote path, leaving a record of what was built next to the build.
func (r *Runner) UploadPlan(ctx context.Context, plan *engine.BuildPlan, dir string) (string, error) {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode plan: %w", err)
	}
	remote := path.Join(dir, "plan-"+plan.ID+".json")
	if err := r.client.WriteFile(ctx, remote, data, 0o644); err != nil {
		return "", err
	}
	return remote, nil
}

// commandLine renders `cd DIR && env K=V... argv` for a POSIX login shell.
func commandLine(dir string, env, args []string) (string, error) {
	var b strings.Builder
	if dir != "" {
		q, err := syntax.Quote(dir, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("cannot quote %q: %w", dir, err)
		}
		b.WriteString("cd " + q + " && ")
	}
	if len(env) > 0 {
		b.WriteString("env")
		for _, kv := range env {
			k, v, _ := strings.Cut(kv, "=")
			q, err := syntax.Quote(v, syntax.LangPOSIX)
			if err != nil {
				return "", fmt.Errorf("cannot quote value of %s: %w", k, err)
			}
			b.WriteString(" " + k + "=" + q)
		}
		b.WriteString(" ")
	}
	for i, a := range args {
		q, err := syntax.Quote(a, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("cannot quote %q: %w", a, err)
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(q)
	}
	return b.String(), nil
}

// parseEnv splits env(1) output into KEY=value entries. Lines without '='
// continue the previous value.
func parseEnv(out string) []string {
	var env []string
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line == "" {
			continue
		}
		if k, _, ok := strings.Cut(line, "="); ok && k != "" && !strings.ContainsAny(k, " \t") {
			env = append(env, line)
			continue
		}
		if n := len(env); n > 0 {
			env[n-1] += "\n" + line
		}
	}
	return env
}

func tail(b []byte) string {
	if len(b) <= maxOutput {
		return string(b)
	}
	return "...\n" + string(b[len(b)-maxOutput:])
}
