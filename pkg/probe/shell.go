package probe

import (
	"context"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/openfroyo/pclforge/pkg/engine"
)

// Shell runs a command line on some host and reports its stdout and exit
// status. A nonzero exit is not an error.
type Shell interface {
	Output(ctx context.Context, command string) (stdout string, exitCode int, err error)
}

// ShellProbe answers requirement checks by running POSIX shell commands,
// typically on the remote build host.
type ShellProbe struct {
	shell Shell
}

// NewShellProbe creates a probe over sh.
func NewShellProbe(sh Shell) *ShellProbe {
	return &ShellProbe{shell: sh}
}

// Check implements engine.Probe.
func (p *ShellProbe) Check(ctx context.Context, req engine.Requirement) (engine.ProbeResult, error) {
	quoted, err := syntax.Quote(req.Check.Target, syntax.LangPOSIX)
	if err != nil {
		return engine.ProbeResult{}, fmt.Errorf("cannot quote check target %q: %w", req.Check.Target, err)
	}

	var cmd string
	switch req.Check.Kind {
	case engine.CheckExecutable:
		cmd = "command -v " + quoted
	case engine.CheckEnv:
		cmd = "printenv " + quoted
	case engine.CheckPath:
		cmd = "test -e " + quoted + " && printf '%s\\n' " + quoted
	default:
		return engine.ProbeResult{}, fmt.Errorf("check kind %s is not supported over a shell", req.Check.Kind)
	}

	out, code, err := p.shell.Output(ctx, cmd)
	if err != nil {
		return engine.ProbeResult{}, fmt.Errorf("probe command failed: %w", err)
	}
	location := strings.TrimSpace(out)
	if code != 0 || location == "" {
		return engine.ProbeResult{}, nil
	}
	return engine.ProbeResult{Satisfied: true, Location: location}, nil
}
