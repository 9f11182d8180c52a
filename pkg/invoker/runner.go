package invoker

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Command is one native command of a build step.
type Command struct {
	// Step names the build step the command belongs to.
	Step string

	// Args is the argv; Args[0] is looked up on the search path.
	Args []string

	// Dir is the working directory.
	Dir string

	// Env is the complete environment in os.Environ form. Nil inherits the
	// runner's environment.
	Env []string
}

// Runner executes commands on a build host. Run returns the combined output
// and the exit status; a nonzero exit is not an error. An error means the
// command could not be started or ctx was cancelled.
type Runner interface {
	Run(ctx context.Context, cmd Command) (output string, exitCode int, err error)

	// Environ returns the base environment commands run under.
	Environ(ctx context.Context) ([]string, error)

	// Glob returns the paths matching pattern on the build host.
	Glob(ctx context.Context, pattern string) ([]string, error)

	// MkdirAll creates a directory and its parents on the build host.
	MkdirAll(ctx context.Context, dir string) error

	// Target identifies the build host in run records: "local" or user@host.
	Target() string
}

// maxOutput bounds the captured output of a single command; make with
// CMAKE_VERBOSE_MAKEFILE produces megabytes and the tail is what matters.
const maxOutput = 256 << 10

// ExecRunner runs commands on the local host.
type ExecRunner struct {
	// Stream, if set, receives command output as it is produced.
	Stream io.Writer

	// KillDelay is how long a cancelled command gets between interrupt and
	// kill.
	KillDelay time.Duration
}

var _ Runner = (*ExecRunner)(nil)

// NewExecRunner creates a local runner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{KillDelay: 10 * time.Second}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, c Command) (string, int, error) {
	if len(c.Args) == 0 {
		return "", -1, errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = r.KillDelay

	out := newTailBuffer(maxOutput)
	var w io.Writer = out
	if r.Stream != nil {
		w = io.MultiWriter(out, r.Stream)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	log.Debug().Strs("args", c.Args).Str("dir", c.Dir).Msg("running command")
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out.String(), -1, ctxErr
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return out.String(), 0, nil
	case errors.As(err, &exitErr):
		return out.String(), exitErr.ExitCode(), nil
	default:
		return out.String(), -1, err
	}
}

// Environ implements Runner.
func (r *ExecRunner) Environ(context.Context) ([]string, error) {
	return os.Environ(), nil
}

// Glob implements Runner.
func (r *ExecRunner) Glob(_ context.Context, pattern string) ([]string, error) {
	return filepath.Glob(pattern)
}

// MkdirAll implements Runner.
func (r *ExecRunner) MkdirAll(_ context.Context, dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// Target implements Runner.
func (r *ExecRunner) Target() string {
	return "local"
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
		b.truncated = true
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return "...\n" + string(b.buf)
	}
	return string(b.buf)
}
