package invoker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/pclforge/pkg/engine"
)

// PackageManager knows how to query and install a dependency.
type PackageManager struct {
	Name string

	// Check returns a command that exits zero when dep is installed.
	Check func(dep engine.Dependency) []string

	// Install returns a command that installs dep.
	Install func(dep engine.Dependency) []string
}

// Homebrew installs formulae, passing variant sub-arguments as --options.
var Homebrew = PackageManager{
	Name:  "brew",
	Check: func(d engine.Dependency) []string { return []string{"brew", "list", "--versions", d.Name} },
	Install: func(d engine.Dependency) []string {
		args := []string{"brew", "install", d.Name}
		for _, a := range d.Args {
			args = append(args, "--"+a)
		}
		return args
	},
}

// Apt installs Debian packages. Variant arguments have no apt equivalent
// and are ignored.
var Apt = PackageManager{
	Name:    "apt-get",
	Check:   func(d engine.Dependency) []string { return []string{"dpkg", "-s", d.Name} },
	Install: func(d engine.Dependency) []string { return []string{"apt-get", "install", "-y", d.Name} },
}

// Dnf installs RPM packages.
var Dnf = PackageManager{
	Name:    "dnf",
	Check:   func(d engine.Dependency) []string { return []string{"rpm", "-q", d.Name} },
	Install: func(d engine.Dependency) []string { return []string{"dnf", "install", "-y", d.Name} },
}

// PackageManagers lists the supported managers in detection order.
var PackageManagers = []PackageManager{Homebrew, Apt, Dnf}

// DetectPackageManager returns the first supported manager found on the
// runner's host.
func DetectPackageManager(ctx context.Context, r Runner) (PackageManager, error) {
	for _, pm := range PackageManagers {
		_, code, err := r.Run(ctx, Command{Step: "detect", Args: []string{"sh", "-c", "command -v " + pm.Name}})
		if err != nil {
			return PackageManager{}, err
		}
		if code == 0 {
			return pm, nil
		}
	}
	return PackageManager{}, fmt.Errorf("no supported package manager found on %s", r.Target())
}

// EnsureListener is told about each dependency once it is present.
type EnsureListener interface {
	DependencyEnsured(ctx context.Context, name string, installed bool)
}

// Ensurer makes sure the dependencies of a plan are installed, level by
// level of the install order. Dependencies within a level are checked and
// installed concurrently.
type Ensurer struct {
	runner   Runner
	pm       PackageManager
	limit    int
	listener EnsureListener

	mu sync.Mutex
}

// NewEnsurer creates an ensurer installing through pm with at most limit
// concurrent package manager calls.
func NewEnsurer(runner Runner, pm PackageManager, limit int, listener EnsureListener) *Ensurer {
	if limit <= 0 {
		limit = 1
	}
	return &Ensurer{runner: runner, pm: pm, limit: limit, listener: listener}
}

// Ensure installs every missing dependency of plan. A level starts only
// after the previous level is complete; the first failure cancels the rest.
func (e *Ensurer) Ensure(ctx context.Context, plan *engine.BuildPlan) error {
	deps := make(map[string]engine.Dependency, len(plan.Dependencies))
	for _, d := range plan.Dependencies {
		deps[d.Name] = d
	}

	for n, level := range plan.InstallLevels {
		log.Debug().Int("level", n).Strs("dependencies", level).Msg("ensuring dependencies")

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.limit)
		for _, name := range level {
			dep, ok := deps[name]
			if !ok {
				dep = engine.Dependency{Name: name}
			}
			g.Go(func() error {
				return e.ensure(gctx, dep)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Ensurer) ensure(ctx context.Context, dep engine.Dependency) error {
	_, code, err := e.runner.Run(ctx, Command{Step: "check:" + dep.Name, Args: e.pm.Check(dep)})
	if err != nil {
		return fmt.Errorf("checking %s: %w", dep.Name, err)
	}
	if code == 0 {
		e.notify(ctx, dep.Name, false)
		return nil
	}

	args := e.pm.Install(dep)
	log.Debug().Str("dependency", dep.Name).Str("command", strings.Join(args, " ")).Msg("installing dependency")
	out, code, err := e.runner.Run(ctx, Command{Step: "install:" + dep.Name, Args: args})
	if err != nil {
		return fmt.Errorf("installing %s: %w", dep.Name, err)
	}
	if code != 0 {
		failure := engine.NewBuildInvocationFailure("install:"+dep.Name, code, out, nil)
		failure.Remediation = fmt.Sprintf("Install %s manually with: %s", dep.Name, strings.Join(args, " "))
		return failure
	}
	e.notify(ctx, dep.Name, true)
	return nil
}

func (e *Ensurer) notify(ctx context.Context, name string, installed bool) {
	if e.listener == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener.DependencyEnsured(ctx, name, installed)
}
