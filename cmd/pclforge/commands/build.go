package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pclforge/pkg/engine"
	"github.com/openfroyo/pclforge/pkg/invoker"
	"github.com/openfroyo/pclforge/pkg/probe"
	"github.com/openfroyo/pclforge/pkg/recipe"
	"github.com/openfroyo/pclforge/pkg/stores"
	"github.com/openfroyo/pclforge/pkg/telemetry"
	sshtransport "github.com/openfroyo/pclforge/pkg/transports/ssh"
)

// ensureLimit bounds concurrent package manager calls.
const ensureLimit = 4

type buildFlags struct {
	options    optionFlags
	dryRun     bool
	remote     string
	ensureDeps bool
	timeout    time.Duration
}

// buildHost is where the build runs: a runner for commands and a probe for
// requirements, both on the same host.
type buildHost struct {
	runner invoker.Runner
	probe  engine.Probe
	close  func()

	// uploadPlan records the plan next to a remote build; nil locally.
	uploadPlan func(ctx context.Context, plan *engine.BuildPlan, dir string) (string, error)
}

func newBuildCommand(a *app) *cobra.Command {
	var f buildFlags

	cmd := &cobra.Command{
		Use:   "build [file]...",
		Short: "Resolve a plan and run the native build",
		Long: `Resolve a build plan and run cmake, make and make install with the plan's
arguments and environment, locally or on a remote host over SSH.

Every run is recorded in the run history with its steps and events; see
'pclforge history' and 'pclforge show'.`,
		Example: `  # Build locally with Qt 5
  pclforge build --with qt5 --source-dir ~/src/pcl-1.8.0

  # Print the commands instead of running them
  pclforge build pcl.toml --dry-run

  # Build on a Mac mini, installing missing dependencies first
  pclforge build --remote ci@mac-mini.local --source-dir /Users/ci/pcl --ensure-deps`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBuild(cmd.Context(), args, &f)
		},
	}

	f.options.register(cmd)
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "print the build script without running it")
	cmd.Flags().StringVar(&f.remote, "remote", "", "build on [user@]host[:port] over SSH")
	cmd.Flags().BoolVar(&f.ensureDeps, "ensure-deps", false, "install missing dependencies with the host package manager")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "cancel the build after this long (0 = no limit)")

	return cmd
}

func (a *app) runBuild(ctx context.Context, files []string, f *buildFlags) (err error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	tel, err := a.telemetry()
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()
	ctx = tel.WithContext(ctx)

	if a.settings.MetricsAddr != "" {
		go func() {
			if err := tel.Metrics.Serve(ctx); err != nil {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	op := telemetry.StartOperation(ctx, "pclforge.build")
	defer func() { op.End(err) }()
	ctx = op.Ctx

	file, input, err := a.loadOptions(files, &f.options)
	if err != nil {
		return err
	}

	host, err := a.openBuildHost(ctx, f.remote)
	if err != nil {
		return err
	}
	defer host.close()

	var store *stores.SQLiteStore
	var recorder engine.PlanRecorder
	if !f.dryRun {
		store, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
		recorder = store
	}

	planner, err := a.planner(ctx, file, host.probe, recorder, tel.Metrics)
	if err != nil {
		return err
	}
	plan, err := planner.Plan(ctx, input)
	if err != nil {
		return err
	}
	tel.Logger.WithPlan(plan.ID, plan.Fingerprint).Info("plan resolved")

	sourceDir := a.settings.SourceDir
	if f.remote == "" {
		if sourceDir, err = filepath.Abs(sourceDir); err != nil {
			return fmt.Errorf("failed to resolve source directory: %w", err)
		}
	}
	invCfg := invoker.Config{
		SourceDir: sourceDir,
		Prefix:    planner.Recipe().Layout.Prefix,
		Jobs:      a.settings.Jobs,
	}

	if f.dryRun {
		script, err := invoker.New(host.runner, invCfg).Render(ctx, plan)
		if err != nil {
			return err
		}
		_, err = io.WriteString(a.out, script)
		return err
	}

	run := &stores.Run{
		ID:        uuid.NewString(),
		PlanID:    plan.ID,
		Status:    engine.RunStatusPending,
		Target:    host.runner.Target(),
		StartedAt: time.Now().UTC(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		return err
	}

	events := telemetry.NewEventRecorder(store, run.ID, tel.Logger, tel.Metrics)
	if !a.settings.JSON {
		events.Subscribe(func(e stores.Event) {
			fmt.Fprintf(a.errOut, "[%s] %s\n", e.Level, e.Message)
		}, telemetry.FilterByLevel(stores.EventLevelInfo))
	}
	for _, w := range plan.Warnings {
		recordEvent(ctx, events, engine.EventTypeWarning, w.Source+": "+w.Message, nil)
	}
	for _, pf := range plan.PolicyFindings {
		recordEvent(ctx, events, engine.EventTypeWarning, "policy "+pf.Policy+": "+pf.Message, nil)
	}

	result, err := a.executeRun(ctx, f, host, plan, invCfg, events, planner)
	return a.finishRun(ctx, store, events, run, result, err)
}

// executeRun ensures dependencies and runs the native build.
func (a *app) executeRun(ctx context.Context, f *buildFlags, host *buildHost, plan *engine.BuildPlan, invCfg invoker.Config, events *telemetry.EventRecorder, planner *engine.Planner) (*engine.InvocationResult, error) {
	if f.ensureDeps {
		pm, err := invoker.DetectPackageManager(ctx, host.runner)
		if err != nil {
			return nil, engine.NewBuildInvocationFailure("detect", -1, "", err)
		}
		if err := invoker.NewEnsurer(host.runner, pm, ensureLimit, events).Ensure(ctx, plan); err != nil {
			return nil, err
		}
	}

	if host.uploadPlan != nil {
		dir := path.Join(invCfg.SourceDir, recipe.BuildDir)
		if remote, err := host.uploadPlan(ctx, plan, dir); err != nil {
			log.Warn().Err(err).Msg("failed to upload plan")
		} else {
			log.Debug().Str("path", remote).Msg("plan uploaded")
		}
	}

	recordEvent(ctx, events, engine.EventTypeRunStarted, fmt.Sprintf("building %s %s on %s", plan.Recipe, plan.Version, host.runner.Target()),
		map[string]any{"plan_id": plan.ID})

	inv := invoker.New(host.runner, invCfg, invoker.WithListener(events))
	return planner.Build(ctx, plan, inv)
}

// finishRun stores the steps and the final status of run.
func (a *app) finishRun(ctx context.Context, store stores.Store, events *telemetry.EventRecorder, run *stores.Run, result *engine.InvocationResult, buildErr error) error {
	// The build context may be cancelled; the record must still be written.
	recordCtx := context.WithoutCancel(ctx)

	if result != nil {
		if err := store.RecordSteps(recordCtx, run.ID, result.Steps); err != nil {
			log.Warn().Err(err).Msg("failed to record build steps")
		}
	}

	status := engine.RunStatusSucceeded
	exitCode := 0
	var errMsg *string
	if buildErr != nil {
		status = engine.RunStatusFailed
		var ee *engine.EngineError
		if errors.As(buildErr, &ee) {
			exitCode = ee.ExitCode
			if ee.Code == engine.ErrCodeBuildCanceled {
				status = engine.RunStatusCancelled
			}
		}
		msg := buildErr.Error()
		errMsg = &msg
		recordEvent(recordCtx, events, engine.EventTypeRunFailed, msg, nil)
	} else {
		recordEvent(recordCtx, events, engine.EventTypeRunCompleted, "build succeeded", nil)
	}

	if err := store.UpdateRunStatus(recordCtx, run.ID, status, exitCode, errMsg); err != nil {
		log.Warn().Err(err).Msg("failed to update run status")
	}
	if buildErr == nil && !a.settings.JSON {
		fmt.Fprintf(a.out, "run %s succeeded\n", run.ID)
	}
	return buildErr
}

// openBuildHost returns the local host, or connects to remote.
func (a *app) openBuildHost(ctx context.Context, remote string) (*buildHost, error) {
	if remote == "" {
		hp, closeProbe, err := a.hostProbe(ctx)
		if err != nil {
			return nil, err
		}
		runner := invoker.NewExecRunner()
		if a.settings.Verbose {
			runner.Stream = a.errOut
		}
		return &buildHost{runner: runner, probe: hp, close: closeProbe}, nil
	}

	cfg, err := sshtransport.ParseTarget(remote)
	if err != nil {
		return nil, engine.NewConfigurationError(err.Error())
	}
	client, err := sshtransport.NewClient(cfg)
	if err != nil {
		return nil, engine.NewConfigurationError("invalid remote target").WithErr(err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, engine.NewBuildInvocationFailure("connect", -1, "", err)
	}

	var stream io.Writer
	if a.settings.Verbose {
		stream = a.errOut
	}
	runner := sshtransport.NewRunner(client, stream)
	return &buildHost{
		runner:     runner,
		probe:      probe.NewShellProbe(client),
		close:      func() { client.Close() },
		uploadPlan: runner.UploadPlan,
	}, nil
}

// recordEvent records a run event. Run history write failures are logged and
// do not stop the build.
func recordEvent(ctx context.Context, events *telemetry.EventRecorder, typ engine.EventType, message string, details map[string]any) {
	if err := events.Record(ctx, typ, message, details); err != nil {
		log.Warn().Err(err).Str("event", string(typ)).Msg("event not recorded")
	}
}
