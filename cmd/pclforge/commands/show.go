package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pclforge/pkg/engine"
	"github.com/openfroyo/pclforge/pkg/stores"
)

type runDetails struct {
	Run    *stores.Run          `json:"run"`
	Plan   *engine.BuildPlan    `json:"plan,omitempty"`
	Steps  []*stores.StepRecord `json:"steps"`
	Events []*stores.Event      `json:"events"`
}

func newShowCommand(a *app) *cobra.Command {
	var withOutput bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded build run",
		Long: `Show a recorded build run with its plan, the native steps that ran and the
events recorded while it ran.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(ctx, args[0])
			if errors.Is(err, stores.ErrNotFound) {
				return fmt.Errorf("run %s not found", args[0])
			}
			if err != nil {
				return err
			}

			d := runDetails{Run: run}
			if _, plan, err := store.GetPlan(ctx, run.PlanID); err == nil {
				d.Plan = plan
			} else if !errors.Is(err, stores.ErrNotFound) {
				return err
			}
			if d.Steps, err = store.ListSteps(ctx, run.ID); err != nil {
				return err
			}
			if d.Events, err = store.GetEvents(ctx, &run.ID, nil, -1, 0); err != nil {
				return err
			}

			if a.settings.JSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(d)
			}
			writeRun(a, d, withOutput)
			return nil
		},
	}

	cmd.Flags().BoolVar(&withOutput, "output", false, "print the captured output of each step")
	return cmd
}

func writeRun(a *app, d runDetails, withOutput bool) {
	r := d.Run
	fmt.Fprintf(a.out, "Run %s\n", r.ID)
	fmt.Fprintf(a.out, "  status:  %s (exit %d)\n", r.Status, r.ExitCode)
	fmt.Fprintf(a.out, "  target:  %s\n", r.Target)
	fmt.Fprintf(a.out, "  started: %s\n", r.StartedAt.Local().Format(time.DateTime))
	if r.Error != nil {
		fmt.Fprintf(a.out, "  error:   %s\n", *r.Error)
	}

	if d.Plan != nil {
		fmt.Fprintf(a.out, "\nPlan %s (%s %s)\n", d.Plan.ID, d.Plan.Recipe, d.Plan.Version)
		fmt.Fprintf(a.out, "  dependencies: %s\n", strings.Join(d.Plan.DependencyNames(), ", "))
	}

	if len(d.Steps) > 0 {
		fmt.Fprintln(a.out, "\nSteps:")
		for _, s := range d.Steps {
			var argv []string
			_ = json.Unmarshal([]byte(s.Command), &argv)
			fmt.Fprintf(a.out, "  %-13s exit %-3d %8s  %s\n", s.Step, s.ExitCode,
				(time.Duration(s.DurationMS) * time.Millisecond).String(), strings.Join(argv, " "))
			if withOutput && s.Output != "" {
				for _, line := range strings.Split(strings.TrimRight(s.Output, "\n"), "\n") {
					fmt.Fprintf(a.out, "    | %s\n", line)
				}
			}
		}
	}

	if len(d.Events) > 0 {
		fmt.Fprintln(a.out, "\nEvents:")
		for _, e := range d.Events {
			fmt.Fprintf(a.out, "  %s [%s] %s\n", e.Timestamp.Local().Format(time.TimeOnly), e.Level, e.Message)
		}
	}
}
