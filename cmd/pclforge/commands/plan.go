package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pclforge/pkg/engine"
	"github.com/openfroyo/pclforge/pkg/render"
)

func newPlanCommand(a *app) *cobra.Command {
	var (
		flags     optionFlags
		format    string
		graphFile string
		save      bool
	)

	cmd := &cobra.Command{
		Use:   "plan [file]...",
		Short: "Resolve a build plan",
		Long: `Resolve a build plan from option files and command line overrides.

The plan:
  - Validates the options and exclusive groups
  - Probes the host for CUDA, VTK and OpenNI requirements
  - Lists the dependencies in install order
  - Synthesizes the CMake arguments and build environment
  - Evaluates the built-in and user policies`,
		Example: `  # Default plan
  pclforge plan

  # Qt 5 with CUDA, as JSON
  pclforge plan --with qt5 --with cuda --format json

  # From an option file, saving the plan and a dependency graph
  pclforge plan pcl.toml --save --graph deps.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if a.settings.JSON && !cmd.Flags().Changed("format") {
				format = "json"
			}

			file, input, err := a.loadOptions(args, &flags)
			if err != nil {
				return err
			}
			p, closeProbe, err := a.hostProbe(ctx)
			if err != nil {
				return err
			}
			defer closeProbe()

			var recorder engine.PlanRecorder
			if save {
				store, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				defer store.Close()
				recorder = store
			}

			planner, err := a.planner(ctx, file, p, recorder, nil)
			if err != nil {
				return err
			}
			plan, err := planner.Plan(ctx, input)
			if err != nil {
				return err
			}

			if graphFile != "" {
				data, err := render.ForPath(ctx, plan, graphFile)
				if err != nil {
					return err
				}
				if err := os.WriteFile(graphFile, data, 0o644); err != nil {
					return fmt.Errorf("failed to write graph: %w", err)
				}
				log.Info().Str("file", graphFile).Msg("dependency graph written")
			}
			if save {
				log.Info().Str("plan_id", plan.ID).Msg("plan saved")
			}

			return writePlan(a.out, plan, format)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json, yaml or dot")
	cmd.Flags().StringVar(&graphFile, "graph", "", "write the dependency graph (.svg, .png or .dot)")
	cmd.Flags().BoolVar(&save, "save", false, "record the plan in the run history")

	return cmd
}
