package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pclforge/pkg/config"
)

func newValidateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate option files",
		Long: `Validate option files without probing the host.

This command checks:
  - Syntax of the CUE, TOML, YAML or JSON file
  - Conformance to the option file schema
  - Option names and values against the recipe
  - Exclusive groups (e.g. qt and qt5 together)
  - Hook and policy files are loadable`,
		Example: `  # Validate one file
  pclforge validate pcl.toml

  # Validate a base file with a local override
  pclforge validate base.cue local.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader()
			for _, path := range args {
				if _, err := loader.Load(path); err != nil {
					return err
				}
			}

			file, input, err := a.loadOptions(args, nil)
			if err != nil {
				return err
			}
			opts, err := a.recipe(file).NewOptionSet(input)
			if err != nil {
				return err
			}
			if _, err := config.NewHooks(file.Hooks, config.DefaultHookTimeout); err != nil {
				return err
			}
			if _, err := a.policyEngine(cmd.Context(), file); err != nil {
				return err
			}

			for _, name := range opts.Ignored() {
				log.Warn().Str("option", name).Msg("option is accepted but has no effect")
			}
			for _, path := range args {
				fmt.Fprintf(a.out, "✓ %s\n", path)
			}
			return nil
		},
	}
	return cmd
}
