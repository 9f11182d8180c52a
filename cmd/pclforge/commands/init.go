package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const starterOptions = `# pclforge option file
recipe = "pcl"

# Option values; see 'pclforge options' for the full list.
[options]
examples = false
tools = true
apps = false
# qt5 = true
# vtk = "true"
# cuda = true
# source = "head"

[layout]
root = %q
build_type = "Release"

# Starlark hooks run after the built-in rules and may add configure
# arguments ("args") and environment changes ("env").
# [[hooks]]
# name = "ccache"
# script = '''
# args = ["-DCMAKE_CXX_COMPILER_LAUNCHER=ccache"]
# '''
`

func newInitCommand(a *app) *cobra.Command {
	var (
		file  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a starter option file and the run history",
		Example: `  # Write pclforge.toml in the current directory
  pclforge init

  # Overwrite an existing file
  pclforge init --file pcl.toml --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log.Debug().Str("file", file).Str("db", a.settings.DB).Msg("initializing")

			if !force {
				if _, err := os.Stat(file); err == nil {
					return fmt.Errorf("%s already exists, use --force to overwrite", file)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			content := fmt.Sprintf(starterOptions, a.settings.Prefix)
			if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
				return fmt.Errorf("failed to write option file: %w", err)
			}
			fmt.Fprintf(a.out, "✓ Created option file: %s\n", file)

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if err := store.Close(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "✓ Initialized run history: %s\n", a.settings.DB)

			fmt.Fprintf(a.out, "\nNext: pclforge plan %s\n", file)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "pclforge.toml", "option file to create")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing option file")
	return cmd
}
