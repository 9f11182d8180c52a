package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// settings are the tool settings shared by every command. They come from
// flags, PCLFORGE_* environment variables and the --config file, in that
// order of precedence.
type settings struct {
	DB           string
	Prefix       string
	SourceDir    string
	Jobs         int
	OTLPEndpoint string
	MetricsAddr  string
	PolicyDir    string
	PluginDir    string
	Verbose      bool
	JSON         bool
}

// app carries the settings and output streams into the commands.
type app struct {
	settings settings
	out      io.Writer
	errOut   io.Writer
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	a := &app{}
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "pclforge",
		Short: "pclforge - build configuration compiler for the Point Cloud Library",
		Long: `pclforge turns a set of user-selected options into a resolved build plan for
the Point Cloud Library: the dependency list, the CMake arguments and the
build environment, and optionally runs the native build.

Features:
  - Option files in CUE, TOML, YAML or JSON
  - Host probing for CUDA, VTK and OpenNI, with WASM probe plugins
  - Rego policies over the resolved plan
  - Local or SSH builds with run history in SQLite`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = cmd.OutOrStdout()
			a.errOut = cmd.ErrOrStderr()
			s, err := loadSettings(cmd, configPath)
			if err != nil {
				return err
			}
			a.settings = s
			if s.Verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "settings file (yaml, toml or json)")
	flags.BoolP("verbose", "v", false, "enable verbose output")
	flags.Bool("json", false, "output in JSON format")
	flags.String("db", defaultDBPath(), "run history database")
	flags.String("prefix", "/usr/local", "Homebrew-style install root")
	flags.String("source-dir", ".", "unpacked PCL source tree on the build host")
	flags.Int("jobs", runtime.NumCPU(), "build parallelism")
	flags.String("otlp-endpoint", "", "export traces to this OTLP gRPC endpoint")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address during builds")
	flags.String("policy-dir", "", "directory of extra Rego policies")
	flags.String("plugin-dir", "", "directory of WASM probe plugin manifests")

	rootCmd.AddCommand(newOptionsCommand(a))
	rootCmd.AddCommand(newValidateCommand(a))
	rootCmd.AddCommand(newPlanCommand(a))
	rootCmd.AddCommand(newProbeCommand(a))
	rootCmd.AddCommand(newBuildCommand(a))
	rootCmd.AddCommand(newHistoryCommand(a))
	rootCmd.AddCommand(newShowCommand(a))
	rootCmd.AddCommand(newWatchCommand(a))
	rootCmd.AddCommand(newInitCommand(a))

	return rootCmd
}

func loadSettings(cmd *cobra.Command, configPath string) (settings, error) {
	v := viper.New()
	v.SetEnvPrefix("PCLFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return settings{}, fmt.Errorf("failed to bind flags: %w", err)
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return settings{}, fmt.Errorf("failed to read settings file: %w", err)
		}
	}

	s := settings{
		DB:           v.GetString("db"),
		Prefix:       v.GetString("prefix"),
		SourceDir:    v.GetString("source-dir"),
		Jobs:         v.GetInt("jobs"),
		OTLPEndpoint: v.GetString("otlp-endpoint"),
		MetricsAddr:  v.GetString("metrics-addr"),
		PolicyDir:    v.GetString("policy-dir"),
		PluginDir:    v.GetString("plugin-dir"),
		Verbose:      v.GetBool("verbose"),
		JSON:         v.GetBool("json"),
	}
	if s.Jobs < 1 {
		return settings{}, fmt.Errorf("jobs must be positive, got %d", s.Jobs)
	}
	if !filepath.IsAbs(s.Prefix) {
		return settings{}, fmt.Errorf("prefix must be an absolute path, got %q", s.Prefix)
	}
	return s, nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "pclforge.db"
	}
	return filepath.Join(home, ".pclforge", "history.db")
}
