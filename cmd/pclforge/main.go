package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/pclforge/cmd/pclforge/commands"
	"github.com/openfroyo/pclforge/pkg/engine"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	if err == nil {
		return
	}

	var ee *engine.EngineError
	if errors.As(err, &ee) && ee.Remediation != "" {
		fmt.Fprintln(os.Stderr, ee.Remediation)
	}
	log.Error().Err(err).Msg("command failed")
	os.Exit(exitCode(err))
}

// exitCode maps an error class to the process exit status.
func exitCode(err error) int {
	switch engine.ClassOf(err) {
	case engine.ErrorClassConfiguration:
		return 2
	case engine.ErrorClassRequirement:
		return 3
	case engine.ErrorClassBuild:
		return 4
	default:
		return 1
	}
}

// setupLogging configures zerolog for structured logging
func setupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
