package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/pclforge/pkg/policy"
)

// replanDelay debounces editor save bursts into one re-plan.
const replanDelay = 200 * time.Millisecond

func newWatchCommand(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "watch <file>...",
		Short: "Re-plan whenever an option file or policy changes",
		Long: `Resolve the plan for the option files, then resolve it again every time one
of the files or a policy under --policy-dir changes. Errors are reported and
watching continues. Stop with Ctrl-C.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.watch(cmd.Context(), args, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json, yaml, dot")
	return cmd
}

func (a *app) watch(ctx context.Context, files []string, format string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files on save, so watch the directories and filter.
	watched := make(map[string]bool, len(files))
	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return err
		}
		watched[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	trigger := make(chan struct{}, 1)
	notify := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	replan := func() []string {
		file, input, err := a.loadOptions(files, nil)
		if err != nil {
			log.Error().Err(err).Msg("failed to load options")
			return nil
		}
		hp, closeProbe, err := a.hostProbe(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to open probe")
			return nil
		}
		defer closeProbe()

		policies := a.policyPaths(file)
		planner, err := a.planner(ctx, file, hp, nil, nil)
		if err != nil {
			log.Error().Err(err).Msg("failed to build planner")
			return policies
		}
		plan, err := planner.Plan(ctx, input)
		if err != nil {
			log.Error().Err(err).Msg("plan failed")
			return policies
		}
		fmt.Fprintf(a.out, "--- %s\n", time.Now().Format(time.TimeOnly))
		if err := writePlan(a.out, plan, format); err != nil {
			log.Error().Err(err).Msg("failed to write plan")
		}
		return policies
	}

	policies := replan()
	if len(policies) > 0 {
		loader := policy.NewLoader(log.Logger)
		err := loader.Watch(ctx, policies, func([]policy.Policy) error {
			notify()
			return nil
		})
		if err != nil {
			log.Warn().Err(err).Msg("failed to watch policies")
		}
	}
	log.Info().Strs("files", files).Msg("watching for changes")

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !watched[event.Name] {
				continue
			}
			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("option file changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(replanDelay, notify)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("watcher error")

		case <-trigger:
			replan()
		}
	}
}
