package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/workqueue/pkg/config"
	"github.com/dmitrymomot/workqueue/pkg/logger"
	"github.com/dmitrymomot/workqueue/pkg/workqueue/opsapi"
)

// runtime resolves settings and opens the app for a command.
type runtime struct {
	loadSettings func() (settings, error)
	openApp      appOpener
}

func newRuntime() *runtime {
	return &runtime{loadSettings: loadSettings, openApp: openApp}
}

func (r *runtime) open(ctx context.Context) (*app, error) {
	s, err := r.loadSettings()
	if err != nil {
		return nil, err
	}
	log := logger.New(
		logger.WithEnvironment(s.App.Env, s.App.Name),
		logger.WithLevelName(s.App.LogLevel),
		logger.WithOutput(os.Stderr),
		logger.WithContextExtractors(opsapi.RequestIDExtractor()),
	)
	slog.SetDefault(log)
	return r.openApp(ctx, s, log)
}

func newRootCmd(r *runtime) *cobra.Command {
	var envFiles []string
	root := &cobra.Command{
		Use:           "workqueue",
		Short:         "Durable work queue and scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if len(envFiles) == 0 {
				return nil
			}
			if err := config.LoadEnv(envFiles...); err != nil {
				return err
			}
			config.ResetCache()
			return nil
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "extra .env files to load, later files win")

	root.AddCommand(
		workerCmd(r),
		recoverCmd(r),
		reportCmd(r),
		addCmd(r),
		listCmd(r),
		eventsCmd(r),
	)
	return root
}
