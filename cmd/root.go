// Package cmd defines and implements the CLI commands for the edition-fetcher executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/api"
	"github.com/JakeFAU/edition-fetcher/internal/app"
	"github.com/JakeFAU/edition-fetcher/internal/config"
	"github.com/JakeFAU/edition-fetcher/internal/domain"
	"github.com/JakeFAU/edition-fetcher/internal/logging"
	"github.com/JakeFAU/edition-fetcher/internal/orchestrator"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use.
// Tests inject a fake through newApp.
type App interface {
	Close() error
	GetLogger() *zap.Logger
	GetConfig() config.Config
	Entries() api.Entries
	Run(ctx context.Context, filter domain.Recurrence) (orchestrator.Summary, error)
	Report(ctx context.Context) ([]app.ReportRow, error)
	PrecreateDirs(ctx context.Context) (int, error)
	PushMetrics()
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edition-fetcher",
		Short: "Fetches daily newspaper and magazine editions and delivers them.",
		Long: `edition-fetcher logs in to publisher websites, locates the edition
published today for every scheduled source, downloads it as PDF and uploads
it to the delivery server, recording each outcome in a per-day ledger.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				if err := appInstance.Close(); err != nil {
					appInstance.GetLogger().Warn("close failed", zap.Error(err))
				}
				_ = appInstance.GetLogger().Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); EDITIONS_* env vars override it")

	cmd.AddCommand(newRunCmd(), newReportCmd(), newServeCmd(), newDirsCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
