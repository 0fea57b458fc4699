// Package cmd defines and implements the CLI commands for the topic-catalog executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/quizbowl-topic-catalog/internal/catalog"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/config"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Snapshots is the part of the catalog cache the commands use.
type Snapshots interface {
	Get(ctx context.Context) (catalog.Snapshot, error)
	Refresh(ctx context.Context) (catalog.Snapshot, error)
}

// App defines the application interface that commands will use.
// Tests inject a fake through newApp.
type App interface {
	Close()
	Logger() *zap.Logger
	Snapshots() Snapshots
	Run(ctx context.Context) error
}

type serverApp struct {
	*server.App
}

func (a serverApp) Snapshots() Snapshots {
	return a.Catalog()
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	return serverApp{App: app}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "topic-catalog",
		Short: "Crawls and serves the You Gotta Know topic catalog.",
		Long: `topic-catalog scrapes the NAQT "You Gotta Know" index and every topic
page it links, then caches the resulting catalog and serves it over HTTP.`,
		SilenceUsage: true,

		// Runs before the subcommand's RunE; builds and injects the application.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newGenerateCmd())
	cmd.AddCommand(newExportCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
