package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"onboarding/internal/platform/config"
	"onboarding/internal/platform/logger"
	"onboarding/internal/platform/postgres"
)

// main exposes serve, migrate and sweep. Wiring lives in app.go; business
// logic lives in the internal service packages.
func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "onboarding",
		Short:         "Applicant onboarding workflow coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (default: ./config.yaml if present)")

	load := func() (*config.Config, error) {
		return config.Load(configPath)
	}
	root.AddCommand(serveCmd(load), migrateCmd(load), sweepCmd(load))
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			log := logger.New(cfg.Log.Level)
			a, err := build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()
			return a.serve(ctx)
		},
	}
}

func migrateCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("database.url is required to migrate")
			}
			ctx, stop := signalContext()
			defer stop()

			db, err := postgres.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
			logger.New(cfg.Log.Level).InfoContext(ctx, "schema migrated")
			return nil
		},
	}
}

func sweepCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one deadline sweep pass and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			log := logger.New(cfg.Log.Level)
			a, err := build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()
			a.sweeper.RunOnce(ctx)
			if a.relay != nil {
				a.relay.RunOnce(ctx)
			}
			return nil
		},
	}
}
