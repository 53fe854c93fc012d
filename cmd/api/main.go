package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Sunlytics/internal/app"
	"github.com/markdave123-py/Sunlytics/internal/config"
	db "github.com/markdave123-py/Sunlytics/internal/core/database"
	"github.com/markdave123-py/Sunlytics/internal/telemetry"
)

var version = "dev"

const shutdownTimeout = 20 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sunlytics",
		Short:         "Sunlytics solar analytics API",
		Version:       version,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrate(cmd.Context())
		},
	})
	return root
}

func loadConfig() (*config.Config, *slog.Logger, func() error, error) {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.SlogLevel())
	slog.SetDefault(logger)
	return cfg, logger, closeLog, nil
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.TraceFile, version)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	application, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer application.Close()

	logger.Info("Sunlytics is running", "version", version, "provider", application.Provider.Name())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(application.Server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return application.Server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		return err
	}
	logger.Info("shut down cleanly")
	return nil
}

func migrate(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, logger, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	client, err := db.NewDatabaseClient(parent, cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	logger.Info("database schema is up to date")
	return nil
}
