// Package main is the entry point for the polis-dispatch binary.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/polisai/polis-dispatch/pkg/app"
	"github.com/polisai/polis-dispatch/pkg/config"
	"github.com/polisai/polis-dispatch/pkg/governance"
	"github.com/polisai/polis-dispatch/pkg/interceptors"
	"github.com/polisai/polis-dispatch/pkg/logging"
	"github.com/polisai/polis-dispatch/pkg/server"
	"github.com/polisai/polis-dispatch/pkg/telemetry"
	"github.com/polisai/polis-dispatch/pkg/usage"
)

const telemetryShutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-dispatch
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "polis-dispatch",
		Short:         "Request dispatch service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd(), newRoutesCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the dispatch API",
		Long: `Serve POST /v1/dispatch, /healthz and /metrics.

The configuration file is watched; a valid revision replaces the active
dispatcher without dropping in-flight requests.`,
		RunE: runServe,
	}
}

func newRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the route table in registration order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			d, err := app.BuildDispatcher(cmd.Context(), cfg, app.Deps{Logger: logger})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, route := range d.Routes() {
				fmt.Fprintf(out, "%d\t%s\n", i+1, route)
			}
			return nil
		},
	}
}

// loadConfig loads .env, the configuration file and flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	_ = godotenv.Load()

	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
		if err := cfg.Logging.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	slog.SetDefault(logger)

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Environment: cfg.Telemetry.Environment,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("telemetry setup failed: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	deps := app.Deps{
		Logger:      logger,
		RateLimiter: interceptors.NewRateLimiter(nil),
		Breakers:    governance.NewBreakers(nil, logger),
	}
	if cfg.Usage.Enabled {
		recorder, err := usage.OpenRecorder(ctx, usage.Config{
			Driver:          cfg.Usage.Driver,
			DSN:             cfg.Usage.DSN,
			MaxOpenConns:    cfg.Usage.MaxOpenConns,
			MaxIdleConns:    cfg.Usage.MaxIdleConns,
			ConnMaxLifetime: cfg.Usage.ConnMaxLifetime,
		})
		if err != nil {
			return fmt.Errorf("usage store: %w", err)
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				logger.Error("failed to close usage store", "error", err)
			}
		}()
		deps.Recorder = recorder
	}

	d, err := app.BuildDispatcher(ctx, cfg, deps)
	if err != nil {
		return err
	}
	logger.Info("dispatcher built", "routes", len(d.Routes()))

	tlsConfig, err := cfg.Server.TLS.ServerTLS()
	if err != nil {
		return err
	}

	srv := server.New(d, server.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Logger:         logger,
	})
	if _, err := srv.Start(cfg.Server.Address, tlsConfig); err != nil {
		return fmt.Errorf("failed to bind %s: %w", cfg.Server.Address, err)
	}

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		watcher, err := config.NewWatcher(path, logger)
		if err != nil {
			logger.Warn("configuration watch disabled", "error", err)
		} else {
			defer func() { _ = watcher.Close() }()
			go watchConfig(ctx, watcher, srv, deps, logger)
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	return nil
}

// watchConfig rebuilds the dispatcher for every configuration revision after the
// first and swaps it into srv.
func watchConfig(ctx context.Context, watcher *config.Watcher, srv *server.Server, deps app.Deps, logger *slog.Logger) {
	updates := watcher.Subscribe()
	<-updates

	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-updates:
			d, err := app.BuildDispatcher(ctx, cfg, deps)
			if err != nil {
				srv.Metrics().RecordConfigReload("failure")
				logger.Error("dispatcher rebuild failed, keeping previous configuration", "error", err)
				continue
			}
			srv.Swap(d)
			logger.Info("dispatcher replaced", "routes", len(d.Routes()))
		}
	}
}
