package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	registryapp "github.com/stacklok/cargo-registry-server/internal/app"
	"github.com/stacklok/cargo-registry-server/internal/config"
	"github.com/stacklok/cargo-registry-server/internal/telemetry"
	"github.com/stacklok/cargo-registry-server/internal/versions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the registry API server",
	Long: `Start the registry API server and the index worker.

The server requires a configuration file (--config) that specifies:
- The Git index repository (local path and origin)
- Archive storage and the public download URL
- The PostgreSQL metadata store (in-memory when omitted)
- Optional download cache and telemetry settings

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second // Kubernetes-friendly shutdown time
)

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides server.address)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address"))
	if err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}
	err = viper.BindPFlag("config", serveCmd.Flags().Lookup("config"))
	if err != nil {
		slog.Error("Failed to bind config flag", "error", err)
		os.Exit(1)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

// buildAppOptions turns the loaded configuration and telemetry into builder options
func buildAppOptions(cfg *config.Config, tel *telemetry.Telemetry, address string) []registryapp.RegistryAppOptions {
	opts := []registryapp.RegistryAppOptions{
		registryapp.WithConfig(cfg),
		registryapp.WithShutdownTimeout(defaultGracefulTimeout),
	}
	if address != "" {
		opts = append(opts, registryapp.WithAddress(address))
	}

	if tel != nil && cfg.Telemetry != nil && cfg.Telemetry.Enabled {
		if cfg.Telemetry.Tracing != nil && cfg.Telemetry.Tracing.Enabled {
			opts = append(opts, registryapp.WithTracerProvider(tel.TracerProvider()))
		}
		if cfg.Telemetry.Metrics != nil && cfg.Telemetry.Metrics.Enabled {
			opts = append(opts, registryapp.WithMeterProvider(tel.MeterProvider()))
		}
		if path, handler := tel.MetricsHandler(); handler != nil {
			opts = append(opts, registryapp.WithPrometheus(tel.Registry(), path, handler))
		}
	}
	return opts
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"index_origin", cfg.Index.Origin,
		"database", cfg.Database != nil,
		"cache", cfg.Cache != nil,
	)

	if cfg.Telemetry != nil && cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = versions.Version
	}
	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}()

	registryApp, err := registryapp.NewRegistryApp(ctx, buildAppOptions(cfg, tel, viper.GetString("address"))...)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- registryApp.Start()
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-errCh:
		// Start only returns on its own when a component failed
		if stopErr := registryApp.Stop(defaultGracefulTimeout); stopErr != nil {
			slog.Error("Failed to stop application", "error", stopErr)
		}
		return err
	}

	if err := registryApp.Stop(defaultGracefulTimeout); err != nil {
		return err
	}
	return <-errCh
}
