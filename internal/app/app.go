// Package app provides application lifecycle management for the registry server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/cargo-registry-server/internal/config"
)

// RegistryApp encapsulates all components needed to run the registry API server
// It provides lifecycle management and graceful shutdown capabilities
type RegistryApp struct {
	config          *config.Config
	components      *AppComponents
	httpServer      *http.Server
	shutdownTimeout time.Duration

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start runs the index worker and the HTTP server. It blocks until Stop is
// called or one of them fails, in which case the other is shut down too.
func (app *RegistryApp) Start() error {
	g, ctx := errgroup.WithContext(app.ctx)

	g.Go(func() error {
		if err := app.components.SyncCoordinator.Start(ctx); err != nil {
			return fmt.Errorf("index worker failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("Server listening", "address", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.shutdownTimeout)
		defer cancel()
		if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Stop gracefully stops the application with the given timeout
// It stops the index worker and then shuts down the HTTP server
func (app *RegistryApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	// Stop the worker first so no pass is cut short by closed stores
	if err := app.components.SyncCoordinator.Stop(); err != nil {
		slog.Error("Failed to stop index worker", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shutdownErr := app.httpServer.Shutdown(shutdownCtx)

	// Cancel the application context and release storage
	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	if shutdownErr != nil {
		return fmt.Errorf("server forced to shutdown: %w", shutdownErr)
	}

	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *RegistryApp) GetConfig() *config.Config {
	return app.config
}

// GetComponents returns the wired components
func (app *RegistryApp) GetComponents() *AppComponents {
	return app.components
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *RegistryApp) GetHTTPServer() *http.Server {
	return app.httpServer
}
