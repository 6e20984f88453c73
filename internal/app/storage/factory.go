// Package storage provides factory functions for creating storage-dependent components.
// It implements the Abstract Factory pattern so the metadata store and the worker
// status persistence are created from one configuration decision.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stacklok/cargo-registry-server/internal/config"
	"github.com/stacklok/cargo-registry-server/internal/status"
	"github.com/stacklok/cargo-registry-server/internal/store"
)

//go:generate mockgen -destination=mocks/mock_factory.go -package=mocks -source=factory.go Factory

// Factory creates storage-dependent components as a family and manages the
// lifecycle of the resources behind them (e.g., database connections).
type Factory interface {
	// CreateMetadataStore returns the store holding published versions.
	// Repeated calls return the same store.
	CreateMetadataStore(ctx context.Context) (store.MetadataStore, error)

	// CreateStatusPersistence returns where the index worker status is kept
	CreateStatusPersistence(ctx context.Context) (status.StatusPersistence, error)

	// Cleanup releases any resources held by this factory.
	// Should be called when the application shuts down.
	Cleanup()
}

// NewStorageFactory creates a storage factory based on the configuration.
// Returns a DatabaseFactory when a database is configured and a MemoryFactory otherwise.
func NewStorageFactory(ctx context.Context, cfg *config.Config, opts ...DatabaseFactoryOption) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Database == nil {
		slog.Warn("No database configured, using in-memory metadata store; published versions are lost on restart")
		return NewMemoryFactory(cfg)
	}
	return NewDatabaseFactory(ctx, cfg, opts...)
}

func newStatusPersistence(cfg *config.Config) status.StatusPersistence {
	if cfg.Worker.StatusDir == "" {
		return status.NewMemoryStatusPersistence()
	}
	slog.Debug("Persisting worker status", "dir", cfg.Worker.StatusDir)
	return status.NewFileStatusPersistence(cfg.Worker.StatusDir)
}
