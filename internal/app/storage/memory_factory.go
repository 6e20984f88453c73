package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stacklok/cargo-registry-server/internal/config"
	"github.com/stacklok/cargo-registry-server/internal/status"
	"github.com/stacklok/cargo-registry-server/internal/store"
)

// MemoryFactory creates process-local storage components for development.
// Nothing it stores survives a restart.
type MemoryFactory struct {
	config   *config.Config
	metadata *store.Memory
}

var _ Factory = (*MemoryFactory)(nil)

// NewMemoryFactory creates a new in-memory storage factory
func NewMemoryFactory(cfg *config.Config) (*MemoryFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	slog.Info("Creating in-memory storage factory")

	return &MemoryFactory{
		config:   cfg,
		metadata: store.NewMemory(),
	}, nil
}

// CreateMetadataStore returns the in-memory store
func (m *MemoryFactory) CreateMetadataStore(_ context.Context) (store.MetadataStore, error) {
	return m.metadata, nil
}

// CreateStatusPersistence returns file persistence when a status directory is
// configured and memory persistence otherwise
func (m *MemoryFactory) CreateStatusPersistence(_ context.Context) (status.StatusPersistence, error) {
	return newStatusPersistence(m.config), nil
}

// Cleanup is a no-op; the in-memory store holds no external resources
func (*MemoryFactory) Cleanup() {
	slog.Debug("Cleaning up in-memory storage factory (no-op)")
}
