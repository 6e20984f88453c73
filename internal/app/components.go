package app

import (
	"github.com/stacklok/cargo-registry-server/internal/cache"
	"github.com/stacklok/cargo-registry-server/internal/service"
	"github.com/stacklok/cargo-registry-server/internal/store"
	"github.com/stacklok/cargo-registry-server/internal/sync/coordinator"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// SyncCoordinator owns the index repository and runs index passes
	SyncCoordinator coordinator.Coordinator

	// RegistryService provides registry business logic
	RegistryService service.RegistryService

	// MetadataStore holds published versions
	MetadataStore store.MetadataStore

	// DownloadCache fronts download URL lookups (optional)
	DownloadCache *cache.DownloadCache
}
