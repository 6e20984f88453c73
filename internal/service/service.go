// Package service provides the business logic behind the cargo registry API
package service

import (
	"context"
	"io"
	"os"

	"github.com/go-git/go-billy/v5"

	"github.com/stacklok/cargo-registry-server/internal/publish"
	"github.com/stacklok/cargo-registry-server/internal/status"
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks -source=service.go RegistryService

// RegistryService defines the interface for registry operations
type RegistryService interface {
	// CheckReadiness checks if the service is ready to serve requests
	CheckReadiness(ctx context.Context) error

	// Publish ingests a framed publish body and wakes the index worker
	Publish(ctx context.Context, body io.Reader) (*publish.Result, error)

	// ResolveDownload returns the download URL of a published version
	ResolveDownload(ctx context.Context, name, version string) (string, error)

	// OpenArchive opens a stored archive by its path relative to the archive root.
	// The caller closes the returned file.
	OpenArchive(ctx context.Context, archivePath string) (billy.File, os.FileInfo, error)

	// WorkerStatus returns the index worker's status, or nil when no worker runs
	WorkerStatus() *status.WorkerStatus
}

// IndexWorker is the part of the index worker the service talks to
type IndexWorker interface {
	// Notify asks the worker for a pass without blocking
	Notify()
	Status() *status.WorkerStatus
}
