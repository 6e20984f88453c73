// Package status provides index worker status tracking and persistence.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// StatusFileName is the name of the status file
	StatusFileName = "status.json"
)

// StatusPersistence defines the interface for worker status persistence
//
//nolint:revive // This name is fine
type StatusPersistence interface {
	// SaveStatus saves the worker status to persistent storage
	SaveStatus(ctx context.Context, status *WorkerStatus) error

	// LoadStatus loads the worker status from persistent storage.
	// Returns an Idle status if nothing was saved yet (first run).
	LoadStatus(ctx context.Context) (*WorkerStatus, error)
}

// fileStatusPersistence implements StatusPersistence using local filesystem
type fileStatusPersistence struct {
	basePath string
}

// NewFileStatusPersistence creates a new file-based status persistence.
// basePath is the directory the status file is stored in.
func NewFileStatusPersistence(basePath string) StatusPersistence {
	return &fileStatusPersistence{
		basePath: basePath,
	}
}

// SaveStatus saves the worker status to a JSON file
func (f *fileStatusPersistence) SaveStatus(_ context.Context, status *WorkerStatus) error {
	if err := os.MkdirAll(f.basePath, 0750); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	filePath := filepath.Join(f.basePath, StatusFileName)

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status data: %w", err)
	}

	// Write to temporary file first for atomic operation
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary status file: %w", err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename status file: %w", err)
	}

	return nil
}

// LoadStatus loads the worker status from the JSON file
func (f *fileStatusPersistence) LoadStatus(_ context.Context) (*WorkerStatus, error) {
	filePath := filepath.Join(f.basePath, StatusFileName)

	// #nosec G304 -- filePath is built from the configured status directory
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &WorkerStatus{Phase: PhaseIdle}, nil
		}
		return nil, fmt.Errorf("failed to read status file: %w", err)
	}

	var status WorkerStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status data: %w", err)
	}

	return &status, nil
}

// memoryStatusPersistence keeps the status in memory only
type memoryStatusPersistence struct {
	mu     sync.Mutex
	status *WorkerStatus
}

// NewMemoryStatusPersistence creates a persistence that forgets everything
// on restart
func NewMemoryStatusPersistence() StatusPersistence {
	return &memoryStatusPersistence{}
}

// SaveStatus stores a copy of status
func (m *memoryStatusPersistence) SaveStatus(_ context.Context, status *WorkerStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *status
	m.status = &c
	return nil
}

// LoadStatus returns a copy of the saved status
func (m *memoryStatusPersistence) LoadStatus(_ context.Context) (*WorkerStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == nil {
		return &WorkerStatus{Phase: PhaseIdle}, nil
	}
	c := *m.status
	return &c, nil
}
