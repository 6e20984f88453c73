// Package store persists published crate versions. A row is created by the
// publish path with no commit id and is marked exactly once by the index
// sync worker once the version has been committed to the index.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/stacklok/cargo-registry-server/internal/crate"
	"github.com/stacklok/cargo-registry-server/internal/errs"
	"github.com/stacklok/cargo-registry-server/internal/versions"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go MetadataStore

// PendingVersion is one published crate version
type PendingVersion struct {
	ID       int64
	Name     string
	Version  string
	Download string
	Checksum string

	Deps     []crate.Dependency
	Features map[string][]string
	Authors  []string

	Description   *string
	Documentation *string
	Homepage      *string
	Readme        *string
	ReadmeFile    *string

	Categories []string
	Keywords   []string

	License     *string
	LicenseFile *string
	Repository  *string
	Links       *string

	UploadedAt time.Time

	// CommitID is nil until the version is part of the index
	CommitID *string
}

// IsCommitted reports whether the version has been written to the index
func (v *PendingVersion) IsCommitted() bool {
	return v.CommitID != nil
}

// IndexEntry derives the index line for the version
func (v *PendingVersion) IndexEntry() *crate.IndexEntry {
	return crate.NewIndexEntry(v.Name, v.Version, v.Deps, v.Features, v.Checksum, v.Links)
}

// NewPendingVersion builds the row recorded for a publish
func NewPendingVersion(m *crate.Metadata, download, checksum string) *PendingVersion {
	return &PendingVersion{
		Name:          m.Name,
		Version:       m.Vers,
		Download:      download,
		Checksum:      checksum,
		Deps:          m.Deps,
		Features:      m.Features,
		Authors:       m.Authors,
		Description:   m.Description,
		Documentation: m.Documentation,
		Homepage:      m.Homepage,
		Readme:        m.Readme,
		ReadmeFile:    m.ReadmeFile,
		Categories:    m.Categories,
		Keywords:      m.Keywords,
		License:       m.License,
		LicenseFile:   m.LicenseFile,
		Repository:    m.Repository,
		Links:         m.Links,
	}
}

// InsertHook runs inside the insert transaction once the row id is known.
// Returning an error aborts the insert.
type InsertHook func(ctx context.Context, id int64) error

// MetadataStore is the relational table of published versions
type MetadataStore interface {
	// InsertPendingVersion records v with no commit id and returns its id.
	// A version equal to an existing one of the same crate, ignoring build
	// metadata, yields a Conflict error. When hook is not nil it runs before
	// the insert becomes visible.
	InsertPendingVersion(ctx context.Context, v *PendingVersion, hook InsertHook) (int64, error)

	// ListPending returns every version without a commit id, oldest upload first
	ListPending(ctx context.Context) ([]*PendingVersion, error)

	// MarkCommitted sets the commit id of a pending version. It returns
	// false without error when the row was already committed.
	MarkCommitted(ctx context.Context, id int64, commitID string) (bool, error)

	// LookupDownloadURL returns the stored download URL, or a NotFound error
	LookupDownloadURL(ctx context.Context, name, version string) (string, error)

	// CountPending returns the number of versions without a commit id
	CountPending(ctx context.Context) (int64, error)

	// Ping checks the store is reachable
	Ping(ctx context.Context) error

	// Close releases resources held by the store
	Close()
}

// checkVersionConflict returns a Conflict error when version equals one of
// existing once build metadata is ignored. 1.0.0+a and 1.0.0+b are the same
// version to cargo and cannot both be published.
func checkVersionConflict(op, name, version string, existing []string) error {
	for _, other := range existing {
		if versions.SameVersion(other, version) {
			if other == version {
				return errs.E(errs.KindConflict, op, fmt.Errorf("crate %s@%s already exists", name, version))
			}
			return errs.E(errs.KindConflict, op,
				fmt.Errorf("crate %s@%s conflicts with published version %s", name, version, other))
		}
	}
	return nil
}
