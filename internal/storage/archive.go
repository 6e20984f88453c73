// Package storage keeps uploaded crate archives on a go-billy filesystem.
//
// Archives are addressed by the crate's shard path and version, so the
// download URL of a version can always be rebuilt from its name and
// version alone:
//
//	serde 1.0.0 -> se/rd/serde/1.0.0.crate
//
// Uploads are first written to a temporary file and only renamed into place
// once the metadata row that references them is about to become visible.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"

	"github.com/stacklok/cargo-registry-server/internal/errs"
	"github.com/stacklok/cargo-registry-server/internal/shard"
)

const (
	archiveExt = ".crate"
	tempDir    = ".uploads"
)

// ArchiveStore stores crate archives
type ArchiveStore struct {
	fs billy.Filesystem
}

// NewArchiveStore returns a store rooted at fs
func NewArchiveStore(fs billy.Filesystem) *ArchiveStore {
	return &ArchiveStore{fs: fs}
}

// NewLocalArchiveStore returns a store rooted at a local directory, creating
// it if needed
func NewLocalArchiveStore(root string) (*ArchiveStore, error) {
	if root == "" {
		return nil, errs.Validationf("storage.NewLocalArchiveStore", "storage path is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", root, err)
	}
	return NewArchiveStore(osfs.New(root)), nil
}

// ArchivePath returns the relative path of the archive for name at version
func ArchivePath(name, version string) (string, error) {
	dir, err := shard.Path(name)
	if err != nil {
		return "", err
	}
	if version == "" || path.Base(version) != version || version == "." || version == ".." {
		return "", errs.Validationf("storage.ArchivePath", "invalid version %q", version)
	}
	return path.Join(dir, version+archiveExt), nil
}

// DownloadURL joins the public download base with an archive path
func DownloadURL(base, archivePath string) (string, error) {
	u, err := url.JoinPath(base, archivePath)
	if err != nil {
		return "", fmt.Errorf("invalid download base URL %q: %w", base, err)
	}
	return u, nil
}

// StagedArchive is an upload written to a temporary location
type StagedArchive struct {
	fs       billy.Filesystem
	tempPath string

	// Size is the number of bytes written
	Size int64

	// Checksum is the hex encoded SHA-256 of the content
	Checksum string
}

// Stage streams exactly size bytes from r into a temporary file while
// hashing them. A stream that ends early is a validation error and leaves
// nothing behind.
func (s *ArchiveStore) Stage(r io.Reader, size int64) (*StagedArchive, error) {
	const op = "storage.Stage"

	if err := s.fs.MkdirAll(tempDir, 0o750); err != nil {
		return nil, errs.E(errs.KindInternal, op, fmt.Errorf("failed to create upload directory: %w", err))
	}
	tempPath := path.Join(tempDir, uuid.NewString()+".part")

	f, err := s.fs.Create(tempPath)
	if err != nil {
		return nil, errs.E(errs.KindInternal, op, fmt.Errorf("failed to create upload file: %w", err))
	}

	sum := sha256.New()
	written, copyErr := io.CopyN(io.MultiWriter(f, sum), r, size)
	closeErr := f.Close()

	if copyErr != nil || closeErr != nil {
		s.removeQuietly(tempPath)
		if errors.Is(copyErr, io.EOF) || errors.Is(copyErr, io.ErrUnexpectedEOF) {
			return nil, errs.Validationf(op, "archive truncated: got %d of %d bytes", written, size)
		}
		if copyErr != nil {
			return nil, errs.E(errs.KindInternal, op, fmt.Errorf("failed to write archive: %w", copyErr))
		}
		return nil, errs.E(errs.KindInternal, op, fmt.Errorf("failed to close archive: %w", closeErr))
	}

	return &StagedArchive{
		fs:       s.fs,
		tempPath: tempPath,
		Size:     written,
		Checksum: hexSum(sum),
	}, nil
}

// Commit moves the staged archive to dest, replacing whatever is there
func (a *StagedArchive) Commit(dest string) error {
	const op = "storage.Commit"

	if err := a.fs.MkdirAll(path.Dir(dest), 0o750); err != nil {
		return errs.E(errs.KindInternal, op, fmt.Errorf("failed to create directory for %s: %w", dest, err))
	}
	if err := a.fs.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errs.E(errs.KindInternal, op, fmt.Errorf("failed to replace %s: %w", dest, err))
	}
	if err := a.fs.Rename(a.tempPath, dest); err != nil {
		return errs.E(errs.KindInternal, op, fmt.Errorf("failed to move archive to %s: %w", dest, err))
	}
	return nil
}

// Discard removes the temporary file. It is safe to call after Commit.
func (a *StagedArchive) Discard() {
	if err := a.fs.Remove(a.tempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to remove staged archive", "path", a.tempPath, "error", err)
	}
}

// Open returns the archive at p for reading
func (s *ArchiveStore) Open(p string) (billy.File, error) {
	f, err := s.fs.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errs.E(errs.KindNotFound, "storage.Open", fmt.Errorf("archive %s not found", p))
	}
	if err != nil {
		return nil, errs.E(errs.KindInternal, "storage.Open", err)
	}
	return f, nil
}

// Stat returns file info for the archive at p
func (s *ArchiveStore) Stat(p string) (os.FileInfo, error) {
	info, err := s.fs.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errs.E(errs.KindNotFound, "storage.Stat", fmt.Errorf("archive %s not found", p))
	}
	if err != nil {
		return nil, errs.E(errs.KindInternal, "storage.Stat", err)
	}
	return info, nil
}

// Remove deletes the archive at p. A missing file is not an error.
func (s *ArchiveStore) Remove(p string) error {
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errs.E(errs.KindInternal, "storage.Remove", err)
	}
	return nil
}

func (s *ArchiveStore) removeQuietly(p string) {
	if err := s.Remove(p); err != nil {
		slog.Warn("Failed to remove partial upload", "path", p, "error", err)
	}
}

func hexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
