package publish

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/cargo-registry-server/internal/errs"
	"github.com/stacklok/cargo-registry-server/internal/otel"
	"github.com/stacklok/cargo-registry-server/internal/storage"
	"github.com/stacklok/cargo-registry-server/internal/store"
)

// Result describes an accepted publish
type Result struct {
	ID       int64
	Name     string
	Version  string
	Checksum string
	Download string
	Size     int64
}

// Ingestor persists publishes: the archive goes to the archive store and
// a pending row goes to the metadata store. Either both become visible or
// neither does.
type Ingestor struct {
	store        store.MetadataStore
	archives     *storage.ArchiveStore
	downloadBase string
	limits       Limits
	tracer       trace.Tracer
}

// Option configures an Ingestor
type Option func(*Ingestor)

// WithLimits overrides the default size limits
func WithLimits(l Limits) Option {
	return func(i *Ingestor) {
		i.limits = l
	}
}

// WithTracer sets the tracer used for ingest spans
func WithTracer(tracer trace.Tracer) Option {
	return func(i *Ingestor) {
		i.tracer = tracer
	}
}

// NewIngestor creates an Ingestor. downloadBase is the public URL archive
// paths are joined to.
func NewIngestor(
	metadata store.MetadataStore,
	archives *storage.ArchiveStore,
	downloadBase string,
	opts ...Option,
) (*Ingestor, error) {
	if metadata == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if archives == nil {
		return nil, fmt.Errorf("archive store is required")
	}
	if downloadBase == "" {
		return nil, fmt.Errorf("download base URL is required")
	}

	i := &Ingestor{
		store:        metadata,
		archives:     archives,
		downloadBase: downloadBase,
		limits:       DefaultLimits(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Ingest decodes a publish body from r and records it
func (i *Ingestor) Ingest(ctx context.Context, r io.Reader) (*Result, error) {
	const op = "publish.Ingest"
	ctx, span := otel.StartSpan(ctx, i.tracer, op)
	defer span.End()

	result, err := i.ingest(ctx, r)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		otel.AttrCrateName.String(result.Name),
		otel.AttrCrateVersion.String(result.Version),
	)
	return result, nil
}

func (i *Ingestor) ingest(ctx context.Context, r io.Reader) (*Result, error) {
	const op = "publish.Ingest"

	payload, err := Decode(r, i.limits)
	if err != nil {
		return nil, err
	}
	meta := payload.Metadata

	archivePath, err := storage.ArchivePath(meta.Name, meta.Vers)
	if err != nil {
		return nil, err
	}
	download, err := storage.DownloadURL(i.downloadBase, archivePath)
	if err != nil {
		return nil, errs.E(errs.KindInternal, op, err)
	}

	// Reject known duplicates before streaming the archive. The insert
	// below still enforces uniqueness for concurrent publishes.
	if _, err := i.store.LookupDownloadURL(ctx, meta.Name, meta.Vers); err == nil {
		return nil, errs.E(errs.KindConflict, op, fmt.Errorf("crate %s@%s already exists", meta.Name, meta.Vers))
	} else if !errs.Is(err, errs.KindNotFound) {
		return nil, err
	}

	staged, err := i.archives.Stage(payload.Archive, payload.ArchiveSize)
	if err != nil {
		return nil, err
	}
	defer staged.Discard()

	row := store.NewPendingVersion(meta, download, staged.Checksum)

	moved := false
	id, err := i.store.InsertPendingVersion(ctx, row, func(_ context.Context, _ int64) error {
		if err := staged.Commit(archivePath); err != nil {
			return err
		}
		moved = true
		return nil
	})
	if err != nil {
		if moved {
			if rmErr := i.archives.Remove(archivePath); rmErr != nil {
				slog.ErrorContext(ctx, "Failed to remove archive of aborted publish",
					"crate", meta.Name, "version", meta.Vers, "path", archivePath, "error", rmErr)
			}
		}
		return nil, err
	}

	slog.InfoContext(ctx, "Crate published",
		"crate", meta.Name,
		"version", meta.Vers,
		"id", id,
		"size", staged.Size,
	)

	return &Result{
		ID:       id,
		Name:     meta.Name,
		Version:  meta.Vers,
		Checksum: staged.Checksum,
		Download: download,
		Size:     staged.Size,
	}, nil
}
