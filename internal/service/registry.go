package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/cargo-registry-server/internal/cache"
	"github.com/stacklok/cargo-registry-server/internal/errs"
	"github.com/stacklok/cargo-registry-server/internal/otel"
	"github.com/stacklok/cargo-registry-server/internal/publish"
	"github.com/stacklok/cargo-registry-server/internal/status"
	"github.com/stacklok/cargo-registry-server/internal/storage"
	"github.com/stacklok/cargo-registry-server/internal/store"
	"github.com/stacklok/cargo-registry-server/internal/telemetry"
)

const (
	// ServiceTracerName is the name of the registry service tracer
	ServiceTracerName = "github.com/stacklok/cargo-registry-server/service"
)

// Publish outcomes reported to metrics
const (
	outcomeAccepted = "accepted"
	outcomeRejected = "rejected"
	outcomeConflict = "conflict"
	outcomeFailed   = "failed"
)

type registryService struct {
	metadata store.MetadataStore
	ingestor *publish.Ingestor
	archives *storage.ArchiveStore
	worker   IndexWorker
	cache    *cache.DownloadCache
	metrics  *telemetry.PublishMetrics
	tracer   trace.Tracer
}

var _ RegistryService = (*registryService)(nil)

// Option configures the registry service
type Option func(*registryService)

// WithIndexWorker sets the worker woken after each publish
func WithIndexWorker(w IndexWorker) Option {
	return func(s *registryService) {
		s.worker = w
	}
}

// WithDownloadCache puts a cache in front of download lookups
func WithDownloadCache(c *cache.DownloadCache) Option {
	return func(s *registryService) {
		s.cache = c
	}
}

// WithPublishMetrics sets the publish metrics recorder
func WithPublishMetrics(m *telemetry.PublishMetrics) Option {
	return func(s *registryService) {
		s.metrics = m
	}
}

// WithTracer sets the tracer used for service spans
func WithTracer(tracer trace.Tracer) Option {
	return func(s *registryService) {
		s.tracer = tracer
	}
}

// New creates a RegistryService
func New(
	metadata store.MetadataStore,
	ingestor *publish.Ingestor,
	archives *storage.ArchiveStore,
	opts ...Option,
) (RegistryService, error) {
	if metadata == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if ingestor == nil {
		return nil, fmt.Errorf("publish ingestor is required")
	}
	if archives == nil {
		return nil, fmt.Errorf("archive store is required")
	}

	s := &registryService{
		metadata: metadata,
		ingestor: ingestor,
		archives: archives,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CheckReadiness implements RegistryService
func (s *registryService) CheckReadiness(ctx context.Context) error {
	if err := s.metadata.Ping(ctx); err != nil {
		return errs.E(errs.KindTransient, "service.CheckReadiness", fmt.Errorf("metadata store not reachable: %w", err))
	}
	if s.worker != nil {
		if st := s.worker.Status(); st.IsHalted() {
			return errs.E(errs.KindFatal, "service.CheckReadiness", fmt.Errorf("index worker halted: %s", st.Message))
		}
	}
	return nil
}

// Publish implements RegistryService
func (s *registryService) Publish(ctx context.Context, body io.Reader) (*publish.Result, error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "service.Publish")
	defer span.End()

	result, err := s.ingestor.Ingest(ctx, body)
	if err != nil {
		otel.RecordError(span, err)
		s.metrics.RecordPublish(ctx, publishOutcome(err))
		return nil, err
	}

	s.metrics.RecordPublish(ctx, outcomeAccepted)
	s.metrics.RecordArchiveSize(ctx, result.Size)
	span.SetAttributes(
		otel.AttrCrateName.String(result.Name),
		otel.AttrCrateVersion.String(result.Version),
	)

	if s.worker != nil {
		s.worker.Notify()
	}
	return result, nil
}

// ResolveDownload implements RegistryService
func (s *registryService) ResolveDownload(ctx context.Context, name, version string) (string, error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "service.ResolveDownload",
		trace.WithAttributes(
			otel.AttrCrateName.String(name),
			otel.AttrCrateVersion.String(version),
		))
	defer span.End()

	lookup := func(ctx context.Context) (string, error) {
		return s.metadata.LookupDownloadURL(ctx, name, version)
	}

	var (
		url string
		err error
	)
	if s.cache != nil {
		url, err = s.cache.Resolve(ctx, name, version, lookup)
	} else {
		url, err = lookup(ctx)
	}
	if err != nil {
		otel.RecordError(span, err)
		return "", err
	}
	return url, nil
}

// OpenArchive implements RegistryService
func (s *registryService) OpenArchive(_ context.Context, archivePath string) (billy.File, os.FileInfo, error) {
	const op = "service.OpenArchive"

	clean := path.Clean("/" + archivePath)[1:]
	if clean == "" || !strings.HasSuffix(clean, ".crate") || strings.HasPrefix(clean, ".") {
		return nil, nil, errs.E(errs.KindNotFound, op, fmt.Errorf("archive %q not found", archivePath))
	}

	info, err := s.archives.Stat(clean)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.archives.Open(clean)
	if err != nil {
		return nil, nil, err
	}
	return f, info, nil
}

// WorkerStatus implements RegistryService
func (s *registryService) WorkerStatus() *status.WorkerStatus {
	if s.worker == nil {
		return nil
	}
	return s.worker.Status()
}

func publishOutcome(err error) string {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return outcomeRejected
	case errs.KindConflict:
		return outcomeConflict
	default:
		return outcomeFailed
	}
}
