package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/cargo-registry-server/internal/crate"
	"github.com/stacklok/cargo-registry-server/internal/errs"
	"github.com/stacklok/cargo-registry-server/internal/git"
	"github.com/stacklok/cargo-registry-server/internal/otel"
	"github.com/stacklok/cargo-registry-server/internal/shard"
	"github.com/stacklok/cargo-registry-server/internal/store"
	"github.com/stacklok/cargo-registry-server/internal/telemetry"
)

// Index is the part of the index repository a pass needs
type Index interface {
	Sync(ctx context.Context) (*git.SyncResult, error)
	Head() (string, error)
	ReadFile(p string) ([]byte, error)
	WriteFile(p string, data []byte) error
	Commit(paths []string, message string) (string, error)
	Reset() error
	Push(ctx context.Context) error
}

var _ Index = (*git.Repository)(nil)

// Result summarises one pass
type Result struct {
	// Outcome of bringing the local index up to date with origin
	Outcome git.Outcome

	// Head is the index commit after the pass
	Head string

	// Pending is the number of rows the pass started with
	Pending int

	// Committed counts rows that produced a new index commit
	Committed int

	// AlreadyIndexed counts rows whose line was already in the index
	AlreadyIndexed int

	// Failed counts rows left pending because of an error
	Failed int

	// Pushed reports whether the branch was pushed to origin
	Pushed bool
}

// Manager runs index passes
//
//go:generate mockgen -destination=mocks/mock_manager.go -package=mocks github.com/stacklok/cargo-registry-server/internal/sync Manager
type Manager interface {
	// PerformPass syncs the index with origin and commits every pending
	// version. Per-row failures are counted in the result, not returned.
	// A returned error means the pass could not run at all; a Fatal one
	// means it must not be retried without operator action.
	PerformPass(ctx context.Context) (*Result, error)
}

// Option configures the default manager
type Option func(*defaultManager)

// WithPush makes the manager push to origin after a pass that committed
func WithPush(push bool) Option {
	return func(m *defaultManager) {
		m.push = push
	}
}

// WithTracer sets the tracer used for pass spans
func WithTracer(tracer trace.Tracer) Option {
	return func(m *defaultManager) {
		m.tracer = tracer
	}
}

// WithMetrics sets the index metrics
func WithMetrics(metrics *telemetry.IndexMetrics) Option {
	return func(m *defaultManager) {
		m.metrics = metrics
	}
}

type defaultManager struct {
	index   Index
	store   store.MetadataStore
	push    bool
	tracer  trace.Tracer
	metrics *telemetry.IndexMetrics
}

// NewManager creates a Manager that owns index
func NewManager(index Index, metadata store.MetadataStore, opts ...Option) Manager {
	m := &defaultManager{
		index: index,
		store: metadata,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PerformPass implements Manager
func (m *defaultManager) PerformPass(ctx context.Context) (*Result, error) {
	ctx, span := otel.StartSpan(ctx, m.tracer, "sync.PerformPass")
	defer span.End()

	start := time.Now()
	result, err := m.performPass(ctx)
	m.metrics.RecordPass(ctx, time.Since(start), err == nil)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(
		otel.AttrSyncOutcome.String(result.Outcome.String()),
		otel.AttrIndexCommit.String(result.Head),
		otel.AttrResultCount.Int(result.Committed),
	)
	return result, nil
}

func (m *defaultManager) performPass(ctx context.Context) (*Result, error) {
	synced, err := m.index.Sync(ctx)
	if err != nil {
		return nil, err
	}
	result := &Result{Outcome: synced.Outcome, Head: synced.Head}
	if synced.Outcome != git.OutcomeUpToDate {
		slog.InfoContext(ctx, "Index synced with origin", "outcome", synced.Outcome.String(), "head", shortHash(synced.Head))
	}

	pending, err := m.store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending versions: %w", err)
	}
	result.Pending = len(pending)
	m.metrics.RecordPending(ctx, int64(len(pending)))

	for _, v := range pending {
		if ctx.Err() != nil {
			break
		}
		created, err := m.indexVersion(ctx, v)
		if err != nil {
			result.Failed++
			m.metrics.RecordRowFailure(ctx, errs.KindOf(err).String())
			slog.ErrorContext(ctx, "Failed to index crate version, leaving it pending",
				"crate", v.Name,
				"version", v.Version,
				"id", v.ID,
				"kind", errs.KindOf(err).String(),
				"error", err)
			if resetErr := m.index.Reset(); resetErr != nil {
				// The working tree can no longer be trusted for this pass
				return nil, fmt.Errorf("failed to reset index after row failure: %w", resetErr)
			}
			continue
		}
		if created {
			result.Committed++
			m.metrics.RecordCommit(ctx)
		} else {
			result.AlreadyIndexed++
		}
	}

	if head, err := m.index.Head(); err == nil {
		result.Head = head
	}

	if m.push && result.Head != synced.Remote {
		if err := m.index.Push(ctx); err != nil {
			// Commits stay local and go out with the next pass
			slog.WarnContext(ctx, "Failed to push index, will retry on next pass", "error", err)
		} else {
			result.Pushed = true
		}
	}

	if result.Pending > 0 {
		slog.InfoContext(ctx, "Index pass completed",
			"pending", result.Pending,
			"committed", result.Committed,
			"already_indexed", result.AlreadyIndexed,
			"failed", result.Failed,
			"head", shortHash(result.Head))
	}
	return result, nil
}

// indexVersion appends the line for v to its index file and commits it.
// It reports whether a new commit was created.
func (m *defaultManager) indexVersion(ctx context.Context, v *store.PendingVersion) (bool, error) {
	ctx, span := otel.StartSpan(ctx, m.tracer, "sync.indexVersion", trace.WithAttributes(
		otel.AttrCrateName.String(v.Name),
		otel.AttrCrateVersion.String(v.Version),
	))
	defer span.End()

	created, err := m.appendAndCommit(ctx, v)
	if err != nil {
		otel.RecordError(span, err)
	}
	return created, err
}

func (m *defaultManager) appendAndCommit(ctx context.Context, v *store.PendingVersion) (bool, error) {
	p, err := shard.Path(v.Name)
	if err != nil {
		return false, err
	}

	content, err := m.index.ReadFile(p)
	if err != nil {
		return false, err
	}

	present, err := crate.ContainsVersion(content, v.Name, v.Version)
	if err != nil {
		return false, errs.E(errs.KindInternal, "sync.appendAndCommit", err)
	}
	if present {
		// A previous pass committed the line but failed to record it
		head, err := m.index.Head()
		if err != nil {
			return false, err
		}
		if err := m.markCommitted(ctx, v, head); err != nil {
			return false, err
		}
		slog.InfoContext(ctx, "Crate version already in index", "crate", v.Name, "version", v.Version)
		return false, nil
	}

	line, err := v.IndexEntry().MarshalLine()
	if err != nil {
		return false, errs.E(errs.KindInternal, "sync.appendAndCommit", err)
	}
	if err := m.index.WriteFile(p, crate.AppendLine(content, line)); err != nil {
		return false, err
	}

	commitID, err := m.index.Commit([]string{p}, fmt.Sprintf("Updating crate `%s#%s`", v.Name, v.Version))
	if err != nil {
		return false, err
	}

	// Record the commit even if shutdown started while it was being made
	if err := m.markCommitted(context.WithoutCancel(ctx), v, commitID); err != nil {
		// The commit exists; the next pass finds the line and marks the row
		return true, err
	}
	slog.InfoContext(ctx, "Crate version indexed",
		"crate", v.Name,
		"version", v.Version,
		"path", p,
		"commit", shortHash(commitID))
	return true, nil
}

func (m *defaultManager) markCommitted(ctx context.Context, v *store.PendingVersion, commitID string) error {
	updated, err := m.store.MarkCommitted(ctx, v.ID, commitID)
	if err != nil {
		return fmt.Errorf("failed to mark %s@%s committed: %w", v.Name, v.Version, err)
	}
	if !updated {
		slog.WarnContext(ctx, "Crate version was already marked committed", "crate", v.Name, "version", v.Version, "id", v.ID)
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
