package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/cargo-registry-server/internal/crate"
	"github.com/stacklok/cargo-registry-server/internal/db/sqlc"
	"github.com/stacklok/cargo-registry-server/internal/errs"
	"github.com/stacklok/cargo-registry-server/internal/otel"
)

const uniqueViolation = "23505"

// PoolConfig tunes the connection pool
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// NewPool builds a pgx connection pool for connString
func NewPool(ctx context.Context, connString string, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}
	slog.Info("Database connection pool created", "max_conns", poolConfig.MaxConns)
	return pool, nil
}

// Option configures the Postgres store
type Option func(*Postgres)

// WithTracer sets the tracer used for store spans
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Postgres) {
		p.tracer = tracer
	}
}

// Postgres is a MetadataStore backed by the crate_version table
type Postgres struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

var _ MetadataStore = (*Postgres)(nil)

// NewPostgres returns a store using pool. Close closes the pool.
func NewPostgres(pool *pgxpool.Pool, opts ...Option) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	p := &Postgres{pool: pool}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// InsertPendingVersion implements MetadataStore
func (p *Postgres) InsertPendingVersion(ctx context.Context, v *PendingVersion, hook InsertHook) (int64, error) {
	const op = "store.InsertPendingVersion"
	ctx, span := otel.StartSpan(ctx, p.tracer, op, trace.WithAttributes(
		otel.AttrCrateName.String(v.Name),
		otel.AttrCrateVersion.String(v.Version),
	))
	defer span.End()

	params, err := toInsertParams(v)
	if err != nil {
		otel.RecordError(span, err)
		return 0, errs.E(errs.KindInternal, op, err)
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadWrite})
	if err != nil {
		err = classify(op, fmt.Errorf("failed to begin transaction: %w", err))
		otel.RecordError(span, err)
		return 0, err
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.WarnContext(ctx, "Failed to roll back insert", "error", err)
		}
	}()

	q := sqlc.New(tx)

	// Publishes of one crate are serialized until commit, so uploaded_at
	// order per crate matches the order rows become visible
	if err := q.LockCrate(ctx, v.Name); err != nil {
		err = classify(op, fmt.Errorf("failed to lock crate: %w", err))
		otel.RecordError(span, err)
		return 0, err
	}

	existing, err := q.ListCrateVersionNumbers(ctx, v.Name)
	if err != nil {
		err = classify(op, err)
		otel.RecordError(span, err)
		return 0, err
	}
	if err := checkVersionConflict(op, v.Name, v.Version, existing); err != nil {
		otel.RecordError(span, err)
		return 0, err
	}

	id, err := q.InsertCrateVersion(ctx, params)
	if err != nil {
		err = classify(op, err)
		if errs.Is(err, errs.KindConflict) {
			err = errs.E(errs.KindConflict, op, fmt.Errorf("crate %s@%s already exists", v.Name, v.Version))
		}
		otel.RecordError(span, err)
		return 0, err
	}

	if hook != nil {
		if err := hook(ctx, id); err != nil {
			otel.RecordError(span, err)
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		err = classify(op, fmt.Errorf("failed to commit transaction: %w", err))
		otel.RecordError(span, err)
		return 0, err
	}
	return id, nil
}

// ListPending implements MetadataStore
func (p *Postgres) ListPending(ctx context.Context) ([]*PendingVersion, error) {
	const op = "store.ListPending"
	ctx, span := otel.StartSpan(ctx, p.tracer, op)
	defer span.End()

	rows, err := sqlc.New(p.pool).ListPendingCrateVersions(ctx)
	if err != nil {
		err = classify(op, err)
		otel.RecordError(span, err)
		return nil, err
	}

	result := make([]*PendingVersion, 0, len(rows))
	for _, row := range rows {
		v, err := fromRow(row)
		if err != nil {
			// A row we cannot decode must not hide the others
			slog.ErrorContext(ctx, "Skipping undecodable pending version",
				"id", row.ID, "crate", row.Crate, "version", row.Version, "error", err)
			continue
		}
		result = append(result, v)
	}
	span.SetAttributes(otel.AttrResultCount.Int(len(result)))
	return result, nil
}

// MarkCommitted implements MetadataStore
func (p *Postgres) MarkCommitted(ctx context.Context, id int64, commitID string) (bool, error) {
	const op = "store.MarkCommitted"
	ctx, span := otel.StartSpan(ctx, p.tracer, op, trace.WithAttributes(otel.AttrIndexCommit.String(commitID)))
	defer span.End()

	n, err := sqlc.New(p.pool).MarkCrateVersionCommitted(ctx, sqlc.MarkCrateVersionCommittedParams{
		CommitID: pgtype.Text{String: commitID, Valid: true},
		ID:       id,
	})
	if err != nil {
		err = classify(op, err)
		otel.RecordError(span, err)
		return false, err
	}
	return n == 1, nil
}

// LookupDownloadURL implements MetadataStore
func (p *Postgres) LookupDownloadURL(ctx context.Context, name, version string) (string, error) {
	const op = "store.LookupDownloadURL"
	ctx, span := otel.StartSpan(ctx, p.tracer, op, trace.WithAttributes(
		otel.AttrCrateName.String(name),
		otel.AttrCrateVersion.String(version),
	))
	defer span.End()

	url, err := sqlc.New(p.pool).GetCrateVersionDownload(ctx, sqlc.GetCrateVersionDownloadParams{
		Crate:   name,
		Version: version,
	})
	if err != nil {
		err = classify(op, err)
		if errs.Is(err, errs.KindNotFound) {
			err = errs.E(errs.KindNotFound, op, fmt.Errorf("crate %s@%s not found", name, version))
		} else {
			otel.RecordError(span, err)
		}
		return "", err
	}
	return url, nil
}

// CountPending implements MetadataStore
func (p *Postgres) CountPending(ctx context.Context) (int64, error) {
	n, err := sqlc.New(p.pool).CountPendingCrateVersions(ctx)
	if err != nil {
		return 0, classify("store.CountPending", err)
	}
	return n, nil
}

// Ping implements MetadataStore
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return errs.E(errs.KindTransient, "store.Ping", fmt.Errorf("failed to ping database: %w", err))
	}
	return nil
}

// Close implements MetadataStore
func (p *Postgres) Close() {
	slog.Info("Closing database connection pool")
	p.pool.Close()
}

// classify tags a database error with its kind. Server-side errors are
// internal unless they are unique violations; anything that never reached
// the server (dial, timeout, cancellation) is transient.
func classify(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.E(errs.KindNotFound, op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == uniqueViolation {
			return errs.E(errs.KindConflict, op, err)
		}
		return errs.E(errs.KindInternal, op, err)
	}
	return errs.E(errs.KindTransient, op, err)
}

func toInsertParams(v *PendingVersion) (sqlc.InsertCrateVersionParams, error) {
	deps := v.Deps
	if deps == nil {
		deps = []crate.Dependency{}
	}
	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return sqlc.InsertCrateVersionParams{}, fmt.Errorf("failed to encode deps: %w", err)
	}
	features := v.Features
	if features == nil {
		features = map[string][]string{}
	}
	featuresJSON, err := json.Marshal(features)
	if err != nil {
		return sqlc.InsertCrateVersionParams{}, fmt.Errorf("failed to encode features: %w", err)
	}

	return sqlc.InsertCrateVersionParams{
		Crate:         v.Name,
		Version:       v.Version,
		Download:      v.Download,
		Checksum:      v.Checksum,
		Deps:          depsJSON,
		Features:      featuresJSON,
		Authors:       nonNil(v.Authors),
		Description:   text(v.Description),
		Documentation: text(v.Documentation),
		Homepage:      text(v.Homepage),
		Readme:        text(v.Readme),
		ReadmeFile:    text(v.ReadmeFile),
		Categories:    nonNil(v.Categories),
		Keywords:      nonNil(v.Keywords),
		License:       text(v.License),
		LicenseFile:   text(v.LicenseFile),
		Repository:    text(v.Repository),
		Links:         text(v.Links),
	}, nil
}

func fromRow(row sqlc.CrateVersion) (*PendingVersion, error) {
	v := &PendingVersion{
		ID:            row.ID,
		Name:          row.Crate,
		Version:       row.Version,
		Download:      row.Download,
		Checksum:      row.Checksum,
		Authors:       nonNil(row.Authors),
		Description:   textPtr(row.Description),
		Documentation: textPtr(row.Documentation),
		Homepage:      textPtr(row.Homepage),
		Readme:        textPtr(row.Readme),
		ReadmeFile:    textPtr(row.ReadmeFile),
		Categories:    nonNil(row.Categories),
		Keywords:      nonNil(row.Keywords),
		License:       textPtr(row.License),
		LicenseFile:   textPtr(row.LicenseFile),
		Repository:    textPtr(row.Repository),
		Links:         textPtr(row.Links),
		CommitID:      textPtr(row.CommitID),
	}
	if row.UploadedAt.Valid {
		v.UploadedAt = row.UploadedAt.Time
	}
	if err := json.Unmarshal(row.Deps, &v.Deps); err != nil {
		return nil, fmt.Errorf("failed to decode deps: %w", err)
	}
	if err := json.Unmarshal(row.Features, &v.Features); err != nil {
		return nil, fmt.Errorf("failed to decode features: %w", err)
	}
	return v, nil
}

func text(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
