package storage

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/cargo-registry-server/internal/config"
	"github.com/stacklok/cargo-registry-server/internal/status"
	"github.com/stacklok/cargo-registry-server/internal/store"
)

// DatabaseFactory creates PostgreSQL-backed storage components
type DatabaseFactory struct {
	config *config.Config
	pool   *pgxpool.Pool
	tracer trace.Tracer

	once     gosync.Once
	metadata *store.Postgres
	err      error
}

var _ Factory = (*DatabaseFactory)(nil)

// DatabaseFactoryOption is a functional option for configuring the DatabaseFactory
type DatabaseFactoryOption func(*DatabaseFactory)

// WithTracer sets the OpenTelemetry tracer for the metadata store.
// If not set, tracing will be disabled (no-op).
func WithTracer(tracer trace.Tracer) DatabaseFactoryOption {
	return func(f *DatabaseFactory) {
		f.tracer = tracer
	}
}

// NewDatabaseFactory creates a new database-backed storage factory.
// It establishes a connection pool to the configured PostgreSQL database.
func NewDatabaseFactory(ctx context.Context, cfg *config.Config, opts ...DatabaseFactoryOption) (*DatabaseFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Database == nil {
		return nil, fmt.Errorf("database configuration is required")
	}

	slog.Info("Creating database-backed storage factory",
		"host", cfg.Database.Host,
		"database", cfg.Database.Database,
	)

	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return nil, fmt.Errorf("failed to build connection string: %w", err)
	}

	pool, err := store.NewPool(ctx, connString, store.PoolConfig{
		MaxConns:        cfg.Database.MaxOpenConns,
		MinConns:        cfg.Database.MaxIdleConns,
		MaxConnLifetime: cfg.Database.GetConnMaxLifetime(),
	})
	if err != nil {
		return nil, err
	}

	factory := &DatabaseFactory{
		config: cfg,
		pool:   pool,
	}
	for _, opt := range opts {
		opt(factory)
	}

	return factory, nil
}

// CreateMetadataStore returns the Postgres store sharing the factory's pool
func (d *DatabaseFactory) CreateMetadataStore(_ context.Context) (store.MetadataStore, error) {
	d.once.Do(func() {
		slog.Debug("Creating database-backed metadata store")
		var opts []store.Option
		if d.tracer != nil {
			opts = append(opts, store.WithTracer(d.tracer))
		}
		d.metadata, d.err = store.NewPostgres(d.pool, opts...)
	})
	if d.err != nil {
		return nil, d.err
	}
	return d.metadata, nil
}

// CreateStatusPersistence returns file persistence when a status directory is
// configured and memory persistence otherwise
func (d *DatabaseFactory) CreateStatusPersistence(_ context.Context) (status.StatusPersistence, error) {
	return newStatusPersistence(d.config), nil
}

// Cleanup closes the database connection pool
func (d *DatabaseFactory) Cleanup() {
	if d.pool != nil {
		slog.Info("Closing database connection pool")
		d.pool.Close()
	}
}
