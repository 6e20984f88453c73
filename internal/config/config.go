// Package config provides configuration loading and management for the registry server.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/cargo-registry-server/internal/telemetry"
)

const (
	// EnvPrefix is the prefix of environment variables read by the server
	EnvPrefix = "CARGO_REGISTRY"

	// DatabasePasswordEnv holds the database password when no passwordFile is set
	DatabasePasswordEnv = EnvPrefix + "_DATABASE_PASSWORD"

	// IndexBranch is the only branch the index may track
	IndexBranch = "main"

	// CacheBackendRedis caches download URLs in Redis
	CacheBackendRedis = "redis"

	// CacheBackendMemory caches download URLs in process memory
	CacheBackendMemory = "memory"
)

const (
	defaultAddress       = ":8080"
	defaultPublicURL     = "http://localhost:8080"
	defaultMaxUploadSize = 10 << 20
	defaultStoragePath   = "./data/crates"
	defaultFilesRoute    = "/api/v1/files"
	defaultFetchTimeout  = 2 * time.Minute
	defaultPollInterval  = time.Minute
	defaultCacheTTL      = 24 * time.Hour
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Server configures the HTTP listener and the public address of the registry
	Server ServerConfig `yaml:"server"`

	// Index configures the Git index repository
	Index IndexConfig `yaml:"index"`

	// Storage configures where .crate archives are kept
	Storage StorageConfig `yaml:"storage"`

	// Database configures the PostgreSQL metadata store. When omitted an
	// in-memory store is used, which loses all data on restart.
	Database *DatabaseConfig `yaml:"database,omitempty"`

	// Cache configures the optional download URL cache
	Cache *CacheConfig `yaml:"cache,omitempty"`

	// Worker configures the index worker
	Worker WorkerConfig `yaml:"worker"`

	// Telemetry configures tracing and metrics
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// ServerConfig defines HTTP server settings
type ServerConfig struct {
	// Address is the listen address, e.g. ":8080"
	Address string `yaml:"address,omitempty"`

	// PublicURL is the externally visible base URL of the server
	PublicURL string `yaml:"publicURL,omitempty"`

	// MaxUploadSize bounds the size of a published .crate archive in bytes
	MaxUploadSize int64 `yaml:"maxUploadSize,omitempty"`
}

// IndexConfig defines the Git index repository
type IndexConfig struct {
	// Path is the local working tree directory
	Path string `yaml:"path"`

	// Origin is the URL of the remote the index is pushed to and fetched from
	Origin string `yaml:"origin"`

	// Branch must be "main" when set
	Branch string `yaml:"branch,omitempty"`

	// AuthorName and AuthorEmail identify the registry on index commits
	AuthorName  string `yaml:"authorName,omitempty"`
	AuthorEmail string `yaml:"authorEmail,omitempty"`

	// Push makes the worker push main to origin after creating commits
	Push bool `yaml:"push,omitempty"`

	// FetchTimeout bounds a single clone, fetch or push (e.g., "2m")
	FetchTimeout string `yaml:"fetchTimeout,omitempty"`

	// MaxAttempts bounds retries of network operations
	MaxAttempts uint `yaml:"maxAttempts,omitempty"`

	// Auth holds optional HTTP basic credentials for origin
	Auth *IndexAuthConfig `yaml:"auth,omitempty"`
}

// IndexAuthConfig defines HTTP basic credentials for the index origin
type IndexAuthConfig struct {
	Username string `yaml:"username"`

	// PasswordFile is the path to a file holding the password or token
	PasswordFile string `yaml:"passwordFile"`
}

// StorageConfig defines archive storage
type StorageConfig struct {
	// Path is the directory archives are stored under
	Path string `yaml:"path,omitempty"`

	// DownloadURL is the base URL archive paths are joined to. Defaults
	// to the files route of this server.
	DownloadURL string `yaml:"downloadURL,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// This is the recommended approach for production deployments
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the maximum number of idle connections in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// CacheConfig defines the download URL cache
type CacheConfig struct {
	// Backend is "redis" or "memory"; "redis" when a redis section is present
	Backend string `yaml:"backend,omitempty"`

	// TTL is how long a resolved URL is kept (e.g., "24h")
	TTL string `yaml:"ttl,omitempty"`

	Redis *RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig defines the Redis connection
type RedisConfig struct {
	Address      string `yaml:"address"`
	DB           int    `yaml:"db,omitempty"`
	PoolSize     int    `yaml:"poolSize,omitempty"`
	PasswordFile string `yaml:"passwordFile,omitempty"`
}

// WorkerConfig defines the index worker
type WorkerConfig struct {
	// PollInterval is the base interval of periodic index passes (e.g., "1m")
	PollInterval string `yaml:"pollInterval,omitempty"`

	// StatusDir is the directory the worker status is persisted in across
	// restarts. The status is kept in memory only when unset.
	StatusDir string `yaml:"statusDir,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	// Read the entire file into memory
	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates YAML configuration
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Server.MaxUploadSize < 0 {
		return fmt.Errorf("server.maxUploadSize must not be negative")
	}
	if c.Server.PublicURL != "" {
		if err := validateBaseURL(c.Server.PublicURL); err != nil {
			return fmt.Errorf("server.publicURL: %w", err)
		}
	}
	if c.Storage.DownloadURL != "" {
		if err := validateBaseURL(c.Storage.DownloadURL); err != nil {
			return fmt.Errorf("storage.downloadURL: %w", err)
		}
	}

	if err := c.Index.validate(); err != nil {
		return fmt.Errorf("index: %w", err)
	}

	if c.Database != nil {
		if err := c.Database.validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if c.Cache != nil {
		if err := c.Cache.validate(); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}

	if _, err := parseDuration(c.Worker.PollInterval, defaultPollInterval); err != nil {
		return fmt.Errorf("worker.pollInterval: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}

func (i *IndexConfig) validate() error {
	if i.Path == "" {
		return fmt.Errorf("path is required")
	}
	if i.Origin == "" {
		return fmt.Errorf("origin is required")
	}
	if i.Branch != "" && i.Branch != IndexBranch {
		return fmt.Errorf("branch must be %q, got %q", IndexBranch, i.Branch)
	}
	if _, err := parseDuration(i.FetchTimeout, defaultFetchTimeout); err != nil {
		return fmt.Errorf("fetchTimeout: %w", err)
	}
	if i.Auth != nil && i.Auth.Username == "" {
		return fmt.Errorf("auth.username is required when auth is set")
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	if d.Host == "" {
		return fmt.Errorf("host is required")
	}
	if d.Port <= 0 || d.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if d.User == "" {
		return fmt.Errorf("user is required")
	}
	if d.Database == "" {
		return fmt.Errorf("database is required")
	}
	if _, err := parseDuration(d.ConnMaxLifetime, 0); err != nil {
		return fmt.Errorf("connMaxLifetime: %w", err)
	}
	return nil
}

func (c *CacheConfig) validate() error {
	switch c.GetBackend() {
	case CacheBackendRedis:
		if c.Redis == nil || c.Redis.Address == "" {
			return fmt.Errorf("redis.address is required for the redis backend")
		}
	case CacheBackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if _, err := parseDuration(c.TTL, defaultCacheTTL); err != nil {
		return fmt.Errorf("ttl: %w", err)
	}
	return nil
}

// GetAddress returns the listen address, ":8080" if not specified
func (s *ServerConfig) GetAddress() string {
	if s.Address == "" {
		return defaultAddress
	}
	return s.Address
}

// GetPublicURL returns the public base URL without a trailing slash
func (s *ServerConfig) GetPublicURL() string {
	if s.PublicURL == "" {
		return defaultPublicURL
	}
	return strings.TrimSuffix(s.PublicURL, "/")
}

// GetMaxUploadSize returns the archive size limit, 10 MiB if not specified
func (s *ServerConfig) GetMaxUploadSize() int64 {
	if s.MaxUploadSize == 0 {
		return defaultMaxUploadSize
	}
	return s.MaxUploadSize
}

// GetFetchTimeout returns the network timeout of index operations
func (i *IndexConfig) GetFetchTimeout() time.Duration {
	d, _ := parseDuration(i.FetchTimeout, defaultFetchTimeout)
	return d
}

// GetPassword reads the origin password from PasswordFile
func (a *IndexAuthConfig) GetPassword() (string, error) {
	if a.PasswordFile == "" {
		return "", nil
	}
	return readSecretFile(a.PasswordFile)
}

// GetPath returns the archive directory, "./data/crates" if not specified
func (s *StorageConfig) GetPath() string {
	if s.Path == "" {
		return defaultStoragePath
	}
	return s.Path
}

// GetDownloadURL returns the base URL for archive downloads, derived from
// the public URL of the server when not specified
func (c *Config) GetDownloadURL() string {
	if c.Storage.DownloadURL != "" {
		return strings.TrimSuffix(c.Storage.DownloadURL, "/")
	}
	return c.Server.GetPublicURL() + defaultFilesRoute
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from CARGO_REGISTRY_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		return readSecretFile(d.PasswordFile)
	}

	if envPassword := os.Getenv(DatabasePasswordEnv); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s environment variable", DatabasePasswordEnv,
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// GetConnMaxLifetime returns the parsed connection lifetime, zero when unset
func (d *DatabaseConfig) GetConnMaxLifetime() time.Duration {
	lifetime, _ := parseDuration(d.ConnMaxLifetime, 0)
	return lifetime
}

// GetBackend returns the configured backend, inferring redis from a redis section
func (c *CacheConfig) GetBackend() string {
	if c.Backend != "" {
		return c.Backend
	}
	if c.Redis != nil {
		return CacheBackendRedis
	}
	return CacheBackendMemory
}

// GetTTL returns how long resolved URLs are cached, 24h if not specified
func (c *CacheConfig) GetTTL() time.Duration {
	ttl, _ := parseDuration(c.TTL, defaultCacheTTL)
	return ttl
}

// GetPassword reads the Redis password from PasswordFile
func (r *RedisConfig) GetPassword() (string, error) {
	if r.PasswordFile == "" {
		return "", nil
	}
	return readSecretFile(r.PasswordFile)
}

// GetPollInterval returns the base interval of periodic passes, 1m if not specified
func (w *WorkerConfig) GetPollInterval() time.Duration {
	d, _ := parseDuration(w.PollInterval, defaultPollInterval)
	return d
}

func readSecretFile(path string) (string, error) {
	// Use filepath.Clean to prevent path traversal attacks
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to read password from file %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative: %s", s)
	}
	return d, nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https: %s", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required: %s", raw)
	}
	return nil
}
