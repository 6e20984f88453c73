// Package telemetry provides OpenTelemetry instrumentation for the cargo
// registry server. Traces go to an OTLP collector; metrics can be pushed over
// OTLP, scraped from a Prometheus endpoint, or both.
package telemetry

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultServiceName is the default service name for telemetry
	DefaultServiceName = "cargo-registry-api"

	// DefaultEndpoint is the default OTLP endpoint for telemetry
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling is the default trace sampling rate (5%)
	DefaultSampling = 0.05

	// DefaultMetricsInterval is the default OTLP metric export interval
	DefaultMetricsInterval = 60 * time.Second

	// DefaultPrometheusPath is where the scrape endpoint is served
	DefaultPrometheusPath = "/metrics"
)

// Config represents the root telemetry configuration
type Config struct {
	// Enabled turns telemetry on. When false no provider is created.
	Enabled bool `yaml:"enabled"`

	// ServiceName defaults to "cargo-registry-api"
	ServiceName string `yaml:"serviceName,omitempty"`

	// ServiceVersion defaults to the build version
	ServiceVersion string `yaml:"serviceVersion,omitempty"`

	// Endpoint is the OTLP collector as "host:port"; the /v1/traces and
	// /v1/metrics paths are added by the exporters
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure allows plain HTTP to the collector
	Insecure bool `yaml:"insecure,omitempty"`

	Tracing *TracingConfig `yaml:"tracing,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig defines tracing-specific configuration
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Sampling is the trace sampling ratio between 0.0 and 1.0
	Sampling float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig defines metrics-specific configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// OTLP pushes metrics to the collector. Defaults to true when Prometheus
	// is not configured.
	OTLP *bool `yaml:"otlp,omitempty"`

	// Interval between OTLP exports
	Interval time.Duration `yaml:"interval,omitempty"`

	Prometheus *PrometheusConfig `yaml:"prometheus,omitempty"`
}

// PrometheusConfig enables a pull endpoint on the API server
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// GetServiceName returns the service name, using default if not specified
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns the service version, using "unknown" if not specified
func (c *Config) GetServiceVersion() string {
	if c.ServiceVersion == "" {
		return "unknown"
	}
	return c.ServiceVersion
}

// GetEndpoint returns the endpoint, using default if not specified
func (c *Config) GetEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// GetSampling returns the sampling ratio. Zero means unset and yields
// DefaultSampling.
func (c *TracingConfig) GetSampling() float64 {
	if c.Sampling == 0.0 {
		return DefaultSampling
	}
	return c.Sampling
}

// OTLPEnabled reports whether metrics are pushed to the collector
func (c *MetricsConfig) OTLPEnabled() bool {
	if c == nil || !c.Enabled {
		return false
	}
	if c.OTLP != nil {
		return *c.OTLP
	}
	return !c.PrometheusEnabled()
}

// PrometheusEnabled reports whether the scrape endpoint is served
func (c *MetricsConfig) PrometheusEnabled() bool {
	return c != nil && c.Enabled && c.Prometheus != nil && c.Prometheus.Enabled
}

// GetInterval returns the OTLP export interval
func (c *MetricsConfig) GetInterval() time.Duration {
	if c == nil || c.Interval <= 0 {
		return DefaultMetricsInterval
	}
	return c.Interval
}

// GetPath returns the scrape path
func (c *PrometheusConfig) GetPath() string {
	if c == nil || c.Path == "" {
		return DefaultPrometheusPath
	}
	return c.Path
}

// Validate validates the telemetry configuration
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error

	if c.Tracing != nil {
		if err := c.Tracing.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Validate validates the tracing configuration
func (c *TracingConfig) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}
	if c.Sampling < 0 || c.Sampling > 1.0 {
		return fmt.Errorf("sampling must be between 0.0 and 1.0, got %f", c.Sampling)
	}
	return nil
}

// Validate validates the metrics configuration
func (c *MetricsConfig) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval must not be negative, got %s", c.Interval)
	}
	if c.Prometheus != nil && c.Prometheus.Path != "" && c.Prometheus.Path[0] != '/' {
		return fmt.Errorf("prometheus path must start with '/', got %q", c.Prometheus.Path)
	}
	if !c.OTLPEnabled() && !c.PrometheusEnabled() {
		return fmt.Errorf("metrics are enabled but neither otlp nor prometheus export is")
	}
	return nil
}
