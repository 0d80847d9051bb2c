// Package config provides configuration structs and utilities for the datasync application.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jbctechsolutions/datasync/internal/domain/conflict"
	domainErrors "github.com/jbctechsolutions/datasync/internal/domain/errors"
	"github.com/jbctechsolutions/datasync/internal/domain/query"
)

// Config represents the root configuration for the datasync application.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Database      DatabaseConfig      `yaml:"database"`
	Sync          SyncConfig          `yaml:"sync"`
	Entities      []EntityConfig      `yaml:"entities"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig describes the remote table service.
type ServiceConfig struct {
	BaseURL   string            `yaml:"base_url"`
	Timeout   time.Duration     `yaml:"timeout"`
	UserAgent string            `yaml:"user_agent,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"` // Sent with every request (e.g. ZUMO-API-VERSION)
}

// DatabaseConfig holds the location of the local sqlite store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig holds push and pull defaults.
type SyncConfig struct {
	PushParallelism    int           `yaml:"push_parallelism"`
	PullParallelism    int           `yaml:"pull_parallelism"`
	ConflictStrategy   string        `yaml:"conflict_strategy"` // unresolved, client_wins, server_wins, last_write_wins
	SaveAfterEveryPage bool          `yaml:"save_after_every_page"`
	Interval           time.Duration `yaml:"interval"` // Period of watch mode
}

// EntityConfig registers one synchronized table.
type EntityConfig struct {
	Name             string   `yaml:"name"`
	Endpoint         string   `yaml:"endpoint"`
	Filter           string   `yaml:"filter,omitempty"`
	OrderBy          []string `yaml:"order_by,omitempty"`
	QueryID          string   `yaml:"query_id,omitempty"`
	IDField          string   `yaml:"id_field,omitempty"`
	VersionField     string   `yaml:"version_field,omitempty"`
	UpdatedAtField   string   `yaml:"updated_at_field,omitempty"`
	DeletedField     string   `yaml:"deleted_field,omitempty"`
	VersionEncoding  string   `yaml:"version_encoding,omitempty"`  // string, base64
	ConflictStrategy string   `yaml:"conflict_strategy,omitempty"` // Overrides sync.conflict_strategy
}

// LoggingConfig holds configuration for application logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ObservabilityConfig holds configuration for observability features.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`       // Whether tracing is enabled
	ExporterType string  `yaml:"exporter_type"` // none, stdout, otlp
	OTLPEndpoint string  `yaml:"otlp_endpoint"` // OTLP collector endpoint
	SampleRate   float64 `yaml:"sample_rate"`   // Sampling rate (0.0 to 1.0)
	ServiceName  string  `yaml:"service_name"`  // Service name for traces
}

// Default configuration values.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultDatabasePath = "~/.datasync/datasync.db"

	// Sync defaults
	DefaultPushParallelism  = 1
	DefaultPullParallelism  = 1
	DefaultConflictStrategy = string(conflict.StrategyUnresolved)
	DefaultSyncInterval     = time.Minute

	// Entity field defaults, as served by the standard table controller
	DefaultIDField        = "id"
	DefaultVersionField   = "version"
	DefaultUpdatedAtField = "updatedAt"
	DefaultDeletedField   = "deleted"

	// Observability defaults
	DefaultTracingEnabled      = false
	DefaultTracingExporterType = "none"
	DefaultTracingSampleRate   = 1.0
	DefaultTracingServiceName  = "datasync"
)

// Bounds for push and pull parallelism.
const (
	MinParallelism = 1
	MaxParallelism = 8
)

// Valid log levels.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Valid log formats.
var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

// Valid tracing exporter types.
var validTracingExporterTypes = map[string]bool{
	"none":   true,
	"stdout": true,
	"otlp":   true,
}

// Valid version encodings.
var validVersionEncodings = map[string]bool{
	"string": true,
	"base64": true,
}

// NewDefaultConfig creates a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Timeout: DefaultTimeout,
		},
		Database: DatabaseConfig{
			Path: DefaultDatabasePath,
		},
		Sync: SyncConfig{
			PushParallelism:    DefaultPushParallelism,
			PullParallelism:    DefaultPullParallelism,
			ConflictStrategy:   DefaultConflictStrategy,
			SaveAfterEveryPage: true,
			Interval:           DefaultSyncInterval,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:      DefaultTracingEnabled,
				ExporterType: DefaultTracingExporterType,
				SampleRate:   DefaultTracingSampleRate,
				ServiceName:  DefaultTracingServiceName,
			},
		},
	}
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Service.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("service: %w", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}

	if err := c.Sync.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sync: %w", err))
	}

	seen := make(map[string]bool, len(c.Entities))
	for i := range c.Entities {
		e := &c.Entities[i]
		if err := e.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("entities[%d]: %w", i, err))
		}
		if e.Name != "" && seen[e.Name] {
			errs = append(errs, fmt.Errorf("entities[%d]: duplicate entity %q", i, e.Name))
		}
		seen[e.Name] = true
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("observability: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Entity returns the configuration of the named entity, or nil.
func (c *Config) Entity(name string) *EntityConfig {
	for i := range c.Entities {
		if c.Entities[i].Name == name {
			return &c.Entities[i]
		}
	}
	return nil
}

// Validate checks if the ServiceConfig is valid.
func (s *ServiceConfig) Validate() error {
	var errs []error

	if s.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	} else {
		parsedURL, err := url.Parse(s.BaseURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid base_url: %w", err))
		} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			errs = append(errs, errors.New("base_url must use http or https scheme"))
		}
	}

	if s.Timeout < 0 {
		errs = append(errs, errors.New("timeout must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the DatabaseConfig is valid.
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		return errors.New("path is required")
	}
	return nil
}

// Validate checks if the SyncConfig is valid.
func (s *SyncConfig) Validate() error {
	var errs []error

	if s.PushParallelism < MinParallelism || s.PushParallelism > MaxParallelism {
		errs = append(errs, domainErrors.OutOfRange("push_parallelism", s.PushParallelism, MinParallelism, MaxParallelism))
	}

	if s.PullParallelism < MinParallelism || s.PullParallelism > MaxParallelism {
		errs = append(errs, domainErrors.OutOfRange("pull_parallelism", s.PullParallelism, MinParallelism, MaxParallelism))
	}

	if err := validateStrategy(s.ConflictStrategy); err != nil {
		errs = append(errs, err)
	}

	if s.Interval < 0 {
		errs = append(errs, errors.New("interval must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the EntityConfig is valid.
func (e *EntityConfig) Validate() error {
	var errs []error

	if e.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}

	if e.Endpoint == "" {
		errs = append(errs, fmt.Errorf("%s: endpoint is required", e.Name))
	}

	if e.QueryID != "" {
		if err := query.ValidateID(e.QueryID); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
		}
	}

	if e.VersionEncoding != "" && !validVersionEncodings[e.VersionEncoding] {
		errs = append(errs, fmt.Errorf("%s: invalid version_encoding %q: must be one of string, base64", e.Name, e.VersionEncoding))
	}

	if err := validateStrategy(e.ConflictStrategy); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func validateStrategy(s string) error {
	if s != "" && !conflict.ValidStrategies[conflict.Strategy(s)] {
		return fmt.Errorf("invalid conflict_strategy %q: must be one of unresolved, client_wins, server_wins, last_write_wins", s)
	}
	return nil
}

// Validate checks if the LoggingConfig is valid.
func (l *LoggingConfig) Validate() error {
	var errs []error

	if l.Level != "" && !validLogLevels[l.Level] {
		errs = append(errs, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", l.Level))
	}

	if l.Format != "" && !validLogFormats[l.Format] {
		errs = append(errs, fmt.Errorf("invalid log format %q: must be one of json, text", l.Format))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks if the ObservabilityConfig is valid.
func (o *ObservabilityConfig) Validate() error {
	if err := o.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}

// Validate checks if the TracingConfig is valid.
func (t *TracingConfig) Validate() error {
	var errs []error

	if t.Enabled {
		if t.ExporterType != "" && !validTracingExporterTypes[t.ExporterType] {
			errs = append(errs, fmt.Errorf("invalid exporter_type %q: must be one of none, stdout, otlp", t.ExporterType))
		}
		if t.ExporterType == "otlp" && t.OTLPEndpoint == "" {
			errs = append(errs, errors.New("otlp_endpoint is required when exporter_type is 'otlp'"))
		}
		if t.SampleRate < 0 || t.SampleRate > 1 {
			errs = append(errs, errors.New("sample_rate must be between 0.0 and 1.0"))
		}
		if t.ServiceName == "" {
			errs = append(errs, errors.New("service_name is required when tracing is enabled"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
