// Package application provides application-level services and dependency injection.
package application

import (
	"context"
	"fmt"

	"github.com/jbctechsolutions/datasync/internal/adapters/remote"
	"github.com/jbctechsolutions/datasync/internal/adapters/sync/sqlite"
	"github.com/jbctechsolutions/datasync/internal/application/datasync"
	"github.com/jbctechsolutions/datasync/internal/domain/conflict"
	"github.com/jbctechsolutions/datasync/internal/domain/entity"
	"github.com/jbctechsolutions/datasync/internal/domain/query"
	"github.com/jbctechsolutions/datasync/internal/infrastructure/config"
	"github.com/jbctechsolutions/datasync/internal/infrastructure/lock"
	"github.com/jbctechsolutions/datasync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/datasync/internal/infrastructure/tracing"
)

// Container holds all application dependencies and provides a central
// point for dependency injection. It manages the lifecycle of services
// and ensures proper initialization order.
type Container struct {
	// Configuration
	config  *config.Config
	verbose bool // Override log level to debug when true

	// Local store
	store *sqlite.Adapter

	// Remote table service
	remote *remote.Client

	// Sync engine
	registry *datasync.Registry
	locks    *lock.Dictionary
	engine   *datasync.Engine

	// Observability
	logger *logging.Logger
	tracer *tracing.Tracer

	closed bool
}

// NewContainer creates a new dependency injection container with all services
// initialized based on the provided configuration.
func NewContainer(cfg *config.Config, verbose bool) (*Container, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Container{
		config:  cfg,
		verbose: verbose,
		locks:   lock.NewDictionary(),
	}

	if err := c.initObservability(); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	if err := c.initDatabase(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := c.initRemote(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize remote client: %w", err)
	}

	if err := c.initEngine(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize sync engine: %w", err)
	}

	return c, nil
}

// initDatabase opens the SQLite database holding the queue, delta tokens
// and local entities.
func (c *Container) initDatabase() error {
	path, err := config.ExpandPath(c.config.Database.Path)
	if err != nil {
		return err
	}

	store, err := sqlite.NewAdapter(context.Background(), path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	c.store = store
	return nil
}

// initRemote creates the HTTP client of the remote table service.
func (c *Container) initRemote() error {
	svc := c.config.Service
	opts := []remote.ClientOption{remote.WithHeaders(svc.Headers)}
	if svc.Timeout > 0 {
		opts = append(opts, remote.WithTimeout(svc.Timeout))
	}
	if svc.UserAgent != "" {
		opts = append(opts, remote.WithUserAgent(svc.UserAgent))
	}

	client, err := remote.NewClient(svc.BaseURL, opts...)
	if err != nil {
		return err
	}
	c.remote = client
	return nil
}

// initEngine builds the entity registry from configuration and the engine on
// top of the local stores and the remote client.
func (c *Container) initEngine() error {
	resolver, err := conflict.NewResolver(conflict.Strategy(c.config.Sync.ConflictStrategy))
	if err != nil {
		return err
	}

	c.registry = datasync.NewRegistry()
	for i := range c.config.Entities {
		ec, err := EntityConfigFrom(&c.config.Entities[i])
		if err != nil {
			return err
		}
		if err := c.registry.Register(ec); err != nil {
			return err
		}
	}

	c.engine = datasync.New(c.registry, c.store.Queue, c.store.Tokens, c.store.Entities, c.remote,
		datasync.WithResolver(resolver),
		datasync.WithLogger(c.logger.With("component", "engine")),
		datasync.WithTracer(c.tracer),
		datasync.WithLocks(c.locks),
	)
	return nil
}

// EntityConfigFrom converts a configured table into an engine registration.
// Unset field names fall back to the standard table controller's names.
func EntityConfigFrom(e *config.EntityConfig) (datasync.EntityConfig, error) {
	desc := entity.DefaultFields()
	if e.IDField != "" {
		desc.IDName = e.IDField
	}
	if e.VersionField != "" {
		desc.VersionName = e.VersionField
	}
	if e.UpdatedAtField != "" {
		desc.UpdatedAtName = e.UpdatedAtField
	}
	if e.DeletedField != "" {
		desc.DeletedName = e.DeletedField
	}
	if e.VersionEncoding != "" {
		desc.Encoding = entity.VersionEncoding(e.VersionEncoding)
	}

	ec := datasync.EntityConfig{
		Name:       e.Name,
		Endpoint:   e.Endpoint,
		Descriptor: desc,
		Query:      query.Description{Filter: e.Filter, OrderBy: e.OrderBy},
		QueryID:    e.QueryID,
	}

	if e.ConflictStrategy != "" {
		r, err := conflict.NewResolver(conflict.Strategy(e.ConflictStrategy))
		if err != nil {
			return datasync.EntityConfig{}, fmt.Errorf("entity %s: %w", e.Name, err)
		}
		ec.Resolver = r
	}
	return ec, nil
}

// initObservability initializes the logger and tracer.
func (c *Container) initObservability() error {
	ctx := context.Background()

	logLevel := logging.LevelInfo // default

	// Check verbose flag first - overrides config
	if c.verbose {
		logLevel = logging.LevelDebug
	} else {
		switch c.config.Logging.Level {
		case "debug":
			logLevel = logging.LevelDebug
		case "info":
			logLevel = logging.LevelInfo
		case "warn":
			logLevel = logging.LevelWarn
		case "error":
			logLevel = logging.LevelError
		}
	}

	logFormat := logging.FormatText
	if c.config.Logging.Format == "json" {
		logFormat = logging.FormatJSON
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logLevel
	logCfg.Format = logFormat
	c.logger = logging.New(logCfg)

	if c.config.Observability.Tracing.Enabled {
		tracingCfg := tracing.Config{
			Enabled:      true,
			ExporterType: tracing.ExporterType(c.config.Observability.Tracing.ExporterType),
			OTLPEndpoint: c.config.Observability.Tracing.OTLPEndpoint,
			ServiceName:  c.config.Observability.Tracing.ServiceName,
			Environment:  "production",
			SampleRate:   c.config.Observability.Tracing.SampleRate,
		}
		tracer, err := tracing.New(ctx, tracingCfg)
		if err != nil {
			return fmt.Errorf("failed to create tracer: %w", err)
		}
		c.tracer = tracer
	} else {
		c.tracer = tracing.Default()
	}

	return nil
}

// Close releases all resources held by the container.
func (c *Container) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if c.tracer != nil {
		_ = c.tracer.Shutdown(context.Background())
	}

	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Engine returns the sync engine.
func (c *Container) Engine() *datasync.Engine {
	return c.engine
}

// Registry returns the entity registry.
func (c *Container) Registry() *datasync.Registry {
	return c.registry
}

// Store returns the SQLite stores.
func (c *Container) Store() *sqlite.Adapter {
	return c.store
}

// Remote returns the remote table service client.
func (c *Container) Remote() *remote.Client {
	return c.remote
}

// Logger returns the structured logger.
func (c *Container) Logger() *logging.Logger {
	return c.logger
}

// Tracer returns the distributed tracer.
func (c *Container) Tracer() *tracing.Tracer {
	return c.tracer
}

// PushOptions returns the push options configured under sync.
func (c *Container) PushOptions() datasync.PushOptions {
	return datasync.PushOptions{ParallelOperations: c.config.Sync.PushParallelism}
}

// PullOptions returns the pull options configured under sync.
func (c *Container) PullOptions() datasync.PullOptions {
	return datasync.PullOptions{
		ParallelOperations: c.config.Sync.PullParallelism,
		SaveAfterEveryPage: c.config.Sync.SaveAfterEveryPage,
	}
}
