// Package tracing provides OpenTelemetry-based distributed tracing infrastructure.
// It supports stdout and OTLP exporters and provides span helpers for pushes,
// queued operations, pulls and pull pages.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// TracerName is the name used for the datasync tracer.
	TracerName = "github.com/jbctechsolutions/datasync"

	// Version is the semantic version of the tracer.
	Version = "1.0.0"
)

// ExporterType defines the type of trace exporter.
type ExporterType string

const (
	ExporterNone   ExporterType = "none"
	ExporterStdout ExporterType = "stdout"
	ExporterOTLP   ExporterType = "otlp"
)

// Config holds tracing configuration.
type Config struct {
	Enabled      bool         // Whether tracing is enabled
	ExporterType ExporterType // Type of exporter to use
	OTLPEndpoint string       // OTLP collector endpoint (for OTLP exporter)
	ServiceName  string       // Service name for traces
	Environment  string       // Deployment environment (development, production)
	SampleRate   float64      // Sampling rate (0.0 to 1.0)
	Output       io.Writer    // Output for stdout exporter (defaults to os.Stdout)
}

// DefaultConfig returns sensible default tracing configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		ExporterType: ExporterNone,
		ServiceName:  "datasync",
		Environment:  "development",
		SampleRate:   1.0,
	}
}

// Tracer wraps an OpenTelemetry tracer with domain-specific functionality.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	config   Config
}

// Default returns a tracer backed by the global OpenTelemetry provider,
// which is a no-op until New installs an exporting one.
func Default() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(TracerName),
		config: DefaultConfig(),
	}
}

// New creates a new Tracer with the provided configuration.
func New(ctx context.Context, cfg Config) (*Tracer, error) {
	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		return &Tracer{
			tracer: noop.NewTracerProvider().Tracer(TracerName),
			config: cfg,
		}, nil
	}

	// Create exporter
	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	// Create resource without merging with Default() to avoid schema URL conflicts.
	// The default resource's schema URL may conflict with our semconv version.
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(Version),
			attribute.String("deployment.environment", cfg.Environment),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Create sampler
	var sampler sdktrace.Sampler
	if cfg.SampleRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if cfg.SampleRate <= 0.0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	// Create tracer provider
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	// Set global propagator
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// Set global tracer provider
	otel.SetTracerProvider(provider)

	return &Tracer{
		tracer:   provider.Tracer(TracerName, trace.WithInstrumentationVersion(Version)),
		provider: provider,
		config:   cfg,
	}, nil
}

// createExporter creates the appropriate exporter based on configuration.
func createExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		opts := []stdouttrace.Option{
			stdouttrace.WithPrettyPrint(),
		}
		if cfg.Output != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.Output))
		}
		return stdouttrace.New(opts...)

	case ExporterOTLP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithInsecure(),
		}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		return otlptracehttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}
}

// Shutdown gracefully shuts down the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// --- Domain-specific span helpers ---

// SyncSpan covers one push or pull call.
type SyncSpan struct {
	span trace.Span
	kind string
}

// StartPushSpan starts a span for a push over the given entity types.
func (t *Tracer) StartPushSpan(ctx context.Context, entityTypes []string, parallelism int) (context.Context, *SyncSpan) {
	ctx, span := t.tracer.Start(ctx, "datasync.push",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.StringSlice("datasync.entity_types", entityTypes),
			attribute.Int("datasync.parallelism", parallelism),
		),
	)
	return ctx, &SyncSpan{span: span, kind: "push"}
}

// StartPullSpan starts a span for a pull over the given query ids.
func (t *Tracer) StartPullSpan(ctx context.Context, queryIDs []string, parallelism int) (context.Context, *SyncSpan) {
	ctx, span := t.tracer.Start(ctx, "datasync.pull",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.StringSlice("datasync.query_ids", queryIDs),
			attribute.Int("datasync.parallelism", parallelism),
		),
	)
	return ctx, &SyncSpan{span: span, kind: "pull"}
}

// SetCounts records the result counters.
func (s *SyncSpan) SetCounts(additions, replacements, deletions, failures int) {
	s.span.SetAttributes(
		attribute.Int("datasync.additions", additions),
		attribute.Int("datasync.replacements", replacements),
		attribute.Int("datasync.deletions", deletions),
		attribute.Int("datasync.failures", failures),
	)
}

// End ends the span. A call with failures is still a completed call; the
// failures are in the counters.
func (s *SyncSpan) End() {
	s.span.SetStatus(codes.Ok, s.kind+" completed")
	s.span.End()
}

// EndWithError ends the span with error status.
func (s *SyncSpan) EndWithError(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
	s.span.End()
}

// RequestSpan covers one outbound request: a queued operation or a pull page.
type RequestSpan struct {
	span trace.Span
}

// StartOperationSpan starts a span for sending one queued operation.
func (t *Tracer) StartOperationSpan(ctx context.Context, entityType, itemID, kind string) (context.Context, *RequestSpan) {
	ctx, span := t.tracer.Start(ctx, "datasync.push.operation",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("datasync.entity_type", entityType),
			attribute.String("datasync.item_id", itemID),
			attribute.String("datasync.operation.kind", kind),
		),
	)
	return ctx, &RequestSpan{span: span}
}

// StartPageSpan starts a span for fetching and applying one pull page.
func (t *Tracer) StartPageSpan(ctx context.Context, queryID string, page int) (context.Context, *RequestSpan) {
	ctx, span := t.tracer.Start(ctx, "datasync.pull.page",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("datasync.query_id", queryID),
			attribute.Int("datasync.page", page),
		),
	)
	return ctx, &RequestSpan{span: span}
}

// SetStatusCode records the HTTP status of the response.
func (r *RequestSpan) SetStatusCode(code int) {
	r.span.SetAttributes(attribute.Int("http.response.status_code", code))
}

// SetRows records how many rows a page carried.
func (r *RequestSpan) SetRows(rows int) {
	r.span.SetAttributes(attribute.Int("datasync.page.rows", rows))
}

// SetOutcome records how the request ended, e.g. "applied" or "conflict".
func (r *RequestSpan) SetOutcome(outcome string) {
	r.span.SetAttributes(attribute.String("datasync.outcome", outcome))
}

// End ends the span with success status.
func (r *RequestSpan) End() {
	r.span.SetStatus(codes.Ok, "request completed")
	r.span.End()
}

// EndWithError ends the span with error status.
func (r *RequestSpan) EndWithError(err error) {
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
	r.span.End()
}
