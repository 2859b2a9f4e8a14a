// Package telemetry provides OpenTelemetry tracing foundation for rollout.
// Tracing is disabled by default and can be enabled via environment variables.
package telemetry

import (
	"context"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	tracer         trace.Tracer
	tracerProvider *sdktrace.TracerProvider
	initOnce       sync.Once
	enabled        bool
)

// Config holds telemetry configuration
type Config struct {
	// ServiceName is the name of the service (default: rollout)
	ServiceName string
	// ServiceVersion is the version of the service
	ServiceVersion string
	// Environment is the deployment environment (e.g., production, staging)
	Environment string
	// OTLPEndpoint is the OTLP collector endpoint (e.g., localhost:4317)
	OTLPEndpoint string
	// Debug enables stdout trace exporter for debugging
	Debug bool
}

// DefaultConfig returns the default telemetry configuration
func DefaultConfig() Config {
	return Config{
		ServiceName:    getEnvOrDefault("ROLLOUT_SERVICE_NAME", "rollout"),
		ServiceVersion: getEnvOrDefault("ROLLOUT_VERSION", "dev"),
		Environment:    getEnvOrDefault("ROLLOUT_ENVIRONMENT", "development"),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Debug:          os.Getenv("ROLLOUT_TRACE_DEBUG") == "1",
	}
}

// Init initializes the telemetry system.
// Call this early in main() if you want tracing enabled.
// If OTEL_EXPORTER_OTLP_ENDPOINT is not set, tracing is disabled (noop).
func Init(cfg Config) error {
	var err error
	initOnce.Do(func() {
		err = initTracer(cfg)
	})
	return err
}

// initTracer sets up the tracer provider
func initTracer(cfg Config) error {
	if cfg.OTLPEndpoint == "" && !cfg.Debug {
		// No endpoint configured, use noop tracer
		tracer = noop.NewTracerProvider().Tracer(cfg.ServiceName)
		enabled = false
		return nil
	}

	enabled = true

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return err
	}

	var exporter sdktrace.SpanExporter

	if cfg.Debug {
		exporter, err = stdouttrace.New(
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			return err
		}
	} else if cfg.OTLPEndpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)

		exporter, err = otlptrace.New(ctx, client)
		if err != nil {
			return err
		}
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tracerProvider)

	tracer = tracerProvider.Tracer(cfg.ServiceName)

	return nil
}

// Shutdown gracefully shuts down the tracer provider
func Shutdown(ctx context.Context) error {
	if tracerProvider != nil {
		return tracerProvider.Shutdown(ctx)
	}
	return nil
}

// IsEnabled returns true if tracing is enabled
func IsEnabled() bool {
	return enabled
}

// Tracer returns the global tracer instance
func Tracer() trace.Tracer {
	if tracer == nil {
		return noop.NewTracerProvider().Tracer("rollout")
	}
	return tracer
}

// StartSpan starts a new span with the given name
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// SpanFromContext returns the current span from context
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// TraceDeployment starts a span covering one rollout attempt
func TraceDeployment(ctx context.Context, deploymentID, application, environment, strategy string) (context.Context, trace.Span) {
	return StartSpan(ctx, "deployment.run",
		trace.WithAttributes(
			attribute.String("deployment.id", deploymentID),
			attribute.String("deployment.application", application),
			attribute.String("deployment.environment", environment),
			attribute.String("deployment.strategy", strategy),
		),
	)
}

// TraceStage starts a span for one strategy stage
func TraceStage(ctx context.Context, deploymentID, stage string) (context.Context, trace.Span) {
	return StartSpan(ctx, "deployment.stage",
		trace.WithAttributes(
			attribute.String("deployment.id", deploymentID),
			attribute.String("stage.name", stage),
		),
	)
}

// TraceProbe starts a span for a health probe window
func TraceProbe(ctx context.Context, targets int, window time.Duration) (context.Context, trace.Span) {
	return StartSpan(ctx, "health.probe",
		trace.WithAttributes(
			attribute.Int("probe.targets", targets),
			attribute.String("probe.window", window.String()),
		),
	)
}

// TraceRollback starts a span for a rollback attempt
func TraceRollback(ctx context.Context, deploymentID, previousVersion string) (context.Context, trace.Span) {
	return StartSpan(ctx, "deployment.rollback",
		trace.WithAttributes(
			attribute.String("deployment.id", deploymentID),
			attribute.String("rollback.targetVersion", previousVersion),
		),
	)
}

// TraceMigration starts a span for a schema migration
func TraceMigration(ctx context.Context, version string, inverse bool) (context.Context, trace.Span) {
	return StartSpan(ctx, "migration.run",
		trace.WithAttributes(
			attribute.String("migration.version", version),
			attribute.Bool("migration.inverse", inverse),
		),
	)
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error) {
	span := SpanFromContext(ctx)
	if span != nil {
		span.RecordError(err)
	}
}

// SetAttribute sets an attribute on the current span
func SetAttribute(ctx context.Context, key string, value interface{}) {
	span := SpanFromContext(ctx)
	if span == nil {
		return
	}

	switch v := value.(type) {
	case string:
		span.SetAttributes(attribute.String(key, v))
	case int:
		span.SetAttributes(attribute.Int(key, v))
	case int64:
		span.SetAttributes(attribute.Int64(key, v))
	case float64:
		span.SetAttributes(attribute.Float64(key, v))
	case bool:
		span.SetAttributes(attribute.Bool(key, v))
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
