// Package telemetry wires OpenTelemetry tracing for scans. With an
// OTLP endpoint configured it installs a batching gRPC exporter; with
// none it hands back a no-op tracer, so callers instrument
// unconditionally and configuration decides whether spans go anywhere.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config selects the trace destination.
type Config struct {
	// Endpoint is the OTLP gRPC collector address, host:port. Empty
	// disables export entirely.
	Endpoint string

	// ServiceName for the trace resource (default "vulnity").
	ServiceName string

	// ServiceVersion for the trace resource (default "dev").
	ServiceVersion string

	// Insecure skips TLS on the collector connection.
	Insecure bool

	// Headers are added to every export request.
	Headers map[string]string

	// ShutdownTimeout bounds the final flush (default 5s).
	ShutdownTimeout time.Duration
}

// Setup builds the tracer and returns it with a shutdown function that
// flushes pending spans. The connection is lazy; a missing collector
// shows up as dropped exports, never as a Setup error.
func Setup(ctx context.Context, cfg Config) (trace.Tracer, func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "vulnity"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "dev"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	if cfg.Endpoint == "" {
		tracer := noop.NewTracerProvider().Tracer("vulnity")
		return tracer, func(context.Context) error { return nil }, nil
	}

	exporterOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	if len(cfg.Headers) > 0 {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		attribute.String("service.component", "scanner"),
	)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
		defer cancel()
		return provider.Shutdown(ctx)
	}
	return provider.Tracer("vulnity/scanner"), shutdown, nil
}

// End closes a span, recording err as its status.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
