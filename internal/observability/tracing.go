// Package observability wires OpenTelemetry trace export into the genkit
// runtime, so every pipeline step, model call, and retrieval shows up as a
// span under one trace per turn.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config for trace export.
type Config struct {
	// Endpoint is the OTLP HTTP collector address, host:port. Empty
	// disables tracing entirely.
	Endpoint string

	// ServiceName labels spans in the backend.
	ServiceName string

	// Environment is the deployment environment tag (dev, staging, prod).
	Environment string
}

// Setup registers an OTLP HTTP exporter with genkit's TracerProvider and
// returns a shutdown function that flushes pending spans. Tracing failures
// never fail startup: a broken collector leaves the service running with
// tracing disabled.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" {
		return noop, nil
	}

	// Genkit's TracerProvider reads service identity from the standard
	// OTEL environment variables.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("trace exporter unavailable, tracing disabled", "endpoint", cfg.Endpoint, "error", err)
		return noop, nil
	}

	tracing.TracerProvider().RegisterSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter))
	logger.Debug("tracing enabled", "endpoint", cfg.Endpoint, "service", cfg.ServiceName)

	return tracing.TracerProvider().Shutdown, nil
}
