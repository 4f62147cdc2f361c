// Package telemetry configures OpenTelemetry tracing for the orchestrator.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/tjfontaine/polyglot-orchestrator/internal/config"
)

// NewTracerProvider builds a provider that exports spans as JSON to w.
func NewTracerProvider(serviceName string, w io.Writer, opts ...stdouttrace.Option) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(append([]stdouttrace.Option{stdouttrace.WithWriter(w)}, opts...)...)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

// InitTracer installs the global tracer provider when tracing is enabled and
// returns its shutdown function. When disabled the global no-op provider is
// left in place and shutdown does nothing.
func InitTracer(cfg config.TelemetryConfig, logger *slog.Logger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	tp, err := NewTracerProvider(cfg.ServiceName, os.Stdout, stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)

	logger.Info("OpenTelemetry initialized", slog.String("service", cfg.ServiceName))
	return tp.Shutdown, nil
}
