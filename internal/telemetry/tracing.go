package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/natefinch/lumberjack.v2"
)

const ServiceName = "sunlytics-api"

// InitTracing installs a global tracer provider that exports spans as JSON.
// With an empty traceFile spans are recorded but discarded. The returned
// func flushes and shuts the provider down.
func InitTracing(ctx context.Context, traceFile string, version string) (func(), error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", ServiceName),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var out io.WriteCloser = nopCloser{io.Discard}
	if traceFile != "" {
		out = &lumberjack.Logger{
			Filename:   traceFile,
			MaxSize:    20, // MB
			MaxBackups: 2,
			MaxAge:     7,
		}
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
		_ = out.Close()
	}, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
