package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "stockbot"

var (
	mu             sync.Mutex
	tracerProvider *sdktrace.TracerProvider
	traceFile      *os.File
)

// Init exports spans as JSON lines to path. An empty path leaves tracing disabled.
func Init(path, version string) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}
	if err := InitWithWriter(f, version); err != nil {
		f.Close()
		return err
	}
	mu.Lock()
	traceFile = f
	mu.Unlock()
	return nil
}

func InitWithWriter(w io.Writer, version string) error {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return fmt.Errorf("create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	mu.Lock()
	tracerProvider = tp
	mu.Unlock()
	return nil
}

// Shutdown flushes pending spans.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp, f := tracerProvider, traceFile
	tracerProvider, traceFile = nil, nil
	mu.Unlock()

	var err error
	if tp != nil {
		err = tp.Shutdown(ctx)
	}
	if f != nil {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// StartSpan starts a span on the global provider. Without Init the global
// no-op provider is used and this costs next to nothing.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(serviceName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
