// Package telemetry wires OpenTelemetry traces and metrics for ordering runs.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentation = "github.com/kingrea/agent-smeder"

// ShutdownFunc flushes and stops the providers.
type ShutdownFunc func(context.Context) error

// Config controls exporter behavior.
type Config struct {
	// Exporter is "stdout" or "none".
	Exporter    string
	ServiceName string
	Version     string
	// Writer receives stdout exports; nil means os.Stderr so command output
	// stays clean.
	Writer io.Writer
}

// Telemetry hands out spans and records run metrics.
type Telemetry struct {
	tracer    trace.Tracer
	runs      metric.Int64Counter
	moved     metric.Int64Counter
	conflicts metric.Int64Counter
	shutdown  ShutdownFunc
}

// Init builds the providers for cfg. With exporter "none" everything is a no-op.
func Init(cfg Config) (*Telemetry, error) {
	switch cfg.Exporter {
	case "", "none":
		return New(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider(), nil)
	case "stdout":
	default:
		return nil, fmt.Errorf("unknown telemetry exporter: %s", cfg.Exporter)
	}
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter, sdktrace.WithBatchTimeout(time.Second)),
		sdktrace.WithResource(res),
	)
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(time.Minute))),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return New(tp, mp, func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	})
}

// New builds a Telemetry on explicit providers.
func New(tp trace.TracerProvider, mp metric.MeterProvider, shutdown ShutdownFunc) (*Telemetry, error) {
	meter := mp.Meter(instrumentation)
	runs, err := meter.Int64Counter("smeder.runs", metric.WithDescription("Ordering runs by status"))
	if err != nil {
		return nil, err
	}
	moved, err := meter.Int64Counter("smeder.files.moved", metric.WithDescription("Files relocated"))
	if err != nil {
		return nil, err
	}
	conflicts, err := meter.Int64Counter("smeder.conflicts", metric.WithDescription("Conflicts reported"))
	if err != nil {
		return nil, err
	}
	if shutdown == nil {
		shutdown = func(context.Context) error { return nil }
	}
	return &Telemetry{
		tracer:    tp.Tracer(instrumentation),
		runs:      runs,
		moved:     moved,
		conflicts: conflicts,
		shutdown:  shutdown,
	}, nil
}

// Nop returns telemetry that records nothing.
func Nop() *Telemetry {
	t, _ := New(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider(), nil)
	return t
}

// Tracer returns the smeder tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Start opens a span for one ordering stage.
func (t *Telemetry) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// End closes span, marking it failed when err is set.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RecordRun adds one finished run to the counters.
func (t *Telemetry) RecordRun(ctx context.Context, agent, status string, moved, conflicts int) {
	attrs := metric.WithAttributes(attribute.String("agent", agent), attribute.String("status", status))
	t.runs.Add(ctx, 1, attrs)
	t.moved.Add(ctx, int64(moved), metric.WithAttributes(attribute.String("agent", agent)))
	t.conflicts.Add(ctx, int64(conflicts), metric.WithAttributes(attribute.String("agent", agent)))
}

// Shutdown flushes pending exports.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}
