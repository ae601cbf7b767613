package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpansAreRecorded(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tel, err := New(tp, metricnoop.NewMeterProvider(), nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	_, ok := tel.Start(context.Background(), "order.plan", attribute.String("agent", "agent-smeder"))
	End(ok, nil)
	_, bad := tel.Start(context.Background(), "order.execute")
	End(bad, errors.New("boom"))

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "order.plan" || spans[0].Status().Code == codes.Error {
		t.Fatalf("unexpected first span %s %v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != "boom" {
		t.Fatalf("expected error status, got %v", spans[1].Status())
	}
}

func TestInitRejectsUnknownExporter(t *testing.T) {
	if _, err := Init(Config{Exporter: "jaeger"}); err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
}

func TestNopRecordsWithoutPanicking(t *testing.T) {
	tel := Nop()
	tel.RecordRun(context.Background(), "agent-smeder", "ordered", 3, 0)
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}
