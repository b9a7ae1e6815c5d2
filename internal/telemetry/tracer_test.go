package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitTracer(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	var out strings.Builder
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	shutdown, err := InitTracer("bridge-test", &out, logger)
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "bridge.forward")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}

	if !strings.Contains(out.String(), "bridge.forward") {
		t.Errorf("Expected span in exporter output, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "bridge-test") {
		t.Errorf("Expected service name in exporter output")
	}
}

func TestNoop(t *testing.T) {
	if err := Noop(context.Background()); err != nil {
		t.Errorf("Noop() error = %v", err)
	}
}
