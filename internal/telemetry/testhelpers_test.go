package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func testConfig() Config {
	return Config{
		ServiceName:    "paygate-test",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		SampleRate:     1.0,
	}
}

func shutdown(t *testing.T, tel *Telemetry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}

// setupTracerProvider installs an in-memory tracer provider for the test and
// restores the previous global afterwards.
func setupTracerProvider(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	previous := otel.GetTracerProvider()
	exp := tracetest.NewInMemoryExporter()
	otel.SetTracerProvider(trace.NewTracerProvider(trace.WithSyncer(exp)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	return exp
}
