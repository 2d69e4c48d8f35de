package tracing

import (
	"context"
	"testing"
)

func TestInitWithoutExporter(t *testing.T) {
	p, err := Init(context.Background(), Config{ServiceName: "hourglass-test", ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, span := p.Tracer().Start(context.Background(), "phase.search")
	if !span.SpanContext().IsValid() {
		t.Error("span context is not valid; provider is not recording")
	}
	span.End()
}

func TestShutdownZeroProvider(t *testing.T) {
	var p Provider
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on zero Provider: %v", err)
	}
}
