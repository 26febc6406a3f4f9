package otel

import (
	"context"
	"testing"
)

func TestInitDisabledReturnsNoopProvider(t *testing.T) {
	ctx := context.Background()
	p, err := Init(ctx, Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if p.Tracer == nil || p.Meter == nil {
		t.Fatal("disabled provider must still expose tracer and meter")
	}

	// No-op instruments must be safe to use.
	_, span := p.Tracer.Start(ctx, "noop")
	span.End()

	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestInitEnabledWithNoneExporter(t *testing.T) {
	ctx := context.Background()
	p, err := Init(ctx, Config{Enabled: true, Exporter: "none"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(ctx)

	if p.TracerProvider == nil {
		t.Fatal("enabled provider must carry a real tracer provider")
	}
	_, span := p.Tracer.Start(ctx, "discarded")
	span.End()
}

func TestInitRejectsUnknownExporter(t *testing.T) {
	if _, err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestNewMetricsInstruments(t *testing.T) {
	ctx := context.Background()
	p, err := Init(ctx, Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// Recording on no-op instruments must not panic.
	m.ActiveSessions.Add(ctx, 1)
	m.ProposalsCreated.Add(ctx, 1)
	m.ValidationRejects.Add(ctx, 1)
	m.PlannerDuration.Record(ctx, 0.25)
}
