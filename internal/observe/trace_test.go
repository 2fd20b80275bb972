package observe

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// withGlobalTracer installs an in-memory tracer provider as the OTel global
// for the duration of the test. Tests using it must not run in parallel.
func withGlobalTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs routes slog.Default into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	withGlobalTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("without span = %q, want empty", got)
	}

	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()
	cid := CorrelationID(ctx)
	if b, err := hex.DecodeString(cid); err != nil || len(b) != 16 {
		t.Errorf("CorrelationID = %q, want 32 hex characters", cid)
	}
}

func TestStartTurn(t *testing.T) {
	exp := withGlobalTracer(t)

	_, span := StartTurn(context.Background(), "sess-1", 3)
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "turn" {
		t.Fatalf("spans = %+v", spans)
	}
	attrs := map[string]string{}
	for _, a := range spans[0].Attributes {
		attrs[string(a.Key)] = a.Value.Emit()
	}
	if attrs["session.id"] != "sess-1" || attrs["turn.seq"] != "3" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestLogger(t *testing.T) {
	withGlobalTracer(t)
	buf := captureLogs(t)

	Logger(context.Background()).Info("plain")
	ctx, span := StartSpan(context.Background(), "turn")
	Logger(ctx).Info("traced")
	span.End()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2:\n%s", len(lines), buf.String())
	}
	if strings.Contains(lines[0], "trace_id") {
		t.Errorf("untraced line carries trace_id: %s", lines[0])
	}
	want := "trace_id=" + CorrelationID(ctx)
	if !strings.Contains(lines[1], want) || !strings.Contains(lines[1], "span_id=") {
		t.Errorf("traced line = %s, want %s and span_id", lines[1], want)
	}
}
