package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns Metrics on a private provider with a manual reader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counter sums the data points of a sum metric that carry attr=val. An
// empty attr sums every point.
func counter(t *testing.T, rm metricdata.ResourceMetrics, name, attr, val string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		return 0
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is %T, not an int64 sum", name, met.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if attr == "" {
			total += dp.Value
			continue
		}
		if v, ok := dp.Attributes.Value(attribute.Key(attr)); ok && v.AsString() == val {
			total += dp.Value
		}
	}
	return total
}

// samples counts the observations of a histogram across its data points.
func samples(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("%s not recorded", name)
	}
	h, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("%s is %T, not a float64 histogram", name, met.Data)
	}
	var n uint64
	for _, dp := range h.DataPoints {
		n += dp.Count
	}
	return n
}

func TestObserveCall(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ObserveCall(ctx, KindSTT, "openai", 300*time.Millisecond, nil)
	m.ObserveCall(ctx, KindSTT, "whisper", time.Second, errors.New("boom"))
	m.ObserveCall(ctx, KindLLM, "openai", 2*time.Second, nil)
	m.ObserveCall(ctx, KindTTS, "elevenlabs", 500*time.Millisecond, nil)
	m.ObserveCall(ctx, KindEmbeddings, "openai", time.Millisecond, nil)

	rm := collect(t, reader)
	for name, want := range map[string]uint64{
		"meetagent.stt.duration": 2,
		"meetagent.llm.duration": 1,
		"meetagent.tts.duration": 1,
	} {
		if got := samples(t, rm, name); got != want {
			t.Errorf("%s samples = %d, want %d", name, got, want)
		}
	}

	tests := []struct {
		metric, attr, val string
		want              int64
	}{
		{"meetagent.provider.requests", "", "", 5},
		{"meetagent.provider.requests", "status", "error", 1},
		{"meetagent.provider.requests", "kind", "embeddings", 1},
		{"meetagent.provider.requests", "provider", "openai", 3},
		{"meetagent.provider.errors", "provider", "whisper", 1},
		{"meetagent.provider.errors", "kind", "llm", 0},
	}
	for _, tt := range tests {
		if got := counter(t, rm, tt.metric, tt.attr, tt.val); got != tt.want {
			t.Errorf("%s{%s=%s} = %d, want %d", tt.metric, tt.attr, tt.val, got, tt.want)
		}
	}
}

func TestConversationCounters(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "replied")
	m.RecordTurn(ctx, "gated")
	m.RecordTurn(ctx, "gated")
	m.RecordSpeechSegment(ctx)
	m.RecordSpeechSegment(ctx)
	m.RecordGuardDiscards(ctx, 0)
	m.RecordGuardDiscards(ctx, 4)
	m.ActiveSessions.Add(ctx, 1)
	m.TurnDuration.Record(ctx, 1.5)
	m.PlaybackDuration.Record(ctx, 0.8)

	rm := collect(t, reader)
	tests := []struct {
		metric, attr, val string
		want              int64
	}{
		{"meetagent.turns", "outcome", "replied", 1},
		{"meetagent.turns", "outcome", "gated", 2},
		{"meetagent.vad.segments", "", "", 2},
		{"meetagent.guard.discards", "", "", 4},
		{"meetagent.active_sessions", "", "", 1},
	}
	for _, tt := range tests {
		if got := counter(t, rm, tt.metric, tt.attr, tt.val); got != tt.want {
			t.Errorf("%s{%s=%s} = %d, want %d", tt.metric, tt.attr, tt.val, got, tt.want)
		}
	}
	if n := samples(t, rm, "meetagent.turn.duration"); n != 1 {
		t.Errorf("turn duration samples = %d", n)
	}
	if n := samples(t, rm, "meetagent.playback.duration"); n != 1 {
		t.Errorf("playback duration samples = %d", n)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
