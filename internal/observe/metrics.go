// Package observe provides application-wide observability primitives for the
// meeting agent: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to
// Prometheus by [InitProvider] so they can be scraped from /metrics. Tests
// should use [NewMetrics] with their own [metric.MeterProvider] instead of
// [DefaultMetrics] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/meetagent"

// Provider kinds used as the "kind" attribute.
const (
	KindSTT        = "stt"
	KindLLM        = "llm"
	KindTTS        = "tts"
	KindEmbeddings = "embeddings"
)

// Metrics holds all OpenTelemetry instruments for the application.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks reply generation latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks synthesis latency.
	TTSDuration metric.Float64Histogram

	// PlaybackDuration tracks how long injected replies played.
	PlaybackDuration metric.Float64Histogram

	// TurnDuration tracks a full turn from speech end to resume.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// Turns counts completed or aborted turns. Attribute: outcome.
	Turns metric.Int64Counter

	// SpeechSegments counts VAD speech-end transitions.
	SpeechSegments metric.Int64Counter

	// GuardDiscards counts capture chunks dropped inside the feedback-guard window.
	GuardDiscards metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions is 1 while a conversation session is active.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request time. Attributes: method, path, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	hist := func(dst *metric.Float64Histogram, name, desc string) error {
		h, err := m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		*dst = h
		return err
	}
	counter := func(dst *metric.Int64Counter, name, desc string) error {
		c, err := m.Int64Counter(name, metric.WithDescription(desc))
		*dst = c
		return err
	}

	for _, err := range []error{
		hist(&met.STTDuration, "meetagent.stt.duration", "Latency of speech-to-text transcription."),
		hist(&met.LLMDuration, "meetagent.llm.duration", "Latency of reply generation."),
		hist(&met.TTSDuration, "meetagent.tts.duration", "Latency of speech synthesis."),
		hist(&met.PlaybackDuration, "meetagent.playback.duration", "Time spent playing injected replies."),
		hist(&met.TurnDuration, "meetagent.turn.duration", "Duration of a full conversation turn."),
		counter(&met.ProviderRequests, "meetagent.provider.requests", "Total provider API requests by provider, kind and status."),
		counter(&met.ProviderErrors, "meetagent.provider.errors", "Total provider errors by provider and kind."),
		counter(&met.Turns, "meetagent.turns", "Total turns by outcome."),
		counter(&met.SpeechSegments, "meetagent.vad.segments", "Speech segments detected by the VAD."),
		counter(&met.GuardDiscards, "meetagent.guard.discards", "Capture chunks discarded inside the feedback-guard window."),
	} {
		if err != nil {
			return nil, err
		}
	}

	var err error
	if met.ActiveSessions, err = m.Int64UpDownCounter("meetagent.active_sessions",
		metric.WithDescription("Number of active conversation sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("meetagent.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTurn counts one turn with the given outcome.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSpeechSegment counts one VAD speech-end transition.
func (m *Metrics) RecordSpeechSegment(ctx context.Context) {
	m.SpeechSegments.Add(ctx, 1)
}

// RecordGuardDiscards counts n chunks dropped by the feedback guard.
func (m *Metrics) RecordGuardDiscards(ctx context.Context, n int) {
	if n > 0 {
		m.GuardDiscards.Add(ctx, int64(n))
	}
}

// ObserveCall records one provider call: latency in the per-kind histogram
// (embeddings have none), the request counter, and the error counter when
// err is non-nil.
func (m *Metrics) ObserveCall(ctx context.Context, kind, provider string, d time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	switch kind {
	case KindSTT:
		m.STTDuration.Record(ctx, d.Seconds(), attrs)
	case KindLLM:
		m.LLMDuration.Record(ctx, d.Seconds(), attrs)
	case KindTTS:
		m.TTSDuration.Record(ctx, d.Seconds(), attrs)
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.RecordProviderError(ctx, provider, kind)
	}
	m.RecordProviderRequest(ctx, provider, kind, status)
}
