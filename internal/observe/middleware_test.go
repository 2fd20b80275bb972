package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newStatusMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return mux
}

// requestPoints returns the HTTP duration data points keyed by
// "method path status".
func requestPoints(t *testing.T, reader *sdkmetric.ManualReader) map[string]uint64 {
	t.Helper()
	met := findMetric(collect(t, reader), "meetagent.http.request.duration")
	if met == nil {
		return nil
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("request duration is %T, want histogram", met.Data)
	}
	out := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		get := func(k string) string {
			v, _ := dp.Attributes.Value(attribute.Key(k))
			return v.AsString()
		}
		out[get("method")+" "+get("path")+" "+get("status")] += dp.Count
	}
	return out
}

func TestMiddleware_Metrics(t *testing.T) {
	exp := withGlobalTracer(t)
	m, reader := newTestMetrics(t)
	h := Middleware(m)(newStatusMux())

	for _, path := range []string{"/healthz", "/healthz", "/readyz", "/nope/123"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	got := requestPoints(t, reader)
	want := map[string]uint64{
		"GET /healthz 200":  2,
		"GET /readyz 503":   1,
		"GET unmatched 404": 1,
	}
	for k, n := range want {
		if got[k] != n {
			t.Errorf("samples[%q] = %d, want %d (all: %v)", k, got[k], n, got)
		}
	}

	spans := exp.GetSpans()
	if len(spans) != 4 {
		t.Fatalf("spans = %d, want 4", len(spans))
	}
	if spans[2].Name != "GET /readyz" {
		t.Errorf("span name = %q", spans[2].Name)
	}
	var code int64
	for _, a := range spans[2].Attributes {
		if a.Key == "http.response.status_code" {
			code = a.Value.AsInt64()
		}
	}
	if code != http.StatusServiceUnavailable {
		t.Errorf("span status code = %d, want 503", code)
	}
}

func TestMiddleware_CorrelationHeader(t *testing.T) {
	withGlobalTracer(t)
	m, _ := newTestMetrics(t)

	var seen string
	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationID(r.Context())
	}))

	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{"new trace", "", ""},
		{"continued trace", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", "4bf92f3577b34da6a3ce929d0e0e4736"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/status", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if len(seen) != 32 {
				t.Fatalf("handler correlation ID = %q", seen)
			}
			if tt.want != "" && seen != tt.want {
				t.Errorf("correlation ID = %q, want %q", seen, tt.want)
			}
			if got := rec.Header().Get(CorrelationHeader); got != seen {
				t.Errorf("%s = %q, want %q", CorrelationHeader, got, seen)
			}
		})
	}
}
