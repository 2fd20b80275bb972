package deepgram

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/MrWong99/meetagent/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	t.Parallel()

	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, err := p.buildURL(stt.Request{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "utterances", "", q.Get("utterances"))
}

func TestBuildURL_LanguageOverriddenByRequest(t *testing.T) {
	t.Parallel()

	p, _ := New("key", WithLanguage("en"))
	rawURL, _ := p.buildURL(stt.Request{Language: "fr", Segments: true})
	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr", u.Query().Get("language"))
	assertEqual(t, "utterances", "true", u.Query().Get("utterances"))
}

func TestBuildURL_Keywords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		param string
		want  []string
	}{
		{model: "nova-3", param: "keyterm", want: []string{"Priya", "Atlas"}},
		{model: "nova-2", param: "keywords", want: []string{"Priya:2", "Atlas:2"}},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Parallel()
			p, _ := New("key", WithModel(tt.model))
			rawURL, _ := p.buildURL(stt.Request{Keywords: []string{"Priya", "Atlas"}})
			u, _ := url.Parse(rawURL)
			got := u.Query()[tt.param]
			if len(got) != len(tt.want) {
				t.Fatalf("%s = %v, want %v", tt.param, got, tt.want)
			}
			for i := range got {
				assertEqual(t, tt.param, tt.want[i], got[i])
			}
		})
	}
}

// ---- JSON parsing tests ----

func TestParseDeepgramResponse(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"metadata": {"duration": 2.5},
		"results": {
			"channels": [{
				"detected_language": "en",
				"alternatives": [{"transcript": " Hello world ", "confidence": 0.95}]
			}],
			"utterances": [{"start": 0.1, "end": 1.0, "transcript": "Hello world"}]
		}
	}`)
	res, err := parseDeepgramResponse(raw, "de")
	if err != nil {
		t.Fatal(err)
	}
	assertEqual(t, "text", "Hello world", res.Text)
	assertEqual(t, "language", "en", res.Language)
	if res.Duration != 2500*time.Millisecond {
		t.Errorf("duration = %v", res.Duration)
	}
	if len(res.Segments) != 1 || res.Segments[0].Start != 100*time.Millisecond {
		t.Errorf("segments = %+v", res.Segments)
	}
}

func TestParseDeepgramResponse_NoChannels(t *testing.T) {
	t.Parallel()

	res, err := parseDeepgramResponse([]byte(`{"results":{"channels":[]}}`), "en")
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "" {
		t.Errorf("text = %q", res.Text)
	}
	if _, err := parseDeepgramResponse([]byte(`not json`), "en"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

// ---- HTTP round trip ----

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var gotAuth, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"ok"}]}]}}`))
	}))
	defer srv.Close()

	p, _ := New("secret", WithEndpoint(srv.URL+"/v1/listen"))
	res, err := p.Transcribe(context.Background(), stt.Request{Audio: bytes.NewReader([]byte("RIFF"))})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "text", "ok", res.Text)
	assertEqual(t, "auth", "Token secret", gotAuth)
	assertEqual(t, "content-type", "audio/wav", gotType)
	assertEqual(t, "body", "RIFF", string(gotBody))
}

func TestTranscribe_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New("bad", WithEndpoint(srv.URL))
	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: bytes.NewReader(nil)}); err == nil {
		t.Fatal("expected error for HTTP 401")
	}
}

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", field, want, got)
	}
}
