package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	oai "github.com/openai/openai-go"

	"github.com/MrWong99/meetagent/pkg/provider/stt"
)

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty api key")
	}
	p, err := New("k", "")
	if err != nil {
		t.Fatal(err)
	}
	if p.model != DefaultModel {
		t.Errorf("model = %q, want %q", p.model, DefaultModel)
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p, _ := New("k", "gpt-4o-transcribe")
	tests := []struct {
		name   string
		req    stt.Request
		format oai.AudioResponseFormat
	}{
		{name: "default json", req: stt.Request{}, format: oai.AudioResponseFormatJSON},
		{name: "text mapped to json", req: stt.Request{ResponseFormat: stt.FormatText}, format: oai.AudioResponseFormatJSON},
		{name: "segments", req: stt.Request{Segments: true}, format: oai.AudioResponseFormatVerboseJSON},
		{name: "verbose", req: stt.Request{ResponseFormat: stt.FormatVerboseJSON}, format: oai.AudioResponseFormatVerboseJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.req.Audio = bytes.NewReader(nil)
			params := p.buildParams(tt.req)
			if params.ResponseFormat != tt.format {
				t.Errorf("format = %q, want %q", params.ResponseFormat, tt.format)
			}
			if string(params.Model) != "gpt-4o-transcribe" {
				t.Errorf("model = %q", params.Model)
			}
		})
	}

	params := p.buildParams(stt.Request{Audio: bytes.NewReader(nil), Language: "en", Prompt: "budget review"})
	if params.Language.Value != "en" || params.Prompt.Value != "budget review" {
		t.Errorf("language/prompt not forwarded: %+v", params)
	}
}

func TestParseVerbose(t *testing.T) {
	t.Parallel()

	raw := `{"text":"hi there","language":"english","duration":1.5,
		"segments":[{"start":0,"end":0.7,"text":" hi"},{"start":0.7,"end":1.5,"text":" there"}]}`
	var res stt.Result
	if err := parseVerbose(raw, &res); err != nil {
		t.Fatal(err)
	}
	if res.Language != "english" || res.Duration != 1500*time.Millisecond {
		t.Errorf("metadata = %q %v", res.Language, res.Duration)
	}
	if len(res.Segments) != 2 || res.Segments[1].Text != "there" || res.Segments[1].Start != 700*time.Millisecond {
		t.Errorf("segments = %+v", res.Segments)
	}
	if err := parseVerbose("{", &res); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestTranscribe_HTTP(t *testing.T) {
	t.Parallel()

	var gotModel, gotPrompt, gotLang string
	var gotAudio []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = r.FormValue("model")
		gotPrompt = r.FormValue("prompt")
		gotLang = r.FormValue("language")
		f, _, err := r.FormFile("file")
		if err == nil {
			gotAudio, _ = io.ReadAll(f)
			f.Close()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "  hello world \n"})
	}))
	defer srv.Close()

	p, err := New("k", "whisper-1", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Transcribe(context.Background(), stt.Request{
		Audio:    bytes.NewReader([]byte("RIFFfake")),
		Language: "en",
		Prompt:   "quarterly numbers",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello world" {
		t.Errorf("text = %q", res.Text)
	}
	if gotModel != "whisper-1" || gotPrompt != "quarterly numbers" || gotLang != "en" {
		t.Errorf("form = model %q prompt %q language %q", gotModel, gotPrompt, gotLang)
	}
	if string(gotAudio) != "RIFFfake" {
		t.Errorf("audio = %q", gotAudio)
	}
}

func TestTranscribe_NoAudio(t *testing.T) {
	t.Parallel()
	p, _ := New("k", "")
	if _, err := p.Transcribe(context.Background(), stt.Request{}); err == nil {
		t.Fatal("expected error without audio")
	}
}
