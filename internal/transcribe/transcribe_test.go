package transcribe

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/meetagent/pkg/audio"
	"github.com/MrWong99/meetagent/pkg/provider/stt"
	"github.com/MrWong99/meetagent/pkg/provider/stt/mock"
)

func TestTranscribe(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := &mock.Provider{Result: &stt.Result{Text: "  let's review the budget  "}}
	tr := New(p, Config{Language: "en", TempDir: dir})

	hint := "one two three four five six seven eight nine ten eleven twelve thirteen " +
		"fourteen fifteen sixteen seventeen eighteen nineteen twenty twentyone twentytwo " +
		"twentythree twentyfour twentyfive twentysix twentyseven twentyeight twentynine thirty thirtyone"
	got := tr.Transcribe(context.Background(), audio.Tone(440, 0.3, 16000, 500*time.Millisecond), hint)
	if got != "let's review the budget" {
		t.Errorf("text = %q", got)
	}

	if p.CallCount() != 1 {
		t.Fatalf("calls = %d", p.CallCount())
	}
	call := p.Calls[0]
	if call.Req.Language != "en" || call.Req.SampleRate != 16000 || call.Req.ResponseFormat != stt.FormatJSON {
		t.Errorf("request = %+v", call.Req)
	}
	if !strings.HasPrefix(call.Req.Prompt, "two ") || !strings.HasSuffix(call.Req.Prompt, " thirtyone") {
		t.Errorf("hint not trimmed: %q", call.Req.Prompt)
	}
	if !bytes.HasPrefix(call.Audio, []byte("RIFF")) {
		t.Errorf("audio is not a WAV container")
	}
	buf, err := audio.DecodeWAV(bytes.NewReader(call.Audio))
	if err != nil {
		t.Fatalf("decode uploaded wav: %v", err)
	}
	if buf.SampleRate != 16000 || buf.Frames() != 8000 {
		t.Errorf("uploaded %d frames at %d Hz", buf.Frames(), buf.SampleRate)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("temp files left behind: %d", len(entries))
	}
}

func TestTranscribe_Degrades(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		provider  *mock.Provider
		buf       audio.Buffer
		wantCalls int
	}{
		{name: "empty buffer", provider: &mock.Provider{Result: &stt.Result{Text: "x"}}, wantCalls: 0},
		{name: "backend error", provider: &mock.Provider{Err: errors.New("timeout")}, buf: audio.Silence(16000, time.Second), wantCalls: 1},
		{name: "silence", provider: &mock.Provider{}, buf: audio.Silence(16000, time.Second), wantCalls: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tr := New(tc.provider, Config{TempDir: t.TempDir()})
			if got := tr.Transcribe(context.Background(), tc.buf, ""); got != "" {
				t.Errorf("text = %q, want empty", got)
			}
			if tc.provider.CallCount() != tc.wantCalls {
				t.Errorf("calls = %d, want %d", tc.provider.CallCount(), tc.wantCalls)
			}
		})
	}
}

func TestTranscribeWithSegments(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Result: &stt.Result{
		Text:     " hello ",
		Segments: []stt.Segment{{Start: 0, End: time.Second, Text: "hello"}},
	}}
	tr := New(p, Config{TempDir: t.TempDir(), Temperature: 0.4})

	res, ok := tr.TranscribeWithSegments(context.Background(), audio.Silence(16000, time.Second))
	if !ok || res.Text != "hello" || len(res.Segments) != 1 {
		t.Fatalf("result = %+v, %v", res, ok)
	}
	req := p.Calls[0].Req
	if req.Temperature != SegmentTemperature || req.ResponseFormat != stt.FormatVerboseJSON || !req.Segments {
		t.Errorf("request = %+v", req)
	}
}

func TestNew_InvalidFormatFallsBack(t *testing.T) {
	t.Parallel()
	tr := New(&mock.Provider{}, Config{ResponseFormat: "xml"})
	if tr.cfg.ResponseFormat != stt.FormatJSON {
		t.Errorf("format = %q", tr.cfg.ResponseFormat)
	}
	tr = New(&mock.Provider{}, Config{ResponseFormat: stt.FormatSRT})
	if tr.cfg.ResponseFormat != stt.FormatSRT {
		t.Errorf("format = %q", tr.cfg.ResponseFormat)
	}
}

func TestTestConnection(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{}
	if err := New(p, Config{TempDir: t.TempDir()}).TestConnection(context.Background()); err != nil {
		t.Fatal(err)
	}
	buf, err := audio.DecodeWAV(bytes.NewReader(p.Calls[0].Audio))
	if err != nil || buf.Duration() != time.Second || audio.RMS(buf.Samples) != 0 {
		t.Errorf("probe audio: %v, %v", buf.Duration(), err)
	}

	boom := errors.New("401")
	if err := New(&mock.Provider{Err: boom}, Config{TempDir: t.TempDir()}).TestConnection(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestTrimHint(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"", 30, ""},
		{"a  b   c", 30, "a b c"},
		{"a b c d", 2, "c d"},
		{"a b", 0, "a b"},
	}
	for _, tc := range tests {
		if got := TrimHint(tc.in, tc.n); got != tc.want {
			t.Errorf("TrimHint(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestSupportedLanguages(t *testing.T) {
	t.Parallel()
	langs := SupportedLanguages()
	if len(langs) < 90 || langs[0] != "en" {
		t.Errorf("languages = %d, first %q", len(langs), langs[0])
	}
	langs[0] = "xx"
	if !Supported("en") || Supported("xx") {
		t.Error("SupportedLanguages returned shared storage")
	}
}
