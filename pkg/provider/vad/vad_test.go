package vad_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/meetagent/pkg/audio"
	"github.com/MrWong99/meetagent/pkg/provider/vad"
	"github.com/MrWong99/meetagent/pkg/provider/vad/energy"
	"github.com/MrWong99/meetagent/pkg/provider/vad/mock"
)

func TestConfig_Normalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      vad.Config
		wantRate int
		wantErr  bool
	}{
		{name: "defaults", cfg: vad.DefaultConfig(), wantRate: 16000},
		{name: "coerces 44.1k", cfg: vad.Config{SampleRate: 44100, FrameMs: 30}, wantRate: 16000},
		{name: "keeps 48k", cfg: vad.Config{SampleRate: 48000, FrameMs: 10}, wantRate: 48000},
		{name: "bad frame", cfg: vad.Config{SampleRate: 16000, FrameMs: 25}, wantErr: true},
		{name: "bad aggressiveness", cfg: vad.Config{SampleRate: 16000, FrameMs: 20, Aggressiveness: 4}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.cfg.Normalize()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got.SampleRate != tt.wantRate {
				t.Errorf("SampleRate = %d, want %d", got.SampleRate, tt.wantRate)
			}
		})
	}
}

func frame(n int) []float32 { return make([]float32, n) }

func TestDetector_Hysteresis(t *testing.T) {
	t.Parallel()

	cls := &mock.Classifier{Default: true}
	det, err := vad.NewDetector(cls, vad.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	n := det.Config().FrameLen()

	for i := range 4 {
		if tr := det.Update(frame(n)); tr.Started || tr.Speaking {
			t.Fatalf("chunk %d: started before threshold", i)
		}
	}
	if tr := det.Update(frame(n)); !tr.Started || !tr.Speaking {
		t.Fatalf("fifth speech chunk: got %+v, want started", tr)
	}
	if tr := det.Update(frame(n)); tr.Started {
		t.Fatal("started fired twice")
	}

	cls.Default = false
	for i := range 9 {
		if tr := det.Update(frame(n)); tr.Ended || !tr.Speaking {
			t.Fatalf("silent chunk %d: ended before threshold", i)
		}
	}
	if tr := det.Update(frame(n)); !tr.Ended || tr.Speaking {
		t.Fatalf("tenth silent chunk: got %+v, want ended", tr)
	}
}

func TestDetector_InterruptedOnsetRestartsCount(t *testing.T) {
	t.Parallel()

	cls := &mock.Classifier{Script: []bool{true, true, true, true, false, true, true, true, true}}
	det, err := vad.NewDetector(cls, vad.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	n := det.Config().FrameLen()
	for range len(cls.Script) {
		if det.Update(frame(n)).Started {
			t.Fatal("speech started without five consecutive speech chunks")
		}
	}
}

func TestDetector_DetectSpeechRatio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		speech int
		want   bool
	}{
		{name: "none", speech: 0, want: false},
		{name: "exactly thirty percent", speech: 3, want: false},
		{name: "above thirty percent", speech: 4, want: true},
		{name: "all", speech: 10, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			script := make([]bool, 10)
			for i := range tt.speech {
				script[i] = true
			}
			det, err := vad.NewDetector(&mock.Classifier{Script: script}, vad.DefaultConfig())
			if err != nil {
				t.Fatal(err)
			}
			if got := det.DetectSpeech(frame(10 * det.Config().FrameLen())); got != tt.want {
				t.Errorf("DetectSpeech = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetector_PadsTrailingFrame(t *testing.T) {
	t.Parallel()

	cls := &mock.Classifier{}
	det, err := vad.NewDetector(cls, vad.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	n := det.Config().FrameLen()
	chunk := make([]float32, n+n/2)
	for i := range chunk {
		chunk[i] = 0.5
	}
	det.Update(chunk)

	if cls.Calls != 2 {
		t.Fatalf("classifier calls = %d, want 2", cls.Calls)
	}
	last := cls.Frames[1]
	if len(last) != n {
		t.Fatalf("padded frame len = %d, want %d", len(last), n)
	}
	if last[n/2-1] != 0.5 || last[n/2] != 0 || last[n-1] != 0 {
		t.Error("trailing frame not zero-padded")
	}
}

func TestDetector_ClassifyErrorIsSilence(t *testing.T) {
	t.Parallel()

	cls := &mock.Classifier{Default: true, Err: errors.New("boom")}
	det, err := vad.NewDetector(cls, vad.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	n := det.Config().FrameLen()
	for range 20 {
		if det.Update(frame(n)).Speaking {
			t.Fatal("classifier errors must count as non-speech")
		}
	}
	if det.Classify(frame(n - 1)) {
		t.Error("wrong-length frame classified as speech")
	}
}

func TestDetector_SilenceIsNeverSpeech(t *testing.T) {
	t.Parallel()

	cls, err := energy.New(2)
	if err != nil {
		t.Fatal(err)
	}
	det, err := vad.NewDetector(cls, vad.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	silence := audio.Silence(16000, 5*time.Second)
	if det.DetectSpeech(silence.Samples) {
		t.Error("DetectSpeech(silence) = true")
	}
	if _, ok := det.ExtractSpeech(silence); ok {
		t.Error("ExtractSpeech(silence) found speech")
	}
}

func TestDetector_Segments(t *testing.T) {
	t.Parallel()

	cls, err := energy.New(1)
	if err != nil {
		t.Fatal(err)
	}
	det, err := vad.NewDetector(cls, vad.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	buf, err := audio.Concat(
		audio.Tone(440, 0.3, 16000, time.Second),
		audio.Silence(16000, 500*time.Millisecond),
		audio.Tone(440, 0.3, 16000, 200*time.Millisecond),
	)
	if err != nil {
		t.Fatal(err)
	}

	segs := det.Segments(buf.Samples, 500*time.Millisecond)
	if len(segs) != 1 {
		t.Fatalf("segments = %+v, want one (short trailing burst dropped)", segs)
	}
	if segs[0].Start != 0 || segs[0].End < 16000 || segs[0].End > 24000 {
		t.Errorf("segment = %+v", segs[0])
	}

	speech, ok := det.ExtractSpeech(buf)
	if !ok {
		t.Fatal("ExtractSpeech found nothing")
	}
	if speech.Duration() < time.Second {
		t.Errorf("extracted %v, want at least 1s", speech.Duration())
	}
}

func TestDetector_ResetAndStats(t *testing.T) {
	t.Parallel()

	det, err := vad.NewDetector(&mock.Classifier{Default: true}, vad.Config{SampleRate: 8000, FrameMs: 20, Aggressiveness: 3})
	if err != nil {
		t.Fatal(err)
	}
	n := det.Config().FrameLen()
	for range 6 {
		det.Update(frame(n))
	}
	st := det.Stats()
	if !st.Speaking || st.SpeechRun != 6 || st.FrameLen != 160 || st.Aggressiveness != 3 {
		t.Fatalf("stats = %+v", st)
	}

	det.Reset()
	st = det.Stats()
	if st.Speaking || st.SpeechRun != 0 || st.SilenceRun != 0 {
		t.Errorf("after Reset stats = %+v", st)
	}
}

func TestNewDetector_NilClassifier(t *testing.T) {
	t.Parallel()
	if _, err := vad.NewDetector(nil, vad.DefaultConfig()); err == nil {
		t.Error("expected error for nil classifier")
	}
}
