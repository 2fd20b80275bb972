package playback

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/meetagent/pkg/audio"
	"github.com/MrWong99/meetagent/pkg/audio/decode"
)

func TestPlayer_PlayNormalises(t *testing.T) {
	t.Parallel()

	sink := &FakeSink{Rate: 48000, Chans: 2}
	p := New(sink, nil)

	in := audio.NewBuffer(audio.ToFloat32([]int16{0, 16384, -16384, 32767}), 16000)
	if !p.Play(context.Background(), in, true) {
		t.Fatal("Play returned false")
	}
	got := sink.Written()
	if len(got) != 1 {
		t.Fatalf("written = %d buffers", len(got))
	}
	if got[0].SampleRate != 48000 || got[0].Channels != 2 {
		t.Errorf("format = %d Hz / %d ch", got[0].SampleRate, got[0].Channels)
	}
	if got[0].Frames() != 12 {
		t.Errorf("frames = %d, want 12", got[0].Frames())
	}
	if p.IsPlaying() {
		t.Error("IsPlaying after blocking Play returned")
	}
}

func TestPlayer_Empty(t *testing.T) {
	t.Parallel()
	p := New(&FakeSink{}, nil)
	if p.Play(context.Background(), audio.Buffer{}, true) {
		t.Error("Play(empty) = true")
	}
}

func TestPlayer_FailureKeepsFlagConsistent(t *testing.T) {
	t.Parallel()

	p := New(&FakeSink{Err: errors.New("device gone")}, nil)
	if p.Play(context.Background(), audio.Tone(440, 0.3, 16000, 10*time.Millisecond), true) {
		t.Fatal("Play succeeded on failing sink")
	}
	if p.IsPlaying() {
		t.Error("playing flag stuck after failure")
	}
	p.Stop()
	if !p.WaitUntilDone(time.Millisecond) {
		t.Error("WaitUntilDone false with nothing playing")
	}
}

func TestPlayer_NonBlockingStopAndWait(t *testing.T) {
	t.Parallel()

	sink := &FakeSink{Rate: 16000, Chans: 1, Realtime: true}
	p := New(sink, nil)

	if !p.Play(context.Background(), audio.Silence(16000, 5*time.Second), false) {
		t.Fatal("non-blocking Play returned false")
	}
	if !p.IsPlaying() {
		t.Fatal("IsPlaying false right after Play")
	}
	if p.WaitUntilDone(20 * time.Millisecond) {
		t.Fatal("WaitUntilDone returned true before playback finished")
	}

	p.Stop()
	if p.IsPlaying() {
		t.Error("still playing after Stop")
	}
	if len(sink.Written()) != 0 {
		t.Error("cancelled buffer recorded as written")
	}
}

func TestPlayer_WaitUntilDone(t *testing.T) {
	t.Parallel()

	p := New(&FakeSink{Rate: 16000, Chans: 1, Realtime: true}, nil)
	p.Play(context.Background(), audio.Silence(16000, 50*time.Millisecond), false)
	if !p.WaitUntilDone(2 * time.Second) {
		t.Fatal("WaitUntilDone timed out")
	}
	if p.IsPlaying() {
		t.Error("IsPlaying after completion")
	}
}

func TestPlayer_PlayFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reply.wav")
	if err := audio.WriteWAV(path, audio.Tone(440, 0.3, 22050, 100*time.Millisecond)); err != nil {
		t.Fatal(err)
	}

	sink := &FakeSink{Rate: 44100, Chans: 2}
	p := New(sink, decode.NewChain(decode.WithConverters()))
	if !p.InjectAudioFile(context.Background(), path) {
		t.Fatal("InjectAudioFile returned false")
	}
	got := sink.Written()
	if len(got) != 1 || got[0].Frames() != 4410 {
		t.Fatalf("written = %+v", got)
	}

	if p.PlayFile(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), true) {
		t.Error("PlayFile(missing) = true")
	}
}

func TestPlayer_PlayTone(t *testing.T) {
	t.Parallel()

	sink := &FakeSink{Rate: 16000, Chans: 1}
	p := New(sink, nil)
	if !p.PlayTone(context.Background(), 440, 100*time.Millisecond) {
		t.Fatal("PlayTone returned false")
	}
	got := sink.Written()
	if len(got) != 1 {
		t.Fatal("tone not written")
	}
	if peak := audio.Peak(got[0].Samples); peak < 0.29 || peak > 0.31 {
		t.Errorf("tone peak = %v", peak)
	}
}
