package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/meetagent/pkg/audio"
)

func chunk(v float32, n int) audio.Buffer {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return audio.NewBuffer(s, 16000)
}

func TestRecorder_StartFailureIsSoft(t *testing.T) {
	t.Parallel()

	r := New(&FakeDevice{StartErr: errors.New("no such device")})
	if r.Start() {
		t.Fatal("Start() = true on device error")
	}
	if r.IsRunning() {
		t.Error("recorder running after failed start")
	}
}

func TestRecorder_StopIdempotent(t *testing.T) {
	t.Parallel()

	dev := &FakeDevice{}
	r := New(dev)
	r.Stop()
	if !r.Start() {
		t.Fatal("Start failed")
	}
	if !r.Start() {
		t.Fatal("second Start on running recorder returned false")
	}
	r.Stop()
	r.Stop()

	starts, stops := dev.Counts()
	if starts != 1 || stops != 1 {
		t.Errorf("device starts=%d stops=%d, want 1/1", starts, stops)
	}
	if r.IsRunning() {
		t.Error("still running after Stop")
	}
}

func TestRecorder_NextChunkOrderAndTimeout(t *testing.T) {
	t.Parallel()

	dev := &FakeDevice{}
	r := New(dev)
	r.Start()
	defer r.Stop()

	ctx := context.Background()
	if _, ok := r.NextChunk(ctx, 20*time.Millisecond); ok {
		t.Fatal("NextChunk returned data from an empty queue")
	}

	for i := range 3 {
		dev.Emit(chunk(float32(i), 4))
	}
	for i := range 3 {
		b, ok := r.NextChunk(ctx, time.Second)
		if !ok {
			t.Fatalf("chunk %d missing", i)
		}
		if b.Samples[0] != float32(i) {
			t.Fatalf("chunk %d out of order: %v", i, b.Samples[0])
		}
	}
}

func TestRecorder_NextChunkWakesOnPush(t *testing.T) {
	t.Parallel()

	dev := &FakeDevice{}
	r := New(dev)
	r.Start()
	defer r.Stop()

	go func() {
		time.Sleep(10 * time.Millisecond)
		dev.Emit(chunk(1, 4))
	}()
	if _, ok := r.NextChunk(context.Background(), 2*time.Second); !ok {
		t.Fatal("NextChunk did not observe pushed chunk")
	}
}

func TestRecorder_NextChunkCancelled(t *testing.T) {
	t.Parallel()

	r := New(&FakeDevice{})
	r.Start()
	defer r.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if _, ok := r.NextChunk(ctx, 5*time.Second); ok {
		t.Fatal("NextChunk returned data after cancel")
	}
	if time.Since(start) > time.Second {
		t.Error("NextChunk ignored cancellation")
	}
}

func TestRecorder_BufferTrims(t *testing.T) {
	t.Parallel()

	dev := &FakeDevice{}
	r := New(dev)
	r.Start()
	defer r.Stop()

	// 100 ms wanted; 3 × 64 ms queued.
	for range 3 {
		dev.Emit(chunk(0.1, 1024))
	}
	b, ok := r.Buffer(context.Background(), 100*time.Millisecond)
	if !ok {
		t.Fatal("Buffer returned nothing")
	}
	if len(b.Samples) != 1600 {
		t.Errorf("len = %d, want 1600", len(b.Samples))
	}
	if b.SampleRate != 16000 {
		t.Errorf("rate = %d", b.SampleRate)
	}
}

func TestRecorder_BufferPartialAndEmpty(t *testing.T) {
	t.Parallel()

	dev := &FakeDevice{}
	r := New(dev)
	r.Start()
	defer r.Stop()

	if _, ok := r.Buffer(context.Background(), 50*time.Millisecond); ok {
		t.Fatal("Buffer on silent device returned data")
	}

	dev.Emit(chunk(0.1, 160))
	start := time.Now()
	b, ok := r.Buffer(context.Background(), 200*time.Millisecond)
	if !ok || len(b.Samples) != 160 {
		t.Fatalf("partial buffer = %d samples, ok=%v", len(b.Samples), ok)
	}
	if el := time.Since(start); el > 2*time.Second {
		t.Errorf("Buffer overran its deadline: %v", el)
	}
}

func TestRecorder_ClearAndStoppedPush(t *testing.T) {
	t.Parallel()

	dev := &FakeDevice{}
	r := New(dev)
	r.Start()
	for range 5 {
		dev.Emit(chunk(0, 8))
	}
	if n := r.Clear(); n != 5 {
		t.Errorf("Clear dropped %d, want 5", n)
	}
	if r.Len() != 0 {
		t.Error("queue not empty after Clear")
	}
	if r.Pushed() != 5 {
		t.Errorf("Pushed = %d", r.Pushed())
	}

	r.Stop()
	r.push(chunk(0, 8))
	if r.Len() != 0 {
		t.Error("push after Stop was queued")
	}
}
