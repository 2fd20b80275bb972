package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/meetagent/internal/config"
	"github.com/MrWong99/meetagent/internal/meeting/mock"
	"github.com/MrWong99/meetagent/internal/orchestrator"
	"github.com/MrWong99/meetagent/pkg/audio"
	"github.com/MrWong99/meetagent/pkg/audio/capture"
	"github.com/MrWong99/meetagent/pkg/audio/playback"
	"github.com/MrWong99/meetagent/pkg/provider/llm"
	llmmock "github.com/MrWong99/meetagent/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/meetagent/pkg/provider/stt/mock"
	"github.com/MrWong99/meetagent/pkg/provider/tts"
	ttsmock "github.com/MrWong99/meetagent/pkg/provider/tts/mock"
	"github.com/MrWong99/meetagent/pkg/provider/vad/energy"
)

const testYAML = `
providers:
  stt: {name: openai, api_key: sk-test}
  llm: {name: openai, api_key: sk-test}
  tts: {name: openai, api_key: sk-test}
meeting:
  controller: none
  url: https://meet.example.com/abc-defg-hij
  title: Weekly sync
  participants: [Alice, Bob]
agent:
  name: Robo
  response_delay: 1ms
  guard_duration: 10ms
  guard_margin: 1ms
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(testYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	cfg.Server.ListenAddr = ""
	return cfg
}

func pcmReply(tts.Request) (*tts.Audio, error) {
	tone := audio.Tone(440, 0.3, 16000, 100*time.Millisecond)
	return &tts.Audio{Data: audio.Float32ToPCM16(tone.Samples), Format: tts.FormatPCM, SampleRate: 16000}, nil
}

func testProviders() *Providers {
	return &Providers{
		STT: &sttmock.Provider{},
		LLM: &llmmock.Provider{Response: &llm.CompletionResponse{Content: "Sure."}},
		TTS: &ttsmock.Provider{AudioFunc: pcmReply},
		VAD: energy.Engine{},
	}
}

type fixture struct {
	app  *App
	meet *mock.Controller
	dev  *capture.FakeDevice
	tts  *ttsmock.Provider
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	ps := testProviders()
	f := &fixture{
		meet: &mock.Controller{InjectOK: true, ParticipantList: []string{"Carol"}},
		dev:  &capture.FakeDevice{Rate: 16000},
		tts:  ps.TTS.(*ttsmock.Provider),
	}
	a, err := New(context.Background(), cfg, ps,
		WithMeeting(f.meet),
		WithCaptureDevice(f.dev),
		WithJoinDelay(0),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	f.app = a
	return f
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ps   *Providers
	}{
		{"nil", nil},
		{"missing stt", &Providers{LLM: &llmmock.Provider{}, TTS: &ttsmock.Provider{}, VAD: energy.Engine{}}},
		{"missing vad", &Providers{STT: &sttmock.Provider{}, LLM: &llmmock.Provider{}, TTS: &ttsmock.Provider{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(context.Background(), testConfig(t), tt.ps); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_LocalPlayback(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	sink := &playback.FakeSink{Rate: 22050, Chans: 1}
	a, err := New(context.Background(), cfg, testProviders(),
		WithCaptureDevice(&capture.FakeDevice{}),
		WithSink(sink),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if a.player == nil {
		t.Fatal("expected a local player without a meeting injector")
	}
	if outcome := a.Orchestrator().Announce(context.Background(), "testing"); outcome != orchestrator.OutcomeReplied {
		t.Errorf("Announce outcome = %q, want replied", outcome)
	}
	if len(sink.Written()) == 0 {
		t.Error("sink received no audio")
	}
}

func TestRun_JoinsAndAnnounces(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	f := newFixture(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.app.Run(ctx) }()

	greeting := Greeting("Robo")
	waitUntil(t, "chat greeting", func() bool { return slices.Contains(f.meet.Chats(), greeting) })
	waitUntil(t, "spoken greeting", func() bool { return len(f.meet.Injected()) > 0 })

	if got := f.meet.MicToggles(); len(got) == 0 || !got[0] {
		t.Errorf("MicToggles = %v, want microphone enabled after join", got)
	}
	if texts := f.tts.Texts(); !slices.Contains(texts, greeting) {
		t.Errorf("tts texts = %v, want greeting", texts)
	}
	waitUntil(t, "capture running", f.app.recorder.IsRunning)

	mctx := f.app.Orchestrator().Session().Context()
	if mctx.MeetingTitle != "Weekly sync" {
		t.Errorf("title = %q", mctx.MeetingTitle)
	}
	if want := []string{"Alice", "Bob", "Robo"}; !slices.Equal(mctx.Participants, want) {
		t.Errorf("participants = %v, want %v", mctx.Participants, want)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !f.meet.Closed() {
		t.Error("meeting not closed on shutdown")
	}
	if f.app.Orchestrator().IsActive() {
		t.Error("conversation still active after shutdown")
	}
}

func TestRun_JoinError(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	f := newFixture(t, cfg)
	f.meet.JoinErr = errors.New("lobby closed")

	err := f.app.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "lobby closed") {
		t.Fatalf("Run error = %v", err)
	}
}

func TestRun_NoAnnounce(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	off := false
	cfg.Agent.Announce = &off
	f := newFixture(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.app.Run(ctx) }()
	waitUntil(t, "capture running", f.app.recorder.IsRunning)
	cancel()
	<-done

	if chats := f.meet.Chats(); len(chats) != 0 {
		t.Errorf("chats = %v, want none", chats)
	}
	if len(f.meet.Injected()) != 0 {
		t.Error("greeting spoken although announce is off")
	}
}

func TestCheckMic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		joined  bool
		known   bool
		enabled bool
		toggled bool
	}{
		{"muted", true, true, false, true},
		{"unknown state", true, false, true, true},
		{"already on", true, true, true, false},
		{"not in meeting", false, true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, testConfig(t))
			ctx := context.Background()
			if tt.joined {
				if err := f.meet.Join(ctx, "https://meet.example.com/x", "Robo"); err != nil {
					t.Fatal(err)
				}
			}
			f.meet.MicKnown = tt.known
			f.meet.SetMicrophone(tt.enabled)

			f.app.checkMic(ctx)

			got := len(f.meet.MicToggles()) > 0
			if got != tt.toggled {
				t.Errorf("toggled = %v, want %v", got, tt.toggled)
			}
		})
	}
}

func TestMeetingContext(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Meeting.Title = ""
	cfg.Meeting.Participants = nil
	f := newFixture(t, cfg)
	ctx := context.Background()

	mc := f.app.meetingContext(ctx)
	if mc.MeetingTitle != DefaultMeetingTitle {
		t.Errorf("title = %q, want default", mc.MeetingTitle)
	}
	if want := []string{"Meeting participants", "Robo"}; !slices.Equal(mc.Participants, want) {
		t.Errorf("participants before join = %v, want %v", mc.Participants, want)
	}

	if err := f.meet.Join(ctx, cfg.Meeting.URL, "Robo"); err != nil {
		t.Fatal(err)
	}
	mc = f.app.meetingContext(ctx)
	if want := []string{"Carol", "Robo"}; !slices.Equal(mc.Participants, want) {
		t.Errorf("participants after join = %v, want %v", mc.Participants, want)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	f := newFixture(t, cfg)
	f.app.orch.StartConversation(context.Background(), f.app.meetingContext(context.Background()))

	newCfg := testConfig(t)
	newCfg.Agent.Name = "Helper"
	newCfg.Meeting.Title = "Retro"
	newCfg.Meeting.Participants = []string{"Dana"}
	newCfg.Server.LogLevel = config.LogDebug

	lv := new(slog.LevelVar)
	f.app.logLevel = lv
	f.app.applyConfig(cfg, newCfg, config.Diff(cfg, newCfg))

	mc := f.app.orch.Session().Context()
	if mc.AgentName != "Helper" {
		t.Errorf("agent name = %q", mc.AgentName)
	}
	if mc.MeetingTitle != "Retro" || !slices.Equal(mc.Participants, []string{"Dana"}) {
		t.Errorf("context = %+v", mc)
	}
	if got := lv.Level(); got != config.LogDebug.Level() {
		t.Errorf("log level = %v", got)
	}

	// An expired session is restarted from meetingContext; the reloaded
	// values must carry over.
	f.app.orch.StartConversation(context.Background(), f.app.meetingContext(context.Background()))
	mc = f.app.orch.Session().Context()
	if mc.AgentName != "Helper" {
		t.Errorf("agent name after restart = %q, want Helper", mc.AgentName)
	}
	if want := []string{"Dana", "Helper"}; mc.MeetingTitle != "Retro" || !slices.Equal(mc.Participants, want) {
		t.Errorf("context after restart = %+v, want title Retro and participants %v", mc, want)
	}
	if got := Greeting(f.app.agentName()); !strings.Contains(got, "Helper") {
		t.Errorf("greeting = %q", got)
	}
}

func TestApplyConfig_ConcurrentReads(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	f := newFixture(t, cfg)
	ctx := context.Background()

	reloads := make([]*config.Config, 100)
	for i := range reloads {
		next := testConfig(t)
		next.Agent.Name = fmt.Sprintf("Agent%d", i)
		next.Meeting.Title = fmt.Sprintf("Topic %d", i)
		next.Meeting.Participants = []string{"Dana", fmt.Sprintf("P%d", i)}
		reloads[i] = next
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, next := range reloads {
			f.app.applyConfig(cfg, next, config.Diff(cfg, next))
		}
	}()
	go func() {
		defer wg.Done()
		for range 100 {
			mc := f.app.meetingContext(ctx)
			if mc.AgentName == "" || !slices.Contains(mc.Participants, mc.AgentName) {
				t.Errorf("inconsistent context %+v", mc)
			}
		}
	}()
	wg.Wait()

	if got := f.app.meetingContext(ctx).AgentName; got != "Agent99" {
		t.Errorf("final agent name = %q, want Agent99", got)
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testConfig(t))
	srv := httptest.NewServer(f.app.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz = %d", resp.StatusCode)
	}

	// Capture is stopped and the meeting not joined.
	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/readyz = %d, want 503", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st struct {
		Meeting *struct {
			Platform string `json:"platform"`
		} `json:"meeting"`
		Orchestrator struct {
			Capturing bool `json:"capturing"`
		} `json:"orchestrator"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode /status: %v", err)
	}
	if st.Meeting == nil || st.Meeting.Platform != "mock" {
		t.Errorf("meeting = %+v", st.Meeting)
	}
	if st.Orchestrator.Capturing {
		t.Error("capturing before Run")
	}
}
