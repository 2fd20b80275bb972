// Package app wires the meeting agent's subsystems into a running
// application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run joins the meeting and drives the conversation loop
// together with the HTTP endpoints and background maintenance, and Shutdown
// tears everything down in order.
//
// For testing, inject fakes via functional options (WithMeeting,
// WithCaptureDevice, WithSink, ...). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/meetagent/internal/config"
	"github.com/MrWong99/meetagent/internal/conversation"
	"github.com/MrWong99/meetagent/internal/health"
	"github.com/MrWong99/meetagent/internal/meeting"
	"github.com/MrWong99/meetagent/internal/meeting/cdp"
	"github.com/MrWong99/meetagent/internal/observe"
	"github.com/MrWong99/meetagent/internal/orchestrator"
	"github.com/MrWong99/meetagent/internal/respond"
	"github.com/MrWong99/meetagent/internal/synth"
	"github.com/MrWong99/meetagent/internal/transcribe"
	"github.com/MrWong99/meetagent/internal/transcript"
	"github.com/MrWong99/meetagent/internal/transcript/postgres"
	"github.com/MrWong99/meetagent/pkg/audio/capture"
	"github.com/MrWong99/meetagent/pkg/audio/decode"
	"github.com/MrWong99/meetagent/pkg/audio/device"
	"github.com/MrWong99/meetagent/pkg/audio/playback"
	"github.com/MrWong99/meetagent/pkg/provider/vad"
)

// DefaultMeetingTitle is used when meeting.title is empty.
const DefaultMeetingTitle = "Meeting agent session"

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics        *observe.Metrics
	metricsHandler http.Handler
	logLevel       *slog.LevelVar
	configPath     string

	meeting  meeting.Controller
	device   capture.Device
	sink     playback.Sink
	store    transcript.Store
	recorder *capture.Recorder
	player   *playback.Player
	orch     *orchestrator.Orchestrator
	health   *health.Handler
	handler  http.Handler
	watcher  *config.Watcher

	joinWait time.Duration

	// live holds the settings a config reload may change while running.
	liveMu sync.RWMutex
	live   liveSettings

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

type liveSettings struct {
	agentName    string
	title        string
	participants []string
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMeeting injects a meeting controller instead of creating one from
// meeting.controller.
func WithMeeting(m meeting.Controller) Option {
	return func(a *App) { a.meeting = m }
}

// WithCaptureDevice injects the input device instead of opening PortAudio.
func WithCaptureDevice(d capture.Device) Option {
	return func(a *App) { a.device = d }
}

// WithSink injects the playback sink instead of opening PortAudio.
func WithSink(s playback.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithTranscriptStore injects a transcript store instead of creating one
// from the transcript section.
func WithTranscriptStore(s transcript.Store) Option {
	return func(a *App) { a.store = s }
}

// WithTelemetry sets the metrics instruments and the /metrics handler.
func WithTelemetry(m *observe.Metrics, h http.Handler) Option {
	return func(a *App) { a.metrics, a.metricsHandler = m, h }
}

// WithJoinDelay overrides the wait between joining and enabling the
// microphone.
func WithJoinDelay(d time.Duration) Option {
	return func(a *App) { a.joinWait = d }
}

// WithLogLevel lets config reloads change the log level.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithConfigWatch reloads path while running and applies the changes that do
// not need a restart.
func WithConfigWatch(path string) Option {
	return func(a *App) { a.configPath = path }
}

// New creates an App by wiring all subsystems together. The providers come
// from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.LLM == nil || providers.TTS == nil || providers.VAD == nil {
		return nil, errors.New("app: stt, llm, tts and vad providers are required")
	}
	a := &App{cfg: cfg, providers: providers, joinWait: joinDelay}
	a.live = liveSettings{
		agentName:    cfg.Agent.Name,
		title:        cfg.Meeting.Title,
		participants: slices.Clone(cfg.Meeting.Participants),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initMeeting(); err != nil {
		return nil, fmt.Errorf("app: init meeting: %w", err)
	}
	if err := a.initTranscript(ctx); err != nil {
		return nil, fmt.Errorf("app: init transcript: %w", err)
	}
	injector, err := a.initAudio()
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init audio: %w", err)
	}
	if err := a.initOrchestrator(injector); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init orchestrator: %w", err)
	}
	a.initHTTP()

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
	}
	return a, nil
}

func (a *App) initMeeting() error {
	if a.meeting != nil {
		return nil
	}
	switch a.cfg.Meeting.Controller {
	case config.ControllerCDP:
		a.meeting = cdp.New(a.cfg.Meeting.DevToolsURL)
	case config.ControllerNone, "":
	default:
		return fmt.Errorf("unknown meeting controller %q", a.cfg.Meeting.Controller)
	}
	return nil
}

func (a *App) initTranscript(ctx context.Context) error {
	if a.store == nil {
		tc := a.cfg.Transcript
		if tc.PostgresDSN != "" {
			s, err := postgres.NewStore(ctx, tc.PostgresDSN, tc.EmbeddingDimensions, a.providers.Embeddings)
			if err != nil {
				return err
			}
			a.store = s
			slog.Info("transcript store connected", "backend", "postgres", "dims", tc.EmbeddingDimensions)
		} else {
			a.store = transcript.NewMemory(a.providers.Embeddings)
			slog.Info("transcript kept in memory")
		}
	}
	a.closers = append(a.closers, a.store.Close)
	return nil
}

// initAudio opens the capture and playback devices and returns the injector
// for rendered replies: the meeting's own when it has one, otherwise the
// local player routed to the loopback device.
func (a *App) initAudio() (orchestrator.Injector, error) {
	ac := a.cfg.Audio
	if a.device == nil {
		a.device = device.NewInput(device.Config{
			Name:            ac.InputDevice,
			Loopback:        ac.LoopbackName,
			SampleRate:      ac.SampleRate,
			FramesPerBuffer: ac.BufferSize,
		})
	}
	a.recorder = capture.New(a.device)

	if inj, ok := a.meeting.(meeting.AudioInjector); ok {
		slog.Info("replies are injected by the meeting controller")
		return inj, nil
	}

	if a.sink == nil {
		out, err := device.OpenOutput(device.Config{
			Name:            ac.OutputDevice,
			Loopback:        ac.LoopbackName,
			SampleRate:      ac.OutputSampleRate,
			Channels:        ac.OutputChannels,
			FramesPerBuffer: ac.BufferSize,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("playback device opened", "device", out.Name(), "rate", out.SampleRate(), "channels", out.Channels())
		a.sink = out
	}
	if c, ok := a.sink.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.player = playback.New(a.sink, decode.NewChain(
		decode.WithSampleRate(a.sink.SampleRate()),
		decode.WithChannels(a.sink.Channels()),
	))
	a.closers = append([]func() error{func() error { a.player.Stop(); return nil }}, a.closers...)
	return a.player, nil
}

func (a *App) initOrchestrator(injector orchestrator.Injector) error {
	cfg := a.cfg
	vc := vad.Config{
		SampleRate:       cfg.Audio.SampleRate,
		FrameMs:          cfg.VAD.FrameMs,
		Aggressiveness:   *cfg.VAD.Aggressiveness,
		SpeechThreshold:  cfg.VAD.SpeechThreshold,
		SilenceThreshold: cfg.VAD.SilenceThreshold,
	}
	cls, err := a.providers.VAD.NewClassifier(vc)
	if err != nil {
		return fmt.Errorf("vad classifier: %w", err)
	}
	detector, err := vad.NewDetector(cls, vc)
	if err != nil {
		return fmt.Errorf("vad detector: %w", err)
	}

	ag := cfg.Agent
	transcriber := transcribe.New(a.providers.STT, transcribe.Config{
		Provider:    cfg.Providers.STT.Name,
		Language:    ag.Language,
		Temperature: ag.Temperature,
		Metrics:     a.metrics,
	})
	responder := respond.New(a.providers.LLM, respond.Config{
		AgentName:     ag.Name,
		Provider:      cfg.Providers.LLM.Name,
		MaxTokens:     ag.MaxTokens,
		Temperature:   ag.ReplyTemperature,
		ContextWindow: ag.ContextWindow,
		HistoryCap:    ag.HistoryCap,
		Metrics:       a.metrics,
	})
	// Rendered speech is normalised to the playback rate so the player
	// never has to resample.
	rate := cfg.Audio.OutputSampleRate
	if a.sink != nil {
		rate = a.sink.SampleRate()
	}
	synthesizer := synth.New(a.providers.TTS, decode.NewChain(decode.WithSampleRate(rate)), synth.Config{
		Provider:   cfg.Providers.TTS.Name,
		Voice:      ag.Voice,
		Format:     ag.TTSFormat,
		Speed:      ag.Speed,
		MultiChunk: config.Enabled(ag.MultiChunk),
		Metrics:    a.metrics,
	})

	var recordings string
	if cfg.Recordings.Enabled {
		recordings = filepath.Clean(cfg.Recordings.Dir)
	}
	o, err := orchestrator.New(orchestrator.Deps{
		Capture:     a.recorder,
		VAD:         detector,
		Transcriber: transcriber,
		Responder:   responder,
		Synth:       synthesizer,
		Injector:    injector,
		Transcript:  a.store,
		Metrics:     a.metrics,
	}, orchestrator.Config{
		AgentName:        ag.Name,
		SessionTimeout:   ag.SessionTimeout,
		HistoryCap:       ag.HistoryCap,
		ResponseDelay:    ag.ResponseDelay,
		GuardDuration:    ag.GuardDuration,
		GuardMargin:      ag.GuardMargin,
		TrailingBuffer:   ag.TrailingBuffer,
		ApologizeOnError: ag.ApologizeOnError,
		RecordingsDir:    recordings,
		TargetRMS:        ag.TargetRMS,
		RecallLimit:      cfg.Transcript.Recall,
	})
	if err != nil {
		return err
	}
	a.orch = o
	return nil
}

func (a *App) initHTTP() {
	checks := []health.Checker{
		health.CheckFunc("capture", a.recorder.IsRunning, errors.New("capture is not running")),
	}
	if a.meeting != nil && a.cfg.Meeting.URL != "" {
		checks = append(checks, health.CheckFunc("meeting", a.meeting.InMeeting, meeting.ErrNotInMeeting))
	}
	if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		checks = append(checks, health.Checker{Name: "transcript", Check: p.Ping})
	}
	a.health = health.New(checks...)
	a.health.SetStatus(func(ctx context.Context) any { return a.Status(ctx) })

	mux := http.NewServeMux()
	a.health.Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	a.handler = observe.Middleware(a.metrics)(mux)
}

// Run joins the meeting and blocks until ctx is cancelled or a subsystem
// fails. It runs the conversation loop, the HTTP listener, the microphone
// keep-alive, the periodic status report and the config watcher.
func (a *App) Run(ctx context.Context) error {
	if err := a.join(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.converse(ctx) })
	if a.cfg.Server.ListenAddr != "" {
		g.Go(func() error { return a.serve(ctx) })
	}
	if a.meeting != nil && config.Enabled(a.cfg.Meeting.KeepMicOn) && a.cfg.Meeting.MicCheckInterval > 0 {
		g.Go(func() error { a.keepMicOn(ctx); return nil })
	}
	if a.cfg.Meeting.StatusInterval > 0 {
		g.Go(func() error { a.reportStatus(ctx); return nil })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}
	return g.Wait()
}

// joinDelay is waited after joining before the microphone is switched on,
// so the meeting client has finished rendering its controls.
const joinDelay = 3 * time.Second

func (a *App) join(ctx context.Context) error {
	url := a.cfg.Meeting.URL
	if a.meeting == nil || url == "" {
		slog.Info("no meeting to join, listening on local devices")
		return nil
	}
	if err := a.meeting.Join(ctx, url, a.cfg.Agent.Name); err != nil {
		return fmt.Errorf("app: join meeting: %w", err)
	}
	slog.Info("joined meeting", "url", url, "name", a.cfg.Agent.Name)

	if err := sleepCtx(ctx, a.joinWait); err != nil {
		return nil
	}
	if err := a.meeting.ToggleMicrophone(ctx, true); err != nil {
		slog.Warn("enable microphone", "err", err)
	}
	if err := a.meeting.ToggleCamera(ctx, false); err != nil {
		slog.Warn("disable camera", "err", err)
	}
	return nil
}

// meetingContext is the conversation context for a new session.
func (a *App) meetingContext(ctx context.Context) conversation.Context {
	a.liveMu.RLock()
	name, title := a.live.agentName, a.live.title
	participants := slices.Clone(a.live.participants)
	a.liveMu.RUnlock()

	if title == "" {
		title = DefaultMeetingTitle
	}
	if len(participants) == 0 && a.meeting != nil && a.meeting.InMeeting() {
		if ps, err := a.meeting.Participants(ctx); err == nil {
			participants = ps
		} else {
			slog.Debug("participants unavailable", "err", err)
		}
	}
	if len(participants) == 0 {
		participants = []string{"Meeting participants"}
	}
	if !slices.Contains(participants, name) {
		participants = append(participants, name)
	}
	return conversation.Context{
		MeetingTitle: title,
		Participants: participants,
		AgentName:    name,
	}
}

// agentName is the current agent name, including hot reloads.
func (a *App) agentName() string {
	a.liveMu.RLock()
	defer a.liveMu.RUnlock()
	return a.live.agentName
}

// Greeting is the announcement spoken and posted after joining.
func Greeting(agentName string) string {
	return fmt.Sprintf("Hello everyone! %s has joined the meeting and is ready to assist.", agentName)
}

// converse runs the conversation loop. An expired session is restarted as
// long as the meeting is still joined.
func (a *App) converse(ctx context.Context) error {
	a.orch.StartConversation(ctx, a.meetingContext(ctx))
	if config.Enabled(a.cfg.Agent.Announce) {
		a.announce(ctx)
	}
	for {
		err := a.orch.Run(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, orchestrator.ErrSessionExpired):
			if a.meeting != nil && a.cfg.Meeting.URL != "" && !a.meeting.InMeeting() {
				slog.Info("session expired after leaving the meeting")
				return nil
			}
			slog.Info("session expired, starting a new one")
			a.orch.StartConversation(ctx, a.meetingContext(ctx))
		default:
			return fmt.Errorf("app: conversation: %w", err)
		}
	}
}

func (a *App) announce(ctx context.Context) {
	text := Greeting(a.agentName())
	if a.meeting != nil && a.meeting.InMeeting() {
		if err := a.meeting.SendChat(ctx, text); err != nil {
			slog.Warn("announce in chat", "err", err)
		}
	}
	outcome := a.orch.Announce(ctx, text)
	slog.Info("presence announced", "outcome", outcome)
}

func (a *App) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	slog.Info("http listener started", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: http listener: %w", err)
	}
	return nil
}

// keepMicOn re-enables the microphone whenever it is off or its state
// cannot be read.
func (a *App) keepMicOn(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Meeting.MicCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.checkMic(ctx)
		}
	}
}

func (a *App) checkMic(ctx context.Context) {
	if !a.meeting.InMeeting() {
		return
	}
	enabled, known := a.meeting.MicrophoneEnabled(ctx)
	if known && enabled {
		return
	}
	slog.Info("microphone is off, re-enabling", "known", known)
	if err := a.meeting.ToggleMicrophone(ctx, true); err != nil {
		slog.Warn("re-enable microphone", "err", err)
	}
}

func (a *App) reportStatus(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Meeting.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := a.Status(ctx)
			attrs := []any{
				"conversation_active", s.Orchestrator.Conversation.Active,
				"turns", s.Orchestrator.Turns,
				"capturing", s.Orchestrator.Capturing,
			}
			if s.Meeting != nil {
				attrs = append(attrs, "in_meeting", s.Meeting.InMeeting)
			}
			slog.Info("status", attrs...)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Handler serves the health, status and metrics endpoints.
func (a *App) Handler() http.Handler { return a.handler }

// Orchestrator returns the conversation orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Status is the /status document.
type Status struct {
	Meeting      *meeting.Info       `json:"meeting,omitempty"`
	Orchestrator orchestrator.Status `json:"orchestrator"`
}

// Status returns the current application snapshot.
func (a *App) Status(ctx context.Context) Status {
	s := Status{Orchestrator: a.orch.Status()}
	if a.meeting != nil {
		info := a.meeting.Info(ctx)
		s.Meeting = &info
	}
	return s
}

// Shutdown tears down all subsystems. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.recorder.Stop()
		if a.meeting != nil {
			if err := a.meeting.Close(); err != nil {
				slog.Warn("meeting close error", "err", err)
			}
		}
		a.orch.StopConversation(ctx)
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}

// applyConfig is the watcher callback. It runs on the watcher goroutine.
func (a *App) applyConfig(_, cfg *config.Config, d config.ConfigDiff) {
	a.liveMu.Lock()
	a.live = liveSettings{
		agentName:    cfg.Agent.Name,
		title:        cfg.Meeting.Title,
		participants: slices.Clone(cfg.Meeting.Participants),
	}
	a.liveMu.Unlock()

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.AgentNameChanged {
		a.orch.SetAgentName(d.NewAgentName)
		slog.Info("agent renamed", "name", d.NewAgentName)
	}
	if d.ContextChanged {
		a.orch.UpdateContext(d.NewTitle, d.NewParticipants)
		slog.Info("meeting context updated", "title", d.NewTitle, "participants", len(d.NewParticipants))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

