// Package orchestrator runs the listen, transcribe, reply and speak loop of
// the meeting agent.
//
// Every spoken reply is bracketed: capture is paused (its queue flushed and
// the feedback-guard window opened) before synthesis starts, and resumed
// after playback ends on every exit path. Speech that ends inside the guard
// window is never transcribed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/meetagent/internal/conversation"
	"github.com/MrWong99/meetagent/internal/observe"
	"github.com/MrWong99/meetagent/internal/respond"
	"github.com/MrWong99/meetagent/internal/synth"
	"github.com/MrWong99/meetagent/internal/transcribe"
	"github.com/MrWong99/meetagent/pkg/audio"
	"github.com/MrWong99/meetagent/pkg/provider/vad"
)

var (
	// ErrCaptureUnavailable is returned by Run when capture cannot start.
	ErrCaptureUnavailable = errors.New("orchestrator: capture unavailable")

	// ErrSessionExpired is returned by Run when the session timed out.
	ErrSessionExpired = errors.New("orchestrator: session expired")
)

// Defaults for zero Config fields.
const (
	DefaultGuardDuration  = 5 * time.Second
	DefaultGuardMargin    = time.Second
	DefaultTrailingBuffer = 5 * time.Second
	DefaultChunkTimeout   = 500 * time.Millisecond
	DefaultHintMessages   = 5
	DefaultTargetRMS      = 0.1
	DefaultRecallLimit    = 3
)

// Capture is the microphone side. *capture.Recorder satisfies it.
type Capture interface {
	Start() bool
	Stop()
	IsRunning() bool
	NextChunk(ctx context.Context, timeout time.Duration) (audio.Buffer, bool)
	Buffer(ctx context.Context, d time.Duration) (audio.Buffer, bool)
	Clear() int
	SampleRate() int
}

// SpeechDetector turns capture chunks into speech transitions.
// *vad.Detector satisfies it.
type SpeechDetector interface {
	Update(chunk []float32) vad.Transition
	Reset()
}

// Injector plays a rendered file into the meeting's audio.
// *playback.Player satisfies it.
type Injector interface {
	InjectAudioFile(ctx context.Context, path string) bool
}

// completionWaiter is implemented by injectors that can confirm playback
// has finished.
type completionWaiter interface {
	WaitUntilDone(timeout time.Duration) bool
}

// TranscriptStore persists session messages and recalls related ones.
type TranscriptStore interface {
	Append(ctx context.Context, sessionID string, m conversation.Message) error
	Recall(ctx context.Context, sessionID, query string, k int) ([]conversation.Message, error)
}

// Deps are the components an Orchestrator drives. Transcript and Metrics
// are optional.
type Deps struct {
	Capture     Capture
	VAD         SpeechDetector
	Transcriber *transcribe.Transcriber
	Responder   *respond.Generator
	Synth       *synth.Synthesizer
	Injector    Injector
	Transcript  TranscriptStore
	Metrics     *observe.Metrics
}

func (d Deps) validate() error {
	var errs []error
	if d.Capture == nil {
		errs = append(errs, errors.New("capture is required"))
	}
	if d.VAD == nil {
		errs = append(errs, errors.New("vad is required"))
	}
	if d.Transcriber == nil {
		errs = append(errs, errors.New("transcriber is required"))
	}
	if d.Responder == nil {
		errs = append(errs, errors.New("responder is required"))
	}
	if d.Synth == nil {
		errs = append(errs, errors.New("synthesizer is required"))
	}
	if d.Injector == nil {
		errs = append(errs, errors.New("injector is required"))
	}
	return errors.Join(errs...)
}

// Config tunes an Orchestrator.
type Config struct {
	AgentName string

	// SessionTimeout ends an idle session. Zero uses the conversation default.
	SessionTimeout time.Duration
	HistoryCap     int

	// ResponseDelay is waited between the gate and generation.
	ResponseDelay time.Duration

	// GuardDuration is the minimum feedback-guard window per reply.
	GuardDuration time.Duration
	// GuardMargin is added to the estimated speech duration, and kept after
	// confirmed playback.
	GuardMargin time.Duration

	// TrailingBuffer is how much recent audio is transcribed on speech end.
	TrailingBuffer time.Duration
	ChunkTimeout   time.Duration

	// HintMessages is how many recent messages feed the transcription hint.
	HintMessages int

	// ApologizeOnError speaks respond.Apology when generation fails.
	ApologizeOnError bool

	// RecordingsDir, when set, receives a WAV of every captured utterance.
	RecordingsDir string
	TargetRMS     float64

	// RecallLimit bounds transcript recall per turn. Negative disables it.
	RecallLimit int
}

func (c *Config) setDefaults() {
	if c.GuardDuration <= 0 {
		c.GuardDuration = DefaultGuardDuration
	}
	if c.GuardMargin <= 0 {
		c.GuardMargin = DefaultGuardMargin
	}
	if c.TrailingBuffer <= 0 {
		c.TrailingBuffer = DefaultTrailingBuffer
	}
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = DefaultChunkTimeout
	}
	if c.HintMessages <= 0 {
		c.HintMessages = DefaultHintMessages
	}
	if c.TargetRMS <= 0 {
		c.TargetRMS = DefaultTargetRMS
	}
	if c.RecallLimit == 0 {
		c.RecallLimit = DefaultRecallLimit
	}
}

// Orchestrator owns a conversation session and the components that serve it.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	metrics *observe.Metrics
	session *conversation.Session
	guard   *Guard
	now     func() time.Time

	// turnMu serializes turns from the loop and from ProcessText callers.
	turnMu sync.Mutex

	seq      atomic.Uint64
	resetVAD atomic.Bool

	mu       sync.Mutex
	counted  bool
	outcomes map[string]int
}

// New validates deps and returns an Orchestrator with no active session.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	cfg.setDefaults()
	if cfg.AgentName == "" {
		cfg.AgentName = deps.Responder.AgentName()
	}
	m := deps.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		metrics: m,
		session: conversation.NewSession(conversation.Config{
			HistoryCap: cfg.HistoryCap,
			Timeout:    cfg.SessionTimeout,
			AgentName:  cfg.AgentName,
		}),
		guard:    NewGuard(),
		now:      time.Now,
		outcomes: make(map[string]int),
	}, nil
}

// Guard returns the feedback-guard window.
func (o *Orchestrator) Guard() *Guard { return o.guard }

// StartConversation begins a new session and clears the reply history.
// The detector is reset by the loop before its next chunk.
func (o *Orchestrator) StartConversation(ctx context.Context, meeting conversation.Context) string {
	id := o.session.Start(meeting)
	o.deps.Responder.ClearHistory()
	if meeting.AgentName != "" {
		o.deps.Responder.SetAgentName(meeting.AgentName)
	}
	o.resetVAD.Store(true)
	o.guard.Close()

	o.mu.Lock()
	if !o.counted {
		o.counted = true
		o.metrics.ActiveSessions.Add(ctx, 1)
	}
	o.mu.Unlock()

	observe.Logger(ctx).Info("conversation started", "session_id", id, "meeting", meeting.MeetingTitle)
	return id
}

// StopConversation ends the session. It reports whether one was active.
func (o *Orchestrator) StopConversation(ctx context.Context) bool {
	stopped := o.session.Stop()
	o.settleGauge(ctx)
	if stopped {
		observe.Logger(ctx).Info("conversation stopped", "session_id", o.session.ID())
	}
	return stopped
}

// IsActive reports whether the session is active. An expired session is
// stopped as a side effect.
func (o *Orchestrator) IsActive() bool {
	if o.session.IsActive() {
		return true
	}
	o.settleGauge(context.Background())
	return false
}

func (o *Orchestrator) settleGauge(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counted {
		o.counted = false
		o.metrics.ActiveSessions.Add(ctx, -1)
	}
}

// UpdateContext replaces meeting title and participants.
func (o *Orchestrator) UpdateContext(title string, participants []string) {
	o.session.UpdateContext(title, participants)
}

// SetAgentName renames the agent for the gate and the prompt.
func (o *Orchestrator) SetAgentName(name string) {
	o.session.SetAgentName(name)
	o.deps.Responder.SetAgentName(name)
}

// Session exposes the conversation session.
func (o *Orchestrator) Session() *conversation.Session { return o.session }

// Status is the snapshot served on /status.
type Status struct {
	Conversation conversation.Summary   `json:"conversation"`
	Responder    respond.HistorySummary `json:"responder"`
	Turns        uint64                 `json:"turns"`
	Outcomes     map[string]int         `json:"outcomes"`
	GuardActive  bool                   `json:"guard_active"`
	GuardUntil   time.Time              `json:"guard_until,omitzero"`
	Capturing    bool                   `json:"capturing"`
}

// Status returns the current snapshot.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	outcomes := make(map[string]int, len(o.outcomes))
	for k, v := range o.outcomes {
		outcomes[k] = v
	}
	o.mu.Unlock()
	return Status{
		Conversation: o.session.Summary(),
		Responder:    o.deps.Responder.Summary(),
		Turns:        o.seq.Load(),
		Outcomes:     outcomes,
		GuardActive:  o.guard.Active(),
		GuardUntil:   o.guard.Until(),
		Capturing:    o.deps.Capture.IsRunning(),
	}
}

// Run drives the loop until ctx is done or the session expires. It starts
// a session when none is active and stops capture and the session once on
// every exit path.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	if !o.deps.Capture.Start() {
		return ErrCaptureUnavailable
	}
	var once sync.Once
	defer once.Do(func() {
		o.deps.Capture.Stop()
		o.StopConversation(context.WithoutCancel(ctx))
	})

	if !o.IsActive() {
		o.StartConversation(ctx, o.session.Context())
	}

	win := newWindow(int(o.cfg.TrailingBuffer.Seconds() * float64(o.deps.Capture.SampleRate())))
	log := observe.Logger(ctx)
	log.Info("listening", "trailing_buffer", o.cfg.TrailingBuffer, "guard", o.cfg.GuardDuration)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if !o.IsActive() {
			log.Info("conversation timed out", "session_id", o.session.ID())
			return ErrSessionExpired
		}
		if o.resetVAD.Swap(false) {
			o.deps.VAD.Reset()
			win.reset()
		}

		chunk, ok := o.deps.Capture.NextChunk(ctx, o.cfg.ChunkTimeout)
		if !ok {
			continue
		}
		guarded := o.guard.Active()
		if guarded {
			o.metrics.RecordGuardDiscards(ctx, 1)
		} else {
			win.push(chunk)
		}

		tr := o.deps.VAD.Update(chunk.Samples)
		if tr.Started {
			log.Debug("speech started")
		}
		if !tr.Ended {
			continue
		}
		o.metrics.RecordSpeechSegment(ctx)
		if guarded || o.guard.Active() {
			log.Debug("speech ended inside guard window, ignored", "guard_until", o.guard.Until())
			win.reset()
			continue
		}
		buf, ok := win.snapshot()
		win.reset()
		if !ok {
			continue
		}
		o.ProcessAudio(ctx, buf)
	}
}

// ComponentStatus is one row of a TestComponents report.
type ComponentStatus struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// TestComponents probes every component once.
func (o *Orchestrator) TestComponents(ctx context.Context) []ComponentStatus {
	probe := func(name string, err error) ComponentStatus {
		s := ComponentStatus{Name: name, OK: err == nil}
		if err != nil {
			s.Error = err.Error()
		}
		return s
	}
	report := []ComponentStatus{
		probe("stt", o.deps.Transcriber.TestConnection(ctx)),
		probe("llm", o.deps.Responder.Ping(ctx)),
		probe("tts", o.deps.Synth.Ping(ctx)),
		probe("capture", o.probeCapture(ctx)),
	}
	for _, s := range report {
		level := slog.LevelInfo
		if !s.OK {
			level = slog.LevelWarn
		}
		observe.Logger(ctx).Log(ctx, level, "component check", "component", s.Name, "ok", s.OK, "err", s.Error)
	}
	return report
}

func (o *Orchestrator) probeCapture(ctx context.Context) error {
	c := o.deps.Capture
	started := false
	if !c.IsRunning() {
		if !c.Start() {
			return errors.New("capture: cannot start")
		}
		started = true
	}
	if started {
		defer c.Stop()
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, ok := c.Buffer(ctx, time.Second); !ok {
		return errors.New("capture: no audio")
	}
	return nil
}
