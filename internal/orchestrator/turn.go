package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/meetagent/internal/conversation"
	"github.com/MrWong99/meetagent/internal/observe"
	"github.com/MrWong99/meetagent/internal/respond"
	"github.com/MrWong99/meetagent/internal/synth"
	"github.com/MrWong99/meetagent/internal/transcribe"
	"github.com/MrWong99/meetagent/pkg/audio"
)

// Turn outcomes.
const (
	OutcomeReplied       = "replied"
	OutcomeNoSpeech      = "no_speech"
	OutcomeGated         = "gated"
	OutcomeNoReply       = "no_reply"
	OutcomeSynthFailed   = "synth_failed"
	OutcomePlaybackError = "playback_failed"
	OutcomeCancelled     = "cancelled"
)

// Turn describes one processed utterance.
type Turn struct {
	Seq        uint64
	Transcript string
	Reply      string
	Outcome    string
	Duration   time.Duration
}

// SilenceFloor is the RMS below which a buffer is not sent for transcription.
const SilenceFloor = 1e-4

// ProcessAudio transcribes buf and, when the gate lets it through, replies
// aloud.
func (o *Orchestrator) ProcessAudio(ctx context.Context, buf audio.Buffer) Turn {
	return o.turn(ctx, func(ctx context.Context) string {
		if buf.Empty() || audio.RMS(buf.Samples) < SilenceFloor {
			return ""
		}
		o.saveRecording(ctx, buf)
		hint := transcribe.TrimHint(o.session.RecentText(o.cfg.HintMessages), transcribe.DefaultHintWords)
		return o.deps.Transcriber.Transcribe(ctx, buf, hint)
	})
}

// ProcessText runs a turn for an already transcribed utterance.
func (o *Orchestrator) ProcessText(ctx context.Context, text string) Turn {
	return o.turn(ctx, func(context.Context) string { return text })
}

// Announce speaks text without a preceding utterance, inside the same
// feedback guard as a reply. It returns the playback outcome.
func (o *Orchestrator) Announce(ctx context.Context, text string) string {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()

	o.session.Append(conversation.RoleAssistant, text, map[string]string{"kind": "announcement"})
	outcome := o.speak(ctx, text)
	observe.Logger(ctx).Info("announcement finished", "outcome", outcome)
	return outcome
}

func (o *Orchestrator) turn(ctx context.Context, text func(context.Context) string) Turn {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()

	t := Turn{Seq: o.seq.Add(1)}
	ctx, span := observe.StartTurn(ctx, o.session.ID(), int(t.Seq))
	start := o.now()
	defer func() {
		t.Duration = o.now().Sub(start)
		span.SetAttributes(attribute.String("turn.outcome", t.Outcome))
		span.End()
		o.metrics.RecordTurn(ctx, t.Outcome)
		o.metrics.TurnDuration.Record(ctx, t.Duration.Seconds())
		o.mu.Lock()
		o.outcomes[t.Outcome]++
		o.mu.Unlock()
		observe.Logger(ctx).Info("turn finished",
			"seq", t.Seq, "outcome", t.Outcome, "duration", t.Duration, "chars", len(t.Reply))
	}()

	t.Transcript = text(ctx)
	if t.Transcript == "" {
		t.Outcome = OutcomeNoSpeech
		return t
	}
	t.Outcome = o.reply(ctx, &t)
	return t
}

func (o *Orchestrator) reply(ctx context.Context, t *Turn) string {
	log := observe.Logger(ctx)
	log.Info("heard", "text", t.Transcript)

	user := o.session.Append(conversation.RoleUser, t.Transcript, nil)
	o.remember(ctx, user)

	if !o.deps.Responder.ShouldRespond(t.Transcript) {
		return OutcomeGated
	}
	if d := o.cfg.ResponseDelay; d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return OutcomeCancelled
		case <-timer.C:
		}
	}

	reply := o.deps.Responder.Generate(ctx, t.Transcript, respond.Prompt{
		Meeting:  o.session.Context(),
		Recalled: o.recall(ctx, t.Transcript, user.ID),
	})
	text := reply.Text
	if reply.Failed && o.cfg.ApologizeOnError {
		text = respond.Apology
	}
	if text == "" {
		return OutcomeNoReply
	}
	t.Reply = text

	assistant := o.session.Append(conversation.RoleAssistant, text, nil)
	o.remember(ctx, assistant)
	o.session.AddTopics(t.Transcript, text)

	log.Info("replying", "text", text)
	return o.speak(ctx, text)
}

// speak renders and plays text inside the pause/resume bracket. Resume runs
// on every exit path before the rendered files are removed.
func (o *Orchestrator) speak(ctx context.Context, text string) string {
	until := o.now().Add(max(o.cfg.GuardDuration, o.deps.Synth.Estimate(text)+o.cfg.GuardMargin))

	var speech synth.Speech
	outcome := func() string {
		settled := false
		o.pause(ctx, until)
		defer func() { o.resume(ctx, settled) }()

		var outcome string
		speech, outcome, settled = o.synthesizeAndPlay(ctx, text)
		return outcome
	}()
	speech.Remove()
	return outcome
}

// synthesizeAndPlay reports settled when no agent audio can still be
// playing: nothing was played, or the injector confirmed completion.
func (o *Orchestrator) synthesizeAndPlay(ctx context.Context, text string) (synth.Speech, string, bool) {
	log := observe.Logger(ctx)
	speech, ok := o.deps.Synth.Synthesize(ctx, text)
	if !ok {
		log.Warn("speech synthesis failed")
		return speech, OutcomeSynthFailed, true
	}
	if speech.Dropped > 0 {
		log.Warn("reply truncated", "dropped_chunks", speech.Dropped)
	}

	started := o.now()
	for i, f := range speech.Files {
		if !o.deps.Injector.InjectAudioFile(ctx, f) {
			log.Warn("audio injection failed", "chunk", i, "file", filepath.Base(f))
			return speech, OutcomePlaybackError, i == 0
		}
	}
	settled := false
	if w, ok := o.deps.Injector.(completionWaiter); ok {
		settled = w.WaitUntilDone(speech.Estimate + o.cfg.GuardMargin)
	}
	o.metrics.PlaybackDuration.Record(ctx, o.now().Sub(started).Seconds())
	return speech, OutcomeReplied, settled
}

func (o *Orchestrator) pause(ctx context.Context, until time.Time) {
	o.guard.Extend(until)
	n := o.deps.Capture.Clear()
	o.metrics.RecordGuardDiscards(ctx, n)
	observe.Logger(ctx).Debug("capture paused", "guard_until", o.guard.Until(), "discarded", n)
}

func (o *Orchestrator) resume(ctx context.Context, settled bool) {
	n := o.deps.Capture.Clear()
	o.metrics.RecordGuardDiscards(ctx, n)
	if settled {
		o.guard.Set(o.now().Add(o.cfg.GuardMargin))
	}
	observe.Logger(ctx).Debug("capture resumed", "guard_until", o.guard.Until(), "discarded", n, "settled", settled)
}

func (o *Orchestrator) remember(ctx context.Context, m conversation.Message) {
	if o.deps.Transcript == nil {
		return
	}
	if err := o.deps.Transcript.Append(ctx, o.session.ID(), m); err != nil {
		observe.Logger(ctx).Warn("transcript append failed", "err", err)
	}
}

func (o *Orchestrator) recall(ctx context.Context, query, skipID string) []string {
	if o.deps.Transcript == nil || o.cfg.RecallLimit < 0 {
		return nil
	}
	msgs, err := o.deps.Transcript.Recall(ctx, o.session.ID(), query, o.cfg.RecallLimit+1)
	if err != nil {
		observe.Logger(ctx).Warn("transcript recall failed", "err", err)
		return nil
	}
	var out []string
	for _, m := range msgs {
		if m.ID == skipID || m.Role == conversation.RoleSystem {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s", m.Role, m.Content))
		if len(out) == o.cfg.RecallLimit {
			break
		}
	}
	return out
}

// saveRecording writes an amplified copy of buf when recordings are enabled.
func (o *Orchestrator) saveRecording(ctx context.Context, buf audio.Buffer) {
	if o.cfg.RecordingsDir == "" {
		return
	}
	log := observe.Logger(ctx)
	if err := os.MkdirAll(o.cfg.RecordingsDir, 0o755); err != nil {
		log.Warn("recordings dir", "err", err)
		return
	}
	amp, gain := audio.Amplify(buf, o.cfg.TargetRMS)
	path := filepath.Join(o.cfg.RecordingsDir, fmt.Sprintf("captured_%d.wav", o.now().UnixMilli()))
	if err := audio.WriteWAV(path, amp); err != nil {
		log.Warn("recording write", "err", err)
		return
	}
	log.Debug("utterance recorded", "path", path, "gain", gain, "duration", buf.Duration())
}
