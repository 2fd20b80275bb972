package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	AgentNameChanged bool
	NewAgentName     string

	// ContextChanged is set when the meeting title or participant list
	// differ.
	ContextChanged  bool
	NewTitle        string
	NewParticipants []string

	// RestartRequired lists top-level sections with changes that only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.AgentNameChanged && !d.ContextChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Agent.Name != new.Agent.Name {
		d.AgentNameChanged = true
		d.NewAgentName = new.Agent.Name
	}
	if old.Meeting.Title != new.Meeting.Title || !slices.Equal(old.Meeting.Participants, new.Meeting.Participants) {
		d.ContextChanged = true
		d.NewTitle = new.Meeting.Title
		d.NewParticipants = slices.Clone(new.Meeting.Participants)
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !vadEqual(old.VAD, new.VAD) {
		d.RestartRequired = append(d.RestartRequired, "vad")
	}
	if old.Meeting.URL != new.Meeting.URL || old.Meeting.Controller != new.Meeting.Controller ||
		old.Meeting.DevToolsURL != new.Meeting.DevToolsURL {
		d.RestartRequired = append(d.RestartRequired, "meeting")
	}
	if old.Transcript != new.Transcript {
		d.RestartRequired = append(d.RestartRequired, "transcript")
	}
	return d
}

func vadEqual(a, b VADConfig) bool {
	return a.Name == b.Name && a.FrameMs == b.FrameMs &&
		a.SpeechThreshold == b.SpeechThreshold && a.SilenceThreshold == b.SilenceThreshold &&
		intValue(a.Aggressiveness) == intValue(b.Aggressiveness)
}

func intValue(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.STT, b.STT) && entryEqual(a.LLM, b.LLM) &&
		entryEqual(a.TTS, b.TTS) && entryEqual(a.Embeddings, b.Embeddings)
}

// entryEqual ignores Options, which may hold values that are not comparable.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	return slices.EqualFunc(a.Fallbacks, b.Fallbacks, entryEqual)
}
