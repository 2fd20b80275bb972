// Package mock provides an in-memory meeting.Controller for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/meetagent/internal/meeting"
)

// Controller is a mock implementation of meeting.Controller and
// meeting.AudioInjector. The zero value is ready to use.
type Controller struct {
	mu sync.Mutex

	// JoinErr, ToggleErr and ChatErr are returned by the matching calls.
	JoinErr   error
	ToggleErr error
	ChatErr   error

	// MicKnown and CamKnown control whether state queries report a value.
	MicKnown bool
	CamKnown bool

	// ParticipantList is returned by Participants.
	ParticipantList []string

	// InjectOK is returned by InjectAudioFile.
	InjectOK bool

	url       string
	name      string
	joinedAt  time.Time
	joined    bool
	mic       bool
	cam       bool
	closed    bool
	chats     []string
	injected  []string
	micToggle []bool
}

var (
	_ meeting.Controller    = (*Controller)(nil)
	_ meeting.AudioInjector = (*Controller)(nil)
)

// Join implements meeting.Controller.
func (c *Controller) Join(_ context.Context, url, displayName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.JoinErr != nil {
		return c.JoinErr
	}
	c.url, c.name, c.joined, c.joinedAt = url, displayName, true, time.Now()
	return nil
}

// Leave implements meeting.Controller.
func (c *Controller) Leave(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = false
	return nil
}

// ToggleMicrophone implements meeting.Controller.
func (c *Controller) ToggleMicrophone(_ context.Context, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined {
		return meeting.ErrNotInMeeting
	}
	if c.ToggleErr != nil {
		return c.ToggleErr
	}
	c.mic = enabled
	c.micToggle = append(c.micToggle, enabled)
	return nil
}

// ToggleCamera implements meeting.Controller.
func (c *Controller) ToggleCamera(_ context.Context, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined {
		return meeting.ErrNotInMeeting
	}
	if c.ToggleErr != nil {
		return c.ToggleErr
	}
	c.cam = enabled
	return nil
}

// MicrophoneEnabled implements meeting.Controller.
func (c *Controller) MicrophoneEnabled(context.Context) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mic, c.MicKnown
}

// CameraEnabled implements meeting.Controller.
func (c *Controller) CameraEnabled(context.Context) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cam, c.CamKnown
}

// SetMicrophone changes the microphone state as if a participant muted
// the agent.
func (c *Controller) SetMicrophone(enabled bool) {
	c.mu.Lock()
	c.mic = enabled
	c.mu.Unlock()
}

// InMeeting implements meeting.Controller.
func (c *Controller) InMeeting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

// Info implements meeting.Controller.
func (c *Controller) Info(context.Context) meeting.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return meeting.Info{
		URL:         c.url,
		Platform:    "mock",
		InMeeting:   c.joined,
		JoinedAt:    c.joinedAt,
		DisplayName: c.name,
		Microphone:  meeting.State(c.mic, c.MicKnown),
		Camera:      meeting.State(c.cam, c.CamKnown),
	}
}

// Participants implements meeting.Controller.
func (c *Controller) Participants(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined {
		return nil, meeting.ErrNotInMeeting
	}
	return append([]string(nil), c.ParticipantList...), nil
}

// SendChat implements meeting.Controller.
func (c *Controller) SendChat(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined {
		return meeting.ErrNotInMeeting
	}
	if c.ChatErr != nil {
		return c.ChatErr
	}
	c.chats = append(c.chats, text)
	return nil
}

// InjectAudioFile implements meeting.AudioInjector.
func (c *Controller) InjectAudioFile(_ context.Context, path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.injected = append(c.injected, path)
	return c.InjectOK
}

// Close implements meeting.Controller.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = false
	c.closed = true
	return nil
}

// Chats returns every sent chat message.
func (c *Controller) Chats() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.chats...)
}

// MicToggles returns every successful ToggleMicrophone argument in order.
func (c *Controller) MicToggles() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.micToggle...)
}

// Injected returns every path passed to InjectAudioFile.
func (c *Controller) Injected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.injected...)
}

// Closed reports whether Close was called.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
