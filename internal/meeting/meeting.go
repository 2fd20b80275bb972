// Package meeting defines the Meeting Controller: the capability set the
// agent needs from a video-meeting client.
//
// Controllers are variants behind [Controller]; [cdp] drives a Chrome tab
// through the DevTools protocol. Controllers that can play a file into the
// meeting's audio additionally implement [AudioInjector].
package meeting

import (
	"context"
	"errors"
	"time"
)

// ErrNotInMeeting is returned by operations that need a joined meeting.
var ErrNotInMeeting = errors.New("meeting: not in a meeting")

// Info describes the current meeting as seen by the controller.
type Info struct {
	URL         string    `json:"url"`
	Platform    string    `json:"platform"`
	InMeeting   bool      `json:"in_meeting"`
	JoinedAt    time.Time `json:"joined_at,omitzero"`
	DisplayName string    `json:"display_name,omitempty"`

	// Microphone and Camera are nil when the state could not be determined.
	Microphone *bool `json:"microphone_enabled"`
	Camera     *bool `json:"camera_enabled"`
}

// Controller is implemented by every meeting client.
type Controller interface {
	// Join navigates to url and joins the call, using displayName when the
	// client asks for one.
	Join(ctx context.Context, url, displayName string) error

	// Leave exits the call. Leaving while not in a meeting is a no-op.
	Leave(ctx context.Context) error

	ToggleMicrophone(ctx context.Context, enabled bool) error
	ToggleCamera(ctx context.Context, enabled bool) error

	// MicrophoneEnabled reports the microphone state. known is false when
	// the client could not tell.
	MicrophoneEnabled(ctx context.Context) (enabled, known bool)
	CameraEnabled(ctx context.Context) (enabled, known bool)

	InMeeting() bool
	Info(ctx context.Context) Info
	Participants(ctx context.Context) ([]string, error)
	SendChat(ctx context.Context, text string) error

	// Close leaves any meeting and releases the client.
	Close() error
}

// AudioInjector is implemented by controllers that can play a file into
// the meeting's outgoing audio. InjectAudioFile blocks until playback ends.
type AudioInjector interface {
	InjectAudioFile(ctx context.Context, path string) bool
}

// Bool returns a pointer to v, for Info fields.
func Bool(v bool) *bool { return &v }

// State converts an (enabled, known) pair into an Info field.
func State(enabled, known bool) *bool {
	if !known {
		return nil
	}
	return Bool(enabled)
}
