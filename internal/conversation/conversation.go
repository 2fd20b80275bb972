// Package conversation holds the state of one meeting conversation: the
// ordered message history, the meeting context the reply prompt is built
// from, and the inactivity timeout that ends a session.
package conversation

import (
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem marks session boundaries. System messages never reach the
	// reply prompt.
	RoleSystem Role = "system"
)

// MaxTopics caps Context.Topics; older keywords are dropped first.
const MaxTopics = 10

// Defaults applied by NewSession for zero Config fields.
const (
	DefaultHistoryCap = 50
	DefaultTimeout    = 300 * time.Second
)

// Message is one history entry.
type Message struct {
	ID        string            `json:"id"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Context is the meeting state used to build the reply prompt.
type Context struct {
	MeetingTitle string        `json:"meeting_title,omitempty"`
	Participants []string      `json:"participants,omitempty"`
	AgentName    string        `json:"agent_name"`
	Topics       []string      `json:"topics,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
}

func (c Context) clone() Context {
	c.Participants = slices.Clone(c.Participants)
	c.Topics = slices.Clone(c.Topics)
	return c
}

// Config sizes a Session.
type Config struct {
	// HistoryCap is the maximum number of messages kept. System messages are
	// only dropped once no other message is left to evict.
	HistoryCap int

	// Timeout is the inactivity window after which the session expires.
	Timeout time.Duration

	// AgentName seeds Context.AgentName.
	AgentName string
}

// Summary is a point-in-time view of a session.
type Summary struct {
	SessionID         string        `json:"session_id,omitempty"`
	Active            bool          `json:"active"`
	StartedAt         time.Time     `json:"started_at,omitzero"`
	Duration          time.Duration `json:"duration"`
	MessageCount      int           `json:"message_count"`
	UserMessages      int           `json:"user_messages"`
	AssistantMessages int           `json:"assistant_messages"`
	Context           Context       `json:"context"`
}

// Session is the lifecycle wrapper around one conversation. It is safe for
// concurrent use; the orchestrator loop is its only writer in practice but
// status readers run on other goroutines.
type Session struct {
	cap     int
	timeout time.Duration
	now     func() time.Time

	mu           sync.Mutex
	id           string
	active       bool
	startedAt    time.Time
	lastActivity time.Time
	history      []Message
	meeting      Context
}

// NewSession returns an idle session.
func NewSession(cfg Config) *Session {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Session{
		cap:     cfg.HistoryCap,
		timeout: cfg.Timeout,
		now:     time.Now,
		meeting: Context{AgentName: cfg.AgentName},
	}
}

// Start begins a new session and returns its ID. Starting an active
// session discards its history and starts over. The agent name survives;
// title and participants are replaced by meeting.
func (s *Session) Start(meeting Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	agent := s.meeting.AgentName
	if meeting.AgentName != "" {
		agent = meeting.AgentName
	}
	s.id = uuid.NewString()
	s.active = true
	s.startedAt = now
	s.lastActivity = now
	s.history = s.history[:0]
	s.meeting = Context{
		MeetingTitle: meeting.MeetingTitle,
		Participants: slices.Clone(meeting.Participants),
		AgentName:    agent,
	}
	s.appendLocked(RoleSystem, "Conversation started", nil)
	return s.id
}

// Stop ends the session. It reports whether the session was active;
// stopping an idle session does nothing.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked("Conversation ended")
}

func (s *Session) stopLocked(reason string) bool {
	if !s.active {
		return false
	}
	s.appendLocked(RoleSystem, reason, nil)
	s.meeting.Duration = s.now().Sub(s.startedAt)
	s.active = false
	return true
}

// IsActive reports whether the session is running. A session idle for
// longer than its timeout is stopped by this call.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active && s.now().Sub(s.lastActivity) > s.timeout {
		s.stopLocked("Conversation timed out")
	}
	return s.active
}

// ID returns the current or last session ID.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Append records a message and refreshes the inactivity timer.
func (s *Session) Append(role Role, content string, metadata map[string]string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()
	return s.appendLocked(role, content, metadata)
}

func (s *Session) appendLocked(role Role, content string, metadata map[string]string) Message {
	m := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
		Metadata:  metadata,
	}
	s.history = append(s.history, m)
	for len(s.history) > s.cap {
		i := slices.IndexFunc(s.history, func(m Message) bool { return m.Role != RoleSystem })
		if i < 0 {
			i = 0
		}
		s.history = slices.Delete(s.history, i, i+1)
	}
	return m
}

// History returns a copy of every message, oldest first.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Recent returns up to n of the latest user and assistant messages, oldest
// first.
func (s *Session) Recent(n int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for i := len(s.history) - 1; i >= 0 && len(out) < n; i-- {
		if s.history[i].Role != RoleSystem {
			out = append(out, s.history[i])
		}
	}
	slices.Reverse(out)
	return out
}

// RecentText joins the content of Recent(n) with spaces.
func (s *Session) RecentText(n int) string {
	msgs := s.Recent(n)
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return strings.Join(parts, " ")
}

// Context returns a copy of the meeting context.
func (s *Session) Context() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.meeting.clone()
	if s.active {
		c.Duration = s.now().Sub(s.startedAt)
	}
	return c
}

// UpdateContext replaces the meeting title and participant list. Empty
// title or nil participants leave the current value.
func (s *Session) UpdateContext(title string, participants []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if title != "" {
		s.meeting.MeetingTitle = title
	}
	if participants != nil {
		s.meeting.Participants = slices.Clone(participants)
	}
}

// SetAgentName changes the name the agent answers to.
func (s *Session) SetAgentName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meeting.AgentName = name
}

// AddTopics extracts keywords from texts and appends the new ones to the
// rolling topic list.
func (s *Session) AddTopics(texts ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range texts {
		for _, w := range ExtractTopics(t) {
			if slices.Contains(s.meeting.Topics, w) {
				continue
			}
			s.meeting.Topics = append(s.meeting.Topics, w)
		}
	}
	if over := len(s.meeting.Topics) - MaxTopics; over > 0 {
		s.meeting.Topics = slices.Delete(s.meeting.Topics, 0, over)
	}
}

// Summary reports counts, duration and context.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{
		SessionID:    s.id,
		Active:       s.active,
		StartedAt:    s.startedAt,
		MessageCount: len(s.history),
		Context:      s.meeting.clone(),
	}
	if s.active {
		sum.Duration = s.now().Sub(s.startedAt)
		sum.Context.Duration = sum.Duration
	} else {
		sum.Duration = s.meeting.Duration
	}
	for _, m := range s.history {
		switch m.Role {
		case RoleUser:
			sum.UserMessages++
		case RoleAssistant:
			sum.AssistantMessages++
		}
	}
	return sum
}

// ExtractTopics returns the first three lowercased, purely alphabetic words
// longer than three letters.
func ExtractTopics(text string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if len(out) == 3 {
			break
		}
		if len([]rune(w)) > 3 && isAlpha(w) {
			out = append(out, w)
		}
	}
	return out
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
