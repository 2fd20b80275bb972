// Package transcript persists every message of a meeting session and
// recalls earlier messages related to a new utterance.
//
// [Memory] keeps everything in process. The postgres subpackage stores
// messages in PostgreSQL and recalls them by pgvector similarity.
package transcript

import (
	"context"
	"math"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/MrWong99/meetagent/internal/conversation"
	"github.com/MrWong99/meetagent/internal/observe"
	"github.com/MrWong99/meetagent/pkg/provider/embeddings"
)

// Store is implemented by every transcript backend. Implementations must be
// safe for concurrent use.
type Store interface {
	// Append records m under sessionID.
	Append(ctx context.Context, sessionID string, m conversation.Message) error

	// Recall returns up to k messages of sessionID most related to query,
	// best match first.
	Recall(ctx context.Context, sessionID, query string, k int) ([]conversation.Message, error)

	// Session returns every message of sessionID in order.
	Session(ctx context.Context, sessionID string) ([]conversation.Message, error)

	Close() error
}

type entry struct {
	msg conversation.Message
	vec []float32
}

// Memory is an in-process Store. With an embedder, Recall ranks by cosine
// similarity; otherwise by shared words.
type Memory struct {
	embed embeddings.Provider

	mu       sync.RWMutex
	sessions map[string][]entry
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store. embed may be nil.
func NewMemory(embed embeddings.Provider) *Memory {
	return &Memory{embed: embed, sessions: make(map[string][]entry)}
}

// Append implements Store. An embedding failure keeps the message without
// a vector.
func (s *Memory) Append(ctx context.Context, sessionID string, m conversation.Message) error {
	e := entry{msg: m}
	if s.embed != nil && m.Role != conversation.RoleSystem {
		vec, err := s.embed.Embed(ctx, m.Content)
		if err != nil {
			observe.Logger(ctx).Debug("transcript: embed message, recall falls back to word overlap", "session_id", sessionID, "err", err)
		} else {
			e.vec = vec
		}
	}
	s.mu.Lock()
	s.sessions[sessionID] = append(s.sessions[sessionID], e)
	s.mu.Unlock()
	return nil
}

// Recall implements Store.
func (s *Memory) Recall(ctx context.Context, sessionID, query string, k int) ([]conversation.Message, error) {
	if k <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	var qvec []float32
	if s.embed != nil {
		vec, err := s.embed.Embed(ctx, query)
		if err != nil {
			observe.Logger(ctx).Debug("transcript: embed query, using word overlap", "session_id", sessionID, "err", err)
		} else {
			qvec = vec
		}
	}
	qwords := words(query)

	s.mu.RLock()
	entries := slices.Clone(s.sessions[sessionID])
	s.mu.RUnlock()

	type scored struct {
		msg   conversation.Message
		score float64
	}
	var hits []scored
	for _, e := range entries {
		if e.msg.Role == conversation.RoleSystem {
			continue
		}
		var score float64
		if qvec != nil && e.vec != nil {
			score = Cosine(qvec, e.vec)
		} else {
			score = overlap(qwords, words(e.msg.Content))
		}
		if score > 0 {
			hits = append(hits, scored{e.msg, score})
		}
	}
	slices.SortStableFunc(hits, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})
	out := make([]conversation.Message, 0, min(k, len(hits)))
	for _, h := range hits[:min(k, len(hits))] {
		out = append(out, h.msg)
	}
	return out, nil
}

// Session implements Store.
func (s *Memory) Session(_ context.Context, sessionID string) ([]conversation.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.sessions[sessionID]
	out := make([]conversation.Message, len(entries))
	for i, e := range entries {
		out[i] = e.msg
	}
	return out, nil
}

// Close implements Store.
func (s *Memory) Close() error { return nil }

// Cosine returns the cosine similarity of a and b, or 0 when either is zero
// or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func words(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) > 3 {
			out[w] = struct{}{}
		}
	}
	return out
}

// overlap is the share of query words present in doc.
func overlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	n := 0
	for w := range query {
		if _, ok := doc[w]; ok {
			n++
		}
	}
	return float64(n) / float64(len(query))
}
