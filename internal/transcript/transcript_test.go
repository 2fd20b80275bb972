package transcript

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/MrWong99/meetagent/internal/conversation"
	"github.com/MrWong99/meetagent/pkg/provider/embeddings/mock"
)

func msg(id string, role conversation.Role, content string) conversation.Message {
	return conversation.Message{ID: id, Role: role, Content: content}
}

func seed(t *testing.T, s *Memory) {
	t.Helper()
	ctx := context.Background()
	for _, m := range []conversation.Message{
		msg("0", conversation.RoleSystem, "Conversation started"),
		msg("1", conversation.RoleUser, "the marketing budget for next quarter is tight"),
		msg("2", conversation.RoleAssistant, "we could move the launch event to spring"),
		msg("3", conversation.RoleUser, "hiring plans depend on the budget approval"),
	} {
		if err := s.Append(ctx, "s1", m); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Append(ctx, "s2", msg("9", conversation.RoleUser, "budget budget budget")); err != nil {
		t.Fatal(err)
	}
}

func TestMemory_RecallByWords(t *testing.T) {
	t.Parallel()
	s := NewMemory(nil)
	seed(t, s)

	got, err := s.Recall(context.Background(), "s1", "what about the budget approval?", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "3" || got[1].ID != "1" {
		t.Errorf("recall = %+v", got)
	}
}

func TestMemory_RecallByEmbedding(t *testing.T) {
	t.Parallel()
	emb := &mock.Provider{Dims: 256}
	s := NewMemory(emb)
	seed(t, s)

	got, err := s.Recall(context.Background(), "s1", "launch event in spring", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "2" {
		t.Errorf("recall = %+v", got)
	}
	for _, text := range emb.Texts {
		if text == "Conversation started" {
			t.Error("system message was embedded")
		}
	}
}

func TestMemory_EmbedFailureKeepsMessage(t *testing.T) {
	t.Parallel()
	s := NewMemory(&mock.Provider{Err: errors.New("quota")})
	seed(t, s)

	all, _ := s.Session(context.Background(), "s1")
	if len(all) != 4 {
		t.Fatalf("session = %d messages", len(all))
	}
	got, _ := s.Recall(context.Background(), "s1", "hiring plans", 3)
	if len(got) != 1 || got[0].ID != "3" {
		t.Errorf("word fallback recall = %+v", got)
	}
}

// Not parallel: swaps slog.Default.
func TestMemory_EmbedFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	s := NewMemory(&mock.Provider{Err: errors.New("quota")})
	if _, err := s.Recall(context.Background(), "s1", "hiring plans", 3); err != nil {
		t.Fatalf("Recall: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "embed query") || !strings.Contains(out, "quota") {
		t.Errorf("log output = %q, want the embedding error", out)
	}
}

func TestMemory_RecallEdges(t *testing.T) {
	t.Parallel()
	s := NewMemory(nil)
	seed(t, s)
	ctx := context.Background()

	for name, fn := range map[string]func() ([]conversation.Message, error){
		"zero k":        func() ([]conversation.Message, error) { return s.Recall(ctx, "s1", "budget", 0) },
		"blank query":   func() ([]conversation.Message, error) { return s.Recall(ctx, "s1", "  ", 3) },
		"other session": func() ([]conversation.Message, error) { return s.Recall(ctx, "nope", "budget", 3) },
		"no overlap":    func() ([]conversation.Message, error) { return s.Recall(ctx, "s1", "weather", 3) },
	} {
		if got, err := fn(); err != nil || len(got) != 0 {
			t.Errorf("%s: recall = %+v, %v", name, got, err)
		}
	}
}

func TestCosine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 1},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{1, 1}, []float32{-1, -1}, -1},
		{[]float32{1}, []float32{1, 0}, 0},
		{[]float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Cosine(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
