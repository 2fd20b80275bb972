// Package embeddings defines the Provider interface for text embedding
// backends. The transcript store embeds every utterance so later turns can
// recall related things said earlier in the meeting.
package embeddings

import "context"

// Provider maps text to dense vectors. All vectors from one Provider share the
// length returned by Dimensions.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed computes the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes one vector per text in a single call. On error the
	// whole result is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector length.
	Dimensions() int

	// ModelID returns the model identifier, e.g. "text-embedding-3-small".
	ModelID() string
}
