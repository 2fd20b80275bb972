// Package mock provides a test double for the embeddings.Provider interface.
//
// By default Provider hashes each lower-cased word of the input into one of
// Dims buckets, so texts sharing words produce similar vectors. That is enough
// to exercise similarity recall without a live model.
package mock

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/MrWong99/meetagent/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Dims is the vector length. Defaults to 16.
	Dims int

	// EmbedFunc, if set, replaces the bag-of-words embedding.
	EmbedFunc func(text string) []float32

	// Err, if non-nil, is returned from Embed and EmbedBatch.
	Err error

	// Model is returned by ModelID.
	Model string

	// Texts records every text submitted, in order.
	Texts []string
}

var _ embeddings.Provider = (*Provider)(nil)

// Embed records the text and returns its vector.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, text)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.embed(text), nil
}

// EmbedBatch records the texts and returns one vector per text.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, texts...)
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.embed(t)
	}
	return out, nil
}

// Dimensions returns Dims, or 16 when unset.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dims()
}

// ModelID returns Model.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Model == "" {
		return "mock-embed"
	}
	return p.Model
}

// Reset clears recorded texts.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = nil
}

func (p *Provider) dims() int {
	if p.Dims <= 0 {
		return 16
	}
	return p.Dims
}

func (p *Provider) embed(text string) []float32 {
	if p.EmbedFunc != nil {
		return p.EmbedFunc(text)
	}
	vec := make([]float32, p.dims())
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'")
		if w == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(len(vec))]++
	}
	return vec
}
