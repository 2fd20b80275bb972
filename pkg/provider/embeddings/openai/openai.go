// Package openai provides an embeddings provider backed by the OpenAI API or
// an Azure OpenAI embeddings deployment.
package openai

import (
	"context"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/meetagent/pkg/provider/embeddings"
	"github.com/MrWong99/meetagent/pkg/provider/internal/oaiclient"
)

// DefaultModel is the default OpenAI embeddings model.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

var _ embeddings.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option = oaiclient.Option

// Re-exported client options.
var (
	WithBaseURL      = oaiclient.WithBaseURL
	WithOrganization = oaiclient.WithOrganization
	WithTimeout      = oaiclient.WithTimeout
	WithAzure        = oaiclient.WithAzure
	WithHTTPClient   = oaiclient.WithHTTPClient
)

// Provider embeds transcript messages with one OpenAI embeddings model.
type Provider struct {
	client oai.Client
	model  string
	dims   int
}

// New constructs an embeddings provider. If model is empty DefaultModel is
// used. dims overrides the vector length for models that support shortened
// embeddings; zero keeps the model's native size.
func New(apiKey, model string, dims int, opts ...Option) (*Provider, error) {
	cfg := oaiclient.Config{APIKey: apiKey}
	for _, o := range opts {
		o(&cfg)
	}
	client, err := oaiclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Provider{client: client, model: model, dims: dims}, nil
}

// Embed returns the vector for text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request. Results are placed by the index
// the API reports, not by response order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := oai.EmbeddingNewParams{
		Model: p.model,
		Input: oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if p.dims > 0 && p.dims != modelDimensions(p.model) {
		req.Dimensions = param.NewOpt(int64(p.dims))
	}
	resp, err := p.client.Embeddings.New(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %s: %w", p.model, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: %d inputs, %d vectors", len(texts), len(resp.Data))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= len(out) || out[i] != nil {
			return nil, fmt.Errorf("openai embeddings: bad vector index %d", d.Index)
		}
		out[i] = make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			out[i][j] = float32(v)
		}
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.dims > 0 {
		return p.dims
	}
	return modelDimensions(p.model)
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.model }

func modelDimensions(model string) int {
	if strings.Contains(strings.ToLower(model), "text-embedding-3-large") {
		return 3072
	}
	return 1536
}
