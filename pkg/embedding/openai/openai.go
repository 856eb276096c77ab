package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/barekit/ragchat/pkg/embedding"
)

// DefaultModel is the embedding model used when none is configured.
const DefaultModel = openai.EmbeddingModelTextEmbeddingAda002

var _ embedding.Provider = (*Provider)(nil)

// Provider implements embedding.Provider using OpenAI.
type Provider struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewProvider creates a new OpenAI embedding provider. An empty model selects
// DefaultModel.
func NewProvider(model string, opts ...option.RequestOption) *Provider {
	client := openai.NewClient(opts...)
	p := &Provider{
		client: &client,
		model:  DefaultModel,
	}
	if model != "" {
		p.model = openai.EmbeddingModel(model)
	}
	return p
}

// Model returns the configured model name.
func (p *Provider) Model() string {
	return string(p.model)
}

// EmbedDocuments generates embeddings for the given texts.
func (p *Provider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: p.model,
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || int(data.Index) >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		// Convert []float64 to []float32
		vec := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float32(v)
		}
		embeddings[data.Index] = vec
	}
	for i, v := range embeddings {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}

	return embeddings, nil
}
