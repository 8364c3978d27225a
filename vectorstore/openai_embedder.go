package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
)

// EmbeddingsClient captures the subset of the OpenAI SDK client used by the
// adapter. It is satisfied by *openai.Client's Embeddings service so callers
// can substitute a mock in tests.
type EmbeddingsClient interface {
	New(ctx context.Context, body openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error)
}

// OpenAIEmbedder implements Embedder on top of the OpenAI Embeddings API.
type OpenAIEmbedder struct {
	client EmbeddingsClient
	model  string
}

// NewOpenAIEmbedder builds an Embedder backed by client using the given
// embedding model identifier (for example, openai.EmbeddingModelTextEmbedding3Small).
func NewOpenAIEmbedder(client EmbeddingsClient, model string) (*OpenAIEmbedder, error) {
	if client == nil {
		return nil, errors.New("vectorstore: openai embeddings client is required")
	}
	if model == "" {
		return nil, errors.New("vectorstore: embedding model identifier is required")
	}
	return &OpenAIEmbedder{client: client, model: model}, nil
}

// Embed computes the embedding vector for text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: embed text: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("vectorstore: embed text: empty response")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, f := range resp.Data[0].Embedding {
		vec[i] = float32(f)
	}
	return vec, nil
}
