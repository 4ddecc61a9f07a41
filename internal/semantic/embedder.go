// Package semantic provides the embedding-based half of hybrid retrieval: a
// Gemini embedder and an in-memory inner-product index over catalog vectors.
package semantic

import (
	"context"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"

	"github.com/klimatrix/factor-cli/internal/resilience"
)

// Embedder turns texts into embedding vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// GeminiEmbedder embeds texts with the Gemini embedding API.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	retry  resilience.RetryConfig
}

// NewGeminiEmbedder creates an embedder using the given API key and model.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, eris.Wrap(err, "semantic: create gemini client")
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("gemini", "embed")
	return &GeminiEmbedder{client: client, model: model, retry: retry}, nil
}

// EmbedBatch embeds texts in a single API call, preserving order.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*genai.EmbedContentResponse, error) {
		return e.client.Models.EmbedContent(ctx, e.model, contents, nil)
	})
	if err != nil {
		return nil, eris.Wrap(err, "semantic: embed content")
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, eris.Errorf("semantic: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
