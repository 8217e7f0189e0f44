package gemini

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
)

// EmbeddingClient is the subset of gollem.LLMClient used for embeddings.
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error)
}

// Embedder produces vectors through a Gemini embedding model.
type Embedder struct {
	client    EmbeddingClient
	dimension int
}

// New wraps client. dimension is requested from the model on every call.
func New(client EmbeddingClient, dimension int) *Embedder {
	return &Embedder{client: client, dimension: dimension}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "gemini" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed generates one vector per text.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings, err := e.client.GenerateEmbedding(ctx, e.dimension, texts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate embedding", goerr.V("texts", len(texts)))
	}
	if len(embeddings) != len(texts) {
		return nil, goerr.New("embedding generation returned wrong count",
			goerr.V("want", len(texts)), goerr.V("got", len(embeddings)))
	}

	// Convert float64 to float32
	out := make([][]float32, len(embeddings))
	for i, e64 := range embeddings {
		v := make([]float32, len(e64))
		for j, x := range e64 {
			v[j] = float32(x)
		}
		out[i] = v
	}
	return out, nil
}
