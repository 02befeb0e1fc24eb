// Package embedding turns text into fixed-dimension vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrModelUnavailable is returned when the embedding model cannot be loaded or
// fails to produce a vector. Callers treat it as fatal for the current operation.
var ErrModelUnavailable = errors.New("embedding model unavailable")

// Embedder produces vector embeddings for text. Implementations are deterministic
// for a given ModelID and safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	// ModelID identifies the embedding function. Indexes record it so vectors from
	// different models are never compared.
	ModelID() string
	Close() error
}

// embedEach implements EmbedBatch for embedders without a native batch call.
func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
