package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/hyperjump/tansaku/pkg/utils"
)

// HashEmbedder is a deterministic embedder for tests and offline use. Each word is
// hashed into one of the vector's buckets with a hash-derived sign, so texts that
// share words score higher than texts that do not. It has no notion of synonyms.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns the unit-length feature-hashed vector for text.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	words := normalizeWords(text)
	if len(words) == 0 {
		// Keep the vector non-zero so cosine similarity stays defined.
		emb[0] = 1
		return emb, nil
	}
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dimensions))
		if sum>>63 == 1 {
			emb[bucket] -= 1
		} else {
			emb[bucket] += 1
		}
	}
	if utils.L2Norm(emb) == 0 {
		emb[0] = 1
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelID returns "hash-<dimensions>".
func (e *HashEmbedder) ModelID() string {
	return fmt.Sprintf("hash-%d", e.dimensions)
}

// Close is a no-op for HashEmbedder.
func (e *HashEmbedder) Close() error {
	return nil
}

func normalizeWords(text string) []string {
	var out []string
	for _, w := range SplitWords(text) {
		w = strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		}))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
