package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"go.uber.org/zap"
)

// CachedEmbedder memoises an Embedder's output. Cache failures are logged and
// never fail an embed call.
type CachedEmbedder struct {
	inner  Embedder
	cache  Cache
	logger *zap.Logger
}

// NewCachedEmbedder wraps inner with cache. logger may be nil.
func NewCachedEmbedder(inner Embedder, cache Cache, logger *zap.Logger) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{inner: inner, cache: cache, logger: logger}
}

// key scopes entries by model so a shared cache never mixes embedding functions.
func (e *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return e.inner.ModelID() + ":" + hex.EncodeToString(sum[:])
}

// Embed returns the cached embedding for text or computes and stores it.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.key(text)
	if v, ok, err := e.cache.Get(ctx, key); err != nil {
		e.logger.Warn("embedding cache get failed", zap.Error(err))
	} else if ok && len(v) == e.inner.Dimensions() {
		return v, nil
	}

	v, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Set(ctx, key, v); err != nil {
		e.logger.Warn("embedding cache set failed", zap.Error(err))
	}
	return v, nil
}

// EmbedBatch calls Embed for each text.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the inner embedder's dimension.
func (e *CachedEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// ModelID returns the inner embedder's model identifier.
func (e *CachedEmbedder) ModelID() string {
	return e.inner.ModelID()
}

// Close closes the cache and the inner embedder.
func (e *CachedEmbedder) Close() error {
	cacheErr := e.cache.Close()
	if err := e.inner.Close(); err != nil {
		return err
	}
	return cacheErr
}
