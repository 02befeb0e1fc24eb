package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/tansaku/internal/config"
	"go.uber.org/zap"
)

// redisKeyPrefix namespaces embedding keys in a shared Redis.
const redisKeyPrefix = "tansaku:emb:"

// New builds the embedder selected by cfg.Provider and wraps it with the
// configured cache. There is no fallback between providers: a provider that
// cannot be constructed yields ErrModelUnavailable.
func New(ctx context.Context, cfg *config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var base Embedder
	switch cfg.Provider {
	case "onnx":
		e, err := NewONNXEmbedder(cfg.Model, cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		base = e
	case "ollama":
		e := NewOllamaEmbedder(cfg.Ollama.URL, cfg.Model, cfg.Dimensions, cfg.Ollama.Timeout)
		if err := e.Ping(ctx); err != nil {
			return nil, err
		}
		base = e
	case "hash":
		base = NewHashEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrModelUnavailable, cfg.Provider)
	}
	logger.Debug("embedder ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", base.ModelID()),
		zap.Int("dimensions", base.Dimensions()))

	switch cfg.Cache.Backend {
	case "none":
		return base, nil
	case "redis":
		rc, err := NewRedisCache(ctx, cfg.Cache.RedisURL, redisKeyPrefix, cfg.Cache.TTL)
		if err == nil {
			return NewCachedEmbedder(base, rc, logger), nil
		}
		logger.Warn("redis embedding cache unavailable, using in-process cache", zap.Error(err))
	}
	return NewCachedEmbedder(base, NewLRUCache(cfg.CacheSize), logger), nil
}
