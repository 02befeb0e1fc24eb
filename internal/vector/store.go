// Package vector stores embedded text passages and answers top-k cosine
// similarity queries, either from an embedded on-disk index or through a
// remote Qdrant-compatible service.
package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/tansaku/internal/config"
	"github.com/hyperjump/tansaku/internal/embedding"
	"go.uber.org/zap"
)

// Backend identifies a store topology.
type Backend string

const (
	// BackendLocal is the embedded index persisted under a directory.
	BackendLocal Backend = config.BackendLocal
	// BackendRemote is a Qdrant-compatible vector service.
	BackendRemote Backend = config.BackendRemote
)

// Placeholder entry written into a new, empty store.
const (
	BootstrapText   = "index initialized"
	BootstrapSource = "bootstrap"
)

// Store is the backend-agnostic vector store.
type Store interface {
	// Load opens or creates the underlying index. It must succeed before AddTexts or Search.
	Load(ctx context.Context) error
	// AddTexts embeds and appends texts. metadatas is nil or has one map per text.
	AddTexts(ctx context.Context, texts []string, metadatas []map[string]string) error
	// Search returns at most k hits ordered by descending cosine similarity.
	Search(ctx context.Context, query string, k int) ([]Hit, error)
	Backend() Backend
	Close() error
}

// Hit is a single search result. Score is cosine similarity; higher is better.
type Hit struct {
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Entry is a stored document. Entries are immutable once added.
type Entry struct {
	ID        uint64
	Text      string
	Metadata  map[string]string
	Embedding []float32
}

type options struct {
	logger *zap.Logger
}

// Option configures a store.
type Option func(*options)

// WithLogger sets a logger for debug output (loads, appends, remote calls).
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// New creates the store selected by cfg.Backend. The store is not loaded.
func New(cfg *config.StoreConfig, embedder embedding.Embedder, opts ...Option) (Store, error) {
	switch Backend(cfg.BackendName()) {
	case BackendLocal:
		return NewLocalIndex(cfg.Local.Dir, embedder, opts...), nil
	case BackendRemote:
		return NewRemoteIndex(cfg.Remote, embedder, opts...), nil
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q (supported: local, remote)", ErrInvalidArgument, cfg.Backend)
	}
}

// validateAdd checks AddTexts arguments before any I/O and returns the metadata
// to store, substituting empty maps when metadatas is nil.
func validateAdd(texts []string, metadatas []map[string]string) ([]map[string]string, error) {
	if metadatas != nil && len(metadatas) != len(texts) {
		return nil, fmt.Errorf("%w: %d metadata maps for %d texts", ErrInvalidArgument, len(metadatas), len(texts))
	}
	out := make([]map[string]string, len(texts))
	for i := range texts {
		m := make(map[string]string)
		if metadatas != nil {
			for k, v := range metadatas[i] {
				m[k] = v
			}
		}
		out[i] = m
	}
	return out, nil
}

// embedTexts embeds texts and checks every vector has the embedder's dimension.
func embedTexts(ctx context.Context, e embedding.Embedder, texts []string) ([][]float32, error) {
	vectors, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed texts: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", embedding.ErrModelUnavailable, len(vectors), len(texts))
	}
	dim := e.Dimensions()
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: embedding %d has %d dimensions, want %d", ErrInvalidArgument, i, len(v), dim)
		}
	}
	return vectors, nil
}

func embedQuery(ctx context.Context, e embedding.Embedder, query string) ([]float32, error) {
	v, err := e.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(v) != e.Dimensions() {
		return nil, fmt.Errorf("%w: query embedding has %d dimensions, want %d", ErrInvalidArgument, len(v), e.Dimensions())
	}
	return v, nil
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
