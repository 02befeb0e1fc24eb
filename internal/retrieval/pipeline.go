// Package retrieval answers top-k queries against the configured vector store,
// keeping one long-lived store handle that is refreshed on demand.
package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/hyperjump/tansaku/internal/config"
	"github.com/hyperjump/tansaku/internal/embedding"
	"github.com/hyperjump/tansaku/internal/vector"
	"github.com/hyperjump/tansaku/internal/watcher"
	"go.uber.org/zap"
)

// indexExtensions limits index directory events to the index file itself; the
// writer's temp files end in .tmp.
var indexExtensions = []string{".tsk"}

// Pipeline runs retrieval queries.
type Pipeline struct {
	cfg      *config.StoreConfig
	embedder embedding.Embedder
	logger   *zap.Logger
	open     func() (vector.Store, error)

	mu    sync.RWMutex
	store vector.Store
	stale atomic.Bool
	// seen is the index file as of the last load or write through this
	// pipeline. Local backend only.
	seen os.FileInfo
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a logger for debug output (reloads, invalidations).
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a pipeline over the store described by cfg. The store is opened
// and loaded on the first Answer.
func New(cfg *config.StoreConfig, embedder embedding.Embedder, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, embedder: embedder}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.open = func() (vector.Store, error) {
		return vector.New(p.cfg, p.embedder, vector.WithLogger(p.logger))
	}
	return p
}

// Backend returns the configured backend name.
func (p *Pipeline) Backend() string {
	return p.cfg.BackendName()
}

// Answer returns the k passages most similar to query, best first.
func (p *Pipeline) Answer(ctx context.Context, query string, k int) ([]vector.Hit, error) {
	if k < 0 {
		return nil, p.wrap("answer", fmt.Errorf("%w: k must not be negative, got %d", vector.ErrInvalidArgument, k))
	}
	if !p.stale.Load() {
		p.mu.RLock()
		if p.store != nil {
			hits, err := p.store.Search(ctx, query, k)
			p.mu.RUnlock()
			if err != nil {
				return nil, p.wrap("answer", err)
			}
			return hits, nil
		}
		p.mu.RUnlock()
	}

	if err := p.refresh(ctx, false); err != nil {
		return nil, p.wrap("answer", err)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	hits, err := p.store.Search(ctx, query, k)
	if err != nil {
		return nil, p.wrap("answer", err)
	}
	return hits, nil
}

// Reload closes the cached store handle and opens a freshly loaded one. Use it
// after the index was changed by another writer.
func (p *Pipeline) Reload(ctx context.Context) error {
	if err := p.refresh(ctx, true); err != nil {
		return p.wrap("reload", err)
	}
	return nil
}

// Invalidate marks the cached handle stale; the next Answer reloads it.
func (p *Pipeline) Invalidate() {
	p.stale.Store(true)
	p.logger.Debug("store handle invalidated", zap.String("backend", p.Backend()))
}

// AddTexts appends texts through the pipeline's own handle, so readers and
// writers in this process share one store. A stale handle, or an index file
// changed on disk since this pipeline last loaded or wrote it, is reloaded
// first so entries appended by another writer are kept.
func (p *Pipeline) AddTexts(ctx context.Context, texts []string, metadatas []map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.store == nil || p.stale.Load() || p.changedOnDisk() {
		if err := p.refreshLocked(ctx); err != nil {
			return p.wrap("add texts", err)
		}
	}
	if err := p.store.AddTexts(ctx, texts, metadatas); err != nil {
		return p.wrap("add texts", err)
	}
	p.seen = p.indexFile()
	return nil
}

// Store returns a vector.Store view of the pipeline's shared handle for
// writers such as the ingestion job. Closing the view leaves the handle open.
func (p *Pipeline) Store() vector.Store {
	return sharedStore{p: p}
}

// refresh replaces the handle. Unless force is set it is a no-op when another
// caller already produced a fresh handle.
func (p *Pipeline) refresh(ctx context.Context, force bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !force && p.store != nil && !p.stale.Load() {
		return nil
	}
	return p.refreshLocked(ctx)
}

func (p *Pipeline) refreshLocked(ctx context.Context) error {
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			p.logger.Warn("close store", zap.Error(err))
		}
		p.store = nil
	}
	p.stale.Store(false)

	store, err := p.open()
	if err != nil {
		return err
	}
	if err := store.Load(ctx); err != nil {
		_ = store.Close()
		return err
	}
	p.store = store
	p.seen = p.indexFile()
	p.logger.Debug("store loaded", zap.String("backend", p.Backend()))
	return nil
}

func (p *Pipeline) indexFile() os.FileInfo {
	if p.cfg.BackendName() != config.BackendLocal {
		return nil
	}
	info, err := os.Stat(filepath.Join(p.cfg.Local.Dir, vector.IndexFileName))
	if err != nil {
		return nil
	}
	return info
}

// changedOnDisk reports whether the index file was replaced since seen. Writers
// rename a new file into place, so a changed file has a new identity.
func (p *Pipeline) changedOnDisk() bool {
	now := p.indexFile()
	if now == nil || p.seen == nil {
		return now != p.seen
	}
	return !os.SameFile(now, p.seen) || !now.ModTime().Equal(p.seen.ModTime()) || now.Size() != p.seen.Size()
}

// WatchIndex invalidates the handle whenever the local index file changes on
// disk. It returns immediately for the remote backend, whose state lives in the
// service. The watch stops when ctx is cancelled.
func (p *Pipeline) WatchIndex(ctx context.Context) error {
	if p.cfg.BackendName() != config.BackendLocal {
		return nil
	}
	onEvent := func(path string) {
		p.logger.Debug("index file changed", zap.String("path", path))
		p.Invalidate()
	}
	w := watcher.New([]string{p.cfg.Local.Dir}, indexExtensions, false, onEvent, onEvent,
		watcher.WithLogger(p.logger))
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("watch index %s: %w", p.cfg.Local.Dir, err)
	}
	return nil
}

// Close releases the cached store handle.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.store == nil {
		return nil
	}
	err := p.store.Close()
	p.store = nil
	return err
}

func (p *Pipeline) wrap(op string, err error) error {
	return fmt.Errorf("%s (backend %s): %w", op, p.Backend(), err)
}

type sharedStore struct {
	p *Pipeline
}

func (s sharedStore) Load(ctx context.Context) error {
	return s.p.refresh(ctx, false)
}

func (s sharedStore) AddTexts(ctx context.Context, texts []string, metadatas []map[string]string) error {
	return s.p.AddTexts(ctx, texts, metadatas)
}

func (s sharedStore) Search(ctx context.Context, query string, k int) ([]vector.Hit, error) {
	return s.p.Answer(ctx, query, k)
}

func (s sharedStore) Backend() vector.Backend {
	return vector.Backend(s.p.Backend())
}

func (s sharedStore) Close() error { return nil }
