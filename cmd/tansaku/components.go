package main

import (
	"context"
	"fmt"

	"github.com/hyperjump/tansaku/internal/catalog"
	"github.com/hyperjump/tansaku/internal/config"
	"github.com/hyperjump/tansaku/internal/embedding"
	"github.com/hyperjump/tansaku/internal/ingest"
	"github.com/hyperjump/tansaku/internal/vector"
	"go.uber.org/zap"
)

// components holds the long-lived services shared by the commands.
type components struct {
	cfg      *config.Config
	logger   *zap.Logger
	embedder embedding.Embedder
	catalog  *catalog.SQLiteCatalog
}

func newComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	embedder, err := embedding.New(ctx, &cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	cat, err := catalog.NewSQLiteCatalog(cfg.Catalog.Path)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}
	return &components{cfg: cfg, logger: logger, embedder: embedder, catalog: cat}, nil
}

// openStore returns a loaded store for the configured backend.
func (c *components) openStore(ctx context.Context) (vector.Store, error) {
	store, err := vector.New(&c.cfg.Store, c.embedder, vector.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}
	if err := store.Load(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load store (backend %s): %w", store.Backend(), err)
	}
	return store, nil
}

func (c *components) newJob(store vector.Store) *ingest.Job {
	return ingest.NewJob(store, c.cfg.Ingest, ingest.WithLogger(c.logger), ingest.WithCatalog(c.catalog))
}

func (c *components) Close() {
	if c.catalog != nil {
		_ = c.catalog.Close()
	}
	if c.embedder != nil {
		_ = c.embedder.Close()
	}
}
