package config

import "time"

// DefaultExtensions are the plain-text-like file types the ingestion job picks up.
var DefaultExtensions = []string{".txt", ".md", ".markdown"}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.AppEnv == "" {
		cfg.AppEnv = "dev"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendLocal
	}
	if cfg.Store.Local.Dir == "" {
		cfg.Store.Local.Dir = ".cache/tansaku/index"
	}
	if cfg.Store.Remote.URL == "" {
		cfg.Store.Remote.URL = "http://localhost:6333"
	}
	if cfg.Store.Remote.Collection == "" {
		cfg.Store.Remote.Collection = "docs"
	}
	if cfg.Store.Remote.Timeout == 0 {
		cfg.Store.Remote.Timeout = 10 * time.Second
	}
	if cfg.Store.Remote.BreakerThreshold == 0 {
		cfg.Store.Remote.BreakerThreshold = 5
	}
	if cfg.Store.Remote.BreakerTimeout == 0 {
		cfg.Store.Remote.BreakerTimeout = 30 * time.Second
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = ".cache/tansaku/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Cache.Backend == "" {
		cfg.Embedding.Cache.Backend = "memory"
	}
	if cfg.Embedding.Cache.TTL == 0 {
		cfg.Embedding.Cache.TTL = 24 * time.Hour
	}
	if cfg.Embedding.Ollama.URL == "" {
		cfg.Embedding.Ollama.URL = "http://localhost:11434"
	}
	if cfg.Embedding.Ollama.Timeout == 0 {
		cfg.Embedding.Ollama.Timeout = 30 * time.Second
	}
	if cfg.Ingest.Source == "" {
		cfg.Ingest.Source = "./data/sample_docs"
	}
	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = ".cache/tansaku/catalog.db"
	}
	if cfg.Retrieval.DefaultK == 0 {
		cfg.Retrieval.DefaultK = 3
	}
	if cfg.Retrieval.MaxK == 0 {
		cfg.Retrieval.MaxK = 100
	}
}
