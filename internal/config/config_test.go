package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv blanks every variable ApplyEnv reads; empty values are treated as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "LOG_LEVEL", "RAG_BACKEND", "FAISS_DIR", "INDEX_DIR", "QDRANT_URL",
		"QDRANT_COLLECTION", "EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "REDIS_URL",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
store:
  backend: local
  local:
    dir: "/tmp/tansaku-index"
embedding:
  provider: hash
  dimensions: 64
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Store.Local.Dir != "/tmp/tansaku-index" {
		t.Errorf("store.local.dir = %s", cfg.Store.Local.Dir)
	}
	if cfg.Embedding.Provider != "hash" || cfg.Embedding.Dimensions != 64 {
		t.Errorf("unexpected embedding config: %+v", cfg.Embedding)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_durations(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
store:
  backend: remote
  remote:
    url: "http://qdrant:6333"
    timeout: 3s
    breaker_timeout: 1m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Remote.Timeout != 3*time.Second {
		t.Errorf("timeout = %v", cfg.Store.Remote.Timeout)
	}
	if cfg.Store.Remote.BreakerTimeout != time.Minute {
		t.Errorf("breaker_timeout = %v", cfg.Store.Remote.BreakerTimeout)
	}
	if cfg.Store.Remote.Collection != "docs" {
		t.Errorf("collection = %s, want docs", cfg.Store.Remote.Collection)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
store:
  local:
    dir: "./data/index"
catalog:
  path: "./data/catalog.db"
ingest:
  source: "./docs"
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "index"); cfg.Store.Local.Dir != want {
		t.Errorf("store.local.dir = %s, want %s", cfg.Store.Local.Dir, want)
	}
	if want := filepath.Join(dir, "data", "catalog.db"); cfg.Catalog.Path != want {
		t.Errorf("catalog.path = %s, want %s", cfg.Catalog.Path, want)
	}
	if want := filepath.Join(dir, "docs"); cfg.Ingest.Source != want {
		t.Errorf("ingest.source = %s, want %s", cfg.Ingest.Source, want)
	}
}

func TestDefault_pathsMatchLoadedDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	path := writeConfig(t, "debug: false\n")
	dir := filepath.Dir(path)
	t.Chdir(dir)

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range []struct{ name, got, want string }{
		{"store.local.dir", def.Store.Local.Dir, loaded.Store.Local.Dir},
		{"catalog.path", def.Catalog.Path, loaded.Catalog.Path},
		{"embedding.model_path", def.Embedding.ModelPath, loaded.Embedding.ModelPath},
		{"ingest.source", def.Ingest.Source, filepath.Join(cwd, "data", "sample_docs")},
	} {
		if c.got != c.want {
			t.Errorf("%s = %s, want %s", c.name, c.got, c.want)
		}
		if !filepath.IsAbs(c.got) {
			t.Errorf("%s = %s, want an absolute path", c.name, c.got)
		}
	}
	if want := filepath.Join(dir, "data", "sample_docs"); loaded.Ingest.Source != want {
		t.Errorf("loaded ingest.source = %s, want %s", loaded.Ingest.Source, want)
	}
}

func TestLoad_envOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RAG_BACKEND", "qdrant")
	t.Setenv("QDRANT_URL", "http://vector-db:6333")
	t.Setenv("EMBEDDING_PROVIDER", "HASH")
	t.Setenv("LOG_LEVEL", "debug")

	path := writeConfig(t, `
store:
  backend: local
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.BackendName() != BackendRemote {
		t.Errorf("backend = %s, want remote", cfg.Store.BackendName())
	}
	if cfg.Store.Remote.URL != "http://vector-db:6333" {
		t.Errorf("remote url = %s", cfg.Store.Remote.URL)
	}
	if cfg.Embedding.Provider != "hash" {
		t.Errorf("provider = %s, want hash", cfg.Embedding.Provider)
	}
	if !cfg.Debug {
		t.Error("LOG_LEVEL=debug should enable debug")
	}
}

func TestApplyEnv_indexDirWinsOverFaissDir(t *testing.T) {
	clearEnv(t)
	t.Setenv("FAISS_DIR", "/legacy")
	t.Setenv("INDEX_DIR", "/preferred")
	cfg := &Config{}
	ApplyEnv(cfg)
	if cfg.Store.Local.Dir != "/preferred" {
		t.Errorf("dir = %s, want /preferred", cfg.Store.Local.Dir)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Store.BackendName() != BackendLocal {
		t.Errorf("default backend: got %s", cfg.Store.BackendName())
	}
	if cfg.Store.Remote.Collection != "docs" {
		t.Errorf("default collection: got %s", cfg.Store.Remote.Collection)
	}
	if cfg.Embedding.Model != "sentence-transformers/all-MiniLM-L6-v2" {
		t.Errorf("default model: got %s", cfg.Embedding.Model)
	}
	if cfg.Retrieval.DefaultK != 3 {
		t.Errorf("default k: got %d", cfg.Retrieval.DefaultK)
	}
	if len(cfg.Ingest.Extensions) != 3 || cfg.Ingest.Extensions[0] != ".txt" {
		t.Errorf("ingest extensions: got %v", cfg.Ingest.Extensions)
	}
	cfg.Ingest.Extensions[0] = ".rst"
	if DefaultExtensions[0] != ".txt" {
		t.Error("defaults must not alias DefaultExtensions")
	}
}

func TestStoreConfig_BackendName(t *testing.T) {
	tests := map[string]string{
		"":         BackendLocal,
		"local":    BackendLocal,
		"faiss":    BackendLocal,
		"FAISS":    BackendLocal,
		"remote":   BackendRemote,
		"qdrant":   BackendRemote,
		"pinecone": "pinecone",
	}
	for in, want := range tests {
		s := StoreConfig{Backend: in}
		if got := s.BackendName(); got != want {
			t.Errorf("BackendName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		cfg := &Config{}
		ApplyDefaults(cfg)
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() = %v", err)
		}
	})
	t.Run("unknown backend", func(t *testing.T) {
		cfg := &Config{Store: StoreConfig{Backend: "pinecone"}}
		ApplyDefaults(cfg)
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for unknown backend")
		}
	})
	t.Run("unknown provider", func(t *testing.T) {
		cfg := &Config{Embedding: EmbeddingConfig{Provider: "openai"}}
		ApplyDefaults(cfg)
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for unknown provider")
		}
	})
	t.Run("redis cache without url", func(t *testing.T) {
		cfg := &Config{Embedding: EmbeddingConfig{Cache: CacheConfig{Backend: "redis"}}}
		ApplyDefaults(cfg)
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for redis cache without url")
		}
	})
	t.Run("chunk overlap not smaller than size", func(t *testing.T) {
		cfg := &Config{Ingest: IngestConfig{ChunkSize: 50, ChunkOverlap: 50}}
		ApplyDefaults(cfg)
		if err := cfg.Validate(); err == nil {
			t.Error("expected error for chunk_overlap >= chunk_size")
		}
	})
}

func TestSave(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "saved.yaml")
	cfg := &Config{
		Server: ServerConfig{Host: "localhost", Port: 9090},
		Store:  StoreConfig{Backend: "local", Local: LocalStoreConfig{Dir: "/tmp/idx"}},
	}
	ApplyDefaults(cfg)
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Store.Remote.Timeout != 10*time.Second {
		t.Errorf("loaded timeout: got %v", loaded.Store.Remote.Timeout)
	}
}
