// Package config provides configuration loading and structs for tansaku.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted in store.backend. "faiss" and "qdrant" are accepted as
// aliases for older settings files.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	AppEnv    string          `yaml:"app_env"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StoreConfig selects the vector store backend and its connection parameters.
type StoreConfig struct {
	Backend string            `yaml:"backend"`
	Local   LocalStoreConfig  `yaml:"local"`
	Remote  RemoteStoreConfig `yaml:"remote"`
}

// LocalStoreConfig holds the embedded index settings.
type LocalStoreConfig struct {
	Dir string `yaml:"dir"`
}

// RemoteStoreConfig holds the remote index service settings.
type RemoteStoreConfig struct {
	URL              string        `yaml:"url"`
	Collection       string        `yaml:"collection"`
	Timeout          time.Duration `yaml:"timeout"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
}

// BackendName returns the canonical backend name, resolving legacy aliases.
func (s *StoreConfig) BackendName() string {
	switch strings.ToLower(strings.TrimSpace(s.Backend)) {
	case "", BackendLocal, "faiss":
		return BackendLocal
	case BackendRemote, "qdrant":
		return BackendRemote
	default:
		return strings.ToLower(strings.TrimSpace(s.Backend))
	}
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	Provider   string       `yaml:"provider"`
	Model      string       `yaml:"model"`
	ModelPath  string       `yaml:"model_path"`
	Dimensions int          `yaml:"dimensions"`
	MaxTokens  int          `yaml:"max_tokens"`
	CacheSize  int          `yaml:"cache_size"`
	Cache      CacheConfig  `yaml:"cache"`
	Ollama     OllamaConfig `yaml:"ollama"`
}

// CacheConfig selects where computed embeddings are cached.
type CacheConfig struct {
	Backend  string        `yaml:"backend"` // memory, redis or none
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// OllamaConfig holds settings for the Ollama embedding provider.
type OllamaConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// IngestConfig holds ingestion job settings.
type IngestConfig struct {
	Source        string   `yaml:"source"`
	Extensions    []string `yaml:"extensions"`
	Recursive     bool     `yaml:"recursive"`
	SkipUnchanged bool     `yaml:"skip_unchanged"`
	// ChunkSize splits files into overlapping word windows; 0 stores each file whole.
	ChunkSize    int   `yaml:"chunk_size"`
	ChunkOverlap int   `yaml:"chunk_overlap"`
	MaxFileBytes int64 `yaml:"max_file_bytes"`
}

// CatalogConfig holds the ingestion catalogue database location.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// RetrievalConfig holds retrieval defaults.
type RetrievalConfig struct {
	DefaultK int `yaml:"default_k"`
	MaxK     int `yaml:"max_k"`
}

// Default returns a configuration with defaults and environment overrides
// applied. Paths are expanded as Load would for a config file in the working
// directory.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)
	baseDir, err := os.Getwd()
	if err != nil {
		baseDir = "."
	}
	expandPaths(&cfg, baseDir)
	return &cfg
}

// Load reads and parses the config file at path, applies defaults and environment
// overrides, expands paths and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)

	expandPaths(&cfg, filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects option values no component can act on.
func (c *Config) Validate() error {
	switch c.Store.BackendName() {
	case BackendLocal:
		if c.Store.Local.Dir == "" {
			return fmt.Errorf("store.local.dir is required for the local backend")
		}
	case BackendRemote:
		if c.Store.Remote.URL == "" {
			return fmt.Errorf("store.remote.url is required for the remote backend")
		}
		if c.Store.Remote.Collection == "" {
			return fmt.Errorf("store.remote.collection is required for the remote backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q (supported: local, remote)", c.Store.Backend)
	}
	switch c.Embedding.Provider {
	case "onnx", "ollama", "hash":
	default:
		return fmt.Errorf("unknown embedding provider %q (supported: onnx, ollama, hash)", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	switch c.Embedding.Cache.Backend {
	case "memory", "none":
	case "redis":
		if c.Embedding.Cache.RedisURL == "" {
			return fmt.Errorf("embedding.cache.redis_url is required for the redis cache")
		}
	default:
		return fmt.Errorf("unknown embedding cache backend %q (supported: memory, redis, none)", c.Embedding.Cache.Backend)
	}
	if c.Ingest.ChunkSize < 0 || c.Ingest.ChunkOverlap < 0 {
		return fmt.Errorf("ingest.chunk_size and ingest.chunk_overlap must not be negative")
	}
	if c.Ingest.ChunkSize > 0 && c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than ingest.chunk_size (%d)", c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if c.Retrieval.DefaultK < 0 || c.Retrieval.MaxK < 0 {
		return fmt.Errorf("retrieval.default_k and retrieval.max_k must not be negative")
	}
	return nil
}

func expandPaths(cfg *Config, configDir string) {
	cfg.Store.Local.Dir = expandPath(cfg.Store.Local.Dir, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Catalog.Path = expandPath(cfg.Catalog.Path, configDir)
	cfg.Ingest.Source = expandPath(cfg.Ingest.Source, configDir)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
