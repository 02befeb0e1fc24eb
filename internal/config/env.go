package config

import (
	"os"
	"strings"
)

// ApplyEnv overrides cfg with values from the environment (RAG_BACKEND, FAISS_DIR,
// QDRANT_URL and friends) so existing .env files keep working.
func ApplyEnv(cfg *Config) {
	if v, ok := lookup("APP_ENV"); ok {
		cfg.AppEnv = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && strings.EqualFold(v, "debug") {
		cfg.Debug = true
	}
	if v, ok := lookup("RAG_BACKEND"); ok {
		cfg.Store.Backend = v
	}
	if v, ok := lookup("FAISS_DIR"); ok {
		cfg.Store.Local.Dir = v
	}
	// INDEX_DIR wins over the legacy FAISS_DIR when both are set.
	if v, ok := lookup("INDEX_DIR"); ok {
		cfg.Store.Local.Dir = v
	}
	if v, ok := lookup("QDRANT_URL"); ok {
		cfg.Store.Remote.URL = v
	}
	if v, ok := lookup("QDRANT_COLLECTION"); ok {
		cfg.Store.Remote.Collection = v
	}
	if v, ok := lookup("EMBEDDING_PROVIDER"); ok {
		cfg.Embedding.Provider = strings.ToLower(v)
	}
	if v, ok := lookup("EMBEDDING_MODEL"); ok {
		cfg.Embedding.Model = v
	}
	if v, ok := lookup("REDIS_URL"); ok {
		cfg.Embedding.Cache.RedisURL = v
	}
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
