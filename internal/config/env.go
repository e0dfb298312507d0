package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variables that override file settings.
const (
	EnvDBPath           = "INDEXD_DB_PATH"
	EnvEmbedderProvider = "INDEXD_EMBEDDER_PROVIDER"
	EnvEmbedderURL      = "INDEXD_EMBEDDER_URL"
	EnvEmbedderModel    = "INDEXD_EMBEDDER_MODEL"
	EnvEmbedderDim      = "INDEXD_EMBEDDER_DIM"
	EnvHTTPNoProxy      = "INDEXD_HTTP_NO_PROXY"
	EnvMinIntervalMS    = "INDEXD_LLM_MIN_INTERVAL_MS"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg with any set environment variables. Blank values
// are ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvDBPath); ok {
		cfg.Storage.SnapshotPath = v
	}
	if v, ok := get(EnvEmbedderProvider); ok {
		cfg.Embedding.Provider = strings.ToLower(v)
	}
	if v, ok := get(EnvEmbedderURL); ok {
		cfg.Embedding.BaseURL = v
	}
	if v, ok := get(EnvEmbedderModel); ok {
		cfg.Embedding.Model = v
	}
	if v, ok := get(EnvEmbedderDim); ok {
		dim, err := strconv.Atoi(v)
		if err != nil || dim <= 0 {
			return fmt.Errorf("invalid %s %q: must be a positive integer", EnvEmbedderDim, v)
		}
		cfg.Embedding.Dimensions = dim
	}
	if v, ok := get(EnvHTTPNoProxy); ok {
		cfg.Embedding.NoProxy = truthy(v)
	}
	if v, ok := get(EnvMinIntervalMS); ok {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return fmt.Errorf("invalid %s %q: must be a non-negative integer", EnvMinIntervalMS, v)
		}
		cfg.Embedding.MinIntervalMS = ms
	}
	return nil
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
