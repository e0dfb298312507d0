package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func noEnv(string) (string, bool) { return "", false }

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  snapshot_path: "/tmp/indexd/store.jsonl"
embedding:
  provider: hash
  dimensions: 16
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Server.Addr() != "127.0.0.1:9000" {
		t.Errorf("addr: got %s", cfg.Server.Addr())
	}
	if cfg.Storage.SnapshotPath != "/tmp/indexd/store.jsonl" {
		t.Errorf("snapshot_path: got %s", cfg.Storage.SnapshotPath)
	}
	if cfg.Embedding.Provider != "hash" || cfg.Embedding.Dimensions != 16 {
		t.Errorf("unexpected embedding config: %+v", cfg.Embedding)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_durations(t *testing.T) {
	path := writeConfig(t, `
server:
  request_timeout: 5s
embedding:
  timeout: 1m
  min_interval_ms: 250
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.RequestTimeout != 5*time.Second {
		t.Errorf("request_timeout: got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Embedding.Timeout != time.Minute {
		t.Errorf("timeout: got %v", cfg.Embedding.Timeout)
	}
	if cfg.Embedding.MinInterval() != 250*time.Millisecond {
		t.Errorf("min interval: got %v", cfg.Embedding.MinInterval())
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  snapshot_path: "./data/store.jsonl"
  import_dir: "./inbox"
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "data", "store.jsonl")
	if cfg.Storage.SnapshotPath != want {
		t.Errorf("snapshot_path = %s, want %s", cfg.Storage.SnapshotPath, want)
	}
	if cfg.Storage.ImportDir != filepath.Join(dir, "inbox") {
		t.Errorf("import_dir = %s", cfg.Storage.ImportDir)
	}
	if cfg.Storage.EmbeddingCachePath != "" {
		t.Errorf("empty path should stay empty, got %s", cfg.Storage.EmbeddingCachePath)
	}
}

func TestLoad_envOverridesFile(t *testing.T) {
	path := writeConfig(t, `
storage:
  snapshot_path: "/tmp/from-file.jsonl"
embedding:
  provider: hash
`)
	t.Setenv(EnvDBPath, "/tmp/from-env.jsonl")
	t.Setenv(EnvEmbedderProvider, "Ollama")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.SnapshotPath != "/tmp/from-env.jsonl" {
		t.Errorf("snapshot_path: got %s", cfg.Storage.SnapshotPath)
	}
	if cfg.Embedding.Provider != "ollama" {
		t.Errorf("provider: got %s", cfg.Embedding.Provider)
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes != 2<<20 {
		t.Errorf("default max body: got %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Search.DefaultK != 10 {
		t.Errorf("default k: got %d", cfg.Search.DefaultK)
	}
	if cfg.Embedding.Provider != "" {
		t.Errorf("provider should stay unset, got %s", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Model != "nomic-embed-text" || cfg.Embedding.Dimensions != 768 {
		t.Errorf("embedding defaults: %+v", cfg.Embedding)
	}
	if cfg.Storage.SnapshotPath != "" {
		t.Errorf("persistence should be disabled by default, got %s", cfg.Storage.SnapshotPath)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvDBPath:           "/data/indexd.jsonl",
		EnvEmbedderProvider: "OLLAMA",
		EnvEmbedderURL:      "http://ollama:11434",
		EnvEmbedderModel:    "mxbai-embed-large",
		EnvEmbedderDim:      "1024",
		EnvHTTPNoProxy:      "1",
		EnvMinIntervalMS:    "500",
	}
	cfg := &Config{}
	ApplyDefaults(cfg)
	err := ApplyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatal(err)
	}
	e := cfg.Embedding
	if cfg.Storage.SnapshotPath != "/data/indexd.jsonl" {
		t.Errorf("snapshot_path: got %s", cfg.Storage.SnapshotPath)
	}
	if e.Provider != "ollama" || e.BaseURL != "http://ollama:11434" || e.Model != "mxbai-embed-large" {
		t.Errorf("embedding: %+v", e)
	}
	if e.Dimensions != 1024 || !e.NoProxy || e.MinIntervalMS != 500 {
		t.Errorf("embedding: %+v", e)
	}
}

func TestApplyEnv_blankIgnored(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{SnapshotPath: "/keep"}}
	err := ApplyEnv(cfg, func(k string) (string, bool) {
		return "  ", true
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.SnapshotPath != "/keep" {
		t.Errorf("blank env should not override, got %s", cfg.Storage.SnapshotPath)
	}
}

func TestApplyEnv_invalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{EnvEmbedderDim, "abc"},
		{EnvEmbedderDim, "0"},
		{EnvMinIntervalMS, "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := &Config{}
			err := ApplyEnv(cfg, func(k string) (string, bool) {
				if k == tt.key {
					return tt.value, true
				}
				return "", false
			})
			if err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestApplyEnv_noProxyFalse(t *testing.T) {
	cfg := &Config{Embedding: EmbeddingConfig{NoProxy: true}}
	if err := ApplyEnv(cfg, func(k string) (string, bool) {
		if k == EnvHTTPNoProxy {
			return "0", true
		}
		return noEnv(k)
	}); err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.NoProxy {
		t.Error("INDEXD_HTTP_NO_PROXY=0 should disable no_proxy")
	}
}

func TestMinInterval_zero(t *testing.T) {
	if got := (EmbeddingConfig{}).MinInterval(); got != 0 {
		t.Errorf("got %v", got)
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "saved.yaml")
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Server.Port = 9090
	cfg.Embedding.Provider = "hash"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode: got %v", info.Mode().Perm())
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 || loaded.Embedding.Provider != "hash" {
		t.Errorf("loaded: %+v", loaded)
	}
}
