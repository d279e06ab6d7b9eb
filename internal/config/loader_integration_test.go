package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Integration tests that exercise the full LoadFrom pipeline:
// defaults < YAML < environment variables.

func TestLoadFrom_FullHierarchy(t *testing.T) {
	// YAML sets port=9090, env overrides to 7070. Env must win.
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
server:
  port: "9090"
logging:
  level: "debug"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("EVENTGATE_PORT", "7070")
	t.Setenv("EVENTGATE_LOG_LEVEL", "warn")

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("env should override YAML: got port %q, want 7070", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("env should override YAML: got level %q, want warn", cfg.Logging.Level)
	}
}

func TestLoadFrom_YAMLPartialOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
bridge:
  dedup_ttl: 30s
`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(yamlPath)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Bridge.DedupTTL != 30*time.Second {
		t.Errorf("got dedup ttl %v, want 30s", cfg.Bridge.DedupTTL)
	}
	// Defaults preserved
	if cfg.Server.Port != "8080" {
		t.Errorf("got port %q, want default 8080", cfg.Server.Port)
	}
	if cfg.Bridge.QueueSize != 1024 {
		t.Errorf("got queue size %d, want default 1024", cfg.Bridge.QueueSize)
	}
}

func TestLoadFrom_NoBridgeIsValid(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom without bridge URL should succeed, got %v", err)
	}
	if cfg.Bridge.URL != "" {
		t.Errorf("expected empty bridge URL, got %q", cfg.Bridge.URL)
	}
}

func TestLoadFrom_ValidationError(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(yamlPath, []byte(`
breaker:
  max_failures: 0
`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFrom(yamlPath); err == nil {
		t.Fatal("expected validation error, got nil")
	}
}
