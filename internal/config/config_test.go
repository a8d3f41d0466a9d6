package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
version: 1
pool:
  max_sessions: 8
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pool.MaxSessions != 8 {
		t.Fatalf("expected max_sessions override to survive, got %d", cfg.Pool.MaxSessions)
	}
	if cfg.Pool.MaxUsesPerSession != 20 {
		t.Fatalf("expected default max_uses_per_session, got %d", cfg.Pool.MaxUsesPerSession)
	}
	if cfg.Perception.LightningBudget != 50*time.Millisecond {
		t.Fatalf("expected default lightning budget 50ms, got %v", cfg.Perception.LightningBudget)
	}
	if cfg.Classifier.Mode != "rule" {
		t.Fatalf("expected default classifier mode rule, got %q", cfg.Classifier.Mode)
	}
	if cfg.Driver.Backend != "playwright" {
		t.Fatalf("expected default driver backend playwright, got %q", cfg.Driver.Backend)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
version: 1
pool:
  max_sessions: 3
  bogus_field: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadRejectsFutureVersion(t *testing.T) {
	path := writeConfig(t, `
version: 99
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected version error")
	}
	if !strings.Contains(err.Error(), "newer than this build") {
		t.Fatalf("expected newer-version message, got %v", err)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "pool.yaml")
	if err := os.WriteFile(basePath, []byte("pool:\n  max_sessions: 12\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	mainPath := filepath.Join(dir, "main.yaml")
	contents := "version: 1\n$include: pool.yaml\nclassifier:\n  mode: rule\n"
	if err := os.WriteFile(mainPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pool.MaxSessions != 12 {
		t.Fatalf("expected included max_sessions=12, got %d", cfg.Pool.MaxSessions)
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := LoadRaw(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pilot.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
