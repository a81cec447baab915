package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "roomviz.yaml", "server:\n  http_port: 9000\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 9000 {
		t.Fatalf("http_port = %d, want 9000", cfg.Server.HTTPPort)
	}
	if cfg.Poller.Interval != 2*time.Second || cfg.Poller.MaxAttempts != 150 || cfg.Poller.MaxConsecutiveErrors != 3 {
		t.Fatalf("unexpected poller defaults: %+v", cfg.Poller)
	}
	if cfg.Recovery.StalenessWindow != time.Hour {
		t.Fatalf("staleness window = %v, want 1h", cfg.Recovery.StalenessWindow)
	}
	if cfg.Recovery.StoreListTTL != 24*time.Hour {
		t.Fatalf("store list ttl = %v, want 24h", cfg.Recovery.StoreListTTL)
	}
	if cfg.Storage.Backend != "memory" || cfg.Renderer.Backend != "http" {
		t.Fatalf("unexpected backends: storage=%s renderer=%s", cfg.Storage.Backend, cfg.Renderer.Backend)
	}
	if cfg.Version != CurrentVersion {
		t.Fatalf("version = %d, want %d", cfg.Version, CurrentVersion)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "roomviz.yaml", "server:\n  host: 0.0.0.0\n  extra: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "auth without secret",
			yaml:    "auth:\n  enabled: true\n",
			wantErr: "jwt_secret",
		},
		{
			name:    "unknown storage backend",
			yaml:    "storage:\n  backend: floppy\n",
			wantErr: "storage.backend",
		},
		{
			name:    "postgres without dsn",
			yaml:    "storage:\n  backend: postgres\n",
			wantErr: "storage.postgres.dsn",
		},
		{
			name:    "gemini without key",
			yaml:    "renderer:\n  backend: gemini\n",
			wantErr: "renderer.gemini.api_key",
		},
		{
			name:    "analysis without key",
			yaml:    "analysis:\n  provider: openai\n",
			wantErr: "analysis.api_key",
		},
		{
			name:    "bad cron",
			yaml:    "recovery:\n  prune_schedule: \"every tuesday\"\n",
			wantErr: "prune_schedule",
		},
		{
			name:    "future version",
			yaml:    "version: 99\n",
			wantErr: "newer than this build",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "roomviz.yaml", tt.yaml)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("ROOMVIZ_TEST_RENDERER", "http://renderer.internal/api")
	path := writeConfig(t, "roomviz.yaml", `
renderer:
  base_url: ${ROOMVIZ_TEST_RENDERER}
  api_key: ${ROOMVIZ_TEST_MISSING:-fallback-key}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Renderer.BaseURL != "http://renderer.internal/api" {
		t.Fatalf("base_url = %q", cfg.Renderer.BaseURL)
	}
	if cfg.Renderer.APIKey != "fallback-key" {
		t.Fatalf("api_key = %q, want fallback-key", cfg.Renderer.APIKey)
	}
}

func TestLoadIncludesAndJSON5(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.json5")
	if err := os.WriteFile(base, []byte(`{
  // shared settings
  poller: { max_attempts: 10 },
  server: { http_port: 7000 },
}`), 0o600); err != nil {
		t.Fatalf("write base: %v", err)
	}
	main := filepath.Join(dir, "roomviz.yaml")
	if err := os.WriteFile(main, []byte("$include: base.json5\nserver:\n  http_port: 7100\n"), 0o600); err != nil {
		t.Fatalf("write main: %v", err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Poller.MaxAttempts != 10 {
		t.Fatalf("max_attempts = %d, want 10 from include", cfg.Poller.MaxAttempts)
	}
	if cfg.Server.HTTPPort != 7100 {
		t.Fatalf("http_port = %d, want including file to win", cfg.Server.HTTPPort)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("$include: b.yaml\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("$include: a.yaml\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(a); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("schema is not valid JSON: %v", err)
	}
	if !strings.Contains(string(data), "staleness_window") {
		t.Fatalf("expected yaml field names in schema")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := validate(cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}
