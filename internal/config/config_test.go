package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
platform:
  url: https://cloud.example.com
  secret: shh
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Platform.URL != "https://cloud.example.com" {
		t.Errorf("platform.url = %q", cfg.Platform.URL)
	}
	if cfg.Listen.Port != 23000 {
		t.Errorf("default port = %d, want 23000", cfg.Listen.Port)
	}
	if cfg.Registry.CacheTTLSeconds != 60 {
		t.Errorf("default cache TTL = %d, want 60", cfg.Registry.CacheTTLSeconds)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
platform:
  url: https://stale.example.com
  secret: old
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("NEXTCLOUD_URL", "https://fresh.example.com")
	t.Setenv("APP_SECRET", "new")
	t.Setenv("APP_PORT", "9099")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Platform.URL != "https://fresh.example.com" {
		t.Errorf("env URL not applied: %q", cfg.Platform.URL)
	}
	if cfg.Platform.Secret != "new" {
		t.Errorf("env secret not applied")
	}
	if cfg.Listen.Port != 9099 {
		t.Errorf("env port not applied: %d", cfg.Listen.Port)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{Listen: ListenConfig{Port: 8080}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing platform URL")
	}

	cfg.Platform.URL = "https://cloud.example.com"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing secret")
	}

	cfg.Platform.Secret = "s"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{"Debug", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tc := range cases {
		got, err := ParseLogLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
