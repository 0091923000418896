package config

import (
	"path/filepath"
	"testing"
)

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("LIVEFEED_TOKEN", "")
	t.Setenv("LIVEFEED_HOME_DIR", t.TempDir())

	if _, err := Load(); err == nil {
		t.Fatal("expected error without token")
	}
}

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("LIVEFEED_TOKEN", "tok")
	t.Setenv("LIVEFEED_HOME_DIR", home)
	t.Setenv("LIVEFEED_SERVER_URL", "")
	t.Setenv("DEBUG", "")
	t.Setenv("LIVEFEED_DEBUG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "https://api.livefeed.dev" {
		t.Fatalf("wrong default server: %s", cfg.ServerURL)
	}
	if cfg.HomeDir != home {
		t.Fatalf("home not honored: %s", cfg.HomeDir)
	}
	if cfg.AssistSessionFile != filepath.Join(home, "assist.session") {
		t.Fatalf("wrong session file: %s", cfg.AssistSessionFile)
	}
	if cfg.Debug {
		t.Fatal("debug enabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LIVEFEED_TOKEN", "tok")
	t.Setenv("LIVEFEED_HOME_DIR", t.TempDir())
	t.Setenv("LIVEFEED_SERVER_URL", "http://localhost:3005")
	t.Setenv("LIVEFEED_DEBUG", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "http://localhost:3005" {
		t.Fatalf("server override ignored: %s", cfg.ServerURL)
	}
	if !cfg.Debug {
		t.Fatal("debug override ignored")
	}
}
