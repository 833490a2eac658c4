package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"loreline/internal/config"
)

func TestLoadWithoutFileUsesWorkspaceDefaults(t *testing.T) {
	ws := t.TempDir()
	cfg, err := config.Load(ws)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.HasPrefix(cfg.Storage.CacheDir, ws) {
		t.Fatalf("cache dir %q is not under workspace %q", cfg.Storage.CacheDir, ws)
	}
}

func TestLoadResolvesDefaultPathsAgainstWorkspace(t *testing.T) {
	ws := t.TempDir()
	// A partial file must not pin defaulted paths to the process cwd.
	yml := "server:\n  listen: \":9999\"\n"
	if err := os.WriteFile(config.Path(ws), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(ws)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Listen != ":9999" {
		t.Fatalf("listen = %s", cfg.Server.Listen)
	}
	if !strings.HasPrefix(cfg.Storage.CacheDir, ws) {
		t.Fatalf("cache dir %q is not under workspace %q", cfg.Storage.CacheDir, ws)
	}
	if want := filepath.Join(ws, ".loreline", "cache"); cfg.Storage.CacheDir != want {
		t.Fatalf("cache dir = %q, want %q", cfg.Storage.CacheDir, want)
	}
}

func TestLoadKeepsExplicitPaths(t *testing.T) {
	ws := t.TempDir()
	yml := "storage:\n  cache_dir: /var/cache/loreline\n"
	if err := os.WriteFile(config.Path(ws), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(ws)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.CacheDir != "/var/cache/loreline" {
		t.Fatalf("cache dir = %q", cfg.Storage.CacheDir)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Events.Buffer = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected buffer validation error")
	}
	cfg = config.Default(t.TempDir())
	cfg.Auth.APIKeys = []string{"ok", ""}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected empty api key rejection")
	}
}
