package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"CONFIG_FILE", "LISTEN_ADDR", "ARCHIVE_BASE_URL", "REDIS_URL", "DATABASE_URL", "MAX_CONCURRENT_GAMES", "FINISHED_GRACE_SEC", "DISCONNECT_GRACE_SEC", "ARCHIVE_MAX_ATTEMPTS"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":3001" || cfg.MaxConcurrentGames != 200 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.FinishedGrace() != 60*time.Second || cfg.DisconnectGrace() != 5*time.Minute {
		t.Fatalf("grace windows = %v / %v", cfg.FinishedGrace(), cfg.DisconnectGrace())
	}
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arena.yaml")
	yml := "listen_addr: \":9000\"\nredis_url: \"redis://file:6379\"\nfinished_grace_sec: 10\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("REDIS_URL", "redis://env:6379")
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("FINISHED_GRACE_SEC", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Fatalf("listen addr = %q, want file value", cfg.ListenAddr)
	}
	if cfg.FinishedGraceSec != 10 {
		t.Fatalf("finished grace = %d, want file value", cfg.FinishedGraceSec)
	}
	if cfg.RedisURL != "redis://env:6379" {
		t.Fatalf("redis url = %q, env must override file", cfg.RedisURL)
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
