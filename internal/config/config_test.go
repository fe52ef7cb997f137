package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	def := Default()
	if cfg.Journal.SwitchThreshold != def.Journal.SwitchThreshold ||
		cfg.Storage.PageSizeBytes != def.Storage.PageSizeBytes {
		t.Fatalf("missing file did not yield defaults: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
storage:
  path: /tmp/demo/demo.db
  page_size: 8192
journal:
  switch_threshold: 64
  compressor: zstd
  enable_fsync: true
  log_dir: /tmp/logs
logger:
  level: DEBUG
  json: true
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.PageSizeBytes != 8192 || cfg.Journal.SwitchThreshold != 64 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Journal.Compressor != "zstd" || !cfg.Journal.EnableFsync {
		t.Fatalf("journal overrides not applied: %+v", cfg.Journal)
	}

	if got := cfg.JournalDir(); got != "/tmp/logs" {
		t.Errorf("JournalDir = %q", got)
	}
	if got := cfg.JournalStem(); got != "/tmp/logs/demo.db" {
		t.Errorf("JournalStem = %q", got)
	}
}

func TestJournalStemNextToDatabase(t *testing.T) {
	cfg := Default()
	cfg.Storage.Path = "/data/env/main.db"
	if got := cfg.JournalStem(); got != "/data/env/main.db" {
		t.Errorf("JournalStem = %q", got)
	}
}
