package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dokzlo13/segcache/internal/config"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Script != config.Default().Script {
		t.Errorf("expected default script, got %s", cfg.Script)
	}
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("cache: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "main.lua")
	src := `
		local cache = require("cache")
		cache.set("seg", "id", {n = 1}, 60000)
		assert(cache.get("seg", "id").item.n == 1)
	`
	if err := os.WriteFile(script, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Cache.Base = filepath.Join(dir, "cache")
	cfg.Metrics.Enabled = true
	cfg.Script = script

	if err := run(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "cache", "seg.db")); err != nil {
		t.Errorf("expected segment file: %v", err)
	}
}

func TestRun_ScriptError(t *testing.T) {
	cfg := config.Default()
	cfg.Script = filepath.Join(t.TempDir(), "missing.lua")

	if err := run(context.Background(), cfg); err == nil {
		t.Error("expected error for missing script")
	}
}
