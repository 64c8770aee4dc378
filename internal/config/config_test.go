package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vidmill/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, used, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if used != "" {
		t.Fatalf("expected defaults, got file %q", used)
	}
	if cfg.Workflow.Workers["cpu"] != 2 || cfg.Workflow.Workers["gpu"] != 1 {
		t.Fatalf("unexpected default workers: %v", cfg.Workflow.Workers)
	}
	if cfg.Paths.MonitorBind == "" {
		t.Fatal("expected monitor bind default")
	}
}

func TestLoadParsesAndExpands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[paths]
data_dir = "` + dir + `/data"
log_dir = "` + dir + `/logs"

[workflow.workers]
cpu = 4
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, used, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if used != path {
		t.Fatalf("expected %q, got %q", path, used)
	}
	if cfg.Workflow.Workers["cpu"] != 4 {
		t.Fatalf("worker override not applied: %v", cfg.Workflow.Workers)
	}
	if !filepath.IsAbs(cfg.Paths.DataDir) {
		t.Fatalf("expected absolute data dir, got %q", cfg.Paths.DataDir)
	}
	if cfg.QueueDBPath() != filepath.Join(cfg.Paths.DataDir, "jobs.db") {
		t.Fatalf("unexpected queue db path: %q", cfg.QueueDBPath())
	}
}

func TestValidateRejectsOversizedHeartbeat(t *testing.T) {
	cfg := config.Default()
	cfg.Workflow.HeartbeatInterval = 90
	cfg.Workflow.LeaseTTL = 100
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "heartbeat_interval") {
		t.Fatalf("expected heartbeat validation error, got %v", err)
	}
}

func TestValidateRejectsEmptyWorkerClass(t *testing.T) {
	cfg := config.Default()
	cfg.Workflow.Workers = map[string]int{"gpu": 0}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero worker count")
	}
}

func TestEnsureDirectoriesCreatesZones(t *testing.T) {
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, zone := range []string{"incoming", "working", "processing", "completed"} {
		if _, err := os.Stat(cfg.ZoneDir(zone)); err != nil {
			t.Fatalf("zone %s missing: %v", zone, err)
		}
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected overwrite refusal")
	}
	if _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config must load cleanly: %v", err)
	}
}
