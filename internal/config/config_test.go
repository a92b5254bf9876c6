package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Orchestrator.MaxVms != 10 {
		t.Errorf("default MaxVms = %d, want 10", cfg.Orchestrator.MaxVms)
	}
	if cfg.Orchestrator.VmStartTimeout != 10*time.Minute {
		t.Errorf("default VmStartTimeout = %v, want 10m", cfg.Orchestrator.VmStartTimeout)
	}
	if cfg.Orchestrator.WorkerPoolSize != 8 {
		t.Errorf("default WorkerPoolSize = %d, want 8", cfg.Orchestrator.WorkerPoolSize)
	}
	if cfg.BatchSystem.Mode != "replay" {
		t.Errorf("default batch mode = %q, want replay", cfg.BatchSystem.Mode)
	}
}

func TestLoadFromFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"orchestrator": {"max_vms": 50},
		"web": {"addr": ":9999"}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Orchestrator.MaxVms != 50 {
		t.Errorf("MaxVms = %d, want file override 50", cfg.Orchestrator.MaxVms)
	}
	if cfg.Web.Addr != ":9999" {
		t.Errorf("Web.Addr = %q, want file override :9999", cfg.Web.Addr)
	}
	if cfg.Orchestrator.MaxDelta != 2 {
		t.Errorf("MaxDelta = %d, want untouched default 2", cfg.Orchestrator.MaxDelta)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("want error for missing config file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("VMMAD_MAX_VMS", "25")
	t.Setenv("VMMAD_DELAY", "45s")
	t.Setenv("VMMAD_POLICY_NAME_PREFIX", "cloud-")
	t.Setenv("VMMAD_CHECKPOINT_ENABLED", "true")
	t.Setenv("VMMAD_AUDIT_DSN", "postgres://localhost/vmmad")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Orchestrator.MaxVms != 25 {
		t.Errorf("MaxVms = %d, want env override 25", cfg.Orchestrator.MaxVms)
	}
	if cfg.Orchestrator.Delay != 45*time.Second {
		t.Errorf("Delay = %v, want 45s", cfg.Orchestrator.Delay)
	}
	if cfg.Policy.NamePrefix != "cloud-" {
		t.Errorf("NamePrefix = %q, want cloud-", cfg.Policy.NamePrefix)
	}
	if !cfg.Checkpoint.Enabled {
		t.Error("checkpoint should be enabled from env")
	}
	if !cfg.Audit.Enabled || cfg.Audit.DSN != "postgres://localhost/vmmad" {
		t.Error("setting the audit DSN should enable the audit log")
	}
}

func TestLoadFromEnvIgnoresInvalid(t *testing.T) {
	t.Setenv("VMMAD_MAX_VMS", "not-a-number")
	cfg := DefaultConfig()
	LoadFromEnv(cfg)
	if cfg.Orchestrator.MaxVms != 10 {
		t.Errorf("invalid env value should keep the default, got %d", cfg.Orchestrator.MaxVms)
	}
}
