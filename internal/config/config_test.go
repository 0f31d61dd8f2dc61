package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.ApprovalTimeoutSeconds != 300 {
		t.Errorf("ApprovalTimeoutSeconds = %d, want 300", cfg.ApprovalTimeoutSeconds)
	}
	if cfg.AutoRemediationEnabled {
		t.Error("AutoRemediationEnabled should default to false")
	}
	if !cfg.WatchloopEnabled {
		t.Error("WatchloopEnabled should default to true")
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Errorf("Load with missing file = %+v, want defaults", cfg)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"listen_addr":":9090","watchloop_interval_seconds":60}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.ListenAddr)
	}
	if cfg.WatchloopIntervalSeconds != 60 {
		t.Errorf("WatchloopIntervalSeconds = %d, want 60", cfg.WatchloopIntervalSeconds)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"listen_addr":":9090"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KUBERNAUT_LISTEN_ADDR", ":7070")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("ListenAddr = %q, want env override :7070", cfg.ListenAddr)
	}
}

func TestEnvBoolAndInt(t *testing.T) {
	t.Setenv("KUBERNAUT_AUTO_REMEDIATION_ENABLED", "true")
	t.Setenv("KUBERNAUT_APPROVAL_TIMEOUT_SECONDS", "120")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.AutoRemediationEnabled {
		t.Error("AutoRemediationEnabled should be true from env")
	}
	if cfg.ApprovalTimeoutSeconds != 120 {
		t.Errorf("ApprovalTimeoutSeconds = %d, want 120", cfg.ApprovalTimeoutSeconds)
	}
}
