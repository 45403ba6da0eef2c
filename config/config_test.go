package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileIsDefault(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg/data")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ScriptsDir != "/xdg/data/kitrun/scripts" {
		t.Errorf("ScriptsDir = %q", cfg.ScriptsDir)
	}
	if cfg.RegistryPath != "/xdg/data/kitrun/processes.json" {
		t.Errorf("RegistryPath = %q", cfg.RegistryPath)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
scripts_dir = "/home/u/scripts"
interpreter = "node"
grace_period = "750ms"
inbound_buffer = 10
log_level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ScriptsDir != "/home/u/scripts" {
		t.Errorf("ScriptsDir = %q", cfg.ScriptsDir)
	}
	if cfg.Interpreter != "node" {
		t.Errorf("Interpreter = %q", cfg.Interpreter)
	}
	if time.Duration(cfg.GracePeriod) != 750*time.Millisecond {
		t.Errorf("GracePeriod = %v, want 750ms", time.Duration(cfg.GracePeriod))
	}
	if cfg.InboundBuffer != 10 {
		t.Errorf("InboundBuffer = %d, want 10", cfg.InboundBuffer)
	}
	// Unset fields keep their defaults.
	if cfg.RegistryPath == "" {
		t.Error("RegistryPath lost its default")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("scripts_dir = [broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() error = nil, want parse error")
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`grace_period = "soon"`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() error = nil, want duration parse error")
	}
}

func TestEngineOptionsOnlySetFields(t *testing.T) {
	if got := (Config{}).EngineOptions(); len(got) != 0 {
		t.Errorf("zero config produced %d options, want 0", len(got))
	}

	cfg := Config{Interpreter: "bun", GracePeriod: Duration(time.Second), OutboundBuffer: 5}
	if got := cfg.EngineOptions(); len(got) != 3 {
		t.Errorf("EngineOptions() len = %d, want 3", len(got))
	}
}
