package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_WithDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg == nil {
		t.Fatal("Load() returned nil config")
	}

	if cfg.Server.Port != 8090 {
		t.Errorf("Server.Port = %d, want 8090", cfg.Server.Port)
	}

	if cfg.Module.Self != "design" {
		t.Errorf("Module.Self = %q, want %q", cfg.Module.Self, "design")
	}

	if len(cfg.Module.Peers) != 4 {
		t.Errorf("Module.Peers = %v, want 4 peers", cfg.Module.Peers)
	}

	if cfg.Transport.AckWait != 3*time.Second {
		t.Errorf("Transport.AckWait = %v, want 3s", cfg.Transport.AckWait)
	}

	if cfg.Transport.FallbackAttempts != 3 {
		t.Errorf("Transport.FallbackAttempts = %d, want 3", cfg.Transport.FallbackAttempts)
	}

	if got := cfg.Transport.Endpoints["finance"]; got != "http://finance:8080" {
		t.Errorf("Transport.Endpoints[finance] = %q, want %q", got, "http://finance:8080")
	}

	if cfg.Validation.Timeout != 48*time.Hour {
		t.Errorf("Validation.Timeout = %v, want 48h", cfg.Validation.Timeout)
	}

	if cfg.Validation.GracePeriod != 10*time.Minute {
		t.Errorf("Validation.GracePeriod = %v, want 10m", cfg.Validation.GracePeriod)
	}

	if cfg.Scheduler.TimeoutSweepInterval != time.Minute {
		t.Errorf("Scheduler.TimeoutSweepInterval = %v, want 1m", cfg.Scheduler.TimeoutSweepInterval)
	}

	if cfg.Database.Backend != "postgres" {
		t.Errorf("Database.Backend = %q, want %q", cfg.Database.Backend, "postgres")
	}

	if cfg.Dedup.Backend != "memory" {
		t.Errorf("Dedup.Backend = %q, want %q", cfg.Dedup.Backend, "memory")
	}

	if cfg.Dedup.TTL != 24*time.Hour {
		t.Errorf("Dedup.TTL = %v, want 24h", cfg.Dedup.TTL)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}

	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  port: 9999\nmodule:\n  self: atelier\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}

	if cfg.Module.Self != "atelier" {
		t.Errorf("Module.Self = %q, want %q", cfg.Module.Self, "atelier")
	}

	// Untouched keys keep their defaults.
	if cfg.Transport.AckWait != 3*time.Second {
		t.Errorf("Transport.AckWait = %v, want 3s", cfg.Transport.AckWait)
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	// When a specific file path is given and doesn't exist, it should error
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() with non-existent file path should return error")
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("invalid: yaml: : :"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("Load() with invalid YAML should return error")
	}
}
