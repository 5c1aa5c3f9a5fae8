package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPath_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.Server.Addr)
	}
	if cfg.Stream.MessageTTL != 5*time.Hour {
		t.Fatalf("expected default ttl, got %v", cfg.Stream.MessageTTL)
	}
}

func TestLoadFromPath_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamgate.yaml")
	body := "server:\n  addr: \":9999\"\n  heartbeat_interval: 5s\nredis:\n  addr: \"localhost:6379\"\nlog:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("addr not overridden: %q", cfg.Server.Addr)
	}
	if cfg.Server.HeartbeatInterval != 5*time.Second {
		t.Fatalf("heartbeat not overridden: %v", cfg.Server.HeartbeatInterval)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("redis addr not overridden: %q", cfg.Redis.Addr)
	}
	// Untouched sections keep their defaults.
	if cfg.Server.AuthWorkers != 16 {
		t.Fatalf("auth workers lost default: %d", cfg.Server.AuthWorkers)
	}
}

func TestLoadFromPath_EnvironmentWins(t *testing.T) {
	t.Setenv("STREAMGATE_ADDR", ":7070")
	t.Setenv("STREAMGATE_MESSAGE_TTL", "1h")

	path := filepath.Join(t.TempDir(), "streamgate.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \":9999\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("env override lost: %q", cfg.Server.Addr)
	}
	if cfg.Stream.MessageTTL != time.Hour {
		t.Fatalf("env ttl lost: %v", cfg.Stream.MessageTTL)
	}
}

func TestLoadFromPath_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamgate.yaml")
	if err := os.WriteFile(path, []byte("server:\n  heartbeat_interval: -1s\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("expected validation error for negative heartbeat")
	}
}
