package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("CONTENT_HUB_DATA_DIR", tempDir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DataDir != tempDir {
		t.Fatalf("expected data dir %q, got %q", tempDir, cfg.DataDir)
	}
	if cfg.Listen.Network != "unix" {
		t.Fatalf("expected unix listener, got %q", cfg.Listen.Network)
	}
	if want := filepath.Join(tempDir, DefaultSocketName); cfg.Listen.Address != want {
		t.Fatalf("expected socket %q, got %q", want, cfg.Listen.Address)
	}
	if want := filepath.Join(tempDir, DefaultManifestDirName); cfg.ManifestDir != want {
		t.Fatalf("expected manifest dir %q, got %q", want, cfg.ManifestDir)
	}
	if want := filepath.Join(tempDir, DefaultStagingDirName); cfg.StagingDir != want {
		t.Fatalf("expected staging dir %q, got %q", want, cfg.StagingDir)
	}
	if !cfg.History.Enabled {
		t.Fatalf("expected history to default on")
	}
	if cfg.Watchdog.Timeout != 0 {
		t.Fatalf("expected watchdog off by default, got %s", cfg.Watchdog.Timeout)
	}
	if cfg.LAN.Enabled {
		t.Fatalf("expected LAN discovery off by default")
	}
	if cfg.LAN.Name == "" {
		t.Fatalf("expected a fallback LAN name")
	}
	if !strings.HasPrefix(cfg.LAN.ID, "hub.") {
		t.Fatalf("expected a derived LAN id, got %q", cfg.LAN.ID)
	}
	if cfg.LAN.Port != DefaultLANPort {
		t.Fatalf("expected default LAN port, got %d", cfg.LAN.Port)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("expected info log level, got %q", cfg.Log.Level)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("CONTENT_HUB_DATA_DIR", tempDir)

	raw := `
manifest_dir = "/etc/content-hub/peers"

[listen]
network = "tcp"
address = "127.0.0.1:7060"

[history]
enabled = false

[watchdog]
timeout = "2m"

[defaults]
pictures = "org.example.gallery"

[lan]
enabled = true
name = "Living Room"
source = ["pictures", "videos"]
`
	if err := os.WriteFile(filepath.Join(tempDir, "config.toml"), []byte(raw), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen.Network != "tcp" || cfg.Listen.Address != "127.0.0.1:7060" {
		t.Fatalf("unexpected listener: %+v", cfg.Listen)
	}
	if cfg.History.Enabled {
		t.Fatalf("expected history disabled")
	}
	if cfg.Watchdog.Timeout != 2*time.Minute {
		t.Fatalf("expected 2m watchdog timeout, got %s", cfg.Watchdog.Timeout)
	}
	if cfg.Defaults["pictures"] != "org.example.gallery" {
		t.Fatalf("unexpected defaults: %v", cfg.Defaults)
	}
	if cfg.ManifestDir != "/etc/content-hub/peers" {
		t.Fatalf("unexpected manifest dir: %q", cfg.ManifestDir)
	}
	if !cfg.LAN.Enabled || cfg.LAN.Name != "Living Room" {
		t.Fatalf("unexpected LAN config: %+v", cfg.LAN)
	}
	if len(cfg.LAN.Source) != 2 || cfg.LAN.Source[0] != "pictures" {
		t.Fatalf("unexpected LAN source types: %v", cfg.LAN.Source)
	}
	if want := filepath.Join(tempDir, DefaultStagingDirName); cfg.StagingDir != want {
		t.Fatalf("expected staging dir still derived, got %q", cfg.StagingDir)
	}
}

func TestLoadExplicitPath(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("CONTENT_HUB_DATA_DIR", tempDir)

	path := filepath.Join(t.TempDir(), "hub.toml")
	raw := `
[listen]
network = "tcp"
address = "127.0.0.1:9000"
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen.Address != "127.0.0.1:9000" {
		t.Fatalf("unexpected address: %q", cfg.Listen.Address)
	}

	if _, err := Load(filepath.Join(tempDir, "absent.toml")); err == nil {
		t.Fatalf("expected an error for a missing explicit config file")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("CONTENT_HUB_DATA_DIR", tempDir)

	raw := `
[listen]
network = "unix"
`
	if err := os.WriteFile(filepath.Join(tempDir, "config.toml"), []byte(raw), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	t.Setenv("CONTENT_HUB_LISTEN_NETWORK", "tcp")
	t.Setenv("CONTENT_HUB_LISTEN_ADDRESS", "127.0.0.1:7733")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listen.Network != "tcp" {
		t.Fatalf("expected env to win, got %q", cfg.Listen.Network)
	}
	if cfg.Listen.Address != "127.0.0.1:7733" {
		t.Fatalf("unexpected address: %q", cfg.Listen.Address)
	}
}

func TestLoadRejectsUnsupportedNetwork(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("CONTENT_HUB_DATA_DIR", tempDir)
	t.Setenv("CONTENT_HUB_LISTEN_NETWORK", "udp")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected an error for an unsupported network")
	}
}

func TestEnsureDataDirectories(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("CONTENT_HUB_DATA_DIR", tempDir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := EnsureDataDirectories(cfg); err != nil {
		t.Fatalf("EnsureDataDirectories failed: %v", err)
	}

	for _, dir := range []string{cfg.ManifestDir, cfg.StagingDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be a directory", dir)
		}
	}
}
