// Package config resolves the hub's settings from its TOML file,
// CONTENT_HUB_* environment variables, and built-in defaults, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "content-hub"
	// DefaultSocketName is the listening socket file inside the data dir.
	DefaultSocketName = "hub.sock"
	// DefaultManifestDirName holds the per-peer capability manifests.
	DefaultManifestDirName = "peers"
	// DefaultStagingDirName holds collected copies awaiting handover.
	DefaultStagingDirName = "staging"
	// DefaultLANPort is the port advertised with the mDNS announcement.
	DefaultLANPort = 7060
	// EnvPrefix namespaces the environment overrides.
	EnvPrefix = "CONTENT_HUB"
	// configFileName is the settings file, without extension.
	configFileName = "config"
)

// Config are the hub daemon's settings.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	// ManifestDir is where peer capability manifests are read from.
	ManifestDir string `mapstructure:"manifest_dir"`

	// StagingDir is where collected file items are copied for their
	// destination. Empty disables staging.
	StagingDir string `mapstructure:"staging_dir"`

	// Defaults maps a content type name to the peer preferred for it.
	Defaults map[string]string `mapstructure:"defaults"`

	Listen   ListenConfig   `mapstructure:"listen"`
	History  HistoryConfig  `mapstructure:"history"`
	Watchdog WatchdogConfig `mapstructure:"watchdog"`
	LAN      LANConfig      `mapstructure:"lan"`
	Log      LogConfig      `mapstructure:"log"`
}

// ListenConfig says where the hub accepts client connections.
type ListenConfig struct {
	Network string `mapstructure:"network"`
	Address string `mapstructure:"address"`
}

// HistoryConfig controls the concluded-transfer record.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// WatchdogConfig controls the idle-transfer reaper. A zero timeout
// disables it.
type WatchdogConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Interval time.Duration `mapstructure:"interval"`
}

// LANConfig controls announcing this hub's peers on the local network
// and discovering others.
type LANConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	ID      string `mapstructure:"id"`
	Name    string `mapstructure:"name"`
	Service string `mapstructure:"service"`
	Domain  string `mapstructure:"domain"`
	Port    int    `mapstructure:"port"`

	// Source, Destination, and Share are the content type names this
	// host announces for each role.
	Source      []string `mapstructure:"source"`
	Destination []string `mapstructure:"destination"`
	Share       []string `mapstructure:"share"`
}

// LogConfig controls the log output.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If CONTENT_HUB_DATA_DIR is set, its value is used as an explicit
// override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(EnvPrefix + "_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// Load reads the configuration. With an explicit path the file must
// exist; otherwise the data directory is searched and a missing file
// just means defaults.
func Load(path string) (*Config, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType("toml")
		v.AddConfigPath(dataDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	normalizeDefaults(&cfg, dataDir)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "")
	v.SetDefault("manifest_dir", "")
	v.SetDefault("staging_dir", "")
	v.SetDefault("listen.network", "unix")
	v.SetDefault("listen.address", "")
	v.SetDefault("history.enabled", true)
	v.SetDefault("watchdog.timeout", time.Duration(0))
	v.SetDefault("watchdog.interval", time.Duration(0))
	v.SetDefault("lan.enabled", false)
	v.SetDefault("lan.id", "")
	v.SetDefault("lan.name", "")
	v.SetDefault("lan.service", "")
	v.SetDefault("lan.domain", "")
	v.SetDefault("lan.port", DefaultLANPort)
	v.SetDefault("log.level", "info")
}

func normalizeDefaults(cfg *Config, dataDir string) {
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	if cfg.ManifestDir == "" {
		cfg.ManifestDir = filepath.Join(cfg.DataDir, DefaultManifestDirName)
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = filepath.Join(cfg.DataDir, DefaultStagingDirName)
	}
	if cfg.Listen.Network == "unix" && cfg.Listen.Address == "" {
		cfg.Listen.Address = filepath.Join(cfg.DataDir, DefaultSocketName)
	}
	if cfg.LAN.Name == "" {
		cfg.LAN.Name = "Content Hub"
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.LAN.Name = host
		}
	}
	if cfg.LAN.ID == "" {
		cfg.LAN.ID = "hub." + strings.ToLower(strings.ReplaceAll(cfg.LAN.Name, " ", "-"))
	}
	if cfg.LAN.Port <= 0 {
		cfg.LAN.Port = DefaultLANPort
	}
}

func (c *Config) validate() error {
	switch c.Listen.Network {
	case "unix", "tcp":
	default:
		return fmt.Errorf("config: unsupported listen network %q", c.Listen.Network)
	}
	if c.Listen.Address == "" {
		return errors.New("config: listen address is required")
	}
	if c.Watchdog.Timeout < 0 {
		return errors.New("config: watchdog timeout must not be negative")
	}
	return nil
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.ManifestDir,
	}
	if cfg.StagingDir != "" {
		dirs = append(dirs, cfg.StagingDir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}
