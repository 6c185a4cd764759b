// Package config implements TOML configuration loading, defaults, and
// validation for birdtag-go. Resolution is a three-layer override chain:
// built-in defaults, then the config file, then CLI flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	API       APIConfig       `toml:"api"`
	Auth      AuthConfig      `toml:"auth"`
	Transfers TransfersConfig `toml:"transfers"`
	Push      PushConfig      `toml:"push"`
	Watch     WatchConfig     `toml:"watch"`
	Catalog   CatalogConfig   `toml:"catalog"`
	Logging   LoggingConfig   `toml:"logging"`
}

// APIConfig controls the backend REST client.
type APIConfig struct {
	BaseURL        string `toml:"base_url"`
	RequestTimeout string `toml:"request_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// AuthConfig identifies the identity provider and where the fallback
// credential file lives.
type AuthConfig struct {
	AuthURL   string `toml:"auth_url"`
	TokenURL  string `toml:"token_url"`
	ClientID  string `toml:"client_id"`
	TokenPath string `toml:"token_path"`
}

// TransfersConfig controls parallel uploads and the transfer timeout.
// A transfer exceeding the timeout is canceled rather than left hanging
// on whatever the transport enforces.
type TransfersConfig struct {
	ParallelUploads int    `toml:"parallel_uploads"`
	TransferTimeout string `toml:"transfer_timeout"`
	CleanupGrace    string `toml:"cleanup_grace"`
}

// PushConfig controls the notification channel and its reconnect policy.
type PushConfig struct {
	Endpoint             string `toml:"endpoint"`
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
	ReconnectBaseDelay   string `toml:"reconnect_base_delay"`
	ReconnectMaxDelay    string `toml:"reconnect_max_delay"`
	ResyncOnReconnect    bool   `toml:"resync_on_reconnect"`
}

// WatchConfig controls the drop-folder watcher.
type WatchConfig struct {
	Dir         string `toml:"dir"`
	SettleDelay string `toml:"settle_delay"`
}

// CatalogConfig controls the local entity cache.
type CatalogConfig struct {
	DBPath string `toml:"db_path"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // text, json, or auto (tty detection)
}

// Default values applied before the config file is read.
const (
	DefaultRequestTimeout       = 30 * time.Second
	DefaultTransferTimeout      = 10 * time.Minute
	DefaultCleanupGrace         = 30 * time.Second
	DefaultParallelUploads      = 3
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultSettleDelay          = 2 * time.Second
)

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		API: APIConfig{
			RequestTimeout: DefaultRequestTimeout.String(),
			UserAgent:      "birdtag-go/0.1",
		},
		Auth: AuthConfig{
			TokenPath: defaultTokenPath(),
		},
		Transfers: TransfersConfig{
			ParallelUploads: DefaultParallelUploads,
			TransferTimeout: DefaultTransferTimeout.String(),
			CleanupGrace:    DefaultCleanupGrace.String(),
		},
		Push: PushConfig{
			MaxReconnectAttempts: DefaultMaxReconnectAttempts,
			ReconnectBaseDelay:   DefaultReconnectBaseDelay.String(),
			ReconnectMaxDelay:    DefaultReconnectMaxDelay.String(),
			ResyncOnReconnect:    true,
		},
		Watch: WatchConfig{
			SettleDelay: DefaultSettleDelay.String(),
		},
		Catalog: CatalogConfig{
			DBPath: defaultCatalogPath(),
		},
		Logging: LoggingConfig{
			LogLevel:  "info",
			LogFormat: "auto",
		},
	}
}

// DefaultConfigPath returns the standard config file location,
// $XDG_CONFIG_HOME/birdtag/config.toml (or ~/.config).
func DefaultConfigPath() string {
	return filepath.Join(configHome(), "birdtag", "config.toml")
}

func defaultTokenPath() string {
	return filepath.Join(configHome(), "birdtag", "credentials.json")
}

func defaultCatalogPath() string {
	return filepath.Join(configHome(), "birdtag", "catalog.db")
}

func configHome() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config")
}

// Duration parses a duration field, falling back when the field is empty.
func Duration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: invalid duration %q: %w", value, err)
	}

	return d, nil
}
