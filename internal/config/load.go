package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads the config file at path over the built-in defaults. A missing
// file is not an error — defaults apply unchanged. Unknown keys in the file
// are rejected so typos surface instead of silently doing nothing.
func Load(path string, logger *slog.Logger) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug("no config file, using defaults", slog.String("path", path))
		return cfg, nil
	}

	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	meta, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	logger.Debug("config loaded", slog.String("path", path))

	return cfg, nil
}

// Validate checks cross-field constraints and duration syntax.
func Validate(cfg Config) error {
	durations := []struct {
		name  string
		value string
	}{
		{"api.request_timeout", cfg.API.RequestTimeout},
		{"transfers.transfer_timeout", cfg.Transfers.TransferTimeout},
		{"transfers.cleanup_grace", cfg.Transfers.CleanupGrace},
		{"push.reconnect_base_delay", cfg.Push.ReconnectBaseDelay},
		{"push.reconnect_max_delay", cfg.Push.ReconnectMaxDelay},
		{"watch.settle_delay", cfg.Watch.SettleDelay},
	}

	for _, d := range durations {
		if _, err := Duration(d.value, 0); err != nil {
			return fmt.Errorf("config: %s: %w", d.name, err)
		}
	}

	if cfg.Transfers.ParallelUploads < 0 {
		return fmt.Errorf("config: transfers.parallel_uploads must not be negative")
	}

	if cfg.Push.MaxReconnectAttempts < 0 {
		return fmt.Errorf("config: push.max_reconnect_attempts must not be negative")
	}

	switch cfg.Logging.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.log_level %q not one of debug, info, warn, error", cfg.Logging.LogLevel)
	}

	switch cfg.Logging.LogFormat {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("config: logging.log_format %q not one of auto, text, json", cfg.Logging.LogFormat)
	}

	return nil
}
