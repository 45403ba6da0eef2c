// Package config loads the launcher's TOML configuration.
//
// The file lives at $XDG_CONFIG_HOME/kitrun/config.toml (falling back to
// ~/.config). Every field is optional; a missing file yields the defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kitrun/kitrun/engine"
)

// Config is the launcher configuration.
type Config struct {
	// ScriptsDir holds the user's runnable scripts.
	ScriptsDir string `toml:"scripts_dir"`

	// Interpreter pins the JavaScript runtime ("bun", "node", or an
	// absolute path). Empty uses the bun→node fallback chain.
	Interpreter string `toml:"interpreter"`

	// SDKPreload is the SDK module preloaded into bun scripts.
	SDKPreload string `toml:"sdk_preload"`

	// RegistryPath is the on-disk live-PID table.
	RegistryPath string `toml:"registry_path"`

	// GracePeriod is the wait between the cooperative exit phase and the
	// group kill, e.g. "2s".
	GracePeriod Duration `toml:"grace_period"`

	// InboundBuffer and OutboundBuffer size the protocol channel queues.
	InboundBuffer  int `toml:"inbound_buffer"`
	OutboundBuffer int `toml:"outbound_buffer"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`
}

// Duration is a time.Duration that decodes from a TOML string like "2s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for toml.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		ScriptsDir:   filepath.Join(dataDir(), "scripts"),
		RegistryPath: filepath.Join(dataDir(), "processes.json"),
		LogLevel:     "info",
	}
}

// DefaultPath returns the expected location of the config file.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.toml")
}

// Load reads the configuration at path, layering it over the defaults.
// A missing file returns the defaults; a malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// EngineOptions translates the configuration into engine options,
// emitting only the fields the user actually set.
func (c Config) EngineOptions() []engine.EngineOption {
	var opts []engine.EngineOption
	if c.Interpreter != "" {
		opts = append(opts, engine.WithInterpreter(c.Interpreter))
	}
	if c.SDKPreload != "" {
		opts = append(opts, engine.WithSDKPreload(c.SDKPreload))
	}
	if c.GracePeriod > 0 {
		opts = append(opts, engine.WithGracePeriod(time.Duration(c.GracePeriod)))
	}
	if c.InboundBuffer > 0 {
		opts = append(opts, engine.WithInboundBuffer(c.InboundBuffer))
	}
	if c.OutboundBuffer > 0 {
		opts = append(opts, engine.WithOutboundBuffer(c.OutboundBuffer))
	}
	return opts
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kitrun")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "kitrun"
	}
	return filepath.Join(home, ".config", "kitrun")
}

func dataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "kitrun")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "kitrun"
	}
	return filepath.Join(home, ".local", "share", "kitrun")
}
