package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are treated as fatal errors with "did you
// mean?" suggestions — this strictness is deliberate because silently
// ignoring a typo in a config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values. This supports the zero-config
// first-run experience: users can start without creating a config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
// The precedence order ensures CLI flags always win, matching user
// expectations for one-off overrides without editing the config file.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.StorePath != "" {
		cfg.Store.Path = env.StorePath
	}

	if env.LogLevel != "" {
		cfg.Logging.LogLevel = env.LogLevel
	}

	if cli.StorePath != "" {
		cfg.Store.Path = cli.StorePath
	}

	if cli.LogLevel != "" {
		cfg.Logging.LogLevel = cli.LogLevel
	}

	cfg.Store.Path = ExpandPath(cfg.Store.Path)
	cfg.Store.KeyFile = ExpandPath(cfg.Store.KeyFile)
	cfg.Preferences.Path = ExpandPath(cfg.Preferences.Path)
	cfg.Providers.Outlook.TokenFile = ExpandPath(cfg.Providers.Outlook.TokenFile)
	cfg.Providers.Gmail.TokenFile = ExpandPath(cfg.Providers.Gmail.TokenFile)
	cfg.Providers.MacOS.SnapshotPath = ExpandPath(cfg.Providers.MacOS.SnapshotPath)
	cfg.Providers.Messages.DBPath = ExpandPath(cfg.Providers.Messages.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// StoreKey reads the database key from the configured key file. No key
// file means an unencrypted store.
func (c *Config) StoreKey() (string, error) {
	if c.Store.KeyFile == "" {
		return "", nil
	}

	data, err := os.ReadFile(c.Store.KeyFile)
	if err != nil {
		return "", fmt.Errorf("reading store key file: %w", err)
	}

	return strings.TrimSpace(string(data)), nil
}
