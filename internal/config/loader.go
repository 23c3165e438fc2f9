package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/devauth"
	configFileName = "config.yaml"
)

// DefaultConfigDir returns the per-user configuration directory.
func DefaultConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// DefaultConfig returns the configuration used when no config file
// exists. Storage paths resolve to subdirectories of configDir.
func DefaultConfig(configDir string) Config {
	return Config{
		Storage: StorageConfig{
			CredentialsDir: filepath.Join(configDir, "credentials"),
			KeysDir:        filepath.Join(configDir, "keys"),
		},
		Device: DeviceConfig{
			Type: "cli",
			Name: "devauth CLI",
		},
	}
}

// Load reads config.yaml from configDir, layered over the defaults. A
// missing file is not an error; a malformed one is.
func Load(configDir string) (Config, error) {
	cfg := DefaultConfig(configDir)

	path := filepath.Join(configDir, configFileName)
	data, err := os.ReadFile(path) // #nosec G304 -- fixed file name under the configured dir
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("no config file found, using defaults", "path", path)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config from %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config from %s: %w", path, err)
	}

	// An explicit empty storage path falls back to the default.
	defaults := DefaultConfig(configDir)
	if cfg.Storage.CredentialsDir == "" {
		cfg.Storage.CredentialsDir = defaults.Storage.CredentialsDir
	}
	if cfg.Storage.KeysDir == "" {
		cfg.Storage.KeysDir = defaults.Storage.KeysDir
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	slog.Debug("loaded configuration", "path", path)
	return cfg, nil
}

// Save writes the configuration to config.yaml under configDir,
// creating the directory if needed.
func Save(configDir string, cfg Config) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	path := filepath.Join(configDir, configFileName)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", path, err)
	}
	return nil
}
