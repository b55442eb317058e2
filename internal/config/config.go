// Package config loads the host configuration file. All fields are
// optional; absent values fall back to the user-scoped defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alal76/inkpad/pkg/extapi"
)

// Config is the host configuration, read from ~/.inkpad/config.yaml.
type Config struct {
	Extensions ExtensionsConfig `yaml:"extensions"`
	Trust      TrustConfig      `yaml:"trust"`
	Log        LogConfig        `yaml:"log"`
}

// ExtensionsConfig configures module discovery.
type ExtensionsConfig struct {
	// Directory overrides the extension directory.
	Directory string `yaml:"directory"`
}

// TrustConfig configures signature verification.
type TrustConfig struct {
	// Disabled turns signature verification off. Development only;
	// every bypass is logged.
	Disabled bool `yaml:"disabled"`

	// Keyring overrides the trusted-keys file.
	Keyring string `yaml:"keyring"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// File redirects log output; empty means stderr.
	File string `yaml:"file"`
}

// Default returns the configuration with user-scoped defaults filled
// in.
func Default() (Config, error) {
	dir, err := extapi.ExtensionsDir()
	if err != nil {
		return Config{}, err
	}
	keyring, err := extapi.KeyringPath()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Extensions: ExtensionsConfig{Directory: dir},
		Trust:      TrustConfig{Keyring: keyring},
		Log:        LogConfig{Level: "info"},
	}, nil
}

// DefaultPath returns the standard configuration file location.
func DefaultPath() (string, error) {
	home, err := extapi.HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "config.yaml"), nil
}

// Load reads the configuration at path, layering it over the
// defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.Extensions.Directory = ExpandPath(cfg.Extensions.Directory)
	cfg.Trust.Keyring = ExpandPath(cfg.Trust.Keyring)
	cfg.Log.File = ExpandPath(cfg.Log.File)
	return cfg, nil
}

// Save writes the configuration to path, creating the parent
// directory if absent.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ExpandPath expands a leading "~/" to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
