// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-docsign.
//
// go-docsign is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the engine configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	TPM     TPMConfig     `yaml:"tpm"`
	Setupd  SetupdConfig  `yaml:"setupd"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// StorageConfig selects the persistence backend for key descriptors,
// envelopes, signature records and CSRs.
type StorageConfig struct {
	Backend string `yaml:"backend"` // memory, file
	Path    string `yaml:"path"`
}

// TPMConfig contains hardware module settings.
type TPMConfig struct {
	DevicePath   string `yaml:"device_path"`
	UseSimulator bool   `yaml:"use_simulator"`
	SRKHandle    uint32 `yaml:"srk_handle"`
}

// SetupdConfig contains the elevated setup daemon settings.
type SetupdConfig struct {
	SocketPath     string `yaml:"socket_path"`
	RequestsPerMin int    `yaml:"requests_per_min"`
}

// MetricsConfig controls Prometheus metric collection.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Storage: StorageConfig{
			Backend: "file",
			Path:    defaultDataDir(),
		},
		TPM: TPMConfig{
			DevicePath: "/dev/tpmrm0",
		},
		Setupd: SetupdConfig{
			SocketPath:     "/var/run/docsign/setupd.sock",
			RequestsPerMin: 60,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/docsign"
	}
	return filepath.Join(home, ".docsign")
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads the file when path is non-empty, otherwise
// returns the defaults with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	cfg := Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration.
func applyEnvOverrides(cfg *Config) {
	if level := os.Getenv("DOCSIGN_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if dataDir := os.Getenv("DOCSIGN_DATA_DIR"); dataDir != "" {
		cfg.Storage.Path = dataDir
	}
	if socketPath := os.Getenv("DOCSIGN_SETUPD_SOCKET"); socketPath != "" {
		cfg.Setupd.SocketPath = socketPath
	}
	if tpmPath := os.Getenv("TPM_DEVICE_PATH"); tpmPath != "" {
		cfg.TPM.DevicePath = tpmPath
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	switch c.Storage.Backend {
	case "memory":
	case "file":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the file backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be memory or file)", c.Storage.Backend)
	}

	if c.TPM.DevicePath == "" && !c.TPM.UseSimulator {
		return fmt.Errorf("tpm device_path is required unless the simulator is enabled")
	}

	if c.Setupd.SocketPath == "" {
		return fmt.Errorf("setupd socket_path must be specified")
	}
	if c.Setupd.RequestsPerMin < 1 {
		return fmt.Errorf("setupd requests_per_min must be positive")
	}

	return nil
}

// Debug reports whether debug logging is enabled.
func (c *Config) Debug() bool {
	return strings.EqualFold(c.Logging.Level, "debug")
}
