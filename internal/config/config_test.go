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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
storage:
  backend: file
  path: /tmp/docsign-test
tpm:
  device_path: /dev/tpm0
setupd:
  socket_path: /tmp/setupd.sock
  requests_per_min: 30
metrics:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Debug())
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/docsign-test", cfg.Storage.Path)
	assert.Equal(t, "/dev/tpm0", cfg.TPM.DevicePath)
	assert.Equal(t, "/tmp/setupd.sock", cfg.Setupd.SocketPath)
	assert.Equal(t, 30, cfg.Setupd.RequestsPerMin)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadOrDefaultEmptyPath(t *testing.T) {
	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, "/dev/tpmrm0", cfg.TPM.DevicePath)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DOCSIGN_LOG_LEVEL", "warn")
	t.Setenv("DOCSIGN_DATA_DIR", "/srv/docsign")
	t.Setenv("DOCSIGN_SETUPD_SOCKET", "/run/custom.sock")
	t.Setenv("TPM_DEVICE_PATH", "/dev/tpm1")

	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/srv/docsign", cfg.Storage.Path)
	assert.Equal(t, "/run/custom.sock", cfg.Setupd.SocketPath)
	assert.Equal(t, "/dev/tpm1", cfg.TPM.DevicePath)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad storage backend", func(c *Config) { c.Storage.Backend = "s3" }},
		{"file backend without path", func(c *Config) { c.Storage.Path = "" }},
		{"no tpm device or simulator", func(c *Config) { c.TPM.DevicePath = ""; c.TPM.UseSimulator = false }},
		{"empty socket path", func(c *Config) { c.Setupd.SocketPath = "" }},
		{"zero rate limit", func(c *Config) { c.Setupd.RequestsPerMin = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSimulatorWithoutDevicePath(t *testing.T) {
	cfg := Default()
	cfg.TPM.DevicePath = ""
	cfg.TPM.UseSimulator = true
	assert.NoError(t, cfg.Validate())
}
