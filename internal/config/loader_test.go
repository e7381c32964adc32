package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "service:\n  name: test\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Service.Name)
	assert.Equal(t, "main", cfg.Service.Network)
	assert.Equal(t, "info", cfg.Service.LogLevel)
	assert.Equal(t, DefaultPoolSize(), cfg.Workers.Size)
	assert.Equal(t, 5*time.Minute, cfg.Workers.Timeout)
	assert.True(t, cfg.Workers.IsEnabled())
	assert.Equal(t, "quarry-worker", cfg.Workers.Exec)
	assert.Equal(t, 30*24*time.Hour, cfg.JobLog.Retention)
	assert.False(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:8339", cfg.API.Listen)
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeConfig(t, `
service:
  network: testnet
  log_level: debug
workers:
  size: 4
  timeout: 30s
  enabled: false
  exec: /usr/local/bin/quarry-worker
joblog:
  path: /tmp/quarry/joblog.db
  retention: 24h
api:
  enabled: true
  listen: 0.0.0.0:9000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "testnet", cfg.Service.Network)
	assert.Equal(t, 4, cfg.Workers.Size)
	assert.Equal(t, 30*time.Second, cfg.Workers.Timeout)
	assert.False(t, cfg.Workers.IsEnabled())
	assert.Equal(t, "/usr/local/bin/quarry-worker", cfg.Workers.Exec)
	assert.Equal(t, "/tmp/quarry/joblog.db", cfg.JobLog.Path)
	assert.Equal(t, 24*time.Hour, cfg.JobLog.Retention)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "0.0.0.0:9000", cfg.API.Listen)
}

func TestLoadNegativeTimeoutDisablesDefault(t *testing.T) {
	path := writeConfig(t, "workers:\n  timeout: -1s\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, -time.Second, cfg.Workers.Timeout)
}

func TestLoadEnvInterpolation(t *testing.T) {
	t.Setenv("QUARRY_TEST_NETWORK", "regtest")

	path := writeConfig(t, "service:\n  network: ${QUARRY_TEST_NETWORK}\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "regtest", cfg.Service.Network)
}

func TestLoadUnsetAPIKeyEnvFails(t *testing.T) {
	path := writeConfig(t, `
api:
  enabled: true
  listen: 127.0.0.1:9000
  auth:
    api_key: ${QUARRY_TEST_UNSET_KEY}
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUARRY_TEST_UNSET_KEY")
}

func TestLoadWorkerExecEnvOverride(t *testing.T) {
	t.Setenv(EnvWorkerExec, "/opt/quarry/bin/worker")

	path := writeConfig(t, "workers:\n  exec: ignored-by-env\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/quarry/bin/worker", cfg.Workers.Exec)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad log level",
			yaml:    "service:\n  log_level: verbose\n",
			wantErr: "log_level",
		},
		{
			name:    "negative size",
			yaml:    "workers:\n  size: -3\n",
			wantErr: "workers.size",
		},
		{
			name:    "api enabled without listen",
			yaml:    "api:\n  enabled: true\n",
			wantErr: "api.listen",
		},
		{
			name:    "malformed yaml",
			yaml:    "workers: [",
			wantErr: "parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestWorkersConfigValidate(t *testing.T) {
	w := WorkersConfig{Size: 2, Timeout: time.Minute, Exec: "quarry-worker"}
	assert.NoError(t, w.Validate())

	// Any negative timeout means "no default timeout".
	w.Timeout = -time.Second
	assert.NoError(t, w.Validate())

	w = WorkersConfig{Size: 0, Exec: "quarry-worker"}
	assert.Error(t, w.Validate())

	w = WorkersConfig{Size: 2}
	assert.Error(t, w.Validate())
}
