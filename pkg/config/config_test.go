package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/pulse/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
port: 8080
data_dir: /var/lib/pulse
log_level: DEBUG
idle_timeout: 30s
event_bus:
  type: kafka
  brokers:
    - kafka-1:9092
    - kafka-2:9092
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/var/lib/pulse", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, "kafka", cfg.EventBus.Type)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.EventBus.Brokers)

	// untouched keys keep defaults
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		err     error
	}{
		{"port", "port: 70000", config.ErrInvalidPort},
		{"event bus", "event_bus:\n  type: rabbit", config.ErrInvalidEventBus},
		{"brokers", "event_bus:\n  type: kafka", config.ErrMissingBrokers},
		{"duration", "idle_timeout: -1s", config.ErrInvalidDuration},
		{"log level", "log_level: verbose", config.ErrInvalidLogLevel},
		{"data dir", `data_dir: ""`, config.ErrEmptyDataDir},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.Load(writeConfig(t, tt.content))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = config.Load(writeConfig(t, "port: [1, 2"))
	assert.Error(t, err)
}

func TestLoadOrDefault(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.NoError(t, cfg.Validate())
}
