package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, time.Minute, cfg.Engine.TickInterval)
	assert.Equal(t, 10*time.Second, cfg.Engine.SweepInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.HealthCeiling)
	assert.Equal(t, 500, cfg.Events.HistorySize)
	assert.True(t, cfg.Events.Generation)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "tradeworld", cfg.Stream.SubjectPrefix)
	assert.Empty(t, cfg.Stream.NATSURL)
	assert.Contains(t, cfg.API.CORSOrigins, "http://localhost:5173")
}

func TestMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Engine.TickInterval)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	content := `
engine:
  tick_interval: 30s
  seed: 42
events:
  generation: false
storage:
  path: /tmp/econ.db
  keep_snapshots: 10
logging:
  level: debug
  format: json
`
	path := filepath.Join(t.TempDir(), "tradeworld.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("TRADEWORLD_API_PORT", "9090")
	t.Setenv("TRADEWORLD_ENGINE_SPEED", "4")
	t.Setenv("TRADEWORLD_API_CORS_ORIGINS", "https://desk.example.com,https://ops.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30*time.Second, cfg.Engine.TickInterval)
	assert.EqualValues(t, 42, cfg.Engine.Seed)
	assert.False(t, cfg.Events.Generation)
	assert.Equal(t, "/tmp/econ.db", cfg.Storage.Path)
	assert.Equal(t, 10, cfg.Storage.KeepSnapshots)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.InDelta(t, 4, cfg.Engine.Speed, 1e-9)
	assert.Equal(t, []string{"https://desk.example.com", "https://ops.example.com"}, cfg.API.CORSOrigins)
	assert.Equal(t, 120, cfg.API.OrdersPerMinute)

	ec := cfg.EngineSettings()
	assert.Equal(t, 30*time.Second, ec.TickInterval)
	assert.EqualValues(t, 42, ec.Seed)
	assert.False(t, ec.Events.Generation)
}

func TestMalformedFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: [unterminated"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"tick interval", func(c *Config) { c.Engine.TickInterval = 0 }, "engine.tick_interval"},
		{"negative speed", func(c *Config) { c.Engine.Speed = -1 }, "engine.speed"},
		{"noise", func(c *Config) { c.Engine.NoiseAmplitude = 2 }, "engine.noise_amplitude"},
		{"history", func(c *Config) { c.Events.HistorySize = 0 }, "events.history_size"},
		{"keep", func(c *Config) { c.Storage.KeepSnapshots = 0 }, "storage.keep_snapshots"},
		{"port", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"order rate", func(c *Config) { c.API.OrdersPerMinute = 0 }, "api.orders_per_minute"},
		{"wildcard origin", func(c *Config) { c.API.CORSOrigins = []string{"*"} }, "api.cors_origins"},
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoggerHonoursFormatAndLevel(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Logging.Format = "json"
	cfg.Logging.Level = "warn"

	var buf bytes.Buffer
	log := cfg.Logger(&buf)
	log.Info("hidden")
	log.Warn("shown", "k", 1)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
