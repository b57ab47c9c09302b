// Package config loads process configuration from a file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/talgya/tradeworld/internal/engine"
)

// EnvPrefix prefixes environment overrides, e.g. TRADEWORLD_ENGINE_TICK_INTERVAL.
const EnvPrefix = "TRADEWORLD"

// Config is the complete process configuration.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine"`
	Events  EventsConfig  `mapstructure:"events"`
	Storage StorageConfig `mapstructure:"storage"`
	API     APIConfig     `mapstructure:"api"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// EngineConfig drives the tick loop.
type EngineConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	Speed          float64       `mapstructure:"speed"`
	Seed           int64         `mapstructure:"seed"`
	HealthCeiling  time.Duration `mapstructure:"health_ceiling"`
	PerfWindow     int           `mapstructure:"perf_window"`
	NoiseAmplitude float64       `mapstructure:"noise_amplitude"`
}

// EventsConfig tunes the event system.
type EventsConfig struct {
	HistorySize int           `mapstructure:"history_size"`
	Generation  bool          `mapstructure:"generation"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path          string `mapstructure:"path"`
	KeepSnapshots int    `mapstructure:"keep_snapshots"`
	SaveEvery     int    `mapstructure:"save_every"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Port     int    `mapstructure:"port"`
	AdminKey string `mapstructure:"admin_key"`
	// CORSOrigins are the browser origins allowed to call the API.
	CORSOrigins []string `mapstructure:"cors_origins"`
	// OrdersPerMinute is the sustained order rate allowed per client.
	OrdersPerMinute int `mapstructure:"orders_per_minute"`
}

// StreamConfig configures the optional NATS bridge.
type StreamConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	Buffer        int    `mapstructure:"buffer"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads path (if non-empty) and environment overrides on top of the
// defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			slog.Info("config file not found, using defaults", "path", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := engine.DefaultConfig()

	v.SetDefault("engine.tick_interval", def.TickInterval.String())
	v.SetDefault("engine.sweep_interval", def.SweepInterval.String())
	v.SetDefault("engine.speed", def.Speed)
	v.SetDefault("engine.seed", 0)
	v.SetDefault("engine.health_ceiling", def.HealthCeiling.String())
	v.SetDefault("engine.perf_window", def.PerfWindow)
	v.SetDefault("engine.noise_amplitude", def.Commodity.NoiseAmplitude)

	v.SetDefault("events.history_size", def.Events.HistorySize)
	v.SetDefault("events.generation", def.Events.Generation)
	v.SetDefault("events.max_delay", def.Events.MaxDelay.String())

	v.SetDefault("storage.path", "tradeworld.db")
	v.SetDefault("storage.keep_snapshots", 100)
	v.SetDefault("storage.save_every", 60)

	v.SetDefault("api.port", 8080)
	v.SetDefault("api.admin_key", "")
	v.SetDefault("api.cors_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	v.SetDefault("api.orders_per_minute", 120)

	v.SetDefault("stream.nats_url", "")
	v.SetDefault("stream.subject_prefix", "tradeworld")
	v.SetDefault("stream.buffer", 256)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are usable.
func (c *Config) Validate() error {
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be positive")
	}
	if c.Engine.SweepInterval <= 0 {
		return fmt.Errorf("engine.sweep_interval must be positive")
	}
	if c.Engine.Speed < 0 {
		return fmt.Errorf("engine.speed must not be negative")
	}
	if c.Engine.HealthCeiling <= 0 {
		return fmt.Errorf("engine.health_ceiling must be positive")
	}
	if c.Engine.PerfWindow < 1 {
		return fmt.Errorf("engine.perf_window must be at least 1")
	}
	if c.Engine.NoiseAmplitude < 0 || c.Engine.NoiseAmplitude > 0.5 {
		return fmt.Errorf("engine.noise_amplitude must be between 0 and 0.5")
	}

	if c.Events.HistorySize < 1 {
		return fmt.Errorf("events.history_size must be at least 1")
	}
	if c.Events.MaxDelay < 0 {
		return fmt.Errorf("events.max_delay must not be negative")
	}

	if c.Storage.KeepSnapshots < 1 {
		return fmt.Errorf("storage.keep_snapshots must be at least 1")
	}
	if c.Storage.SaveEvery < 0 {
		return fmt.Errorf("storage.save_every must not be negative")
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 0 and 65535")
	}
	if c.API.OrdersPerMinute < 1 {
		return fmt.Errorf("api.orders_per_minute must be at least 1")
	}
	for _, o := range c.API.CORSOrigins {
		if o == "*" {
			return fmt.Errorf("api.cors_origins must list explicit origins, not *")
		}
	}
	if c.Stream.Buffer < 1 {
		return fmt.Errorf("stream.buffer must be at least 1")
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	return nil
}

// EngineSettings maps the file settings onto the simulation config.
func (c *Config) EngineSettings() engine.Config {
	ec := engine.DefaultConfig()
	ec.TickInterval = c.Engine.TickInterval
	ec.SweepInterval = c.Engine.SweepInterval
	ec.Speed = c.Engine.Speed
	ec.Seed = c.Engine.Seed
	ec.HealthCeiling = c.Engine.HealthCeiling
	ec.PerfWindow = c.Engine.PerfWindow
	ec.SaveEvery = c.Storage.SaveEvery
	ec.Commodity.NoiseAmplitude = c.Engine.NoiseAmplitude
	ec.Events.HistorySize = c.Events.HistorySize
	ec.Events.Generation = c.Events.Generation
	ec.Events.MaxDelay = c.Events.MaxDelay
	return ec
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("logging.level must be one of: debug, info, warn, error")
}

// Logger builds the slog logger the logging section asks for.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Logging.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
