package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/jwebster45206/story-runtime/pkg/persist"
)

// Save backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

var backends = []string{BackendMemory, BackendFile, BackendRedis, BackendSQLite}

type Config struct {
	Environment string     `env:"ENVIRONMENT" envDefault:"development"`
	LogLevelRaw string     `env:"LOG_LEVEL" envDefault:"info"`
	LogLevel    slog.Level

	HistoryLimit         int  `env:"HISTORY_LIMIT" envDefault:"50"`
	EventWarnThreshold   int  `env:"EVENT_LISTENER_WARN_THRESHOLD" envDefault:"10"`
	EventPropagateErrors bool `env:"EVENT_PROPAGATE_ERRORS" envDefault:"false"`

	SaveBackend     string        `env:"SAVE_BACKEND" envDefault:"memory"`
	SaveDir         string        `env:"SAVE_DIR" envDefault:"./saves"`
	RedisURL        string        `env:"REDIS_URL" envDefault:"localhost:6379"`
	RedisKeyPrefix  string        `env:"REDIS_KEY_PREFIX" envDefault:"story:"`
	SaveTTL         time.Duration `env:"SAVE_TTL" envDefault:"0s"`
	SQLitePath      string        `env:"SQLITE_PATH" envDefault:"./saves.db"`
	SaveCodec       string        `env:"SAVE_CODEC" envDefault:"json"`
	SaveCompression string        `env:"SAVE_COMPRESSION" envDefault:"none"`

	AutoSaveInterval time.Duration `env:"AUTOSAVE_INTERVAL" envDefault:"0s"`
	AutoSaveSlots    int           `env:"AUTOSAVE_SLOTS" envDefault:"3"`
	AutoSavePrefix   string        `env:"AUTOSAVE_PREFIX" envDefault:"autosave-"`

	PersistentKeys []string `env:"PERSISTENT_KEYS" envSeparator:","`
	EngineVersion  string   `env:"ENGINE_VERSION" envDefault:"dev"`

	StoryDir        string `env:"STORY_DIR" envDefault:"./data/stories"`
	BroadcastEvents bool   `env:"BROADCAST_EVENTS" envDefault:"false"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelRaw)
	for i, k := range cfg.PersistentKeys {
		cfg.PersistentKeys[i] = strings.TrimSpace(k)
	}
	cfg.PersistentKeys = slices.DeleteFunc(cfg.PersistentKeys, func(k string) bool { return k == "" })
	return &cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if !slices.Contains(backends, c.SaveBackend) {
		return fmt.Errorf("unknown SAVE_BACKEND %q (want one of %s)", c.SaveBackend, strings.Join(backends, ", "))
	}
	if _, err := persist.ParseCodec(c.SaveCodec); err != nil {
		return fmt.Errorf("invalid SAVE_CODEC: %w", err)
	}
	if _, err := persist.ParseCompression(c.SaveCompression); err != nil {
		return fmt.Errorf("invalid SAVE_COMPRESSION: %w", err)
	}
	if c.SaveTTL < 0 {
		return fmt.Errorf("SAVE_TTL must not be negative: %s", c.SaveTTL)
	}
	if c.AutoSaveInterval < 0 {
		return fmt.Errorf("AUTOSAVE_INTERVAL must not be negative: %s", c.AutoSaveInterval)
	}
	if c.AutoSaveInterval > 0 && c.AutoSaveSlots < 1 {
		return fmt.Errorf("AUTOSAVE_SLOTS must be at least 1, got %d", c.AutoSaveSlots)
	}
	if c.EventWarnThreshold < 0 {
		return fmt.Errorf("EVENT_LISTENER_WARN_THRESHOLD must not be negative: %d", c.EventWarnThreshold)
	}
	if c.BroadcastEvents && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when BROADCAST_EVENTS is set")
	}
	switch c.SaveBackend {
	case BackendFile:
		if c.SaveDir == "" {
			return fmt.Errorf("SAVE_DIR is required for the file backend")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis backend")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	}
	return nil
}

// UndoDepth returns the history limit to hand to the engine. HISTORY_LIMIT
// of zero or less disables undo, which the engine spells as a negative limit.
func (c *Config) UndoDepth() int {
	if c.HistoryLimit <= 0 {
		return -1
	}
	return c.HistoryLimit
}

// Codec returns the configured snapshot codec.
func (c *Config) Codec() persist.Codec {
	codec, err := persist.ParseCodec(c.SaveCodec)
	if err != nil {
		return persist.JSONCodec{}
	}
	return codec
}

// Compression returns the configured snapshot compression.
func (c *Config) Compression() persist.Compression {
	comp, err := persist.ParseCompression(c.SaveCompression)
	if err != nil {
		return persist.CompressionNone
	}
	return comp
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
