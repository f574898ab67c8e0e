package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/story-runtime/pkg/persist"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, 10, cfg.EventWarnThreshold)
	assert.Equal(t, BackendMemory, cfg.SaveBackend)
	assert.Equal(t, 3, cfg.AutoSaveSlots)
	assert.Equal(t, time.Duration(0), cfg.AutoSaveInterval)
	assert.Empty(t, cfg.PersistentKeys)
	assert.Equal(t, "./data/stories", cfg.StoryDir)
	assert.False(t, cfg.BroadcastEvents)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LOG_LEVEL", "WARNING")
	t.Setenv("HISTORY_LIMIT", "-1")
	t.Setenv("SAVE_BACKEND", "redis")
	t.Setenv("REDIS_URL", "cache:6379")
	t.Setenv("SAVE_TTL", "24h")
	t.Setenv("SAVE_CODEC", "msgpack")
	t.Setenv("SAVE_COMPRESSION", "zstd")
	t.Setenv("AUTOSAVE_INTERVAL", "30s")
	t.Setenv("PERSISTENT_KEYS", "inventory, quests,,")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
	assert.Equal(t, -1, cfg.HistoryLimit)
	assert.Equal(t, "cache:6379", cfg.RedisURL)
	assert.Equal(t, 24*time.Hour, cfg.SaveTTL)
	assert.Equal(t, 30*time.Second, cfg.AutoSaveInterval)
	assert.Equal(t, []string{"inventory", "quests"}, cfg.PersistentKeys)
	assert.Equal(t, persist.MsgPackCodec{}, cfg.Codec())
	assert.Equal(t, persist.CompressionZstd, cfg.Compression())
}

func TestConfig_UndoDepth(t *testing.T) {
	tests := []struct {
		limit int
		want  int
	}{
		{50, 50},
		{1, 1},
		{0, -1},
		{-5, -1},
	}
	for _, tt := range tests {
		cfg := &Config{HistoryLimit: tt.limit}
		assert.Equal(t, tt.want, cfg.UndoDepth(), "HISTORY_LIMIT=%d", tt.limit)
	}
}

func TestLoad_BadValue(t *testing.T) {
	t.Setenv("HISTORY_LIMIT", "lots")
	_, err := Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			SaveBackend:     BackendFile,
			SaveDir:         "saves",
			SaveCodec:       "json",
			SaveCompression: "gzip",
			AutoSaveSlots:   1,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"unknown backend", func(c *Config) { c.SaveBackend = "s3" }, false},
		{"unknown codec", func(c *Config) { c.SaveCodec = "xml" }, false},
		{"unknown compression", func(c *Config) { c.SaveCompression = "lz4" }, false},
		{"negative ttl", func(c *Config) { c.SaveTTL = -time.Second }, false},
		{"negative interval", func(c *Config) { c.AutoSaveInterval = -time.Second }, false},
		{"autosave without slots", func(c *Config) { c.AutoSaveInterval = time.Second; c.AutoSaveSlots = 0 }, false},
		{"file backend without dir", func(c *Config) { c.SaveDir = "" }, false},
		{"sqlite without path", func(c *Config) { c.SaveBackend = BackendSQLite }, false},
		{"broadcast without redis", func(c *Config) { c.BroadcastEvents = true }, false},
		{"broadcast with redis", func(c *Config) { c.BroadcastEvents = true; c.RedisURL = "localhost:6379" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
