package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jwebster45206/story-runtime/internal/config"
	"github.com/jwebster45206/story-runtime/pkg/storage"
)

// Backend is a save storage with a lifecycle.
type Backend interface {
	storage.Storage
	io.Closer
}

type memoryBackend struct {
	*storage.MemoryStorage
}

func (memoryBackend) Close() error { return nil }

type fileBackend struct {
	*FileStorage
}

func (fileBackend) Close() error { return nil }

// Open builds the save backend selected by cfg.SaveBackend. The redis backend
// waits for the server before returning.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.SaveBackend {
	case config.BackendMemory, "":
		return memoryBackend{storage.NewMemoryStorage()}, nil

	case config.BackendFile:
		fs, err := NewFileStorage(cfg.SaveDir, logger)
		if err != nil {
			return nil, err
		}
		return fileBackend{fs}, nil

	case config.BackendRedis:
		rs, err := NewRedisStorage(cfg.RedisURL, cfg.RedisKeyPrefix, cfg.SaveTTL, logger)
		if err != nil {
			return nil, err
		}
		if err := rs.WaitForConnection(ctx, 30, 2*time.Second); err != nil {
			_ = rs.Close()
			return nil, err
		}
		return rs, nil

	case config.BackendSQLite:
		return OpenSQLite(cfg.SQLitePath, logger)
	}
	return nil, fmt.Errorf("unknown save backend %q", cfg.SaveBackend)
}
