// Package storage holds the durable save backends and the story library.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/story-runtime/pkg/storage"
)

// Hash fields of a save key.
const (
	fieldMeta = "meta"
	fieldData = "data"
)

// RedisStorage keeps each save in a hash at <prefix>save:<id> and tracks ids
// in the set <prefix>saves.
type RedisStorage struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
	ttl    time.Duration
}

// Ensure RedisStorage implements the save storage interfaces
var (
	_ storage.Storage = (*RedisStorage)(nil)
	_ storage.Clearer = (*RedisStorage)(nil)
)

// NewRedisStorage creates a Redis storage instance. redisURL is either a
// redis:// URL or a host:port address. A positive ttl expires saves.
func NewRedisStorage(redisURL, prefix string, ttl time.Duration, logger *slog.Logger) (*RedisStorage, error) {
	client, err := NewRedisClient(redisURL)
	if err != nil {
		return nil, err
	}
	return NewRedisStorageWithClient(client, prefix, ttl, logger), nil
}

// NewRedisClient creates a client from a redis:// URL or a host:port address.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if !strings.Contains(redisURL, "://") {
		return redis.NewClient(&redis.Options{Addr: redisURL}), nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return redis.NewClient(opt), nil
}

// NewRedisStorageWithClient wraps an existing client.
func NewRedisStorageWithClient(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *RedisStorage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStorage{
		client: client,
		logger: logger,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisStorage) saveKey(id string) string { return r.prefix + "save:" + id }
func (r *RedisStorage) indexKey() string { return r.prefix + "saves" }

// Health and lifecycle methods

func (r *RedisStorage) Ping(ctx context.Context) error {
	cmd := r.client.Ping(ctx)
	if err := cmd.Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// WaitForConnection waits for Redis to become available (used during startup)
func (r *RedisStorage) WaitForConnection(ctx context.Context, maxRetries int, retryDelay time.Duration) error {
	for i := 0; i < maxRetries; i++ {
		if err := r.Ping(ctx); err != nil {
			r.logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
			case <-time.After(retryDelay):
				continue
			}
		}

		r.logger.Info("Redis connection established")
		return nil
	}

	return fmt.Errorf("redis did not become available after %d attempts", maxRetries)
}

// Save operations

func (r *RedisStorage) Save(ctx context.Context, id string, rec storage.Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		r.logger.Error("Failed to marshal save metadata", "save_id", id, "error", err)
		return fmt.Errorf("failed to marshal save metadata: %w", err)
	}

	key := r.saveKey(id)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fieldMeta, meta, fieldData, rec.Data)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		pipe.SAdd(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to save game", "save_id", id, "error", err)
		return fmt.Errorf("failed to save game: %w", err)
	}
	return nil
}

func (r *RedisStorage) Load(ctx context.Context, id string) (*storage.Record, error) {
	vals, err := r.client.HMGet(ctx, r.saveKey(id), fieldMeta, fieldData).Result()
	if err != nil {
		r.logger.Error("Failed to load game", "save_id", id, "error", err)
		return nil, fmt.Errorf("failed to load game: %w", err)
	}

	meta, ok := vals[0].(string)
	if !ok {
		return nil, nil // Return nil for not found
	}
	data, _ := vals[1].(string)

	var rec storage.Record
	if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
		r.logger.Error("Failed to unmarshal save metadata", "save_id", id, "error", err)
		return nil, fmt.Errorf("failed to unmarshal save metadata: %w", err)
	}
	rec.Data = []byte(data)
	return &rec, nil
}

// List returns the metadata of every indexed save. Ids whose hash has expired
// are dropped from the index.
func (r *RedisStorage) List(ctx context.Context) (map[string]storage.Metadata, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list saves: %w", err)
	}
	if len(ids) == 0 {
		return map[string]storage.Metadata{}, nil
	}

	cmds := make(map[string]*redis.StringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			cmds[id] = pipe.HGet(ctx, r.saveKey(id), fieldMeta)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to list saves: %w", err)
	}

	result := make(map[string]storage.Metadata, len(ids))
	var stale []any
	for id, cmd := range cmds {
		raw, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read save %s: %w", id, err)
		}
		var meta storage.Metadata
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			r.logger.Warn("Skipping save with unreadable metadata", "save_id", id, "error", err)
			continue
		}
		result[id] = meta
	}

	if len(stale) > 0 {
		if err := r.client.SRem(ctx, r.indexKey(), stale...).Err(); err != nil {
			r.logger.Warn("Failed to prune expired saves from index", "count", len(stale), "error", err)
		}
	}
	return result, nil
}

func (r *RedisStorage) Delete(ctx context.Context, id string) (bool, error) {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.saveKey(id))
		pipe.SRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to delete save", "save_id", id, "error", err)
		return false, fmt.Errorf("failed to delete save: %w", err)
	}
	return del.Val() > 0, nil
}

func (r *RedisStorage) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Exists(ctx, r.saveKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check save: %w", err)
	}
	return n > 0, nil
}

// ClearAll removes every indexed save and the index itself.
func (r *RedisStorage) ClearAll(ctx context.Context) error {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to list saves: %w", err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, r.saveKey(id))
	}
	keys = append(keys, r.indexKey())
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear saves: %w", err)
	}
	r.logger.Info("Cleared saves", "count", len(ids))
	return nil
}
