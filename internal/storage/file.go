package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jwebster45206/story-runtime/pkg/storage"
)

const saveExt = ".json"

// FileStorage keeps one <id>.json file per save in a directory. Writes go to a
// temporary file that is renamed into place.
type FileStorage struct {
	dir    string
	logger *slog.Logger
}

var (
	_ storage.Storage = (*FileStorage)(nil)
	_ storage.Clearer = (*FileStorage)(nil)
)

// NewFileStorage creates dir if needed.
func NewFileStorage(dir string, logger *slog.Logger) (*FileStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("save directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create save directory: %w", err)
	}
	return &FileStorage{dir: dir, logger: logger}, nil
}

// Dir returns the save directory.
func (f *FileStorage) Dir() string { return f.dir }

func (f *FileStorage) path(id string) (string, error) {
	if !storage.ValidID(id) {
		return "", fmt.Errorf("invalid save id %q", id)
	}
	return filepath.Join(f.dir, id+saveExt), nil
}

func (f *FileStorage) Save(ctx context.Context, id string, rec storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := f.path(id)
	if err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal save: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, "."+id+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write save: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync save: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close save: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		f.logger.Error("Failed to move save into place", "save_id", id, "error", err)
		return fmt.Errorf("failed to rename save: %w", err)
	}
	return nil
}

func (f *FileStorage) Load(ctx context.Context, id string) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := f.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil // Return nil for not found
		}
		return nil, fmt.Errorf("failed to read save: %w", err)
	}
	var rec storage.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal save %s: %w", id, err)
	}
	return &rec, nil
}

// List reads the metadata of every save file. Unreadable files are skipped
// with a warning.
func (f *FileStorage) List(ctx context.Context) (map[string]storage.Metadata, error) {
	ids, err := f.ids()
	if err != nil {
		return nil, err
	}
	result := make(map[string]storage.Metadata, len(ids))
	for _, id := range ids {
		rec, err := f.Load(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.Warn("Skipping unreadable save file", "save_id", id, "error", err)
			continue
		}
		if rec != nil {
			result[id] = rec.Metadata
		}
	}
	return result, nil
}

func (f *FileStorage) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := f.path(id)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete save: %w", err)
	}
	return true, nil
}

func (f *FileStorage) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := f.path(id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat save: %w", err)
}

func (f *FileStorage) ClearAll(ctx context.Context) error {
	ids, err := f.ids()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := f.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileStorage) ids() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read save directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != saveExt {
			continue
		}
		id := strings.TrimSuffix(name, saveExt)
		if storage.ValidID(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
