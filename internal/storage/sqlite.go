package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jwebster45206/story-runtime/internal/storage/migrations"
	"github.com/jwebster45206/story-runtime/pkg/storage"
)

const migrationTable = "schema_migrations"

// SQLiteStorage keeps saves in a single SQLite table.
type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ storage.Storage = (*SQLiteStorage)(nil)
	_ storage.Clearer = (*SQLiteStorage)(nil)
)

// OpenSQLite opens the database at path and applies the embedded migrations.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}
	if err := applyMigrations(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Debug("SQLite save storage ready", "path", path)
	return &SQLiteStorage{db: db, logger: logger}, nil
}

// Close closes the database handle.
func (s *SQLiteStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStorage) Save(ctx context.Context, id string, rec storage.Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal save metadata: %w", err)
	}
	data := rec.Data
	if data == nil {
		data = []byte{}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO saves (id, metadata, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   metadata = excluded.metadata,
		   data = excluded.data,
		   updated_at = excluded.updated_at`,
		id, string(meta), data,
		toMillis(rec.Metadata.CreatedAt), toMillis(rec.Metadata.UpdatedAt),
	)
	if err != nil {
		s.logger.Error("Failed to save game", "save_id", id, "error", err)
		return fmt.Errorf("failed to save game: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Load(ctx context.Context, id string) (*storage.Record, error) {
	var meta string
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT metadata, data FROM saves WHERE id = ?`, id).Scan(&meta, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Return nil for not found
		}
		return nil, fmt.Errorf("failed to load game: %w", err)
	}
	rec := storage.Record{Data: data}
	if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal save metadata: %w", err)
	}
	return &rec, nil
}

func (s *SQLiteStorage) List(ctx context.Context) (map[string]storage.Metadata, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, metadata FROM saves ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list saves: %w", err)
	}
	defer rows.Close()

	result := make(map[string]storage.Metadata)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan save: %w", err)
		}
		var meta storage.Metadata
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			s.logger.Warn("Skipping save with unreadable metadata", "save_id", id, "error", err)
			continue
		}
		result[id] = meta
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list saves: %w", err)
	}
	return result, nil
}

func (s *SQLiteStorage) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM saves WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete save: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete save: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStorage) Exists(ctx context.Context, id string) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM saves WHERE id = ?`, id).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check save: %w", err)
	}
	return true, nil
}

func (s *SQLiteStorage) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM saves`); err != nil {
		return fmt.Errorf("failed to clear saves: %w", err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

// applyMigrations runs every embedded .sql file once, in name order, and
// records it in schema_migrations.
func applyMigrations(db *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var found int
		err := db.QueryRow(`SELECT 1 FROM `+migrationTable+` WHERE name = ?`, file).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(upSection(string(content))); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(`INSERT INTO `+migrationTable+` (name, applied_at) VALUES (?, ?)`,
			file, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

// upSection returns the SQL between "-- +migrate Up" and "-- +migrate Down".
func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	if i := strings.Index(content, up); i >= 0 {
		content = content[i+len(up):]
	}
	if i := strings.Index(content, down); i >= 0 {
		content = content[:i]
	}
	return content
}
