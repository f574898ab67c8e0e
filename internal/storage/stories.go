package storage

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jwebster45206/story-runtime/pkg/story"
)

// StoryLibrary reads story files from a directory tree.
type StoryLibrary struct {
	dir    string
	logger *slog.Logger
}

// NewStoryLibrary creates a library rooted at dir.
func NewStoryLibrary(dir string, logger *slog.Logger) *StoryLibrary {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		dir = "./data/stories"
	}
	return &StoryLibrary{dir: dir, logger: logger}
}

// List maps story titles to file paths relative to the library root. Files
// that fail to load are skipped with a warning.
func (l *StoryLibrary) List() (map[string]string, error) {
	stories := make(map[string]string)

	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		s, err := story.LoadFile(path)
		if err != nil {
			l.logger.Warn("Failed to load story file", "path", path, "error", err)
			return nil
		}

		rel, err := filepath.Rel(l.dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		stories[s.Title] = rel
		return nil
	})

	if err != nil {
		l.logger.Error("Failed to walk stories directory", "error", err)
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}

	return stories, nil
}

// Get loads one story by its path relative to the library root.
func (l *StoryLibrary) Get(filename string) (*story.Story, error) {
	if !filepath.IsLocal(filename) {
		return nil, fmt.Errorf("invalid story path: %s", filename)
	}
	path := filepath.Join(l.dir, filename)
	l.logger.Debug("Loading story", "filename", filename, "full_path", path)

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("story not found: %s", filename)
		}
		return nil, fmt.Errorf("failed to read story file: %w", err)
	}
	return story.LoadFile(path)
}
