// Package progress persists the date of the last fully successful day and
// guards against overlapping runs.
package progress

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brensch/jusosync/internal/util"
)

// Store reads and writes the progress marker: a single yyyyMMdd line.
type Store interface {
	// Read returns the last successful date, or the day before today when the
	// marker is absent or unreadable.
	Read(today time.Time) time.Time
	// Write persists date as the last successful date.
	Write(date time.Time) error
}

// FileStore keeps the marker in a plain text file.
type FileStore struct {
	path   string
	loc    *time.Location
	logger *slog.Logger
}

// NewFileStore creates a store for the marker at path. Dates are read as
// calendar days in loc.
func NewFileStore(path string, loc *time.Location, logger *slog.Logger) *FileStore {
	if loc == nil {
		loc = util.KSTLocation()
	}
	return &FileStore{path: path, loc: loc, logger: logger.With(slog.String("marker", path))}
}

// Path returns the marker file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Read(today time.Time) time.Time {
	d, fallback, err := s.load(today)
	switch {
	case err == nil:
		return d
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Info("No progress marker found, defaulting to yesterday.", slog.String("date", util.FormatDay(fallback)))
	default:
		s.logger.Warn("Failed to read progress marker, defaulting to yesterday.", "error", err, slog.String("date", util.FormatDay(fallback)))
	}
	return fallback
}

// Peek is Read without logging, for callers that poll the marker.
func (s *FileStore) Peek(today time.Time) time.Time {
	d, fallback, err := s.load(today)
	if err != nil {
		return fallback
	}
	return d
}

func (s *FileStore) load(today time.Time) (time.Time, time.Time, error) {
	fallback := util.DateOf(today, s.loc).AddDate(0, 0, -1)

	data, err := os.ReadFile(s.path)
	if err != nil {
		return time.Time{}, fallback, err
	}
	raw := strings.TrimSpace(string(data))
	d, err := util.ParseDay(raw, s.loc)
	if err != nil {
		return time.Time{}, fallback, fmt.Errorf("marker content %q is not a yyyyMMdd date: %w", raw, err)
	}
	return d, fallback, nil
}

// Write replaces the marker atomically: the date goes to a temp file in the
// same directory which is then renamed over the marker.
func (s *FileStore) Write(date time.Time) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create marker directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".last_success.*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp marker in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.WriteString(util.FormatDay(date.In(s.loc))); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp marker: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace marker %s: %w", s.path, err)
	}
	s.logger.Debug("Progress marker written.", slog.String("date", util.FormatDay(date.In(s.loc))))
	return nil
}
