package progress

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned by TryLock when another process holds the run lock.
var ErrLocked = errors.New("run lock held by another process")

// RunLock is a non-blocking lock file shared by every process that advances
// the same marker.
type RunLock struct {
	fl *flock.Flock
}

// NewRunLock places the lock file next to the marker.
func NewRunLock(markerPath string) *RunLock {
	return &RunLock{fl: flock.New(markerPath + ".lock")}
}

// TryLock acquires the lock or returns ErrLocked immediately.
func (l *RunLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire run lock %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

// Unlock releases the lock.
func (l *RunLock) Unlock() error {
	return l.fl.Unlock()
}
