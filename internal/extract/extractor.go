// Package extract pulls a single data file out of a dated delivery archive.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mholt/archives"

	"github.com/brensch/jusosync/internal/errs"
)

// errStopScan ends the archive walk once the wanted entry has been written.
var errStopScan = errors.New("entry extracted")

// Extractor locates an archive by name and writes one matching entry to disk.
type Extractor struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract picks the first .zip in archiveDir whose name contains nameFilter,
// then writes the first entry whose name ends with entrySuffix to
// outputRoot/<base of archiveDir>/<entry path>. Both matches ignore case.
// It returns the path of the written file.
//
// Re-running with the same inputs rewrites the same bytes to the same path.
func (e *Extractor) Extract(ctx context.Context, archiveDir, outputRoot, nameFilter, entrySuffix string) (string, error) {
	if strings.TrimSpace(nameFilter) == "" || strings.TrimSpace(entrySuffix) == "" {
		return "", errs.Configf("name filter and entry suffix must not be empty")
	}
	info, err := os.Stat(archiveDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errs.NotFoundf("archive directory %s does not exist", archiveDir)
		}
		return "", fmt.Errorf("failed to stat archive directory %s: %w", archiveDir, err)
	}
	if !info.IsDir() {
		return "", errs.Configf("archive path %s is not a directory", archiveDir)
	}

	archivePath, err := findArchive(archiveDir, nameFilter)
	if err != nil {
		return "", err
	}

	dateSegment := filepath.Base(filepath.Clean(archiveDir))
	destDir := filepath.Join(outputRoot, dateSegment)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", destDir, err)
	}

	l := e.logger.With(slog.String("archive", archivePath), slog.String("suffix", entrySuffix))
	l.Info("Extracting entry from archive.")
	start := time.Now()

	written, err := extractFirst(ctx, archivePath, destDir, entrySuffix)
	if err != nil {
		return "", err
	}
	if written == "" {
		return "", errs.NotFoundf("no entry ending with %q in %s", entrySuffix, archivePath)
	}

	l.Info("Entry extracted.", slog.String("output", written), slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return written, nil
}

// findArchive returns the first .zip, in directory order, containing filter.
func findArchive(dir, filter string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to list %s: %w", dir, err)
	}
	want := strings.ToLower(filter)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if strings.HasSuffix(name, ".zip") && strings.Contains(name, want) {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", errs.NotFoundf("no zip archive containing %q in %s", filter, dir)
}

func extractFirst(ctx context.Context, archivePath, destDir, suffix string) (string, error) {
	src, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer func() { _ = src.Close() }()

	want := strings.ToLower(suffix)
	var written string

	err = archives.Zip{}.Extract(ctx, src, func(_ context.Context, f archives.FileInfo) error {
		if f.IsDir() || !strings.HasSuffix(strings.ToLower(f.NameInArchive), want) {
			return nil
		}

		name := filepath.Clean(filepath.FromSlash(f.NameInArchive))
		if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
			return fmt.Errorf("invalid path in archive: %s", f.NameInArchive)
		}

		target := filepath.Join(destDir, name)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", target, err)
		}
		if err := copyEntry(f, target); err != nil {
			return err
		}
		written = target
		return errStopScan
	})

	// The handler's stop signal comes back as an error; a written entry is success.
	if written != "" {
		return written, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to extract from %s: %w", archivePath, err)
	}
	return "", nil
}

func copyEntry(f archives.FileInfo, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open entry %s: %w", f.NameInArchive, err)
	}
	defer func() { _ = rc.Close() }()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	_, copyErr := io.Copy(dst, rc)
	closeErr := dst.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(target)
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return nil
}
