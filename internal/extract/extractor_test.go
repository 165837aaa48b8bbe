package extract

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/jusosync/internal/errs"
	"github.com/brensch/jusosync/internal/logger"
)

// writeZip creates dir/name holding the given entries in order.
func writeZip(t *testing.T, dir, name string, entries [][2]string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.Create(e[0])
		require.NoError(t, err)
		_, err = w.Write([]byte(e[1]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestExtractWritesFirstMatchingEntry(t *testing.T) {
	root := t.TempDir()
	archiveDir := filepath.Join(root, "zip", "240307")
	outRoot := filepath.Join(root, "extract")
	writeZip(t, archiveDir, "20240307_JUSUKR_daily.zip", [][2]string{
		{"readme.txt", "ignore me"},
		{"data/AlterD.JUSUKR.20240307_MST.TXT", "first"},
		{"data/second_mst.txt", "second"},
	})

	ex := New(logger.Discard())
	path, err := ex.Extract(context.Background(), archiveDir, outRoot, "jusukr", "_mst.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outRoot, "240307", "data", "AlterD.JUSUKR.20240307_MST.TXT"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	// Idempotent: same path, same bytes.
	again, err := ex.Extract(context.Background(), archiveDir, outRoot, "JUSUKR", "_mst.txt")
	require.NoError(t, err)
	assert.Equal(t, path, again)
	got, err = os.ReadFile(again)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))
}

func TestExtractPicksArchiveByFilter(t *testing.T) {
	root := t.TempDir()
	archiveDir := filepath.Join(root, "240307")
	writeZip(t, archiveDir, "a_JUSDG.zip", [][2]string{{"x_dong.txt", "dong"}})
	writeZip(t, archiveDir, "b_JUSUKR.zip", [][2]string{{"x_mst.txt", "road"}})

	path, err := New(logger.Discard()).Extract(context.Background(), archiveDir, filepath.Join(root, "out"), "JUSDG", "_dong.txt")
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "dong", string(got))
}

func TestExtractNotFoundCases(t *testing.T) {
	root := t.TempDir()
	ex := New(logger.Discard())
	ctx := context.Background()

	t.Run("missing directory", func(t *testing.T) {
		_, err := ex.Extract(ctx, filepath.Join(root, "nope"), root, "JUSUKR", "_mst.txt")
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("no matching archive", func(t *testing.T) {
		dir := filepath.Join(root, "240301")
		writeZip(t, dir, "JUSDG.zip", [][2]string{{"a_dong.txt", "x"}})
		_, err := ex.Extract(ctx, dir, root, "JUSUKR", "_mst.txt")
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})

	t.Run("no matching entry", func(t *testing.T) {
		dir := filepath.Join(root, "240302")
		writeZip(t, dir, "JUSUKR.zip", [][2]string{{"a_dong.txt", "x"}})
		_, err := ex.Extract(ctx, dir, root, "JUSUKR", "_mst.txt")
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})
}

func TestExtractConfigErrors(t *testing.T) {
	root := t.TempDir()
	ex := New(logger.Discard())

	file := filepath.Join(root, "240303")
	require.NoError(t, os.WriteFile(file, []byte("not a dir"), 0o644))
	_, err := ex.Extract(context.Background(), file, root, "JUSUKR", "_mst.txt")
	assert.ErrorIs(t, err, errs.ErrConfig)

	_, err = ex.Extract(context.Background(), root, root, "", "_mst.txt")
	assert.ErrorIs(t, err, errs.ErrConfig)
}

func TestExtractRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "240304")
	writeZip(t, dir, "JUSUKR.zip", [][2]string{{"../../evil_mst.txt", "x"}})

	_, err := New(logger.Discard()).Extract(context.Background(), dir, filepath.Join(root, "out"), "JUSUKR", "_mst.txt")
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(root, "evil_mst.txt"))
	assert.True(t, os.IsNotExist(statErr))
}
