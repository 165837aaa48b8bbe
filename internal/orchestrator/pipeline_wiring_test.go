package orchestrator

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/korean"

	"github.com/brensch/jusosync/internal/config"
	"github.com/brensch/jusosync/internal/db"
	"github.com/brensch/jusosync/internal/errs"
	"github.com/brensch/jusosync/internal/extract"
	"github.com/brensch/jusosync/internal/logger"
	"github.com/brensch/jusosync/internal/models"
	"github.com/brensch/jusosync/internal/parser"
)

func roadChangeLine(mgmtNo string) string {
	return strings.Join([]string{
		mgmtNo, "1111010100", "서울특별시", "종로구", "청운동", "", "0", "1", "0",
		"111103100012", "자하문로", "0", "1", "0", "1111051500", "청운효자동", "03047",
		"서울특별시 종로구 자하문로 1", "20240307", "0", "31", "", "청운빌딩", "",
	}, "|")
}

func writeArchive(t *testing.T, path, entry string, content []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create(entry)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestRunDayWithRealComponents(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	zipRoot := filepath.Join(root, "zip")
	extractRoot := filepath.Join(root, "extract")

	short := strings.Join(strings.Split(roadChangeLine("11110101100099"), "|")[:20], "|")
	text := strings.Join([]string{
		roadChangeLine("11110101100001"),
		roadChangeLine("11110101100002"),
		short,
		roadChangeLine("11110101100003"),
	}, "\r\n") + "\r\n"
	encoded, err := korean.EUCKR.NewEncoder().Bytes([]byte(text))
	require.NoError(t, err)
	writeArchive(t, filepath.Join(zipRoot, "240307", "JUSUKR_20240307.zip"), "A_mst.txt", encoded)

	conn, dialect, err := db.Open(ctx, config.Database{Driver: "duckdb"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	datasets := config.DefaultDatasets()
	require.NoError(t, db.InitializeSchema(ctx, conn, dialect, datasets))

	p := NewPipeline(Options{Datasets: datasets, ZipRoot: zipRoot, ExtractRoot: extractRoot}, Deps{
		Extractor: extract.New(logger.Discard()),
		Parser:    parser.New(logger.Discard()),
		Loader: db.NewLoader(conn, dialect, logger.Discard(),
			db.WithClock(func() time.Time { return time.Date(2024, 3, 7, 1, 0, 0, 0, time.UTC) })),
		Events: db.NewEventLog(conn, dialect),
	}, logger.Discard())

	res := p.RunDay(ctx, "run-1", day)
	assert.False(t, res.Fatal(), "missing dong archive does not stop the day: %v", res.Err())
	require.Len(t, res.Datasets, 2)

	road := res.Datasets[0]
	require.NoError(t, road.Err)
	assert.Equal(t, models.RoadNameChange, road.Dataset)
	assert.Equal(t, filepath.Join(extractRoot, "240307", "A_mst.txt"), road.File)
	assert.Equal(t, 3, road.Records)
	assert.Equal(t, 1, road.Skipped)
	assert.NoError(t, road.ReconcileErr, "duckdb has no procedures to call")

	assert.ErrorIs(t, res.Datasets[1].Err, errs.ErrNotFound)

	var rows int
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM tb_juso_road_chg_tmp").Scan(&rows))
	assert.Equal(t, 3, rows)

	var city string
	require.NoError(t, conn.QueryRowContext(ctx,
		"SELECT sido_nm FROM tb_juso_road_chg_tmp WHERE road_nm_ctl_no = '11110101100002'").Scan(&city))
	assert.Equal(t, "서울특별시", city, "CP949 text survives the round trip")

	var loadEvents int
	require.NoError(t, conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM batch_event_log WHERE dataset = ? AND event = ?",
		string(models.RoadNameChange), db.EventLoadEnd).Scan(&loadEvents))
	assert.Equal(t, 1, loadEvents)
}
