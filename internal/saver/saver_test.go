package saver

import (
	"context"
	"database/sql"
	"encoding/csv"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/brensch/jusosync/internal/config"
	"github.com/brensch/jusosync/internal/db"
	"github.com/brensch/jusosync/internal/logger"
	"github.com/brensch/jusosync/internal/models"
)

func ptr(s string) *string { return &s }

// stage loads two road rows and one dong row stamped 20240307.
func stage(t *testing.T) (*sql.DB, db.Dialect) {
	t.Helper()
	ctx := context.Background()
	conn, dialect, err := db.Open(ctx, config.Database{Driver: "duckdb"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	datasets := config.DefaultDatasets()
	require.NoError(t, db.InitializeSchema(ctx, conn, dialect, datasets))

	clock := func() time.Time { return time.Date(2024, 3, 7, 1, 0, 0, 0, time.UTC) }
	loader := db.NewLoader(conn, dialect, logger.Discard(), db.WithClock(clock))
	_, err = loader.Load(ctx, datasets[0], []models.Record{
		models.AddressChangeRecord{RoadMgmtNo: "A1", LegalDongCode: "1111010100", RoadCode: "111103100012",
			UndergroundFlag: "0", BldMainNo: "1", BldSubNo: "0", SidoName: ptr("서울특별시"), MoveReasonCode: ptr("31")},
		models.AddressChangeRecord{RoadMgmtNo: "A2", LegalDongCode: "1111010100", RoadCode: "111103100012",
			UndergroundFlag: "0", BldMainNo: "2", BldSubNo: "0"},
	})
	require.NoError(t, err)
	_, err = loader.Load(ctx, datasets[1], []models.Record{
		models.DongDetailRecord{SidoCode: "11", SigunguCode: "110", EmdCode: "101", BldMainNo: "7", DongName: ptr("청운동")},
	})
	require.NoError(t, err)
	return conn, dialect
}

type roadCSVRow struct {
	RoadMgmtNo string `csv:"road_nm_ctl_no"`
	SidoName   string `csv:"sido_nm"`
	StdDate    string `csv:"std_date"`
}

func TestExportCSV(t *testing.T) {
	conn, dialect := stage(t)
	dir := filepath.Join(t.TempDir(), "out")

	paths, err := Export(context.Background(), conn, dialect, config.DefaultDatasets(),
		Options{Dir: dir, Format: FormatCSV, StdDate: "20240307"}, logger.Discard())
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "road_name_change_20240307.csv"),
		filepath.Join(dir, "dong_detail_20240307.csv"),
	}, paths)

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	var rows []roadCSVRow
	require.NoError(t, csvutil.Unmarshal(data, &rows))
	assert.ElementsMatch(t, []roadCSVRow{
		{RoadMgmtNo: "A1", SidoName: "서울특별시", StdDate: "20240307"},
		{RoadMgmtNo: "A2", StdDate: "20240307"},
	}, rows)

	f, err := os.Open(paths[1])
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, slices.Concat(models.Columns(models.DongDetail), []string{models.StdDateColumn}), records[0])
}

func TestExportCSVEmptyDateWritesHeaderOnly(t *testing.T) {
	conn, dialect := stage(t)
	dir := t.TempDir()

	paths, err := Export(context.Background(), conn, dialect, config.DefaultDatasets()[:1],
		Options{Dir: dir, Format: FormatCSV, StdDate: "19990101"}, logger.Discard())
	require.NoError(t, err)
	require.Len(t, paths, 1)

	f, err := os.Open(paths[0])
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestExportParquet(t *testing.T) {
	conn, dialect := stage(t)
	dir := t.TempDir()

	paths, err := Export(context.Background(), conn, dialect, config.DefaultDatasets(),
		Options{Dir: dir, Format: FormatParquet}, logger.Discard())
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(dir, "road_name_change.parquet"), paths[0])

	for path, want := range map[string]int64{paths[0]: 2, paths[1]: 1} {
		fr, err := local.NewLocalFileReader(path)
		require.NoError(t, err)
		pr, err := reader.NewParquetReader(fr, nil, 1)
		require.NoError(t, err)
		assert.Equal(t, want, pr.GetNumRows(), path)
		pr.ReadStop()
		require.NoError(t, fr.Close())
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	_, err := Export(context.Background(), nil, db.Dialect{}, nil, Options{Dir: t.TempDir(), Format: "xlsx"}, logger.Discard())
	assert.ErrorContains(t, err, "unsupported export format")
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "nothing exported", Describe(nil))
	assert.Equal(t, "a.csv, b.csv", Describe([]string{"a.csv", "b.csv"}))
}
