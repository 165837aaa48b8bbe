package inspector

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/jusosync/internal/config"
	"github.com/brensch/jusosync/internal/db"
	"github.com/brensch/jusosync/internal/logger"
	"github.com/brensch/jusosync/internal/models"
)

func ptr(s string) *string { return &s }

func TestInspect(t *testing.T) {
	ctx := context.Background()
	conn, dialect, err := db.Open(ctx, config.Database{Driver: "duckdb"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	datasets := config.DefaultDatasets()
	require.NoError(t, db.InitializeSchema(ctx, conn, dialect, datasets))

	loader := db.NewLoader(conn, dialect, logger.Discard(),
		db.WithClock(func() time.Time { return time.Date(2024, 3, 7, 1, 0, 0, 0, time.UTC) }))
	_, err = loader.Load(ctx, datasets[1], []models.Record{
		models.DongDetailRecord{SidoCode: "11", SigunguCode: "110", EmdCode: "101", BldMainNo: "1", AdminType: ptr("1")},
		models.DongDetailRecord{SidoCode: "11", SigunguCode: "110", EmdCode: "101", BldMainNo: "2", AdminType: ptr("1")},
		models.DongDetailRecord{SidoCode: "11", SigunguCode: "110", EmdCode: "101", BldMainNo: "3", AdminType: ptr("2")},
	})
	require.NoError(t, err)

	summaries := Summarize(ctx, conn, dialect, datasets, 5, logger.Discard())
	require.Len(t, summaries, 2)
	assert.Empty(t, summaries[0].Dates)
	assert.Equal(t, []db.DateCount{{StdDate: "20240307", Rows: 3}}, summaries[1].Dates)
	assert.Equal(t, map[string]int64{"1": 2, "2": 1}, summaries[1].Breakdown)
	assert.Equal(t, "admin_type", summaries[1].Column)

	var buf bytes.Buffer
	require.NoError(t, Inspect(ctx, conn, dialect, datasets, 5, &buf, logger.Discard()))
	out := buf.String()
	assert.Contains(t, out, "(no rows staged)")
	assert.Contains(t, out, "20240307")
	assert.Contains(t, out, "3 rows over 1 date(s) shown")
}

func TestInspectReportsMissingTable(t *testing.T) {
	ctx := context.Background()
	conn, dialect, err := db.Open(ctx, config.Database{Driver: "duckdb"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var buf bytes.Buffer
	err = Inspect(ctx, conn, dialect, config.DefaultDatasets()[:1], 5, &buf, logger.Discard())
	assert.Error(t, err)
	assert.Contains(t, buf.String(), "ERROR:")
}
