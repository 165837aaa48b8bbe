package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brensch/jusosync/internal/config"
	"github.com/brensch/jusosync/internal/models"
)

// newTestDB opens an in-memory DuckDB with the staging schema.
func newTestDB(t *testing.T) (*sql.DB, Dialect) {
	t.Helper()
	conn, dialect, err := Open(context.Background(), config.Database{Driver: "duckdb", DSN: ""})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, InitializeSchema(context.Background(), conn, dialect, config.DefaultDatasets()))
	return conn, dialect
}

func dataset(t *testing.T, kind models.DatasetKind) config.Dataset {
	t.Helper()
	for _, ds := range config.DefaultDatasets() {
		if ds.Kind == kind {
			return ds
		}
	}
	t.Fatalf("no dataset %s", kind)
	return config.Dataset{}
}

func ptr(s string) *string { return &s }

func roadRecord(mgmtNo string, reason *string) models.AddressChangeRecord {
	return models.AddressChangeRecord{
		RoadMgmtNo:      mgmtNo,
		LegalDongCode:   "1111010100",
		SidoName:        ptr("서울특별시"),
		RoadCode:        "111103100012",
		RoadName:        ptr("자하문로"),
		UndergroundFlag: "0",
		BldMainNo:       "1",
		BldSubNo:        "0",
		MoveReasonCode:  reason,
	}
}

func countRows(t *testing.T, conn *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}
