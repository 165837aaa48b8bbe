package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/brensch/jusosync/internal/config"
	"github.com/brensch/jusosync/internal/errs"
	"github.com/brensch/jusosync/internal/models"
)

// wideColumns hold free text that can exceed the default width.
var wideColumns = map[string]bool{
	"bef_road_nm_addr": true,
	"note":             true,
	"inst_bld_nm":      true,
	"bld_nm":           true,
}

// stagingTableSQL builds the DDL for a dataset's staging table. Required
// source fields are NOT NULL so a malformed row can never commit.
func stagingTableSQL(ds config.Dataset) string {
	required := make(map[int]bool)
	for _, idx := range models.RequiredFields(ds.Kind) {
		required[idx] = true
	}

	var cols []string
	for i, name := range models.Columns(ds.Kind) {
		width := 255
		if wideColumns[name] {
			width = 1000
		}
		col := fmt.Sprintf("    %s VARCHAR(%d)", name, width)
		if required[i] {
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}
	cols = append(cols, fmt.Sprintf("    %s VARCHAR(8) NOT NULL", models.StdDateColumn))
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", ds.Table, strings.Join(cols, ",\n"))
}

// InitializeSchema creates the staging tables for every dataset plus the
// event log. Production stores usually own their schema; this is for local
// DuckDB use and tests.
func InitializeSchema(ctx context.Context, conn *sql.DB, dialect Dialect, datasets []config.Dataset) error {
	for _, ds := range datasets {
		if !ValidIdent(ds.Table) {
			return errs.Configf("invalid staging table name %q", ds.Table)
		}
		if _, err := conn.ExecContext(ctx, stagingTableSQL(ds)); err != nil {
			return fmt.Errorf("failed to create staging table %s: %w", ds.Table, err)
		}
	}
	return NewEventLog(conn, dialect).InitializeSchema(ctx)
}

// DateCount is the number of staged rows for one processing date.
type DateCount struct {
	StdDate string
	Rows    int64
}

// StagedCounts groups a staging table's rows by processing date, newest first.
func StagedCounts(ctx context.Context, conn *sql.DB, ds config.Dataset, limit int) ([]DateCount, error) {
	if !ValidIdent(ds.Table) {
		return nil, errs.Configf("invalid staging table name %q", ds.Table)
	}
	query := fmt.Sprintf(`SELECT %[1]s, COUNT(*) FROM %[2]s GROUP BY %[1]s ORDER BY %[1]s DESC LIMIT %[3]d`,
		models.StdDateColumn, ds.Table, limit)
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count rows in %s: %w", ds.Table, err)
	}
	defer rows.Close()

	var out []DateCount
	for rows.Next() {
		var dc DateCount
		if err := rows.Scan(&dc.StdDate, &dc.Rows); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

// ColumnValueCounts returns how often each value of column occurs for one
// processing date. Used to break road-name changes down by move reason.
func ColumnValueCounts(ctx context.Context, conn *sql.DB, dialect Dialect, ds config.Dataset, column, stdDate string) (map[string]int64, error) {
	if !ValidIdent(ds.Table) || !ValidIdent(column) {
		return nil, errs.Configf("invalid identifier %q.%q", ds.Table, column)
	}
	query := dialect.Rebind(fmt.Sprintf(`SELECT %[1]s, COUNT(*) FROM %[2]s WHERE %[3]s = ? GROUP BY %[1]s`,
		column, ds.Table, models.StdDateColumn))
	rows, err := conn.QueryContext(ctx, query, stdDate)
	if err != nil {
		return nil, fmt.Errorf("failed to group %s by %s: %w", ds.Table, column, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var value sql.NullString
		var n int64
		if err := rows.Scan(&value, &n); err != nil {
			return nil, fmt.Errorf("failed to scan group row: %w", err)
		}
		key := value.String
		if !value.Valid {
			key = "(absent)"
		}
		out[key] = n
	}
	return out, rows.Err()
}

// EachRecord streams the staged rows of one processing date back as records.
// An empty stdDate streams the whole table.
func EachRecord(ctx context.Context, conn *sql.DB, dialect Dialect, ds config.Dataset, stdDate string, fn func(rec models.Record, stdDate string) error) error {
	if !ValidIdent(ds.Table) {
		return errs.Configf("invalid staging table name %q", ds.Table)
	}
	cols := models.Columns(ds.Kind)
	query := fmt.Sprintf("SELECT %s, %s FROM %s", strings.Join(cols, ", "), models.StdDateColumn, ds.Table)
	var args []any
	if stdDate != "" {
		query += fmt.Sprintf(" WHERE %s = ?", models.StdDateColumn)
		args = append(args, stdDate)
	}

	rows, err := conn.QueryContext(ctx, dialect.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", ds.Table, err)
	}
	defer rows.Close()

	values := make([]sql.NullString, len(cols)+1)
	dest := make([]any, len(values))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("failed to scan %s row: %w", ds.Table, err)
		}
		fields := make([]*string, len(cols))
		for i := range cols {
			if values[i].Valid {
				v := values[i].String
				fields[i] = &v
			}
		}
		rec, err := models.FromFields(ds.Kind, fields)
		if err != nil {
			return err
		}
		if err := fn(rec, values[len(cols)].String); err != nil {
			return err
		}
	}
	return rows.Err()
}
