package db

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"  // PostgreSQL driver, registered as "pgx"
	_ "github.com/marcboeker/go-duckdb" // DuckDB driver

	"github.com/brensch/jusosync/internal/config"
	"github.com/brensch/jusosync/internal/errs"
)

// Dialect captures the SQL differences between the supported stores.
type Dialect struct {
	Name       string // duckdb, mysql or postgres
	DriverName string // database/sql driver name
}

var identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// DialectFor returns the dialect for a configured driver name.
func DialectFor(name string) (Dialect, error) {
	switch name {
	case "duckdb":
		return Dialect{Name: "duckdb", DriverName: "duckdb"}, nil
	case "mysql":
		return Dialect{Name: "mysql", DriverName: "mysql"}, nil
	case "postgres":
		return Dialect{Name: "postgres", DriverName: "pgx"}, nil
	}
	return Dialect{}, errs.Configf("unsupported database driver %q", name)
}

// Rebind rewrites '?' placeholders to $n for PostgreSQL. Queries here never
// contain literal question marks.
func (d Dialect) Rebind(query string) string {
	if d.Name != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CallProcedure returns the statement invoking a stored procedure, or "" when
// the store has no stored procedures.
func (d Dialect) CallProcedure(name string) string {
	switch d.Name {
	case "mysql", "postgres":
		return fmt.Sprintf("CALL %s()", name)
	}
	return ""
}

// ValidIdent reports whether name is safe to splice into SQL as a table or
// procedure name.
func ValidIdent(name string) bool {
	return identRegex.MatchString(name)
}

// Open connects to the configured store and verifies the connection.
func Open(ctx context.Context, cfg config.Database) (*sql.DB, Dialect, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, Dialect{}, err
	}

	dsn := cfg.DSN
	if dialect.Name == "mysql" {
		if dsn, err = mysqlDSN(dsn); err != nil {
			return nil, Dialect{}, err
		}
	}

	conn, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, Dialect{}, fmt.Errorf("failed to open %s database: %w", dialect.Name, err)
	}

	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLife > 0 {
		conn.SetConnMaxLifetime(cfg.ConnMaxLife)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, Dialect{}, fmt.Errorf("failed to ping %s database: %w", dialect.Name, err)
	}
	return conn, dialect, nil
}

// mysqlDSN forces parseTime so TIMESTAMP columns scan into time.Time.
func mysqlDSN(dsn string) (string, error) {
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", errs.Configf("invalid mysql dsn: %v", err)
	}
	c.ParseTime = true
	return c.FormatDSN(), nil
}
