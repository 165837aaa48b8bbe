package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brensch/jusosync/internal/config"
	"github.com/brensch/jusosync/internal/errs"
	"github.com/brensch/jusosync/internal/models"
	"github.com/brensch/jusosync/internal/util"
)

// Reconciler runs the downstream merge of a dataset's staged rows. Only
// success or failure is observable.
type Reconciler interface {
	Reconcile(ctx context.Context, ds config.Dataset) error
}

// ProcedureReconciler calls the dataset's stored procedure.
type ProcedureReconciler struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

func NewProcedureReconciler(db *sql.DB, dialect Dialect, logger *slog.Logger) *ProcedureReconciler {
	return &ProcedureReconciler{db: db, dialect: dialect, logger: logger}
}

func (r *ProcedureReconciler) Reconcile(ctx context.Context, ds config.Dataset) error {
	if ds.Procedure == "" {
		return nil
	}
	if !ValidIdent(ds.Procedure) {
		return errs.Configf("invalid procedure name %q", ds.Procedure)
	}
	stmt := r.dialect.CallProcedure(ds.Procedure)
	if stmt == "" {
		r.logger.Debug("Store has no stored procedures, skipping reconciliation.",
			slog.String("dialect", r.dialect.Name), slog.String("procedure", ds.Procedure))
		return nil
	}
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("procedure %s failed: %w", ds.Procedure, err)
	}
	return nil
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithClock overrides the clock used to stamp the processing date.
func WithClock(now func() time.Time) LoaderOption {
	return func(l *Loader) { l.now = now }
}

// WithLocation sets the calendar used for the processing date.
func WithLocation(loc *time.Location) LoaderOption {
	return func(l *Loader) { l.loc = loc }
}

// WithReconciler replaces the stored procedure reconciler.
func WithReconciler(r Reconciler) LoaderOption {
	return func(l *Loader) { l.reconciler = r }
}

// Loader writes a batch of records to a staging table in one transaction.
type Loader struct {
	db         *sql.DB
	dialect    Dialect
	reconciler Reconciler
	now        func() time.Time
	loc        *time.Location
	logger     *slog.Logger
}

func NewLoader(db *sql.DB, dialect Dialect, logger *slog.Logger, opts ...LoaderOption) *Loader {
	l := &Loader{
		db:      db,
		dialect: dialect,
		now:     time.Now,
		loc:     util.KSTLocation(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.reconciler == nil {
		l.reconciler = NewProcedureReconciler(db, dialect, logger)
	}
	return l
}

// LoadResult describes a committed batch.
type LoadResult struct {
	Rows         int
	StdDate      string
	ReconcileErr error // logged, never fatal
}

// Load stamps every record with today's processing date and inserts the
// batch atomically. Any failed insert rolls the whole batch back and returns
// an errs.ErrStorage. After commit the dataset's reconciliation runs; its
// failure is reported in the result but the rows stay committed.
func (l *Loader) Load(ctx context.Context, ds config.Dataset, records []models.Record) (LoadResult, error) {
	stdDate := util.FormatDay(l.now().In(l.loc))
	res := LoadResult{StdDate: stdDate}
	if len(records) == 0 {
		return res, nil
	}
	if !ValidIdent(ds.Table) {
		return res, errs.Configf("invalid staging table name %q", ds.Table)
	}

	logger := l.logger.With(slog.String("dataset", string(ds.Kind)), slog.String("table", ds.Table))
	start := time.Now()

	if err := l.insertBatch(ctx, ds, stdDate, records); err != nil {
		logger.Error("Batch load rolled back.", "error", err, slog.Int("records", len(records)))
		return res, err
	}
	res.Rows = len(records)
	logger.Info("Batch load committed.",
		slog.Int("rows", res.Rows),
		slog.String("std_date", stdDate),
		slog.Duration("duration", time.Since(start).Round(time.Millisecond)),
	)

	if err := l.reconciler.Reconcile(ctx, ds); err != nil {
		res.ReconcileErr = err
		logger.Error("Reconciliation failed, staged rows kept.", "error", err, slog.String("procedure", ds.Procedure))
	} else if ds.Procedure != "" {
		logger.Info("Reconciliation finished.", slog.String("procedure", ds.Procedure))
	}
	return res, nil
}

func (l *Loader) insertBatch(ctx context.Context, ds config.Dataset, stdDate string, records []models.Record) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Storage("begin transaction", err)
	}
	defer tx.Rollback() // no-op after commit

	stmt, err := tx.PrepareContext(ctx, l.insertSQL(ds))
	if err != nil {
		return errs.Storage("prepare insert", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		if rec.Kind() != ds.Kind {
			return errs.Storage("insert", fmt.Errorf("record %d is %s, table %s holds %s", i, rec.Kind(), ds.Table, ds.Kind))
		}
		if _, err := stmt.ExecContext(ctx, rowArgs(rec, stdDate)...); err != nil {
			return errs.Storage(fmt.Sprintf("insert record %d", i), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Storage("commit", err)
	}
	return nil
}

func (l *Loader) insertSQL(ds config.Dataset) string {
	cols := append(append([]string{}, models.Columns(ds.Kind)...), models.StdDateColumn)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return l.dialect.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", ds.Table, strings.Join(cols, ", "), marks))
}

// rowArgs converts absent fields to NULL. Drivers differ in how they treat
// *string, so plain strings and nil are passed.
func rowArgs(rec models.Record, stdDate string) []any {
	fields := rec.Fields()
	args := make([]any, 0, len(fields)+1)
	for _, f := range fields {
		if f == nil {
			args = append(args, nil)
			continue
		}
		args = append(args, *f)
	}
	return append(args, stdDate)
}
