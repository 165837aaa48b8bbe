package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// Event types written to the batch event log.
const (
	EventRunStart      = "run_start"
	EventRunEnd        = "run_end"
	EventRunAborted    = "run_aborted"
	EventFetchEnd      = "fetch_end"
	EventExtractEnd    = "extract_end"
	EventParseEnd      = "parse_end"
	EventLoadEnd       = "load_end"
	EventReconcileFail = "reconcile_error"
	EventDayAdvanced   = "day_advanced"
	EventSkipDataset   = "skip_dataset"
	EventAllSkipped    = "all_lines_skipped"
	EventError         = "error"
)

// Event is one row of the batch event log.
type Event struct {
	RunID      string
	TargetDate string // yyyyMMdd of the day being processed, empty for run-level events
	Dataset    string
	Event      string
	Timestamp  time.Time
	FilePath   string
	Records    int64
	Skipped    int64
	Message    string
	Duration   *time.Duration
}

const eventLogTableSQL = `
CREATE TABLE IF NOT EXISTS batch_event_log (
    run_id          VARCHAR(36) NOT NULL,
    target_date     VARCHAR(8),
    dataset         VARCHAR(32),
    event           VARCHAR(32) NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    file_path       VARCHAR(1024),
    records         BIGINT,
    skipped         BIGINT,
    message         VARCHAR(2048),
    duration_ms     BIGINT%s
)`

const eventLogIndexSQL = `CREATE INDEX IF NOT EXISTS idx_batch_event_log_time ON batch_event_log (event_timestamp)`

// EventLog records pipeline events in the staging store so operators can see
// what each run did to each day and dataset.
type EventLog struct {
	db      *sql.DB
	dialect Dialect
}

func NewEventLog(db *sql.DB, dialect Dialect) *EventLog {
	return &EventLog{db: db, dialect: dialect}
}

// InitializeSchema creates the event log table and its index.
func (l *EventLog) InitializeSchema(ctx context.Context) error {
	// MySQL has no CREATE INDEX IF NOT EXISTS, so the index goes inline.
	inline := ""
	if l.dialect.Name == "mysql" {
		inline = ",\n    INDEX idx_batch_event_log_time (event_timestamp)"
	}
	if _, err := l.db.ExecContext(ctx, fmt.Sprintf(eventLogTableSQL, inline)); err != nil {
		return fmt.Errorf("failed to create batch_event_log: %w", err)
	}
	if l.dialect.Name != "mysql" {
		if _, err := l.db.ExecContext(ctx, eventLogIndexSQL); err != nil {
			return fmt.Errorf("failed to create batch_event_log index: %w", err)
		}
	}
	return nil
}

// Record inserts a new event.
func (l *EventLog) Record(ctx context.Context, ev Event) error {
	query := l.dialect.Rebind(`
        INSERT INTO batch_event_log (run_id, target_date, dataset, event, event_timestamp, file_path, records, skipped, message, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var durationMs sql.NullInt64
	if ev.Duration != nil {
		durationMs = sql.NullInt64{Int64: ev.Duration.Milliseconds(), Valid: true}
	}

	_, err := l.db.ExecContext(ctx, query,
		ev.RunID,
		nullString(ev.TargetDate),
		nullString(ev.Dataset),
		ev.Event,
		ts.UTC(),
		nullString(ev.FilePath),
		ev.Records,
		ev.Skipped,
		nullString(truncate(ev.Message, 2048)),
		durationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to log event '%s' for run %s: %w", ev.Event, ev.RunID, err)
	}
	return nil
}

// Recent returns up to limit events, newest first, optionally filtered by
// event type and target date.
func (l *EventLog) Recent(ctx context.Context, eventFilter, dateFilter string, limit int) ([]Event, error) {
	query := `
        SELECT run_id, target_date, dataset, event, event_timestamp, file_path, records, skipped, message, duration_ms
        FROM batch_event_log`
	var conditions []string
	var args []any
	if eventFilter != "" {
		conditions = append(conditions, "event = ?")
		args = append(args, eventFilter)
	}
	if dateFilter != "" {
		conditions = append(conditions, "target_date = ?")
		args = append(args, dateFilter)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY event_timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, l.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event log: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var targetDate, dataset, filePath, message sql.NullString
		var records, skipped, durationMs sql.NullInt64
		if err := rows.Scan(&ev.RunID, &targetDate, &dataset, &ev.Event, &ev.Timestamp, &filePath, &records, &skipped, &message, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan event log row: %w", err)
		}
		ev.TargetDate = targetDate.String
		ev.Dataset = dataset.String
		ev.FilePath = filePath.String
		ev.Message = message.String
		ev.Records = records.Int64
		ev.Skipped = skipped.Int64
		if durationMs.Valid {
			d := time.Duration(durationMs.Int64) * time.Millisecond
			ev.Duration = &d
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event log rows: %w", err)
	}
	return out, nil
}

// DisplayHistory prints recent events as a table.
func (l *EventLog) DisplayHistory(ctx context.Context, w io.Writer, eventFilter, dateFilter string, limit int) error {
	events, err := l.Recent(ctx, eventFilter, dateFilter, limit)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "--- Batch Event Log (Limit %d) ---\n", limit)
	fmt.Fprintf(w, "%-8s | %-18s | %-17s | %-25s | %-8s | %-8s | %-10s | %s\n",
		"Day", "Dataset", "Event", "Timestamp (UTC)", "Records", "Skipped", "DurationMS", "Message/Details")
	fmt.Fprintln(w, strings.Repeat("-", 150))

	for _, ev := range events {
		durationStr := ""
		if ev.Duration != nil {
			durationStr = fmt.Sprintf("%d", ev.Duration.Milliseconds())
		}
		details := ev.Message
		if ev.FilePath != "" {
			details += fmt.Sprintf(" (File: %s)", filepath.Base(ev.FilePath))
		}
		fmt.Fprintf(w, "%-8s | %-18s | %-17s | %-25s | %-8d | %-8d | %-10s | %s\n",
			ev.TargetDate, ev.Dataset, ev.Event, ev.Timestamp.UTC().Format(time.RFC3339), ev.Records, ev.Skipped, durationStr, strings.TrimSpace(details))
	}
	fmt.Fprintf(w, "Displayed %d records.\n", len(events))
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Cut on a rune boundary.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
