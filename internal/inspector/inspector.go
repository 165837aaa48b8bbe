// Package inspector summarizes what has been staged so far.
package inspector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/jusosync/internal/config"
	"github.com/brensch/jusosync/internal/db"
	"github.com/brensch/jusosync/internal/models"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// breakdownColumns names the column worth grouping by for each dataset.
var breakdownColumns = map[models.DatasetKind]string{
	models.RoadNameChange: "mv_rsn_cd",
	models.DongDetail:     "admin_type",
}

// DatasetSummary is the staged state of one dataset.
type DatasetSummary struct {
	Dataset   config.Dataset
	Dates     []db.DateCount
	Breakdown map[string]int64 // breakdown column counts for the newest date
	Column    string
	Err       error
}

// Summarize collects staged counts per processing date, newest first, and a
// value breakdown of the newest date.
func Summarize(ctx context.Context, conn *sql.DB, dialect db.Dialect, datasets []config.Dataset, limit int, logger *slog.Logger) []DatasetSummary {
	out := make([]DatasetSummary, 0, len(datasets))
	for _, ds := range datasets {
		s := DatasetSummary{Dataset: ds, Column: breakdownColumns[ds.Kind]}
		s.Dates, s.Err = db.StagedCounts(ctx, conn, ds, limit)
		if s.Err == nil && len(s.Dates) > 0 && s.Column != "" {
			s.Breakdown, s.Err = db.ColumnValueCounts(ctx, conn, dialect, ds, s.Column, s.Dates[0].StdDate)
		}
		if s.Err != nil {
			logger.Error("Failed to summarize staging table.", "error", s.Err, slog.String("table", ds.Table))
		}
		out = append(out, s)
	}
	return out
}

// Inspect prints the summaries to w and returns every summary error joined.
func Inspect(ctx context.Context, conn *sql.DB, dialect db.Dialect, datasets []config.Dataset, limit int, w io.Writer, logger *slog.Logger) error {
	summaries := Summarize(ctx, conn, dialect, datasets, limit, logger)
	var all []error
	for _, s := range summaries {
		fmt.Fprintf(w, "\n%s\n", headingStyle.Render(fmt.Sprintf("=== %s (%s) ===", s.Dataset.Kind, s.Dataset.Table)))
		if s.Err != nil {
			fmt.Fprintf(w, "    %s\n", errorStyle.Render("ERROR: "+s.Err.Error()))
			all = append(all, fmt.Errorf("%s: %w", s.Dataset.Kind, s.Err))
			continue
		}
		if len(s.Dates) == 0 {
			fmt.Fprintf(w, "    %s\n", mutedStyle.Render("(no rows staged)"))
			continue
		}

		fmt.Fprintf(w, "    %-10s | %s\n", "std_date", "rows")
		var total int64
		for _, dc := range s.Dates {
			fmt.Fprintf(w, "    %-10s | %d\n", dc.StdDate, dc.Rows)
			total += dc.Rows
		}
		fmt.Fprintf(w, "    %s\n", mutedStyle.Render(fmt.Sprintf("%d rows over %d date(s) shown", total, len(s.Dates))))

		if len(s.Breakdown) > 0 {
			fmt.Fprintf(w, "\n    %s by %s on %s:\n", s.Dataset.Kind, s.Column, s.Dates[0].StdDate)
			keys := make([]string, 0, len(s.Breakdown))
			for k := range s.Breakdown {
				keys = append(keys, k)
			}
			sort.Slice(keys, func(i, j int) bool {
				if s.Breakdown[keys[i]] != s.Breakdown[keys[j]] {
					return s.Breakdown[keys[i]] > s.Breakdown[keys[j]]
				}
				return keys[i] < keys[j]
			})
			for _, k := range keys {
				fmt.Fprintf(w, "      %-12s %d\n", k, s.Breakdown[k])
			}
		}
	}
	return errors.Join(all...)
}
