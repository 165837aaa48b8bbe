package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/jusosync/internal/db"
	"github.com/brensch/jusosync/internal/progress"
	"github.com/brensch/jusosync/internal/util"
)

var (
	stateLimit       int
	stateFilterEvent string
	stateFilterDate  string
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "View the batch event log",
	Long: `Queries the batch event log and displays recent run, day and dataset
events, newest first. Use the subcommands to read or move the last success
marker.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		logger.Info("Querying batch event log", "event_filter", stateFilterEvent, "date_filter", stateFilterDate, "limit", stateLimit)

		events := db.NewEventLog(dbConn, dbDialect)
		if err := events.DisplayHistory(cmd.Context(), cmd.OutOrStdout(), stateFilterEvent, stateFilterDate, stateLimit); err != nil {
			logger.Error("Failed to display state history", "error", err)
			return err
		}
		return nil
	},
}

var stateShowCmd = &cobra.Command{
	Use:         "show",
	Short:       "Print the last success marker",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{noDBAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		store, loc, err := markerStore()
		if err != nil {
			return err
		}
		today := util.DateOf(time.Now(), loc)
		last := store.Read(today)
		fmt.Fprintf(cmd.OutOrStdout(), "%s (gap %d day(s), window %d)\n",
			util.FormatDay(last), util.DaysBetween(last, today), appConfig.RecoveryWindowDays)
		return nil
	},
}

var stateSetCmd = &cobra.Command{
	Use:   "set yyyyMMdd",
	Short: "Move the last success marker",
	Long: `Overwrites the last success marker. The next run starts from the day
after the given date. This is how a gap beyond the recovery window is resolved,
and how a specific day is reprocessed.`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{noDBAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		store, loc, err := markerStore()
		if err != nil {
			return err
		}
		day, err := util.ParseDay(args[0], loc)
		if err != nil {
			return fmt.Errorf("invalid date %q, want yyyyMMdd: %w", args[0], err)
		}
		lock := progress.NewRunLock(store.Path())
		if err := lock.TryLock(); err != nil {
			return fmt.Errorf("cannot move the marker while a run is active: %w", err)
		}
		defer lock.Unlock()

		if err := store.Write(day); err != nil {
			return err
		}
		getLogger().Info("Progress marker set.", slog.String("date", util.FormatDay(day)), slog.String("path", store.Path()))
		return nil
	},
}

func markerStore() (*progress.FileStore, *time.Location, error) {
	loc, err := appConfig.Location()
	if err != nil {
		return nil, nil, err
	}
	return progress.NewFileStore(appConfig.Paths.ProgressFile, loc, getLogger()), loc, nil
}

func init() {
	stateCmd.Flags().IntVarP(&stateLimit, "limit", "n", 50, "Limit the number of log records displayed")
	stateCmd.Flags().StringVarP(&stateFilterEvent, "event", "e", "", "Filter by event type (e.g. run_end, load_end, error)")
	stateCmd.Flags().StringVarP(&stateFilterDate, "date", "d", "", "Filter by target date (yyyyMMdd)")
	stateCmd.AddCommand(stateShowCmd, stateSetCmd)
}
