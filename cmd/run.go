package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/brensch/jusosync/internal/app"
	"github.com/brensch/jusosync/internal/scheduler"
)

var runTUI bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one recovery pass now",
	Long: `Reads the last success marker and processes every day after it up to
today, oldest first. For each day every enabled dataset is fetched (when
delivery is enabled), extracted, parsed and loaded. The marker advances after
each day that had no unrecoverable error; the first failing day stops the run.

A gap larger than the recovery window is refused. Use 'state set' to move the
marker after handling such a gap by hand.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := appConfig

		if !runTUI {
			c, err := buildComponents(cfg, dbConn, dbDialect, nil, observers{}, logger)
			if err != nil {
				return err
			}
			sum, err := c.scheduler.Run(cmd.Context())
			printSummary(cmd, sum)
			if err != nil {
				return fmt.Errorf("recovery run %s: %w", sum.Outcome, err)
			}
			return nil
		}

		relay := &app.Relay{}
		c, err := buildComponents(cfg, dbConn, dbDialect, nil, observers{onRun: relay.OnRun, onStage: relay.OnStage}, logger)
		if err != nil {
			return err
		}
		sum, err := app.Run(cmd.Context(), "Juso Address Change Sync", relay, func(ctx context.Context) (scheduler.Summary, error) {
			return c.scheduler.Run(ctx)
		})
		if err != nil {
			return fmt.Errorf("recovery run %s: %w", sum.Outcome, err)
		}
		logger.Info("Recovery run completed.", slog.String("run_id", sum.RunID))
		return nil
	},
}

func printSummary(cmd *cobra.Command, sum scheduler.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s: %s (last success %s, gap %d day(s))\n",
		sum.RunID, sum.Outcome, sum.LastSuccess.Format("20060102"), sum.Gap)
	for _, res := range sum.Results {
		for _, d := range res.Datasets {
			status := "ok"
			if d.Err != nil {
				status = fmt.Sprintf("%s: %v", d.ErrKind, d.Err)
			}
			fmt.Fprintf(out, "  %s %-18s records=%-7d skipped=%-5d %s\n",
				res.Day.Format("20060102"), d.Dataset, d.Records, d.Skipped, status)
		}
	}
}

func init() {
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show a live terminal view instead of console logs")
}
