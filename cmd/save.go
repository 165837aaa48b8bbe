package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/brensch/jusosync/internal/saver"
)

var (
	saveFormat  string
	saveStdDate string
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Export staged rows to Parquet or CSV files",
	Long: `Reads every configured staging table and writes one file per dataset into
the export directory. Use --date to export a single processing date.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := appConfig

		logger.Info("Starting export...",
			slog.String("export_dir", cfg.Paths.ExportDir),
			slog.String("format", saveFormat),
		)
		paths, err := saver.Export(cmd.Context(), dbConn, dbDialect, cfg.Datasets, saver.Options{
			Dir:     cfg.Paths.ExportDir,
			Format:  saveFormat,
			StdDate: saveStdDate,
		}, logger)
		if err != nil {
			return fmt.Errorf("save failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), saver.Describe(paths))
		return nil
	},
}

func init() {
	saveCmd.Flags().StringVarP(&saveFormat, "format", "f", saver.FormatParquet, "Export format (parquet or csv)")
	saveCmd.Flags().StringVar(&saveStdDate, "date", "", "Only export rows with this processing date (yyyyMMdd)")
}
