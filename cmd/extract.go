package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/brensch/jusosync/internal/config"
	"github.com/brensch/jusosync/internal/extract"
	"github.com/brensch/jusosync/internal/models"
	"github.com/brensch/jusosync/internal/parser"
	"github.com/brensch/jusosync/internal/util"
)

var (
	extractDate    string
	extractDataset string
	parseDataset   string
	parseShow      int
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract one day's change file without loading it",
	Long: `Finds the dataset's archive in <zip-dir>/<YYMMDD> and extracts the first
matching entry into <extract-dir>/<YYMMDD>. Prints the extracted path. Nothing
is loaded and the marker does not move.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{noDBAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, day, err := datasetAndDay(extractDataset, extractDate)
		if err != nil {
			return err
		}
		archiveDir := filepath.Join(appConfig.Paths.ZipDir, util.FormatDirDay(day))
		path, err := extract.New(getLogger()).Extract(cmd.Context(), archiveDir, appConfig.Paths.ExtractDir, ds.NameFilter, ds.EntrySuffix)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var parseCmd = &cobra.Command{
	Use:         "parse <file>",
	Short:       "Parse an extracted change file and report what would be loaded",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{noDBAnnotation: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := models.ParseKind(parseDataset)
		if err != nil {
			return err
		}
		res, err := parser.New(getLogger()).ParseFile(cmd.Context(), args[0], kind)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "lines=%d parsed=%d skipped_short=%d skipped_missing=%d\n",
			res.Stats.Lines, res.Stats.Parsed, res.Stats.SkippedShort, res.Stats.SkippedMissing)
		cols := models.Columns(kind)
		for i, rec := range res.Records {
			if i >= parseShow {
				break
			}
			fmt.Fprintf(out, "--- record %d\n", i+1)
			for j, f := range rec.Fields() {
				v := "(absent)"
				if f != nil {
					v = *f
				}
				fmt.Fprintf(out, "  %-20s %s\n", cols[j], v)
			}
		}
		return nil
	},
}

func datasetAndDay(kindName, date string) (config.Dataset, time.Time, error) {
	kind, err := models.ParseKind(kindName)
	if err != nil {
		return config.Dataset{}, time.Time{}, err
	}
	ds, ok := appConfig.Dataset(kind)
	if !ok {
		return config.Dataset{}, time.Time{}, fmt.Errorf("dataset %s is not configured", kind)
	}
	loc, err := appConfig.Location()
	if err != nil {
		return config.Dataset{}, time.Time{}, err
	}
	if date == "" {
		return ds, util.DateOf(time.Now(), loc), nil
	}
	day, err := util.ParseDay(date, loc)
	return ds, day, err
}

func init() {
	extractCmd.Flags().StringVar(&extractDate, "date", "", "Day to extract (yyyyMMdd, default today)")
	extractCmd.Flags().StringVar(&extractDataset, "dataset", string(models.RoadNameChange), "Dataset kind (road_name_change, dong_detail)")
	parseCmd.Flags().StringVar(&parseDataset, "dataset", string(models.RoadNameChange), "Dataset kind (road_name_change, dong_detail)")
	parseCmd.Flags().IntVar(&parseShow, "show", 3, "Print this many parsed records")
}
