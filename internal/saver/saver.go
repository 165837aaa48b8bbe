// Package saver exports staged rows to Parquet or CSV files for offline
// inspection and hand-off.
package saver

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/jszwec/csvutil"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/brensch/jusosync/internal/config"
	"github.com/brensch/jusosync/internal/db"
	"github.com/brensch/jusosync/internal/models"
)

const (
	FormatParquet = "parquet"
	FormatCSV     = "csv"
)

// Options select what to export. An empty StdDate exports every staged date.
type Options struct {
	Dir     string
	Format  string
	StdDate string
}

// Export writes one file per dataset. Datasets are exported concurrently and
// every failure is reported.
func Export(ctx context.Context, conn *sql.DB, dialect db.Dialect, datasets []config.Dataset, opts Options, logger *slog.Logger) ([]string, error) {
	if opts.Format != FormatParquet && opts.Format != FormatCSV {
		return nil, fmt.Errorf("unsupported export format %q", opts.Format)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory '%s': %w", opts.Dir, err)
	}
	logger.Info("Exporting staged rows.", slog.String("dir", opts.Dir), slog.String("format", opts.Format), slog.Int("datasets", len(datasets)))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		paths   = make([]string, len(datasets))
		saveErr []error
	)
	for i, ds := range datasets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := logger.With(slog.String("dataset", string(ds.Kind)))
			path := filepath.Join(opts.Dir, fileName(ds, opts))

			var n int
			var err error
			switch opts.Format {
			case FormatParquet:
				n, err = writeParquet(ctx, conn, dialect, ds, opts.StdDate, path)
			case FormatCSV:
				n, err = writeCSV(ctx, conn, dialect, ds, opts.StdDate, path)
			}
			if err != nil {
				l.Error("Failed to export dataset.", "error", err)
				_ = os.Remove(path)
				mu.Lock()
				saveErr = append(saveErr, fmt.Errorf("export %s: %w", ds.Kind, err))
				mu.Unlock()
				return
			}
			l.Info("Exported dataset.", slog.String("path", path), slog.Int("rows", n))
			paths[i] = path
		}()
	}
	wg.Wait()

	var written []string
	for _, p := range paths {
		if p != "" {
			written = append(written, p)
		}
	}
	return written, errors.Join(saveErr...)
}

func fileName(ds config.Dataset, opts Options) string {
	name := string(ds.Kind)
	if opts.StdDate != "" {
		name += "_" + opts.StdDate
	}
	return name + "." + opts.Format
}

// parquetSchema describes every column as an optional UTF8 string; staged
// values are text and absent optional fields stay null.
func parquetSchema(kind models.DatasetKind) []string {
	cols := append(slices.Clone(models.Columns(kind)), models.StdDateColumn)
	md := make([]string, len(cols))
	for i, c := range cols {
		md[i] = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", c)
	}
	return md
}

func writeParquet(ctx context.Context, conn *sql.DB, dialect db.Dialect, ds config.Dataset, stdDate, path string) (n int, err error) {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create parquet file %s: %w", path, err)
	}
	defer func() {
		if cerr := fw.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	pw, err := writer.NewCSVWriter(parquetSchema(ds.Kind), fw, 2)
	if err != nil {
		return 0, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	err = db.EachRecord(ctx, conn, dialect, ds, stdDate, func(rec models.Record, std string) error {
		row := append(rec.Fields(), &std)
		if err := pw.WriteString(row); err != nil {
			return fmt.Errorf("failed to write parquet row: %w", err)
		}
		n++
		return nil
	})
	if stopErr := pw.WriteStop(); stopErr != nil && err == nil {
		err = fmt.Errorf("failed to finalize parquet file: %w", stopErr)
	}
	return n, err
}

type roadNameChangeRow struct {
	models.AddressChangeRecord
	StdDate string `csv:"std_date"`
}

type dongDetailRow struct {
	models.DongDetailRecord
	StdDate string `csv:"std_date"`
}

func writeCSV(ctx context.Context, conn *sql.DB, dialect db.Dialect, ds config.Dataset, stdDate, path string) (n int, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create csv file %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	enc := csvutil.NewEncoder(w)
	// Header first, so an empty export still describes its columns.
	switch ds.Kind {
	case models.RoadNameChange:
		err = enc.EncodeHeader(roadNameChangeRow{})
	case models.DongDetail:
		err = enc.EncodeHeader(dongDetailRow{})
	default:
		err = fmt.Errorf("unknown dataset kind %q", ds.Kind)
	}
	if err != nil {
		return 0, err
	}
	enc.AutoHeader = false

	err = db.EachRecord(ctx, conn, dialect, ds, stdDate, func(rec models.Record, std string) error {
		var row any
		switch r := rec.(type) {
		case models.AddressChangeRecord:
			row = roadNameChangeRow{AddressChangeRecord: r, StdDate: std}
		case models.DongDetailRecord:
			row = dongDetailRow{DongDetailRecord: r, StdDate: std}
		default:
			return fmt.Errorf("unexpected record type %T", rec)
		}
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("failed to encode csv row: %w", err)
		}
		n++
		return nil
	})
	w.Flush()
	if ferr := w.Error(); ferr != nil && err == nil {
		err = ferr
	}
	return n, err
}

// Describe renders the export destination for log lines and CLI output.
func Describe(paths []string) string {
	if len(paths) == 0 {
		return "nothing exported"
	}
	return strings.Join(paths, ", ")
}
