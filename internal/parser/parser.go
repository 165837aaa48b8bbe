// Package parser turns the '|' delimited change files into records.
//
// Files are published in CP949 (EUC-KR superset). Each line is split on '|'
// keeping empty fields. Lines with too few tokens or an empty required field
// are skipped and counted; every other field is trimmed and empty values
// become absent.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"

	"github.com/brensch/jusosync/internal/errs"
	"github.com/brensch/jusosync/internal/models"
	"github.com/brensch/jusosync/internal/util"
)

const delimiter = "|"

// Stats counts what happened to each line of a file.
type Stats struct {
	Lines          int // lines read, blank ones included
	Parsed         int
	SkippedShort   int // fewer tokens than the record shape
	SkippedMissing int // a required field was empty
}

// Skipped is the total number of lines that did not produce a record.
func (s Stats) Skipped() int {
	return s.SkippedShort + s.SkippedMissing
}

// AllSkipped reports a file that had content but yielded no records.
func (s Stats) AllSkipped() bool {
	return s.Parsed == 0 && s.Skipped() > 0
}

// Result is the fully materialized output of one file.
type Result struct {
	Records []models.Record
	Stats   Stats
}

type Parser struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Parser {
	return &Parser{logger: logger}
}

// ParseFile reads path as a file of the given dataset kind.
// A missing file is reported as errs.ErrNotFound.
func (p *Parser) ParseFile(ctx context.Context, path string, kind models.DatasetKind) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, errs.NotFoundf("source file %s does not exist", path)
		}
		return Result{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	res, err := p.Parse(ctx, f, kind)
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	p.logger.Info("Parsed change file.",
		slog.String("file", path),
		slog.String("dataset", string(kind)),
		slog.Int("records", res.Stats.Parsed),
		slog.Int("skipped", res.Stats.Skipped()),
	)
	if res.Stats.AllSkipped() {
		p.logger.Warn("Every line of the change file was skipped.", slog.String("file", path), slog.Int("lines", res.Stats.Lines))
	}
	return res, nil
}

// Parse decodes r from CP949 and builds records of the given kind.
func (p *Parser) Parse(ctx context.Context, r io.Reader, kind models.DatasetKind) (Result, error) {
	build, err := builderFor(kind)
	if err != nil {
		return Result{}, err
	}
	want := models.FieldCount(kind)
	required := models.RequiredFields(kind)

	var res Result
	scanner := util.NewLineScanner(ctx, transform.NewReader(r, korean.EUCKR.NewDecoder()))
	for scanner.Scan() {
		res.Stats.Lines++
		tokens := strings.Split(scanner.Text(), delimiter)

		if len(tokens) < want {
			res.Stats.SkippedShort++
			p.logger.Warn("Skipping line with too few fields.",
				slog.String("dataset", string(kind)),
				slog.Int("line", scanner.Line()),
				slog.Int("fields", len(tokens)),
				slog.Int("expected", want),
			)
			continue
		}

		fields := make([]*string, want)
		for i := 0; i < want; i++ {
			fields[i] = absentIfEmpty(tokens[i])
		}

		if missing := firstMissing(fields, required); missing >= 0 {
			res.Stats.SkippedMissing++
			p.logger.Warn("Skipping line with missing required field.",
				slog.String("dataset", string(kind)),
				slog.Int("line", scanner.Line()),
				slog.String("field", models.Columns(kind)[missing]),
			)
			continue
		}

		res.Records = append(res.Records, build(fields))
		res.Stats.Parsed++
	}
	if err := scanner.Err(); err != nil {
		return Result{}, err
	}
	return res, nil
}

func absentIfEmpty(token string) *string {
	t := strings.TrimSpace(token)
	if t == "" {
		return nil
	}
	return &t
}

func firstMissing(fields []*string, required []int) int {
	for _, idx := range required {
		if fields[idx] == nil {
			return idx
		}
	}
	return -1
}

func builderFor(kind models.DatasetKind) (func([]*string) models.Record, error) {
	switch kind {
	case models.RoadNameChange, models.DongDetail:
		return func(fields []*string) models.Record {
			// Field count is checked by the caller, so this cannot fail.
			rec, _ := models.FromFields(kind, fields)
			return rec
		}, nil
	}
	return nil, errs.Configf("no record shape for dataset %q", kind)
}
