package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/brensch/jusosync/internal/config"
	"github.com/brensch/jusosync/internal/db"
	"github.com/brensch/jusosync/internal/delivery"
	"github.com/brensch/jusosync/internal/errs"
	"github.com/brensch/jusosync/internal/metrics"
	"github.com/brensch/jusosync/internal/models"
	"github.com/brensch/jusosync/internal/parser"
	"github.com/brensch/jusosync/internal/util"
)

// Stages a dataset passes through in one day.
const (
	StageFetch   = "fetch"
	StageExtract = "extract"
	StageParse   = "parse"
	StageLoad    = "load"
	StageDone    = "done"
)

type Extractor interface {
	Extract(ctx context.Context, archiveDir, outputRoot, nameFilter, entrySuffix string) (string, error)
}

type Parser interface {
	ParseFile(ctx context.Context, path string, kind models.DatasetKind) (parser.Result, error)
}

type Loader interface {
	Load(ctx context.Context, ds config.Dataset, records []models.Record) (db.LoadResult, error)
}

type EventRecorder interface {
	Record(ctx context.Context, ev db.Event) error
}

// StageUpdate reports a dataset entering a stage.
type StageUpdate struct {
	Day     time.Time
	Dataset models.DatasetKind
	Stage   string
}

// Deps are the collaborators of a Pipeline. Delivery, Events, Metrics and
// OnStage are optional.
type Deps struct {
	Extractor Extractor
	Parser    Parser
	Loader    Loader
	Delivery  delivery.Client
	Events    EventRecorder
	Metrics   *metrics.Metrics
	OnStage   func(StageUpdate)
}

// Options are the static settings of a Pipeline.
type Options struct {
	Datasets      []config.Dataset
	ZipRoot       string
	ExtractRoot   string
	DeliveryRetry bool
}

// Pipeline runs fetch, extract, parse and load for every dataset of one day.
type Pipeline struct {
	opts   Options
	deps   Deps
	logger *slog.Logger
}

func NewPipeline(opts Options, deps Deps, logger *slog.Logger) *Pipeline {
	return &Pipeline{opts: opts, deps: deps, logger: logger}
}

// DatasetResult is the outcome of one dataset for one day.
type DatasetResult struct {
	Dataset      models.DatasetKind
	Stage        string // last stage entered
	ArchiveDir   string
	File         string
	Records      int
	Skipped      int
	StdDate      string
	Err          error
	ErrKind      errs.Kind
	ReconcileErr error
	Duration     time.Duration
}

// Result is the outcome of every dataset for one day.
type Result struct {
	Day      time.Time
	Datasets []DatasetResult
}

// Fatal reports whether any dataset failed in a way that must stop the day
// from advancing.
func (r Result) Fatal() bool {
	for _, d := range r.Datasets {
		if !errs.Recoverable(d.Err) {
			return true
		}
	}
	return false
}

// Err joins every dataset error, recoverable ones included.
func (r Result) Err() error {
	var all []error
	for _, d := range r.Datasets {
		if d.Err != nil {
			all = append(all, fmt.Errorf("%s: %w", d.Dataset, d.Err))
		}
	}
	return errors.Join(all...)
}

// Loaded is the total number of rows committed for the day.
func (r Result) Loaded() int {
	n := 0
	for _, d := range r.Datasets {
		n += d.Records
	}
	return n
}

// RunDay processes every configured dataset for day. A failing dataset never
// stops the others; the caller decides from Result whether the day advances.
func (p *Pipeline) RunDay(ctx context.Context, runID string, day time.Time) Result {
	res := Result{Day: day}
	l := p.logger.With(slog.String("day", util.FormatDay(day)))
	l.Info("Processing day.", slog.Int("datasets", len(p.opts.Datasets)))

	for _, ds := range p.opts.Datasets {
		if ctx.Err() != nil {
			res.Datasets = append(res.Datasets, DatasetResult{Dataset: ds.Kind, Err: ctx.Err(), ErrKind: errs.KindUnknown})
			continue
		}
		dr := p.runDataset(ctx, runID, day, ds)
		res.Datasets = append(res.Datasets, dr)
	}

	if res.Fatal() {
		l.Error("Day finished with unrecoverable errors.", "error", res.Err(), slog.Int("rows_loaded", res.Loaded()))
	} else {
		l.Info("Day finished.", slog.Int("rows_loaded", res.Loaded()))
	}
	return res
}

func (p *Pipeline) runDataset(ctx context.Context, runID string, day time.Time, ds config.Dataset) DatasetResult {
	start := time.Now()
	dayStr := util.FormatDay(day)
	archiveDir := filepath.Join(p.opts.ZipRoot, util.FormatDirDay(day))
	dr := DatasetResult{Dataset: ds.Kind, ArchiveDir: archiveDir}
	l := p.logger.With(slog.String("day", dayStr), slog.String("dataset", string(ds.Kind)))

	finish := func(err error) DatasetResult {
		dr.Duration = time.Since(start)
		p.deps.Metrics.DatasetDuration(string(ds.Kind), dr.Duration)
		if err == nil {
			dr.Stage = StageDone
			p.stage(day, ds.Kind, StageDone)
			return dr
		}
		dr.Err = err
		dr.ErrKind = errs.Classify(err)
		p.deps.Metrics.DatasetFailed(string(ds.Kind), dr.ErrKind.String())
		event := db.EventError
		if dr.ErrKind == errs.KindNotFound {
			event = db.EventSkipDataset
			l.Warn("Dataset input not found, skipping for this day.", "error", err, slog.String("stage", dr.Stage))
		} else {
			l.Error("Dataset failed.", "error", err, slog.String("stage", dr.Stage), slog.String("kind", dr.ErrKind.String()))
		}
		p.record(ctx, db.Event{RunID: runID, TargetDate: dayStr, Dataset: string(ds.Kind), Event: event,
			FilePath: dr.File, Message: fmt.Sprintf("%s: %v", dr.Stage, err), Duration: &dr.Duration})
		return dr
	}

	// --- Fetch ---
	if p.deps.Delivery != nil {
		dr.Stage = StageFetch
		p.stage(day, ds.Kind, StageFetch)
		if err := p.fetch(ctx, runID, day, ds, l); err != nil {
			return finish(err)
		}
	}

	// --- Extract ---
	dr.Stage = StageExtract
	p.stage(day, ds.Kind, StageExtract)
	stageStart := time.Now()
	path, err := p.deps.Extractor.Extract(ctx, archiveDir, p.opts.ExtractRoot, ds.NameFilter, ds.EntrySuffix)
	if err != nil {
		return finish(err)
	}
	dr.File = path
	elapsed := time.Since(stageStart)
	p.record(ctx, db.Event{RunID: runID, TargetDate: dayStr, Dataset: string(ds.Kind), Event: db.EventExtractEnd, FilePath: path, Duration: &elapsed})

	// --- Parse ---
	dr.Stage = StageParse
	p.stage(day, ds.Kind, StageParse)
	stageStart = time.Now()
	parsed, err := p.deps.Parser.ParseFile(ctx, path, ds.Kind)
	if err != nil {
		return finish(err)
	}
	dr.Skipped = parsed.Stats.Skipped()
	p.deps.Metrics.RowsSkipped(string(ds.Kind), "short", parsed.Stats.SkippedShort)
	p.deps.Metrics.RowsSkipped(string(ds.Kind), "missing_required", parsed.Stats.SkippedMissing)
	elapsed = time.Since(stageStart)
	p.record(ctx, db.Event{RunID: runID, TargetDate: dayStr, Dataset: string(ds.Kind), Event: db.EventParseEnd, FilePath: path,
		Records: int64(parsed.Stats.Parsed), Skipped: int64(dr.Skipped), Duration: &elapsed})
	if parsed.Stats.AllSkipped() {
		p.deps.Metrics.AllLinesSkipped(string(ds.Kind))
		p.record(ctx, db.Event{RunID: runID, TargetDate: dayStr, Dataset: string(ds.Kind), Event: db.EventAllSkipped, FilePath: path,
			Skipped: int64(dr.Skipped), Message: fmt.Sprintf("all %d lines skipped", parsed.Stats.Lines)})
	}

	// --- Load ---
	dr.Stage = StageLoad
	p.stage(day, ds.Kind, StageLoad)
	stageStart = time.Now()
	loaded, err := p.deps.Loader.Load(ctx, ds, parsed.Records)
	if err != nil {
		return finish(err)
	}
	dr.Records = loaded.Rows
	dr.StdDate = loaded.StdDate
	p.deps.Metrics.RecordsLoaded(string(ds.Kind), loaded.Rows)
	elapsed = time.Since(stageStart)
	p.record(ctx, db.Event{RunID: runID, TargetDate: dayStr, Dataset: string(ds.Kind), Event: db.EventLoadEnd, FilePath: path,
		Records: int64(loaded.Rows), Message: "std_date=" + loaded.StdDate, Duration: &elapsed})
	if loaded.ReconcileErr != nil {
		dr.ReconcileErr = loaded.ReconcileErr
		p.deps.Metrics.ReconcileFailed(string(ds.Kind))
		p.record(ctx, db.Event{RunID: runID, TargetDate: dayStr, Dataset: string(ds.Kind), Event: db.EventReconcileFail,
			Message: loaded.ReconcileErr.Error()})
	}

	l.Info("Dataset processed.", slog.Int("records", dr.Records), slog.Int("skipped", dr.Skipped))
	return finish(nil)
}

// fetch asks the delivery service for the day's archives. "Up to date" and
// "no data" are not errors; the extract stage then decides whether anything
// is on disk.
func (p *Pipeline) fetch(ctx context.Context, runID string, day time.Time, ds config.Dataset, l *slog.Logger) error {
	start := time.Now()
	resp, err := p.deps.Delivery.Receive(ctx, delivery.Request{
		Code:     ds.Code,
		DateKind: delivery.DateKindDaily,
		From:     day,
		To:       day,
		Retry:    p.opts.DeliveryRetry,
	})
	if err != nil {
		if errs.Classify(err) == errs.KindUnknown {
			err = fmt.Errorf("%w: %w", errs.ErrService, err)
		}
		return err
	}
	outcome, err := delivery.Classify(resp)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	l.Info("Delivery request finished.", slog.String("code", string(resp.Code)), slog.String("outcome", outcome.String()), slog.Int("files", len(resp.Files)))
	p.record(ctx, db.Event{RunID: runID, TargetDate: util.FormatDay(day), Dataset: string(ds.Kind), Event: db.EventFetchEnd,
		Records: int64(len(resp.Files)), Message: fmt.Sprintf("%s %s", resp.Code, outcome), Duration: &elapsed})
	return nil
}

func (p *Pipeline) stage(day time.Time, kind models.DatasetKind, stage string) {
	if p.deps.OnStage != nil {
		p.deps.OnStage(StageUpdate{Day: day, Dataset: kind, Stage: stage})
	}
}

// record writes to the event log. The log is an audit trail; failing to write
// it never fails the dataset.
func (p *Pipeline) record(ctx context.Context, ev db.Event) {
	if p.deps.Events == nil {
		return
	}
	if err := p.deps.Events.Record(ctx, ev); err != nil {
		p.logger.Warn("Failed to write event log entry.", "error", err, slog.String("event", ev.Event))
	}
}
