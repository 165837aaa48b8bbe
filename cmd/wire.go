package cmd

import (
	"database/sql"
	"log/slog"

	"github.com/brensch/jusosync/internal/config"
	"github.com/brensch/jusosync/internal/db"
	"github.com/brensch/jusosync/internal/delivery"
	"github.com/brensch/jusosync/internal/extract"
	"github.com/brensch/jusosync/internal/metrics"
	"github.com/brensch/jusosync/internal/orchestrator"
	"github.com/brensch/jusosync/internal/parser"
	"github.com/brensch/jusosync/internal/progress"
	"github.com/brensch/jusosync/internal/scheduler"
)

// observers receive progress notifications. Either may be nil.
type observers struct {
	onRun   func(scheduler.Event)
	onStage func(orchestrator.StageUpdate)
}

// components is everything a run needs, built once and passed explicitly.
type components struct {
	scheduler *scheduler.RecoveryScheduler
	progress  *progress.FileStore
	events    *db.EventLog
}

func buildComponents(cfg config.Config, conn *sql.DB, dialect db.Dialect, m *metrics.Metrics, obs observers, logger *slog.Logger) (*components, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	events := db.NewEventLog(conn, dialect)
	deps := orchestrator.Deps{
		Extractor: extract.New(logger),
		Parser:    parser.New(logger),
		Loader:    db.NewLoader(conn, dialect, logger, db.WithLocation(loc)),
		Events:    events,
		Metrics:   m,
		OnStage:   obs.onStage,
	}
	if cfg.Delivery.Enabled {
		client, err := delivery.NewHTTPClient(delivery.HTTPOptions{
			BaseURL:  cfg.Delivery.BaseURL,
			AppKey:   cfg.Delivery.AppKey,
			ZipRoot:  cfg.Paths.ZipDir,
			Timeout:  cfg.Delivery.Timeout,
			Retries:  cfg.Delivery.Retries,
			Location: loc,
		}, logger)
		if err != nil {
			return nil, err
		}
		deps.Delivery = client
	}

	pipeline := orchestrator.NewPipeline(orchestrator.Options{
		Datasets:      cfg.EnabledDatasets(),
		ZipRoot:       cfg.Paths.ZipDir,
		ExtractRoot:   cfg.Paths.ExtractDir,
		DeliveryRetry: cfg.Delivery.Retry,
	}, deps, logger)

	store := progress.NewFileStore(cfg.Paths.ProgressFile, loc, logger)
	sched := scheduler.New(scheduler.Options{
		WindowDays: cfg.RecoveryWindowDays,
		Location:   loc,
	}, scheduler.Deps{
		Runner:   pipeline,
		Progress: store,
		Lock:     progress.NewRunLock(cfg.Paths.ProgressFile),
		Events:   events,
		Metrics:  m,
		Observer: obs.onRun,
	}, logger)

	return &components{scheduler: sched, progress: store, events: events}, nil
}
