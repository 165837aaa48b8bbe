// Package scheduler drives recovery runs: it works out which days are missing
// since the last success and processes them oldest first.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brensch/jusosync/internal/db"
	"github.com/brensch/jusosync/internal/metrics"
	"github.com/brensch/jusosync/internal/orchestrator"
	"github.com/brensch/jusosync/internal/progress"
	"github.com/brensch/jusosync/internal/util"
)

var (
	// ErrRecoveryWindowExceeded means the marker is too far behind to catch up
	// automatically. Nothing was processed.
	ErrRecoveryWindowExceeded = errors.New("recovery window exceeded, manual intervention required")
	// ErrRunInProgress means another run holds the run lock.
	ErrRunInProgress = errors.New("a recovery run is already in progress")
	// ErrDayHalted means a day failed and later days were not attempted.
	ErrDayHalted = errors.New("day failed, progress not advanced")
)

// Run outcomes, also used as metric labels.
const (
	OutcomeNoop           = "noop"
	OutcomeCompleted      = "completed"
	OutcomeHalted         = "halted"
	OutcomeWindowExceeded = "window_exceeded"
	OutcomeBusy           = "busy"
	OutcomeCancelled      = "cancelled"
)

// DayRunner processes every dataset of one day.
type DayRunner interface {
	RunDay(ctx context.Context, runID string, day time.Time) orchestrator.Result
}

// Locker guards against concurrent runs across processes.
type Locker interface {
	TryLock() error
	Unlock() error
}

type EventRecorder interface {
	Record(ctx context.Context, ev db.Event) error
}

// Options are the static settings of a RecoveryScheduler.
type Options struct {
	WindowDays int
	Location   *time.Location
	Clock      func() time.Time
}

// Deps are the collaborators of a RecoveryScheduler. Lock, Events, Metrics
// and Observer are optional.
type Deps struct {
	Runner   DayRunner
	Progress progress.Store
	Lock     Locker
	Events   EventRecorder
	Metrics  *metrics.Metrics
	Observer func(Event)
}

// Summary describes what one run did.
type Summary struct {
	RunID       string
	Outcome     string
	Today       time.Time
	LastSuccess time.Time
	Gap         int
	Results     []orchestrator.Result // one per attempted day, in order
	Advanced    []time.Time           // days whose marker was written
	Duration    time.Duration
}

// RecoveryScheduler runs the bounded catch-up loop. It is independent of any
// timer; Timer or the manual trigger call Run.
type RecoveryScheduler struct {
	opts   Options
	deps   Deps
	mu     sync.Mutex
	logger *slog.Logger
}

func New(opts Options, deps Deps, logger *slog.Logger) *RecoveryScheduler {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Location == nil {
		opts.Location = util.KSTLocation()
	}
	return &RecoveryScheduler{opts: opts, deps: deps, logger: logger}
}

// Run catches up from the day after the marker through today. Days run in
// ascending order and the marker is written after each day without an
// unrecoverable error. The first failing day stops the run.
//
// A gap larger than the window aborts without processing anything, and a gap
// of zero or less is a no-op.
func (s *RecoveryScheduler) Run(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: uuid.NewString()}
	start := time.Now()
	l := s.logger.With(slog.String("run_id", sum.RunID))

	if !s.mu.TryLock() {
		l.Warn("Recovery run skipped, another run is active in this process.")
		s.deps.Metrics.RunFinished(OutcomeBusy, 0)
		sum.Outcome = OutcomeBusy
		return sum, ErrRunInProgress
	}
	defer s.mu.Unlock()

	if s.deps.Lock != nil {
		if err := s.deps.Lock.TryLock(); err != nil {
			if errors.Is(err, progress.ErrLocked) {
				l.Warn("Recovery run skipped, another process holds the run lock.")
				s.deps.Metrics.RunFinished(OutcomeBusy, 0)
				sum.Outcome = OutcomeBusy
				return sum, ErrRunInProgress
			}
			return sum, err
		}
		defer func() {
			if err := s.deps.Lock.Unlock(); err != nil {
				l.Warn("Failed to release run lock.", "error", err)
			}
		}()
	}

	finish := func(outcome string, err error) (Summary, error) {
		sum.Outcome = outcome
		sum.Duration = time.Since(start)
		s.deps.Metrics.RunFinished(outcome, sum.Duration)
		event := db.EventRunEnd
		msg := outcome
		if err != nil {
			msg = fmt.Sprintf("%s: %v", outcome, err)
			if outcome == OutcomeWindowExceeded {
				event = db.EventRunAborted
			}
		}
		s.record(ctx, db.Event{RunID: sum.RunID, Event: event, Message: msg, Duration: &sum.Duration})
		s.notify(Event{Type: RunFinished, RunID: sum.RunID, Summary: &sum, Err: err})
		return sum, err
	}

	sum.Today = util.DateOf(s.opts.Clock(), s.opts.Location)
	sum.LastSuccess = util.DateOf(s.deps.Progress.Read(sum.Today), s.opts.Location)
	sum.Gap = util.DaysBetween(sum.LastSuccess, sum.Today)
	s.deps.Metrics.RecoveryGap(sum.Gap)

	l = l.With(slog.String("today", util.FormatDay(sum.Today)), slog.String("last_success", util.FormatDay(sum.LastSuccess)))
	l.Info("Recovery run started.", slog.Int("gap_days", sum.Gap), slog.Int("window_days", s.opts.WindowDays))
	s.record(ctx, db.Event{RunID: sum.RunID, Event: db.EventRunStart,
		Message: fmt.Sprintf("last_success=%s gap=%d", util.FormatDay(sum.LastSuccess), sum.Gap)})
	s.notify(Event{Type: RunStarted, RunID: sum.RunID, DayTotal: max(sum.Gap, 0)})

	if sum.Gap > s.opts.WindowDays {
		err := fmt.Errorf("%w: last success %s is %d days behind %s (window %d)", ErrRecoveryWindowExceeded,
			util.FormatDay(sum.LastSuccess), sum.Gap, util.FormatDay(sum.Today), s.opts.WindowDays)
		l.Error("Recovery window exceeded, manual intervention required. Nothing was processed.", "error", err)
		return finish(OutcomeWindowExceeded, err)
	}
	if sum.Gap <= 0 {
		l.Info("Already up to date, nothing to recover.")
		return finish(OutcomeNoop, nil)
	}

	for i := 1; i <= sum.Gap; i++ {
		if err := ctx.Err(); err != nil {
			l.Warn("Recovery run cancelled.", "error", err)
			return finish(OutcomeCancelled, err)
		}

		day := sum.LastSuccess.AddDate(0, 0, i)
		s.notify(Event{Type: DayStarted, RunID: sum.RunID, Day: day, DayIndex: i, DayTotal: sum.Gap})

		res := s.deps.Runner.RunDay(ctx, sum.RunID, day)
		sum.Results = append(sum.Results, res)
		s.notify(Event{Type: DayFinished, RunID: sum.RunID, Day: day, DayIndex: i, DayTotal: sum.Gap, Result: &res})

		if res.Fatal() {
			s.deps.Metrics.DayFailed("failed")
			err := fmt.Errorf("%w: %s: %w", ErrDayHalted, util.FormatDay(day), res.Err())
			l.Error("Day failed, stopping recovery. Progress stays at the last successful day.",
				slog.String("day", util.FormatDay(day)), "error", res.Err())
			return finish(OutcomeHalted, err)
		}

		if err := s.deps.Progress.Write(day); err != nil {
			// Not fatal: the marker stays behind and the next run retries.
			s.deps.Metrics.DayFailed("marker_write_failed")
			l.Error("Failed to persist progress marker.", "error", err, slog.String("day", util.FormatDay(day)))
			continue
		}
		sum.Advanced = append(sum.Advanced, day)
		s.deps.Metrics.DayAdvanced(day)
		s.record(ctx, db.Event{RunID: sum.RunID, TargetDate: util.FormatDay(day), Event: db.EventDayAdvanced,
			Records: int64(res.Loaded())})
		l.Info("Progress advanced.", slog.String("day", util.FormatDay(day)))
	}

	l.Info("Recovery run finished.", slog.Int("days_advanced", len(sum.Advanced)))
	return finish(OutcomeCompleted, nil)
}

func (s *RecoveryScheduler) record(ctx context.Context, ev db.Event) {
	if s.deps.Events == nil {
		return
	}
	if err := s.deps.Events.Record(ctx, ev); err != nil {
		s.logger.Warn("Failed to write event log entry.", "error", err, slog.String("event", ev.Event))
	}
}

func (s *RecoveryScheduler) notify(ev Event) {
	if s.deps.Observer != nil {
		s.deps.Observer(ev)
	}
}
