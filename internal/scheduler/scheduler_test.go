package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/jusosync/internal/db"
	"github.com/brensch/jusosync/internal/errs"
	"github.com/brensch/jusosync/internal/logger"
	"github.com/brensch/jusosync/internal/models"
	"github.com/brensch/jusosync/internal/orchestrator"
	"github.com/brensch/jusosync/internal/progress"
	"github.com/brensch/jusosync/internal/util"
)

var kst = util.KSTLocation()

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := util.ParseDay(s, kst)
	require.NoError(t, err)
	return d
}

// clockAt returns 09:00 KST on the given day.
func clockAt(t *testing.T, s string) func() time.Time {
	d := date(t, s).Add(9 * time.Hour)
	return func() time.Time { return d }
}

type memStore struct {
	mu       sync.Mutex
	last     *time.Time
	writes   []string
	writeErr error
}

func (m *memStore) Read(today time.Time) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return util.DateOf(today, kst).AddDate(0, 0, -1)
	}
	return *m.last
}

func (m *memStore) Write(d time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.last = &d
	m.writes = append(m.writes, util.FormatDay(d))
	return nil
}

func storeAt(t *testing.T, s string) *memStore {
	d := date(t, s)
	return &memStore{last: &d}
}

type fakeRunner struct {
	mu    sync.Mutex
	days  []string
	fail  map[string]error
	block chan struct{}
}

func (f *fakeRunner) RunDay(_ context.Context, _ string, day time.Time) orchestrator.Result {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := util.FormatDay(day)
	f.days = append(f.days, key)
	return orchestrator.Result{Day: day, Datasets: []orchestrator.DatasetResult{
		{Dataset: models.RoadNameChange, Records: 5, Err: f.fail[key]},
	}}
}

type eventSink struct {
	mu     sync.Mutex
	events []string
}

func (e *eventSink) Record(_ context.Context, ev db.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev.Event)
	return nil
}

func newScheduler(t *testing.T, today string, deps Deps) *RecoveryScheduler {
	return New(Options{WindowDays: 10, Location: kst, Clock: clockAt(t, today)}, deps, logger.Discard())
}

func TestRunCatchesUpOldestFirst(t *testing.T) {
	store := storeAt(t, "20240301")
	runner := &fakeRunner{}
	events := &eventSink{}
	var observed []EventType
	s := newScheduler(t, "20240304", Deps{
		Runner:   runner,
		Progress: store,
		Events:   events,
		Observer: func(ev Event) { observed = append(observed, ev.Type) },
	})

	sum, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, sum.Outcome)
	assert.Equal(t, 3, sum.Gap)
	assert.Equal(t, []string{"20240302", "20240303", "20240304"}, runner.days)
	assert.Equal(t, []string{"20240302", "20240303", "20240304"}, store.writes, "marker advances after every day")
	assert.Len(t, sum.Advanced, 3)
	assert.NotEmpty(t, sum.RunID)

	assert.Equal(t, db.EventRunStart, events.events[0])
	assert.Equal(t, db.EventRunEnd, events.events[len(events.events)-1])
	assert.Equal(t, RunStarted, observed[0])
	assert.Equal(t, RunFinished, observed[len(observed)-1])
	assert.Len(t, observed, 2+2*3)
}

func TestRunAtWindowEdgeProcessesAll(t *testing.T) {
	store := storeAt(t, "20240220")
	runner := &fakeRunner{}
	s := newScheduler(t, "20240301", Deps{Runner: runner, Progress: store})

	sum, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, sum.Gap, "2024 is a leap year")
	assert.Len(t, runner.days, 10)
	assert.Equal(t, "20240301", store.writes[len(store.writes)-1])
}

func TestRunWindowExceededProcessesNothing(t *testing.T) {
	store := storeAt(t, "20240219")
	runner := &fakeRunner{}
	events := &eventSink{}
	s := newScheduler(t, "20240301", Deps{Runner: runner, Progress: store, Events: events})

	sum, err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrRecoveryWindowExceeded)
	assert.Equal(t, OutcomeWindowExceeded, sum.Outcome)
	assert.Equal(t, 11, sum.Gap)
	assert.Empty(t, runner.days)
	assert.Empty(t, store.writes)
	assert.Contains(t, events.events, db.EventRunAborted)
}

func TestRunHaltsOnFatalDay(t *testing.T) {
	store := storeAt(t, "20240301")
	runner := &fakeRunner{fail: map[string]error{"20240303": errs.Storage("insert", errors.New("disk full"))}}
	s := newScheduler(t, "20240305", Deps{Runner: runner, Progress: store})

	sum, err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrDayHalted)
	assert.ErrorIs(t, err, errs.ErrStorage)
	assert.Equal(t, OutcomeHalted, sum.Outcome)
	assert.Equal(t, []string{"20240302", "20240303"}, runner.days, "later days are not attempted")
	assert.Equal(t, []string{"20240302"}, store.writes)
	assert.Equal(t, "20240302", util.FormatDay(store.Read(date(t, "20240305"))))
}

func TestRunMissingInputStillAdvances(t *testing.T) {
	store := storeAt(t, "20240301")
	runner := &fakeRunner{fail: map[string]error{"20240302": errs.NotFoundf("no archive")}}
	s := newScheduler(t, "20240303", Deps{Runner: runner, Progress: store})

	sum, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, sum.Outcome)
	assert.Equal(t, []string{"20240302", "20240303"}, store.writes)
}

func TestRunWithoutMarkerProcessesToday(t *testing.T) {
	store := &memStore{}
	runner := &fakeRunner{}
	s := newScheduler(t, "20240307", Deps{Runner: runner, Progress: store})

	sum, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Gap)
	assert.Equal(t, []string{"20240307"}, runner.days)
	assert.Equal(t, []string{"20240307"}, store.writes)
}

func TestRunNoopWhenUpToDate(t *testing.T) {
	for _, last := range []string{"20240307", "20240310"} {
		store := storeAt(t, last)
		runner := &fakeRunner{}
		s := newScheduler(t, "20240307", Deps{Runner: runner, Progress: store})

		sum, err := s.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoop, sum.Outcome, last)
		assert.Empty(t, runner.days)
		assert.Empty(t, store.writes)
	}
}

func TestRunMarkerWriteFailureContinues(t *testing.T) {
	store := storeAt(t, "20240301")
	store.writeErr = errors.New("read-only file system")
	runner := &fakeRunner{}
	s := newScheduler(t, "20240303", Deps{Runner: runner, Progress: store})

	sum, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"20240302", "20240303"}, runner.days)
	assert.Empty(t, sum.Advanced)
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	store := storeAt(t, "20240306")
	runner := &fakeRunner{block: make(chan struct{})}
	s := newScheduler(t, "20240307", Deps{Runner: runner, Progress: store})

	started := make(chan struct{})
	s.deps.Observer = func(ev Event) {
		if ev.Type == DayStarted {
			close(started)
		}
	}
	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background())
		done <- err
	}()
	<-started

	sum, err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, OutcomeBusy, sum.Outcome)

	close(runner.block)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"20240307"}, runner.days)
}

func TestRunRespectsFileLock(t *testing.T) {
	marker := t.TempDir() + "/last_success.txt"
	other := progress.NewRunLock(marker)
	require.NoError(t, other.TryLock())

	runner := &fakeRunner{}
	s := newScheduler(t, "20240307", Deps{Runner: runner, Progress: storeAt(t, "20240306"), Lock: progress.NewRunLock(marker)})
	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Empty(t, runner.days)

	require.NoError(t, other.Unlock())
	_, err = s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"20240307"}, runner.days)
}

func TestRunCancelledBeforeDay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &fakeRunner{}
	s := newScheduler(t, "20240307", Deps{Runner: runner, Progress: storeAt(t, "20240305")})

	sum, err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeCancelled, sum.Outcome)
	assert.Empty(t, runner.days)
}
