package app

import (
	"fmt"
	"time"

	"github.com/brensch/jusosync/internal/orchestrator"
	"github.com/brensch/jusosync/internal/scheduler"
)

// RunEventMsg forwards a scheduler notification to the UI.
type RunEventMsg struct {
	Event scheduler.Event
}

// StageMsg reports a dataset entering a pipeline stage.
type StageMsg struct {
	Update orchestrator.StageUpdate
	At     time.Time
}

// TaskFinishedMsg signals the recovery run returned.
type TaskFinishedMsg struct {
	Summary   scheduler.Summary
	Err       error
	StartTime time.Time
	EndTime   time.Time
}

func NewTaskFinished(sum scheduler.Summary, start time.Time, err error) TaskFinishedMsg {
	return TaskFinishedMsg{
		Summary:   sum,
		StartTime: start,
		EndTime:   time.Now(),
		Err:       err,
	}
}

func (r RunEventMsg) String() string {
	return fmt.Sprintf("RunEvent %d: %d/%d", r.Event.Type, r.Event.DayIndex, r.Event.DayTotal)
}
func (s StageMsg) String() string {
	return fmt.Sprintf("Stage %s/%s: %s", s.Update.Day.Format("20060102"), s.Update.Dataset, s.Update.Stage)
}
func (tf TaskFinishedMsg) String() string { return fmt.Sprintf("TaskFinished %s", tf.Summary.Outcome) }
