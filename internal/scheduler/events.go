package scheduler

import (
	"time"

	"github.com/brensch/jusosync/internal/orchestrator"
)

// EventType is the kind of progress notification sent to an Observer.
type EventType int

const (
	RunStarted EventType = iota
	DayStarted
	DayFinished
	RunFinished
)

// Event is a progress notification. Observers are called synchronously from
// the run goroutine and must not block.
type Event struct {
	Type     EventType
	RunID    string
	Day      time.Time
	DayIndex int // 1-based position of Day in the run
	DayTotal int
	Result   *orchestrator.Result // set for DayFinished
	Summary  *Summary             // set for RunFinished
	Err      error
}
