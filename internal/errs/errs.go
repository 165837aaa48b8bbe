// Package errs defines the error kinds shared by every stage of a recovery run.
// Stages wrap one of the sentinels with context; callers classify with errors.Is
// or Classify.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks invalid or missing configuration. Fatal for the run.
	ErrConfig = errors.New("configuration error")
	// ErrNotFound marks an expected archive, entry or file that is absent.
	// Recoverable: the dataset is skipped for the day.
	ErrNotFound = errors.New("not found")
	// ErrService marks a delivery service failure. Fatal for the current day.
	ErrService = errors.New("delivery service error")
	// ErrStorage marks a failed staging write. The day does not advance.
	ErrStorage = errors.New("storage error")
)

// Kind is the classification of an error returned by a stage.
type Kind int

const (
	KindNone Kind = iota
	KindConfig
	KindNotFound
	KindService
	KindStorage
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConfig:
		return "config"
	case KindNotFound:
		return "not_found"
	case KindService:
		return "service"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Classify maps an error onto its Kind. Errors carrying none of the sentinels
// are KindUnknown.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConfig):
		return KindConfig
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrService):
		return KindService
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindUnknown
	}
}

// Recoverable reports whether a day may still advance after a dataset failed
// with err. Only a missing input qualifies; anything unclassified is treated
// as unrecoverable so a day is never skipped silently.
func Recoverable(err error) bool {
	k := Classify(err)
	return k == KindNone || k == KindNotFound
}

// Configf returns an ErrConfig wrapping a formatted message.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// NotFoundf returns an ErrNotFound wrapping a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Servicef returns an ErrService wrapping a formatted message.
func Servicef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrService, fmt.Sprintf(format, args...))
}

// Storage wraps cause as an ErrStorage, keeping both in the chain.
func Storage(op string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, cause)
}
