package util

import (
	"fmt"
	"time"
)

const (
	// DayLayout is the yyyyMMdd form used by the progress marker and std_date.
	DayLayout = "20060102"
	// DirLayout is the YYMMDD form of the dated archive directories.
	DirLayout = "060102"
)

var seoul *time.Location

func init() {
	// The address service publishes on Korea Standard Time, which has no DST.
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		loc = time.FixedZone("KST", 9*60*60)
	}
	seoul = loc
}

// KSTLocation returns the default location for calendar arithmetic.
func KSTLocation() *time.Location {
	return seoul
}

// LoadLocation resolves a configured zone name, falling back to KST for "".
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return seoul, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return loc, nil
}

// DateOf truncates t to midnight of its calendar day in loc.
func DateOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DaysBetween returns the number of calendar days from a to b (b - a).
// Both are reduced to their calendar dates first so DST shifts and time of
// day never change the result.
func DaysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// FormatDay renders t as yyyyMMdd.
func FormatDay(t time.Time) string {
	return t.Format(DayLayout)
}

// FormatDirDay renders t as YYMMDD for dated archive directories.
func FormatDirDay(t time.Time) string {
	return t.Format(DirLayout)
}

// ParseDay parses a yyyyMMdd string as midnight in loc.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q as yyyyMMdd: %w", s, err)
	}
	return t, nil
}
