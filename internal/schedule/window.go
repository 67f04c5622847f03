// Package schedule decides whether the time-of-day schedule wants the light on.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// ErrInvalidTimeOfDay is returned when a time of day cannot be parsed.
var ErrInvalidTimeOfDay = errors.New("invalid time of day")

// TimeOfDay is a wall-clock time with minute resolution.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (one or two digit fields, 24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	h, err := parseField(hs)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	m, err := parseField(ms)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	t := TimeOfDay{Hour: h, Minute: m}
	if !t.Valid() {
		return TimeOfDay{}, fmt.Errorf("%w: %q out of range", ErrInvalidTimeOfDay, s)
	}
	return t, nil
}

func parseField(s string) (int, error) {
	if len(s) == 0 || len(s) > 2 {
		return 0, errors.New("bad field length")
	}
	return strconv.Atoi(s)
}

// At returns the time of day of t in t's location.
func At(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}
}

// Valid reports whether the fields are within 00:00..23:59.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// String formats as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Window is a daily on-period. Start after End wraps past midnight.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// Contains reports whether now falls in [Start, End), wrapping past midnight
// when Start > End. Start == End is an empty window.
func (w Window) Contains(now TimeOfDay) bool {
	n, s, e := now.Minutes(), w.Start.Minutes(), w.End.Minutes()
	if s <= e {
		return n >= s && n < e
	}
	// overnight
	return (n >= s && n < minutesPerDay) || n < e
}

// Wraps reports whether the window crosses midnight.
func (w Window) Wraps() bool {
	return w.Start.Minutes() > w.End.Minutes()
}
