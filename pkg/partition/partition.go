// Package partition models the discrete time buckets that scope one
// materialization run. A scheme is a total order of keys rooted at a start
// date; daily keys render as "2006-01-02", monthly keys as "2006-01".
// Keys from different schemes are never comparable, even when the rendered
// strings happen to coincide.
package partition

import (
	"fmt"
	"time"
)

// Granularity is the calendar unit a scheme buckets time into.
type Granularity int

const (
	Daily Granularity = iota
	Monthly
)

func (g Granularity) String() string {
	switch g {
	case Daily:
		return "daily"
	case Monthly:
		return "monthly"
	default:
		return "unknown"
	}
}

func (g Granularity) layout() string {
	if g == Monthly {
		return "2006-01"
	}
	return "2006-01-02"
}

// Key identifies one partition within a scheme.
type Key string

func (k Key) String() string { return string(k) }

// OutOfRangeError reports a requested instant or key before the scheme start.
type OutOfRangeError struct {
	Scheme  string
	Request string
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("partition %q is before the start of the %s scheme", e.Request, e.Scheme)
}

// Scheme enumerates partition keys of one granularity from a fixed start.
type Scheme struct {
	granularity Granularity
	start       time.Time
}

// NewDaily returns a daily scheme starting at the given date. The start is
// truncated to midnight UTC.
func NewDaily(start time.Time) Scheme {
	return Scheme{granularity: Daily, start: floorDay(start.UTC())}
}

// NewMonthly returns a monthly scheme starting at the first of the given
// month, UTC.
func NewMonthly(start time.Time) Scheme {
	return Scheme{granularity: Monthly, start: floorMonth(start.UTC())}
}

func (s Scheme) Granularity() Granularity { return s.granularity }
func (s Scheme) Start() time.Time         { return s.start }

func (s Scheme) String() string {
	return fmt.Sprintf("%s from %s", s.granularity, s.start.Format(s.granularity.layout()))
}

// Compatible reports whether keys may flow between this scheme and other.
// Identical granularity and start are required; schemes that merely render
// the same key strings today are still distinct key spaces.
func (s Scheme) Compatible(other Scheme) bool {
	return s.granularity == other.granularity && s.start.Equal(other.start)
}

// KeyFor floors the instant to the scheme granularity. Instants before the
// scheme start are invalid.
func (s Scheme) KeyFor(t time.Time) (Key, error) {
	floored := s.floor(t.UTC())
	if floored.Before(s.start) {
		return "", &OutOfRangeError{Scheme: s.String(), Request: t.UTC().Format(time.RFC3339)}
	}
	return Key(floored.Format(s.granularity.layout())), nil
}

// StartKey returns the first key of the scheme, which is valid by
// construction.
func (s Scheme) StartKey() Key {
	return Key(s.start.Format(s.granularity.layout()))
}

// Parse validates a rendered key against the scheme and returns its bucket
// start time.
func (s Scheme) Parse(k Key) (time.Time, error) {
	t, err := time.ParseInLocation(s.granularity.layout(), string(k), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed %s partition key %q: %w", s.granularity, k, err)
	}
	if t.Before(s.start) {
		return time.Time{}, &OutOfRangeError{Scheme: s.String(), Request: string(k)}
	}
	return t, nil
}

// KeysInRange enumerates keys covering [from, to], inclusive and ascending.
// The range is clamped to the scheme start; a range entirely before the start
// is invalid.
func (s Scheme) KeysInRange(from, to time.Time) ([]Key, error) {
	lo := s.floor(from.UTC())
	hi := s.floor(to.UTC())
	if hi.Before(s.start) {
		return nil, &OutOfRangeError{Scheme: s.String(), Request: to.UTC().Format(time.RFC3339)}
	}
	if lo.Before(s.start) {
		lo = s.start
	}
	if hi.Before(lo) {
		return nil, nil
	}

	var keys []Key
	for t := lo; !t.After(hi); t = s.next(t) {
		keys = append(keys, Key(t.Format(s.granularity.layout())))
	}
	return keys, nil
}

func (s Scheme) floor(t time.Time) time.Time {
	if s.granularity == Monthly {
		return floorMonth(t)
	}
	return floorDay(t)
}

func (s Scheme) next(t time.Time) time.Time {
	if s.granularity == Monthly {
		return t.AddDate(0, 1, 0)
	}
	return t.AddDate(0, 0, 1)
}

func floorDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func floorMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
