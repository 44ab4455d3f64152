package clock

import (
	"errors"
	"fmt"
	"time"
)

// ErrZeroTime is returned when a boundary is requested for the zero instant.
var ErrZeroTime = errors.New("zero time has no calendar boundaries")

// Calendar computes local day/week/month boundaries in one fixed timezone.
// All stored instants are converted into this zone before any boundary
// math; callers never pick a zone per request.
type Calendar struct {
	loc *time.Location
}

// NewCalendar loads the named IANA timezone.
func NewCalendar(tz string) (Calendar, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Calendar{}, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return Calendar{loc: loc}, nil
}

// MustCalendar is NewCalendar that panics; for wiring with known-good zones.
func MustCalendar(tz string) Calendar {
	c, err := NewCalendar(tz)
	if err != nil {
		panic(err)
	}
	return c
}

// Location exposes the configured zone.
func (c Calendar) Location() *time.Location {
	return c.loc
}

// In converts t into the calendar's zone.
func (c Calendar) In(t time.Time) time.Time {
	return t.In(c.loc)
}

// StartOfDay returns local midnight of t's local calendar date.
func (c Calendar) StartOfDay(t time.Time) time.Time {
	c.mustNotBeZero(t)
	y, m, d := t.In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

// StartOfNextDay returns the next local midnight after t's day. It is
// the exclusive upper bound of t's day: accounting windows are
// [StartOfDay, StartOfNextDay). Computed by calendar arithmetic so a
// DST transition that shortens or lengthens the day still yields the
// correct instant.
func (c Calendar) StartOfNextDay(t time.Time) time.Time {
	return c.StartOfDay(t).AddDate(0, 0, 1)
}

// EndOfDay returns one microsecond before the next local midnight, the
// latest representable instant inside t's day. Use it where a single
// inclusive instant is wanted (as-of lookups, SQL upper bounds); for
// duration windows use StartOfNextDay as the exclusive end instead.
func (c Calendar) EndOfDay(t time.Time) time.Time {
	return c.StartOfNextDay(t).Add(-time.Microsecond)
}

// StartOfWeek returns local midnight of the Monday of t's week.
func (c Calendar) StartOfWeek(t time.Time) time.Time {
	day := c.StartOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7 // Monday-anchored
	return day.AddDate(0, 0, -offset)
}

// StartOfNextWeek returns the following Monday's midnight, the
// exclusive upper bound of t's week.
func (c Calendar) StartOfNextWeek(t time.Time) time.Time {
	return c.StartOfWeek(t).AddDate(0, 0, 7)
}

// EndOfWeek returns one microsecond before the following Monday's midnight.
func (c Calendar) EndOfWeek(t time.Time) time.Time {
	return c.StartOfNextWeek(t).Add(-time.Microsecond)
}

// StartOfMonth returns local midnight of the first day of t's month.
func (c Calendar) StartOfMonth(t time.Time) time.Time {
	c.mustNotBeZero(t)
	y, m, _ := t.In(c.loc).Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, c.loc)
}

// StartOfNextMonth returns the next month's first midnight, the
// exclusive upper bound of t's month.
func (c Calendar) StartOfNextMonth(t time.Time) time.Time {
	return c.StartOfMonth(t).AddDate(0, 1, 0)
}

// EndOfMonth returns one microsecond before the next month's start.
func (c Calendar) EndOfMonth(t time.Time) time.Time {
	return c.StartOfNextMonth(t).Add(-time.Microsecond)
}

// ISOWeek returns the ISO year and week of t's local date.
func (c Calendar) ISOWeek(t time.Time) (year, week int) {
	return t.In(c.loc).ISOWeek()
}

// SameLocalDay reports whether two instants fall on one local calendar date.
func (c Calendar) SameLocalDay(a, b time.Time) bool {
	ay, am, ad := a.In(c.loc).Date()
	by, bm, bd := b.In(c.loc).Date()
	return ay == by && am == bm && ad == bd
}

// Date builds a local instant for the given calendar values.
func (c Calendar) Date(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, c.loc)
}

// A zero time slipping in means some instant was never set; treat it as
// a programming error rather than quietly producing year-1 boundaries.
func (c Calendar) mustNotBeZero(t time.Time) {
	if t.IsZero() {
		panic(ErrZeroTime)
	}
}
