package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidWindow is returned when a query window's start is after its
// end. Callers must fix their input; the engine never swaps the bounds.
var ErrInvalidWindow = errors.New("window start is after window end")

// Engine turns a member's sessions into worked minutes over arbitrary
// windows. It is pure and synchronous: one storage read, clamp, sum.
type Engine struct {
	src SessionSource
	now func() time.Time
}

// NewEngine builds an engine over the given session source.
func NewEngine(src SessionSource) *Engine {
	return &Engine{src: src, now: time.Now}
}

// NewEngineAt is NewEngine with an injectable clock, for callers that
// need a deterministic "now" (tests, replay).
func NewEngineAt(src SessionSource, now func() time.Time) *Engine {
	return &Engine{src: src, now: now}
}

// WorkedMinutes sums the member's presence inside the half-open window
// [start, end) in whole minutes. Each overlapping session is clamped to
// the window; an open session accrues up to now(), never beyond it,
// even when the window extends into the future. Fractional minutes are
// floored. Because every window end is exclusive, two windows sharing a
// boundary instant never both count it, so sums over adjacent windows
// never exceed the whole-range figure.
func (e *Engine) WorkedMinutes(ctx context.Context, memberID string, start, end time.Time) (int, error) {
	if start.IsZero() || end.IsZero() {
		return 0, fmt.Errorf("worked minutes: zero window bound: %w", ErrInvalidWindow)
	}
	if start.After(end) {
		return 0, fmt.Errorf("worked minutes: %s after %s: %w", start, end, ErrInvalidWindow)
	}

	sessions, err := e.src.SessionsOverlapping(ctx, memberID, start, end)
	if err != nil {
		return 0, fmt.Errorf("worked minutes: %w", err)
	}

	now := e.now()

	var total time.Duration
	for _, s := range sessions {
		effectiveCheckout := now
		if s.CheckoutAt != nil {
			effectiveCheckout = *s.CheckoutAt
		}

		clampedStart := s.CheckinAt
		if clampedStart.Before(start) {
			clampedStart = start
		}
		clampedEnd := effectiveCheckout
		if clampedEnd.After(end) {
			clampedEnd = end
		}

		if clampedEnd.After(clampedStart) {
			total += clampedEnd.Sub(clampedStart)
		}
	}

	return int(total / time.Minute), nil
}
