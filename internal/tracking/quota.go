package tracking

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// QuotaPeriod is a maximal sub-interval of a queried range during which
// one assignment (and so one quota) is effective. Periods are half-open
// [Start, End): the last period ends at the range's exclusive end, and
// every other period ends where the next assignment takes over.
type QuotaPeriod struct {
	Assignment Assignment
	Start      time.Time
	End        time.Time
}

// QuotaResolver answers "which assignment applies when" questions from
// a member's time-versioned assignment history.
type QuotaResolver struct {
	src AssignmentSource
}

// NewQuotaResolver builds a resolver over the given assignment source.
func NewQuotaResolver(src AssignmentSource) *QuotaResolver {
	return &QuotaResolver{src: src}
}

// EffectiveAssignment returns the assignment effective at the given
// instant, or nil when the member has none yet.
func (r *QuotaResolver) EffectiveAssignment(ctx context.Context, memberID string, at time.Time) (*Assignment, error) {
	assignments, err := r.src.AssignmentsThrough(ctx, memberID, at)
	if err != nil {
		return nil, fmt.Errorf("effective assignment: %w", err)
	}
	return effectiveAssignment(assignments, at), nil
}

// QuotaPeriods partitions [rangeStart, rangeEnd) into quota-homogeneous
// periods. When no assignment is effective at rangeStart yet, the first
// period starts at the first assignment inside the range; a member with
// no assignments at all gets an empty partition.
func (r *QuotaResolver) QuotaPeriods(ctx context.Context, memberID string, rangeStart, rangeEnd time.Time) ([]QuotaPeriod, error) {
	if rangeStart.After(rangeEnd) {
		return nil, fmt.Errorf("quota periods: %s after %s: %w", rangeStart, rangeEnd, ErrInvalidWindow)
	}
	assignments, err := r.src.AssignmentsThrough(ctx, memberID, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("quota periods: %w", err)
	}
	return quotaPeriods(assignments, rangeStart, rangeEnd), nil
}

// effectiveAssignment picks the assignment with the latest StartingFrom
// <= at. Ties on identical StartingFrom go to the larger ID, i.e. the
// later-created assignment wins.
func effectiveAssignment(assignments []Assignment, at time.Time) *Assignment {
	sortAssignments(assignments)
	var current *Assignment
	for i := range assignments {
		if assignments[i].StartingFrom.After(at) {
			break
		}
		current = &assignments[i]
	}
	return current
}

func quotaPeriods(assignments []Assignment, rangeStart, rangeEnd time.Time) []QuotaPeriod {
	sortAssignments(assignments)

	var periods []QuotaPeriod
	for i := range assignments {
		a := assignments[i]
		if a.StartingFrom.After(rangeEnd) {
			break
		}

		start := a.StartingFrom
		if start.Before(rangeStart) {
			start = rangeStart
		}

		switch {
		case len(periods) == 0:
			periods = append(periods, QuotaPeriod{Assignment: a, Start: start})
		case !start.After(periods[len(periods)-1].Start):
			// Same effective instant: the later-created assignment
			// replaces the one before it instead of opening a
			// zero-length period.
			periods[len(periods)-1].Assignment = a
		default:
			periods[len(periods)-1].End = start
			periods = append(periods, QuotaPeriod{Assignment: a, Start: start})
		}
	}

	// Assignments strictly before the range collapse onto rangeStart;
	// only the latest of them survives, the rest became replacements
	// above. Close the final period at the range end.
	if len(periods) > 0 {
		periods[len(periods)-1].End = rangeEnd
	}
	return periods
}

func sortAssignments(assignments []Assignment) {
	sort.SliceStable(assignments, func(i, j int) bool {
		if assignments[i].StartingFrom.Equal(assignments[j].StartingFrom) {
			return assignments[i].ID < assignments[j].ID
		}
		return assignments[i].StartingFrom.Before(assignments[j].StartingFrom)
	})
}
