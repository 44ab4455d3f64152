package tracking

import (
	"context"
	"fmt"
	"time"

	"doortracker/internal/clock"
)

// Stats answers the standard time-worked questions for a member as of a
// reference day, interpreted as a local calendar date in the configured
// timezone. Every call recomputes from raw sessions; there is no hidden
// state, so results can never go stale.
type Stats struct {
	engine *Engine
	src    SessionSource
	cal    clock.Calendar
}

// NewStats composes the accounting engine and session source behind the
// statistics facade.
func NewStats(engine *Engine, src SessionSource, cal clock.Calendar) *Stats {
	return &Stats{engine: engine, src: src, cal: cal}
}

// Calendar exposes the facade's boundary calendar.
func (s *Stats) Calendar() clock.Calendar {
	return s.cal
}

// MinutesToday returns worked minutes on day's local calendar date,
// queried as the half-open window up to the next midnight.
func (s *Stats) MinutesToday(ctx context.Context, memberID string, day time.Time) (int, error) {
	return s.engine.WorkedMinutes(ctx, memberID, s.cal.StartOfDay(day), s.cal.StartOfNextDay(day))
}

// MinutesThisWeek returns worked minutes in day's Monday-anchored week.
func (s *Stats) MinutesThisWeek(ctx context.Context, memberID string, day time.Time) (int, error) {
	return s.engine.WorkedMinutes(ctx, memberID, s.cal.StartOfWeek(day), s.cal.StartOfNextWeek(day))
}

// MinutesThisMonth returns worked minutes in day's calendar month.
func (s *Stats) MinutesThisMonth(ctx context.Context, memberID string, day time.Time) (int, error) {
	return s.engine.WorkedMinutes(ctx, memberID, s.cal.StartOfMonth(day), s.cal.StartOfNextMonth(day))
}

// TotalMinutes returns worked minutes from the member's earliest
// check-in's local day start through the end of day. A member who has
// never checked in gets zero.
func (s *Stats) TotalMinutes(ctx context.Context, memberID string, day time.Time) (int, error) {
	earliest, err := s.src.EarliestCheckin(ctx, memberID)
	if err != nil {
		return 0, fmt.Errorf("total minutes: %w", err)
	}
	if earliest == nil {
		return 0, nil
	}
	return s.engine.WorkedMinutes(ctx, memberID, s.cal.StartOfDay(*earliest), s.cal.StartOfNextDay(day))
}

// AverageWeeklyMinutes divides the member's total minutes by the number
// of distinct ISO weeks that contain at least one check-in, counted
// through day. With zero such weeks the total is zero anyway and is
// returned as-is rather than dividing by zero.
func (s *Stats) AverageWeeklyMinutes(ctx context.Context, memberID string, day time.Time) (int, error) {
	total, err := s.TotalMinutes(ctx, memberID, day)
	if err != nil {
		return 0, err
	}
	weeks, err := s.src.CheckinWeeks(ctx, memberID, s.cal.EndOfDay(day))
	if err != nil {
		return 0, fmt.Errorf("average weekly minutes: %w", err)
	}
	if weeks == 0 {
		return total, nil
	}
	return total / weeks, nil
}

// Summary bundles the facade's answers for one member and day.
type Summary struct {
	MemberID      string    `json:"member_id"`
	Day           time.Time `json:"day"`
	Today         int       `json:"minutes_today"`
	Week          int       `json:"minutes_week"`
	Month         int       `json:"minutes_month"`
	Total         int       `json:"minutes_total"`
	AverageWeekly int       `json:"minutes_average_weekly"`
}

// Summarize computes all per-member figures in one call; handlers and
// the snapshot worker use it so they cannot drift apart.
func (s *Stats) Summarize(ctx context.Context, memberID string, day time.Time) (Summary, error) {
	sum := Summary{MemberID: memberID, Day: s.cal.StartOfDay(day)}
	var err error
	if sum.Today, err = s.MinutesToday(ctx, memberID, day); err != nil {
		return Summary{}, err
	}
	if sum.Week, err = s.MinutesThisWeek(ctx, memberID, day); err != nil {
		return Summary{}, err
	}
	if sum.Month, err = s.MinutesThisMonth(ctx, memberID, day); err != nil {
		return Summary{}, err
	}
	if sum.Total, err = s.TotalMinutes(ctx, memberID, day); err != nil {
		return Summary{}, err
	}
	if sum.AverageWeekly, err = s.AverageWeeklyMinutes(ctx, memberID, day); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// QuotaMet reports whether worked minutes reach a quota given in hours.
func QuotaMet(periodMinutes, quotaHours int) bool {
	return periodMinutes >= quotaHours*60
}
