package tracking

import (
	"context"
	"time"

	"doortracker/internal/clock"
)

// ReportPeriod is one quota-homogeneous slice of a range report with
// the minutes actually worked inside it. End is exclusive; adjacent
// periods share the boundary instant without counting it twice.
type ReportPeriod struct {
	Quota    Quota     `json:"quota"`
	Subteams []string  `json:"subteams,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Minutes  int       `json:"minutes"`
}

// RangeReport is the answer to a reporting-view query over a date
// range. End is the exclusive upper bound (the midnight after the last
// requested day). TotalMinutes is computed in one pass over the whole
// range; since each period's minutes are floored independently, the
// period sum can fall short of the total by seconds lost at boundaries.
type RangeReport struct {
	MemberID     string         `json:"member_id"`
	Start        time.Time      `json:"start"`
	End          time.Time      `json:"end"`
	TotalMinutes int            `json:"total_minutes"`
	Periods      []ReportPeriod `json:"periods"`
}

// Reporter serves caller-supplied date-range queries. Ranges default to
// the trailing DefaultDays ending today and are clamped to MaxDays.
type Reporter struct {
	engine      *Engine
	quotas      *QuotaResolver
	cal         clock.Calendar
	now         func() time.Time
	DefaultDays int
	MaxDays     int
}

// NewReporter wires the reporter; defaultDays/maxDays of 0 fall back to
// 7 and 90.
func NewReporter(engine *Engine, quotas *QuotaResolver, cal clock.Calendar, defaultDays, maxDays int) *Reporter {
	if defaultDays <= 0 {
		defaultDays = 7
	}
	if maxDays <= 0 {
		maxDays = 90
	}
	return &Reporter{
		engine:      engine,
		quotas:      quotas,
		cal:         cal,
		now:         time.Now,
		DefaultDays: defaultDays,
		MaxDays:     maxDays,
	}
}

// Range reports worked minutes per quota period over [from, to], given
// as local days. Zero bounds select the trailing default window; a
// range longer than MaxDays is clamped by moving its start forward.
func (r *Reporter) Range(ctx context.Context, memberID string, from, to time.Time) (RangeReport, error) {
	if to.IsZero() {
		to = r.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -(r.DefaultDays - 1))
	}

	start := r.cal.StartOfDay(from)
	end := r.cal.StartOfNextDay(to)
	if start.After(end) {
		return RangeReport{}, ErrInvalidWindow
	}
	if floor := r.cal.StartOfDay(to).AddDate(0, 0, -(r.MaxDays - 1)); start.Before(floor) {
		start = floor
	}

	periods, err := r.quotas.QuotaPeriods(ctx, memberID, start, end)
	if err != nil {
		return RangeReport{}, err
	}

	report := RangeReport{MemberID: memberID, Start: start, End: end}
	total, err := r.engine.WorkedMinutes(ctx, memberID, start, end)
	if err != nil {
		return RangeReport{}, err
	}
	report.TotalMinutes = total

	for _, p := range periods {
		minutes, err := r.engine.WorkedMinutes(ctx, memberID, p.Start, p.End)
		if err != nil {
			return RangeReport{}, err
		}
		report.Periods = append(report.Periods, ReportPeriod{
			Quota:    p.Assignment.Quota,
			Subteams: p.Assignment.Subteams,
			Start:    p.Start,
			End:      p.End,
			Minutes:  minutes,
		})
	}
	return report, nil
}
