package tracking

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Repository is the Postgres read model behind the accounting core.
// It only ever selects; session and assignment writes live at the scan
// boundary.
type Repository struct {
	db *sql.DB
	tz string
}

// NewRepository creates a read repository. tz is the configured IANA
// zone name, used server-side for ISO-week bucketing.
func NewRepository(db *sql.DB, tz string) *Repository {
	return &Repository{db: db, tz: tz}
}

// SessionsOverlapping implements SessionSource over the sessions table.
func (r *Repository) SessionsOverlapping(ctx context.Context, memberID string, start, end time.Time) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, member_id, checkin_at, checkin_kind, checkin_tag,
		       checkout_at, checkout_kind, checkout_tag, created_at
		FROM sessions
		WHERE member_id = $1
		  AND checkin_at <= $3
		  AND (checkout_at >= $2 OR checkout_at IS NULL)
		ORDER BY checkin_at
	`, memberID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// EarliestCheckin implements SessionSource.
func (r *Repository) EarliestCheckin(ctx context.Context, memberID string) (*time.Time, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT MIN(checkin_at) FROM sessions WHERE member_id = $1
	`, memberID)
	var earliest sql.NullTime
	if err := row.Scan(&earliest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !earliest.Valid {
		return nil, nil
	}
	return &earliest.Time, nil
}

// CheckinWeeks implements SessionSource. The ISO year+week key is
// computed in the configured zone so week membership matches the
// calendar used everywhere else.
func (r *Repository) CheckinWeeks(ctx context.Context, memberID string, until time.Time) (int, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT to_char(checkin_at AT TIME ZONE $2, 'IYYY-IW'))
		FROM sessions
		WHERE member_id = $1 AND checkin_at <= $3
	`, memberID, r.tz, until)
	var weeks int
	if err := row.Scan(&weeks); err != nil {
		return 0, err
	}
	return weeks, nil
}

// AssignmentsThrough implements AssignmentSource, joining in the quota
// and the assignment's subteam names.
func (r *Repository) AssignmentsThrough(ctx context.Context, memberID string, until time.Time) ([]Assignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.member_id, a.starting_from,
		       q.id, q.name, q.weekly_hours,
		       COALESCE(string_agg(s.name, ',' ORDER BY s.name), '')
		FROM assignments a
		JOIN quotas q ON q.id = a.quota_id
		LEFT JOIN assignment_subteams ast ON ast.assignment_id = a.id
		LEFT JOIN subteams s ON s.id = ast.subteam_id
		WHERE a.member_id = $1 AND a.starting_from <= $2
		GROUP BY a.id, q.id
		ORDER BY a.starting_from, a.id
	`, memberID, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Assignment
	for rows.Next() {
		var a Assignment
		var subteams string
		if err := rows.Scan(&a.ID, &a.MemberID, &a.StartingFrom,
			&a.Quota.ID, &a.Quota.Name, &a.Quota.WeeklyHours, &subteams); err != nil {
			return nil, err
		}
		a.Subteams = splitSubteams(subteams)
		res = append(res, a)
	}
	return res, rows.Err()
}

func scanSession(rows *sql.Rows) (Session, error) {
	var (
		s            Session
		checkinTag   sql.NullString
		checkoutAt   sql.NullTime
		checkoutKind sql.NullString
		checkoutTag  sql.NullString
	)
	err := rows.Scan(&s.ID, &s.MemberID, &s.CheckinAt, &s.CheckinKind, &checkinTag,
		&checkoutAt, &checkoutKind, &checkoutTag, &s.CreatedAt)
	if err != nil {
		return Session{}, err
	}
	s.CheckinTag = checkinTag.String
	if checkoutAt.Valid {
		t := checkoutAt.Time
		s.CheckoutAt = &t
		s.CheckoutKind = EventKind(checkoutKind.String)
		s.CheckoutTag = checkoutTag.String
	}
	return s, nil
}

func splitSubteams(agg string) []string {
	if agg == "" {
		return nil
	}
	return strings.Split(agg, ",")
}
