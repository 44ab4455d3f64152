package tracking

import (
	"context"
	"time"
)

// EventKind says how a check-in or check-out was produced.
type EventKind string

const (
	KindTag    EventKind = "tag"    // physical tag scan
	KindRemote EventKind = "remote" // web action, carries no tag
)

// Session is one continuous presence interval for one member: exactly
// one check-in, at most one check-out. A missing check-out means the
// session is still open.
type Session struct {
	ID           string
	MemberID     string
	CheckinAt    time.Time
	CheckinKind  EventKind
	CheckinTag   string
	CheckoutAt   *time.Time
	CheckoutKind EventKind
	CheckoutTag  string
	CreatedAt    time.Time
}

// Open reports whether the session has no check-out yet.
func (s Session) Open() bool {
	return s.CheckoutAt == nil
}

// SessionSource is the read-only view the accounting engine computes
// over. Writers (check-in/check-out issuers) live elsewhere and must
// guarantee at most one open session per member; the engine treats the
// data as an immutable snapshot for the duration of one query.
type SessionSource interface {
	// SessionsOverlapping returns the member's sessions that overlap
	// the half-open window [start, end), ordered by check-in time.
	// Sessions that merely touch a bound may be included; the engine
	// clamps them to nothing.
	SessionsOverlapping(ctx context.Context, memberID string, start, end time.Time) ([]Session, error)

	// EarliestCheckin returns the member's first check-in instant, or
	// nil if the member has never checked in.
	EarliestCheckin(ctx context.Context, memberID string) (*time.Time, error)

	// CheckinWeeks counts the distinct ISO weeks, up to and including
	// until, that contain at least one of the member's check-ins.
	CheckinWeeks(ctx context.Context, memberID string, until time.Time) (int, error)
}

// Quota is a named weekly-hours target.
type Quota struct {
	ID          int64
	Name        string
	WeeklyHours int
}

// Assignment binds a member to a quota and subteams from a given
// instant onward. Assignments are time-versioned: the one effective at
// instant T is the one with the latest StartingFrom <= T.
type Assignment struct {
	ID           int64
	MemberID     string
	Quota        Quota
	Subteams     []string
	StartingFrom time.Time
}

// AssignmentSource yields a member's assignment history.
type AssignmentSource interface {
	// AssignmentsThrough returns all assignments with StartingFrom <=
	// until, ordered by (StartingFrom, ID) ascending.
	AssignmentsThrough(ctx context.Context, memberID string, until time.Time) ([]Assignment, error)
}
