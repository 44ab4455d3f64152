package scan

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"doortracker/internal/tracking"
)

const pgUniqueViolation = "23505"

// Repository is the Postgres write side of the scan boundary. It owns
// the invariants the accounting core only assumes: at most one open
// session per member (partial unique index) and at most one pending
// registration per scanner (primary key on scanner_id).
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ScannerByID returns a scanner or nil when unknown.
func (r *Repository) ScannerByID(ctx context.Context, id string) (*Scanner, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(name, ''), last_seen_at FROM scanners WHERE id = $1
	`, id)
	var (
		sc       Scanner
		lastSeen sql.NullTime
	)
	if err := row.Scan(&sc.ID, &sc.Name, &lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		sc.LastSeenAt = &t
	}
	return &sc, nil
}

// UpsertScanner registers a device id, keeping an existing name.
func (r *Repository) UpsertScanner(ctx context.Context, id, name string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scanners (id, name) VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (id) DO UPDATE SET name = COALESCE(NULLIF(EXCLUDED.name, ''), scanners.name)
	`, id, name)
	return err
}

// TouchScanner updates the heartbeat timestamp; false when unknown.
func (r *Repository) TouchScanner(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scanners SET last_seen_at = $2 WHERE id = $1
	`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// PendingRegistration returns the scanner's pending slot, nil when free.
func (r *Repository) PendingRegistration(ctx context.Context, scannerID string) (*Registration, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT scanner_id, member_id, tag_name, created_at
		FROM registrations WHERE scanner_id = $1
	`, scannerID)
	var reg Registration
	if err := row.Scan(&reg.ScannerID, &reg.MemberID, &reg.TagName, &reg.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &reg, nil
}

// AcquireRegistration claims the scanner's single pending slot; a held
// slot yields ErrSlotHeld.
func (r *Repository) AcquireRegistration(ctx context.Context, reg Registration) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO registrations (scanner_id, member_id, tag_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (scanner_id) DO NOTHING
	`, reg.ScannerID, reg.MemberID, reg.TagName)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSlotHeld
	}
	return nil
}

// ReleaseRegistration frees the slot; releasing a free slot is a no-op.
func (r *Repository) ReleaseRegistration(ctx context.Context, scannerID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM registrations WHERE scanner_id = $1`, scannerID)
	return err
}

// ClaimPending atomically turns the scanner's pending registration into
// a claimed tag bound to the scanned code, releasing the slot. Returns
// nil when no registration was pending.
func (r *Repository) ClaimPending(ctx context.Context, scannerID, code string) (*Tag, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		DELETE FROM registrations WHERE scanner_id = $1
		RETURNING member_id, tag_name
	`, scannerID)
	var memberID, tagName string
	if err := row.Scan(&memberID, &tagName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	var tag Tag
	err = tx.QueryRowContext(ctx, `
		INSERT INTO tags (code, name, member_id) VALUES ($1, $2, $3)
		RETURNING code, name, member_id, created_at
	`, code, tagName, memberID).Scan(&tag.Code, &tag.Name, &tag.MemberID, &tag.Created)
	if err != nil {
		return nil, err
	}
	return &tag, tx.Commit()
}

// TagByCode returns a claimed tag or nil when the code is unbound.
func (r *Repository) TagByCode(ctx context.Context, code string) (*Tag, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT code, name, member_id, created_at FROM tags WHERE code = $1
	`, code)
	var tag Tag
	if err := row.Scan(&tag.Code, &tag.Name, &tag.MemberID, &tag.Created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &tag, nil
}

// TagsByMember lists a member's claimed tags.
func (r *Repository) TagsByMember(ctx context.Context, memberID string) ([]Tag, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code, name, member_id, created_at FROM tags
		WHERE member_id = $1 ORDER BY created_at
	`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.Code, &tag.Name, &tag.MemberID, &tag.Created); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// RenameTag updates a tag's display name.
func (r *Repository) RenameTag(ctx context.Context, code, name string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tags SET name = $2 WHERE code = $1`, code, name)
	return err
}

// DeleteTag removes a tag; session events referencing it keep their
// timestamps (the FK nulls the tag reference).
func (r *Repository) DeleteTag(ctx context.Context, code string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tags WHERE code = $1`, code)
	return err
}

// OpenSession creates a new session for the member. The partial unique
// index on open sessions makes this the atomic check-and-create the
// engine's non-overlap invariant depends on.
func (r *Repository) OpenSession(ctx context.Context, memberID string, kind tracking.EventKind, tagCode string, at time.Time) (tracking.Session, error) {
	s := tracking.Session{
		ID:          uuid.NewString(),
		MemberID:    memberID,
		CheckinAt:   at,
		CheckinKind: kind,
		CheckinTag:  tagCode,
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, member_id, checkin_at, checkin_kind, checkin_tag)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING created_at
	`, s.ID, s.MemberID, s.CheckinAt, s.CheckinKind, s.CheckinTag).Scan(&s.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return tracking.Session{}, ErrSessionOpen
		}
		return tracking.Session{}, err
	}
	return s, nil
}

// CloseSession completes the member's open session; ErrNoOpenSession
// when there is none.
func (r *Repository) CloseSession(ctx context.Context, memberID string, kind tracking.EventKind, tagCode string, at time.Time) (tracking.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET checkout_at = $2, checkout_kind = $3, checkout_tag = NULLIF($4, '')
		WHERE member_id = $1 AND checkout_at IS NULL
		RETURNING id, member_id, checkin_at, checkin_kind, COALESCE(checkin_tag, ''), created_at
	`, memberID, at, kind, tagCode)
	var s tracking.Session
	if err := row.Scan(&s.ID, &s.MemberID, &s.CheckinAt, &s.CheckinKind, &s.CheckinTag, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tracking.Session{}, ErrNoOpenSession
		}
		return tracking.Session{}, err
	}
	s.CheckoutAt = &at
	s.CheckoutKind = kind
	s.CheckoutTag = tagCode
	return s, nil
}

// OpenSessionFor returns the member's open session or nil.
func (r *Repository) OpenSessionFor(ctx context.Context, memberID string) (*tracking.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, member_id, checkin_at, checkin_kind, COALESCE(checkin_tag, ''), created_at
		FROM sessions WHERE member_id = $1 AND checkout_at IS NULL
	`, memberID)
	var s tracking.Session
	if err := row.Scan(&s.ID, &s.MemberID, &s.CheckinAt, &s.CheckinKind, &s.CheckinTag, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// MemberName resolves a member's display name.
func (r *Repository) MemberName(ctx context.Context, memberID string) (string, error) {
	row := r.db.QueryRowContext(ctx, `SELECT name FROM members WHERE id = $1`, memberID)
	var name string
	if err := row.Scan(&name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return name, nil
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, memberID, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, member_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, memberID, expiresAt)
	return err
}

// RevokeRefreshToken marks a token revoked.
func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token)
	return err
}

// LogEntry is one row of the flat check-in/check-out log used by the
// CSV export.
type LogEntry struct {
	Time       time.Time
	Direction  string // in | out
	Kind       tracking.EventKind
	TagCode    string
	MemberID   string
	MemberName string
}

// ListLogs flattens sessions into ordered check-in/check-out events
// within [from, to].
func (r *Repository) ListLogs(ctx context.Context, from, to time.Time) ([]LogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, direction, kind, COALESCE(tag, ''), member_id, m.name
		FROM (
			SELECT checkin_at AS ts, 'in' AS direction, checkin_kind AS kind,
			       checkin_tag AS tag, member_id
			FROM sessions
			UNION ALL
			SELECT checkout_at, 'out', checkout_kind, checkout_tag, member_id
			FROM sessions WHERE checkout_at IS NOT NULL
		) events
		JOIN members m ON m.id = events.member_id
		WHERE ts >= $1 AND ts <= $2
		ORDER BY ts
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.Time, &e.Direction, &e.Kind, &e.TagCode, &e.MemberID, &e.MemberName); err != nil {
			return nil, err
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}
