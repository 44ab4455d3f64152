package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"doortracker/internal/tracking"
)

var (
	// ErrScannerUnknown means the scan came from an unregistered device.
	ErrScannerUnknown = errors.New("scanner not authorized")
	// ErrTagUnknown means the code matched no claimed tag and no
	// registration was pending on the scanner.
	ErrTagUnknown = errors.New("tag not registered")
	// ErrSlotHeld means the scanner already mediates a registration.
	ErrSlotHeld = errors.New("scanner already has a pending registration")
	// ErrNoOpenSession means a checkout was requested with nothing open.
	ErrNoOpenSession = errors.New("no open session")
	// ErrSessionOpen means a check-in raced an already-open session.
	ErrSessionOpen = errors.New("session already open")
	// ErrFutureCheckout rejects remote checkouts dated in the future.
	ErrFutureCheckout = errors.New("cannot check out in the future")
	// ErrCheckoutBeforeCheckin rejects checkouts before the session began.
	ErrCheckoutBeforeCheckin = errors.New("checkout precedes checkin")
	// ErrTagNotOwned guards tag rename/delete against other members.
	ErrTagNotOwned = errors.New("tag belongs to another member")
)

// TagState is the position of a scanned code in the tag lifecycle. A
// scan is a single transition over this state, not a chain of
// speculative attempts.
type TagState int

const (
	// TagUnbound: code matches nothing; the scan is rejected.
	TagUnbound TagState = iota
	// TagPendingRegistration: the scanner holds a pending slot; the
	// scan binds the code to the waiting tag.
	TagPendingRegistration
	// TagBoundSessionClosed: known tag, owner not present; check in.
	TagBoundSessionClosed
	// TagBoundSessionOpen: known tag, owner present; check out.
	TagBoundSessionOpen
)

// Outcome names the transition a scan performed.
type Outcome string

const (
	OutcomeRegistered Outcome = "register"
	OutcomeCheckin    Outcome = "checkin"
	OutcomeCheckout   Outcome = "checkout"
)

// Result is what the scanner displays after a scan.
type Result struct {
	Outcome    Outcome `json:"state"`
	MemberID   string  `json:"-"`
	OwnerName  string  `json:"owner_name"`
	HoursToday int     `json:"hours_day"`
	HoursWeek  int     `json:"hours_week"`
}

// Tag is a claimed physical credential.
type Tag struct {
	Code     string    `json:"code"`
	Name     string    `json:"name"`
	MemberID string    `json:"member_id"`
	Created  time.Time `json:"created_at"`
}

// Scanner is a registered reader device.
type Scanner struct {
	ID         string
	Name       string
	LastSeenAt *time.Time
}

// Registration is a pending tag waiting for its first scan. At most one
// exists per scanner; the slot is acquired and released, never shared.
type Registration struct {
	ScannerID string
	MemberID  string
	TagName   string
	CreatedAt time.Time
}

// Store is the persistence the scan boundary needs. The Postgres
// Repository implements it; tests use a fake.
type Store interface {
	ScannerByID(ctx context.Context, id string) (*Scanner, error)
	TouchScanner(ctx context.Context, id string, at time.Time) (bool, error)

	PendingRegistration(ctx context.Context, scannerID string) (*Registration, error)
	AcquireRegistration(ctx context.Context, reg Registration) error
	ReleaseRegistration(ctx context.Context, scannerID string) error
	ClaimPending(ctx context.Context, scannerID, code string) (*Tag, error)

	TagByCode(ctx context.Context, code string) (*Tag, error)
	TagsByMember(ctx context.Context, memberID string) ([]Tag, error)
	RenameTag(ctx context.Context, code, name string) error
	DeleteTag(ctx context.Context, code string) error

	OpenSession(ctx context.Context, memberID string, kind tracking.EventKind, tagCode string, at time.Time) (tracking.Session, error)
	CloseSession(ctx context.Context, memberID string, kind tracking.EventKind, tagCode string, at time.Time) (tracking.Session, error)
	OpenSessionFor(ctx context.Context, memberID string) (*tracking.Session, error)

	MemberName(ctx context.Context, memberID string) (string, error)
}

// Service drives the scan state machine. Session writes rely on the
// store being atomic about "at most one open session per member"; the
// accounting core documents that as a precondition and this is where it
// is discharged.
type Service struct {
	store Store
	stats *tracking.Stats
	now   func() time.Time
}

// NewService wires the scan boundary.
func NewService(store Store, stats *tracking.Stats) *Service {
	return &Service{store: store, stats: stats, now: time.Now}
}

// HandleScan performs one state-machine transition for a (scanner,
// code) pair: bind a pending tag, check the owner out, or check them
// in. The response carries the owner's hours so the scanner can show
// them.
func (s *Service) HandleScan(ctx context.Context, scannerID, code string) (Result, error) {
	scanner, err := s.store.ScannerByID(ctx, scannerID)
	if err != nil {
		return Result{}, fmt.Errorf("handle scan: %w", err)
	}
	if scanner == nil {
		return Result{}, ErrScannerUnknown
	}

	state, tag, err := s.resolveState(ctx, scannerID, code)
	if err != nil {
		return Result{}, fmt.Errorf("handle scan: %w", err)
	}

	now := s.now()
	switch state {
	case TagPendingRegistration:
		claimed, err := s.store.ClaimPending(ctx, scannerID, code)
		if err != nil {
			return Result{}, fmt.Errorf("claim pending tag: %w", err)
		}
		if claimed == nil {
			// Slot released between resolve and claim.
			return Result{}, ErrTagUnknown
		}
		return s.result(ctx, OutcomeRegistered, claimed.MemberID, now)

	case TagBoundSessionOpen:
		if _, err := s.store.CloseSession(ctx, tag.MemberID, tracking.KindTag, code, now); err != nil {
			return Result{}, fmt.Errorf("checkout: %w", err)
		}
		return s.result(ctx, OutcomeCheckout, tag.MemberID, now)

	case TagBoundSessionClosed:
		if _, err := s.store.OpenSession(ctx, tag.MemberID, tracking.KindTag, code, now); err != nil {
			return Result{}, fmt.Errorf("checkin: %w", err)
		}
		return s.result(ctx, OutcomeCheckin, tag.MemberID, now)

	default:
		return Result{}, ErrTagUnknown
	}
}

// resolveState classifies the scanned code. A pending registration on
// the scanner wins over everything: the first scan of any code while
// the slot is held binds that code.
func (s *Service) resolveState(ctx context.Context, scannerID, code string) (TagState, *Tag, error) {
	pending, err := s.store.PendingRegistration(ctx, scannerID)
	if err != nil {
		return TagUnbound, nil, err
	}
	if pending != nil {
		return TagPendingRegistration, nil, nil
	}

	tag, err := s.store.TagByCode(ctx, code)
	if err != nil {
		return TagUnbound, nil, err
	}
	if tag == nil {
		return TagUnbound, nil, nil
	}

	open, err := s.store.OpenSessionFor(ctx, tag.MemberID)
	if err != nil {
		return TagUnbound, nil, err
	}
	if open != nil {
		return TagBoundSessionOpen, tag, nil
	}
	return TagBoundSessionClosed, tag, nil
}

// RemoteCheckout closes the member's open session at an explicit,
// not-in-the-future instant (web action, no tag involved).
func (s *Service) RemoteCheckout(ctx context.Context, memberID string, at time.Time) (tracking.Session, error) {
	if at.After(s.now()) {
		return tracking.Session{}, ErrFutureCheckout
	}
	open, err := s.store.OpenSessionFor(ctx, memberID)
	if err != nil {
		return tracking.Session{}, fmt.Errorf("remote checkout: %w", err)
	}
	if open == nil {
		return tracking.Session{}, ErrNoOpenSession
	}
	if at.Before(open.CheckinAt) {
		return tracking.Session{}, ErrCheckoutBeforeCheckin
	}
	closed, err := s.store.CloseSession(ctx, memberID, tracking.KindRemote, "", at)
	if err != nil {
		return tracking.Session{}, fmt.Errorf("remote checkout: %w", err)
	}
	return closed, nil
}

// RemoteCheckin opens a session from the web, with no tag.
func (s *Service) RemoteCheckin(ctx context.Context, memberID string) (tracking.Session, error) {
	opened, err := s.store.OpenSession(ctx, memberID, tracking.KindRemote, "", s.now())
	if err != nil {
		return tracking.Session{}, fmt.Errorf("remote checkin: %w", err)
	}
	return opened, nil
}

// Heartbeat records scanner liveness; unknown scanners are rejected.
func (s *Service) Heartbeat(ctx context.Context, scannerID string) error {
	known, err := s.store.TouchScanner(ctx, scannerID, s.now())
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if !known {
		return ErrScannerUnknown
	}
	return nil
}

// RequestRegistration puts a member's new tag into the scanner's
// pending slot. The slot is a scarce resource: acquisition fails with
// ErrSlotHeld while another registration is in flight.
func (s *Service) RequestRegistration(ctx context.Context, scannerID, memberID, tagName string) error {
	scanner, err := s.store.ScannerByID(ctx, scannerID)
	if err != nil {
		return fmt.Errorf("request registration: %w", err)
	}
	if scanner == nil {
		return ErrScannerUnknown
	}
	return s.store.AcquireRegistration(ctx, Registration{
		ScannerID: scannerID,
		MemberID:  memberID,
		TagName:   tagName,
	})
}

// CancelRegistration releases the scanner's pending slot.
func (s *Service) CancelRegistration(ctx context.Context, scannerID string) error {
	return s.store.ReleaseRegistration(ctx, scannerID)
}

// RenameTag renames a tag the member owns.
func (s *Service) RenameTag(ctx context.Context, memberID, code, name string) error {
	tag, err := s.store.TagByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("rename tag: %w", err)
	}
	if tag == nil {
		return ErrTagUnknown
	}
	if tag.MemberID != memberID {
		return ErrTagNotOwned
	}
	return s.store.RenameTag(ctx, code, name)
}

// DeleteTag removes a tag the member owns. Past sessions keep their
// events; only the credential disappears.
func (s *Service) DeleteTag(ctx context.Context, memberID, code string) error {
	tag, err := s.store.TagByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	if tag == nil {
		return ErrTagUnknown
	}
	if tag.MemberID != memberID {
		return ErrTagNotOwned
	}
	return s.store.DeleteTag(ctx, code)
}

func (s *Service) result(ctx context.Context, outcome Outcome, memberID string, now time.Time) (Result, error) {
	name, err := s.store.MemberName(ctx, memberID)
	if err != nil {
		return Result{}, fmt.Errorf("member name: %w", err)
	}
	today, err := s.stats.MinutesToday(ctx, memberID, now)
	if err != nil {
		return Result{}, err
	}
	week, err := s.stats.MinutesThisWeek(ctx, memberID, now)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Outcome:    outcome,
		MemberID:   memberID,
		OwnerName:  name,
		HoursToday: today / 60,
		HoursWeek:  week / 60,
	}, nil
}
