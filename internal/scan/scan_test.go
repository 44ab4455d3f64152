package scan

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doortracker/internal/clock"
	"doortracker/internal/tracking"
)

var testCal = clock.MustCalendar("Europe/Amsterdam")

// fakeStore implements Store and tracking.SessionSource in memory so
// the service can be exercised end to end without Postgres.
type fakeStore struct {
	scanners map[string]*Scanner
	pending  map[string]*Registration
	tags     map[string]*Tag
	members  map[string]string
	sessions []*tracking.Session
	nextID   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		scanners: map[string]*Scanner{},
		pending:  map[string]*Registration{},
		tags:     map[string]*Tag{},
		members:  map[string]string{},
	}
}

func (f *fakeStore) ScannerByID(_ context.Context, id string) (*Scanner, error) {
	return f.scanners[id], nil
}

func (f *fakeStore) TouchScanner(_ context.Context, id string, at time.Time) (bool, error) {
	sc, ok := f.scanners[id]
	if !ok {
		return false, nil
	}
	sc.LastSeenAt = &at
	return true, nil
}

func (f *fakeStore) PendingRegistration(_ context.Context, scannerID string) (*Registration, error) {
	return f.pending[scannerID], nil
}

func (f *fakeStore) AcquireRegistration(_ context.Context, reg Registration) error {
	if _, held := f.pending[reg.ScannerID]; held {
		return ErrSlotHeld
	}
	f.pending[reg.ScannerID] = &reg
	return nil
}

func (f *fakeStore) ReleaseRegistration(_ context.Context, scannerID string) error {
	delete(f.pending, scannerID)
	return nil
}

func (f *fakeStore) ClaimPending(_ context.Context, scannerID, code string) (*Tag, error) {
	reg, ok := f.pending[scannerID]
	if !ok {
		return nil, nil
	}
	delete(f.pending, scannerID)
	tag := &Tag{Code: code, Name: reg.TagName, MemberID: reg.MemberID}
	f.tags[code] = tag
	return tag, nil
}

func (f *fakeStore) TagByCode(_ context.Context, code string) (*Tag, error) {
	return f.tags[code], nil
}

func (f *fakeStore) TagsByMember(_ context.Context, memberID string) ([]Tag, error) {
	var out []Tag
	for _, tag := range f.tags {
		if tag.MemberID == memberID {
			out = append(out, *tag)
		}
	}
	return out, nil
}

func (f *fakeStore) RenameTag(_ context.Context, code, name string) error {
	f.tags[code].Name = name
	return nil
}

func (f *fakeStore) DeleteTag(_ context.Context, code string) error {
	delete(f.tags, code)
	return nil
}

func (f *fakeStore) OpenSession(_ context.Context, memberID string, kind tracking.EventKind, tagCode string, at time.Time) (tracking.Session, error) {
	for _, s := range f.sessions {
		if s.MemberID == memberID && s.Open() {
			return tracking.Session{}, ErrSessionOpen
		}
	}
	f.nextID++
	s := &tracking.Session{
		ID:          fmt.Sprintf("session-%d", f.nextID),
		MemberID:    memberID,
		CheckinAt:   at,
		CheckinKind: kind,
		CheckinTag:  tagCode,
	}
	f.sessions = append(f.sessions, s)
	return *s, nil
}

func (f *fakeStore) CloseSession(_ context.Context, memberID string, kind tracking.EventKind, tagCode string, at time.Time) (tracking.Session, error) {
	for _, s := range f.sessions {
		if s.MemberID == memberID && s.Open() {
			out := at
			s.CheckoutAt = &out
			s.CheckoutKind = kind
			s.CheckoutTag = tagCode
			return *s, nil
		}
	}
	return tracking.Session{}, ErrNoOpenSession
}

func (f *fakeStore) OpenSessionFor(_ context.Context, memberID string) (*tracking.Session, error) {
	for _, s := range f.sessions {
		if s.MemberID == memberID && s.Open() {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) MemberName(_ context.Context, memberID string) (string, error) {
	return f.members[memberID], nil
}

func (f *fakeStore) SessionsOverlapping(_ context.Context, memberID string, start, end time.Time) ([]tracking.Session, error) {
	var out []tracking.Session
	for _, s := range f.sessions {
		if s.MemberID != memberID || s.CheckinAt.After(end) {
			continue
		}
		if s.CheckoutAt != nil && s.CheckoutAt.Before(start) {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeStore) EarliestCheckin(_ context.Context, memberID string) (*time.Time, error) {
	var earliest *time.Time
	for _, s := range f.sessions {
		if s.MemberID != memberID {
			continue
		}
		t := s.CheckinAt
		if earliest == nil || t.Before(*earliest) {
			earliest = &t
		}
	}
	return earliest, nil
}

func (f *fakeStore) CheckinWeeks(_ context.Context, memberID string, until time.Time) (int, error) {
	weeks := map[[2]int]struct{}{}
	for _, s := range f.sessions {
		if s.MemberID != memberID || s.CheckinAt.After(until) {
			continue
		}
		y, w := testCal.ISOWeek(s.CheckinAt)
		weeks[[2]int{y, w}] = struct{}{}
	}
	return len(weeks), nil
}

func serviceAt(store *fakeStore, now time.Time) *Service {
	engine := tracking.NewEngineAt(store, func() time.Time { return now })
	svc := NewService(store, tracking.NewStats(engine, store, testCal))
	svc.now = func() time.Time { return now }
	return svc
}

func seeded() *fakeStore {
	store := newFakeStore()
	store.scanners["scanner-1"] = &Scanner{ID: "scanner-1", Name: "front door"}
	store.members["alice"] = "Alice Adams"
	store.tags["CAFE01"] = &Tag{Code: "CAFE01", Name: "keychain", MemberID: "alice"}
	return store
}

func TestHandleScan_UnknownScanner(t *testing.T) {
	svc := serviceAt(seeded(), testCal.Date(2024, time.March, 4, 9, 0))

	_, err := svc.HandleScan(context.Background(), "nope", "CAFE01")
	assert.ErrorIs(t, err, ErrScannerUnknown)
}

func TestHandleScan_UnknownTag(t *testing.T) {
	svc := serviceAt(seeded(), testCal.Date(2024, time.March, 4, 9, 0))

	_, err := svc.HandleScan(context.Background(), "scanner-1", "FFFF")
	assert.ErrorIs(t, err, ErrTagUnknown)
}

func TestHandleScan_CheckinThenCheckout(t *testing.T) {
	store := seeded()
	ctx := context.Background()

	svc := serviceAt(store, testCal.Date(2024, time.March, 4, 9, 0))
	res, err := svc.HandleScan(ctx, "scanner-1", "CAFE01")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCheckin, res.Outcome)
	assert.Equal(t, "Alice Adams", res.OwnerName)

	open, err := store.OpenSessionFor(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, open)

	svc = serviceAt(store, testCal.Date(2024, time.March, 4, 17, 30))
	res, err = svc.HandleScan(ctx, "scanner-1", "CAFE01")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCheckout, res.Outcome)
	// 09:00 to 17:30 worked.
	assert.Equal(t, 8, res.HoursToday)
	assert.Equal(t, 8, res.HoursWeek)

	open, err = store.OpenSessionFor(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestHandleScan_PendingRegistrationWins(t *testing.T) {
	store := seeded()
	store.members["bob"] = "Bob Brown"
	ctx := context.Background()
	svc := serviceAt(store, testCal.Date(2024, time.March, 4, 9, 0))

	require.NoError(t, svc.RequestRegistration(ctx, "scanner-1", "bob", "spare fob"))

	res, err := svc.HandleScan(ctx, "scanner-1", "BEEF02")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRegistered, res.Outcome)
	assert.Equal(t, "Bob Brown", res.OwnerName)

	tag, err := store.TagByCode(ctx, "BEEF02")
	require.NoError(t, err)
	require.NotNil(t, tag)
	assert.Equal(t, "bob", tag.MemberID)
	assert.Equal(t, "spare fob", tag.Name)

	// Slot released: the next scan of the new tag is a plain check-in.
	res, err = svc.HandleScan(ctx, "scanner-1", "BEEF02")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCheckin, res.Outcome)
}

func TestRequestRegistration_SlotIsExclusive(t *testing.T) {
	store := seeded()
	store.members["bob"] = "Bob Brown"
	ctx := context.Background()
	svc := serviceAt(store, testCal.Date(2024, time.March, 4, 9, 0))

	require.NoError(t, svc.RequestRegistration(ctx, "scanner-1", "alice", "tag a"))
	err := svc.RequestRegistration(ctx, "scanner-1", "bob", "tag b")
	assert.ErrorIs(t, err, ErrSlotHeld)

	require.NoError(t, svc.CancelRegistration(ctx, "scanner-1"))
	assert.NoError(t, svc.RequestRegistration(ctx, "scanner-1", "bob", "tag b"))
}

func TestRemoteCheckout(t *testing.T) {
	store := seeded()
	ctx := context.Background()
	nine := testCal.Date(2024, time.March, 4, 9, 0)
	noon := testCal.Date(2024, time.March, 4, 12, 0)

	svc := serviceAt(store, nine)
	_, err := svc.HandleScan(ctx, "scanner-1", "CAFE01")
	require.NoError(t, err)

	svc = serviceAt(store, testCal.Date(2024, time.March, 4, 14, 0))
	closed, err := svc.RemoteCheckout(ctx, "alice", noon)
	require.NoError(t, err)
	require.NotNil(t, closed.CheckoutAt)
	assert.Equal(t, noon, *closed.CheckoutAt)
	assert.Equal(t, tracking.KindRemote, closed.CheckoutKind)
}

func TestRemoteCheckout_Rejections(t *testing.T) {
	store := seeded()
	ctx := context.Background()
	now := testCal.Date(2024, time.March, 4, 14, 0)
	svc := serviceAt(store, now)

	_, err := svc.RemoteCheckout(ctx, "alice", now.Add(time.Hour))
	assert.ErrorIs(t, err, ErrFutureCheckout)

	_, err = svc.RemoteCheckout(ctx, "alice", now)
	assert.ErrorIs(t, err, ErrNoOpenSession)

	_, err = svc.RemoteCheckin(ctx, "alice")
	require.NoError(t, err)
	_, err = svc.RemoteCheckout(ctx, "alice", now.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrCheckoutBeforeCheckin)
}

func TestRemoteCheckin_AlreadyOpen(t *testing.T) {
	store := seeded()
	ctx := context.Background()
	svc := serviceAt(store, testCal.Date(2024, time.March, 4, 9, 0))

	_, err := svc.RemoteCheckin(ctx, "alice")
	require.NoError(t, err)
	_, err = svc.RemoteCheckin(ctx, "alice")
	assert.ErrorIs(t, err, ErrSessionOpen)
}

func TestHeartbeat(t *testing.T) {
	store := seeded()
	svc := serviceAt(store, testCal.Date(2024, time.March, 4, 9, 0))
	ctx := context.Background()

	require.NoError(t, svc.Heartbeat(ctx, "scanner-1"))
	require.NotNil(t, store.scanners["scanner-1"].LastSeenAt)
	assert.ErrorIs(t, svc.Heartbeat(ctx, "ghost"), ErrScannerUnknown)
}

func TestTagLifecycle(t *testing.T) {
	store := seeded()
	store.members["bob"] = "Bob Brown"
	svc := serviceAt(store, testCal.Date(2024, time.March, 4, 9, 0))
	ctx := context.Background()

	assert.ErrorIs(t, svc.RenameTag(ctx, "bob", "CAFE01", "stolen"), ErrTagNotOwned)
	assert.ErrorIs(t, svc.DeleteTag(ctx, "bob", "CAFE01"), ErrTagNotOwned)
	assert.ErrorIs(t, svc.RenameTag(ctx, "alice", "FFFF", "x"), ErrTagUnknown)

	require.NoError(t, svc.RenameTag(ctx, "alice", "CAFE01", "lanyard"))
	tag, err := store.TagByCode(ctx, "CAFE01")
	require.NoError(t, err)
	assert.Equal(t, "lanyard", tag.Name)

	require.NoError(t, svc.DeleteTag(ctx, "alice", "CAFE01"))
	tag, err = store.TagByCode(ctx, "CAFE01")
	require.NoError(t, err)
	assert.Nil(t, tag)
}
