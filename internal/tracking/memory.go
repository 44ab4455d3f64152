package tracking

import (
	"context"
	"sort"
	"sync"
	"time"

	"doortracker/internal/clock"
)

// MemorySource is a map-backed SessionSource and AssignmentSource for
// dev mode and tests; production uses the Postgres repository.
type MemorySource struct {
	cal clock.Calendar

	mu          sync.RWMutex
	sessions    map[string][]Session
	assignments map[string][]Assignment
}

// NewMemorySource builds an empty in-memory source using the given
// calendar for ISO-week bucketing.
func NewMemorySource(cal clock.Calendar) *MemorySource {
	return &MemorySource{
		cal:         cal,
		sessions:    make(map[string][]Session),
		assignments: make(map[string][]Assignment),
	}
}

// AddSession stores a session for its member.
func (m *MemorySource) AddSession(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.MemberID] = append(m.sessions[s.MemberID], s)
}

// AddAssignment stores an assignment for its member.
func (m *MemorySource) AddAssignment(a Assignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[a.MemberID] = append(m.assignments[a.MemberID], a)
}

// SessionsOverlapping implements SessionSource.
func (m *MemorySource) SessionsOverlapping(_ context.Context, memberID string, start, end time.Time) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Session
	for _, s := range m.sessions[memberID] {
		if s.CheckinAt.After(end) {
			continue
		}
		if s.CheckoutAt != nil && s.CheckoutAt.Before(start) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckinAt.Before(out[j].CheckinAt) })
	return out, nil
}

// EarliestCheckin implements SessionSource.
func (m *MemorySource) EarliestCheckin(_ context.Context, memberID string) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var earliest *time.Time
	for _, s := range m.sessions[memberID] {
		t := s.CheckinAt
		if earliest == nil || t.Before(*earliest) {
			earliest = &t
		}
	}
	return earliest, nil
}

// CheckinWeeks implements SessionSource.
func (m *MemorySource) CheckinWeeks(_ context.Context, memberID string, until time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	weeks := make(map[[2]int]struct{})
	for _, s := range m.sessions[memberID] {
		if s.CheckinAt.After(until) {
			continue
		}
		y, w := m.cal.ISOWeek(s.CheckinAt)
		weeks[[2]int{y, w}] = struct{}{}
	}
	return len(weeks), nil
}

// AssignmentsThrough implements AssignmentSource.
func (m *MemorySource) AssignmentsThrough(_ context.Context, memberID string, until time.Time) ([]Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Assignment
	for _, a := range m.assignments[memberID] {
		if !a.StartingFrom.After(until) {
			out = append(out, a)
		}
	}
	sortAssignments(out)
	return out, nil
}
