// Package report keeps user complaints against room messages for moderator
// review. Only the most recent reports are retained; a report never expires
// on its own and only moves from pending to resolved.
package report

import (
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxReasonChars caps the free-text reason.
const MaxReasonChars = 200

// Status values.
const (
	StatusPending  = "pending"
	StatusResolved = "resolved"
)

var (
	ErrNotFound        = errors.New("report: not found")
	ErrAlreadyResolved = errors.New("report: already resolved")
	ErrMissingTarget   = errors.New("report: reported user or message is required")
)

// Report is one complaint.
type Report struct {
	ID           string     `json:"id"`
	Reporter     string     `json:"reporter"`
	ReportedUser string     `json:"reported_user"`
	MessageID    string     `json:"message_id,omitempty"`
	Room         string     `json:"room,omitempty"`
	Reason       string     `json:"reason"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// Store is a bounded, goroutine-safe list of reports, oldest first.
type Store struct {
	mu      sync.RWMutex
	max     int
	reports []Report
}

// NewStore creates a store retaining at most max reports.
func NewStore(max int) *Store {
	if max <= 0 {
		max = 1
	}
	return &Store{max: max}
}

// Create validates r, assigns it an ID and pending status, and stores it.
// When the store is full the oldest report is dropped.
func (s *Store) Create(r Report) (Report, error) {
	r.ReportedUser = strings.TrimSpace(r.ReportedUser)
	r.MessageID = strings.TrimSpace(r.MessageID)
	if r.ReportedUser == "" && r.MessageID == "" {
		return Report{}, ErrMissingTarget
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		r.Reason = "other"
	}
	if utf8.RuneCountInString(r.Reason) > MaxReasonChars {
		r.Reason = string([]rune(r.Reason)[:MaxReasonChars])
	}
	if strings.TrimSpace(r.Reporter) == "" {
		r.Reporter = "Anonymous"
	}
	r.ID = uuid.NewString()
	r.Status = StatusPending
	r.ResolvedAt = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reports) >= s.max {
		s.reports = append(s.reports[:0:0], s.reports[len(s.reports)-s.max+1:]...)
	}
	s.reports = append(s.reports, r)
	return r, nil
}

// Resolve moves a pending report to resolved.
func (s *Store) Resolve(id string, at time.Time) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.reports {
		if s.reports[i].ID != id {
			continue
		}
		if s.reports[i].Status != StatusPending {
			return s.reports[i], ErrAlreadyResolved
		}
		s.reports[i].Status = StatusResolved
		s.reports[i].ResolvedAt = &at
		return s.reports[i], nil
	}
	return Report{}, ErrNotFound
}

// Recent returns up to n of the newest reports, oldest first. A negative n
// returns all retained reports.
func (s *Store) Recent(n int) []Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n < 0 || n > len(s.reports) {
		n = len(s.reports)
	}
	out := make([]Report, n)
	copy(out, s.reports[len(s.reports)-n:])
	return out
}

// Pending counts unresolved reports.
func (s *Store) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.reports {
		if r.Status == StatusPending {
			n++
		}
	}
	return n
}

// HasPending reports whether a pending report from reporter against user is
// still retained.
func (s *Store) HasPending(reporter, user string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.reports {
		if r.Status == StatusPending && r.Reporter == reporter && r.ReportedUser == user {
			return true
		}
	}
	return false
}
