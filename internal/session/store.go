package session

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound            = errors.New("session: not found")
	ErrDuplicateConnection = errors.New("session: connection already has a session")
	ErrCapacityExceeded    = errors.New("session: capacity exceeded")
	ErrNameBanned          = errors.New("session: display name is banned")
	ErrAddressBanned       = errors.New("session: address is banned")
	ErrNameTaken           = errors.New("session: display name already in use")
)

// BanChecker answers ban lookups for Create.
type BanChecker interface {
	NameBanned(name string) bool
	AddressBanned(addr string) bool
}

// Store maps connection IDs to sessions. Display names are unique among live
// sessions, compared case-insensitively, so a name addresses at most one
// session. Synthetic sessions do not count towards the capacity limit.
type Store struct {
	mu       sync.RWMutex
	byID     map[string]*Session
	byName   map[string]string // normalized name -> connection ID
	maxUsers int
	bans     BanChecker
}

// NewStore creates a store admitting at most maxUsers real sessions.
func NewStore(maxUsers int, bans BanChecker) *Store {
	return &Store{
		byID:     make(map[string]*Session),
		byName:   make(map[string]string),
		maxUsers: maxUsers,
		bans:     bans,
	}
}

// Create registers a new session for connID. The session starts online with
// no room; the caller assigns one through SetRoom.
func (s *Store) Create(connID string, p Profile, now time.Time) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[connID]; ok {
		return Session{}, ErrDuplicateConnection
	}
	if s.bans != nil {
		if s.bans.NameBanned(p.Name) {
			return Session{}, ErrNameBanned
		}
		if s.bans.AddressBanned(p.Addr) {
			return Session{}, ErrAddressBanned
		}
	}
	if !p.Synthetic && s.maxUsers > 0 && s.realCountLocked() >= s.maxUsers {
		return Session{}, ErrCapacityExceeded
	}
	key := NormalizeName(p.Name)
	if _, taken := s.byName[key]; taken {
		return Session{}, ErrNameTaken
	}

	sess := &Session{
		ID:           connID,
		Name:         p.Name,
		Gender:       p.Gender,
		Country:      p.Country,
		Addr:         p.Addr,
		Online:       true,
		LastActivity: now,
		JoinedAt:     now,
		Synthetic:    p.Synthetic,
	}
	s.byID[connID] = sess
	s.byName[key] = connID
	return *sess, nil
}

func (s *Store) realCountLocked() int {
	n := 0
	for _, sess := range s.byID {
		if !sess.Synthetic {
			n++
		}
	}
	return n
}

// Get returns the session for connID.
func (s *Store) Get(connID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byID[connID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *sess, nil
}

// FindByName looks up a live session by display name.
func (s *Store) FindByName(name string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[NormalizeName(name)]
	if !ok {
		return Session{}, false
	}
	return *s.byID[id], true
}

// Touch records activity on the session.
func (s *Store) Touch(connID string, now time.Time) error {
	return s.update(connID, func(sess *Session) { sess.LastActivity = now })
}

// SetRoom records the session's current room.
func (s *Store) SetRoom(connID, room string) error {
	return s.update(connID, func(sess *Session) { sess.Room = room })
}

// Mute suppresses sending until the given instant.
func (s *Store) Mute(connID string, until time.Time) (Session, error) {
	var out Session
	err := s.update(connID, func(sess *Session) {
		sess.MutedUntil = until
		out = *sess
	})
	return out, err
}

// ClearMute lifts a mute.
func (s *Store) ClearMute(connID string) error {
	return s.update(connID, func(sess *Session) { sess.MutedUntil = time.Time{} })
}

func (s *Store) update(connID string, fn func(*Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[connID]
	if !ok {
		return ErrNotFound
	}
	fn(sess)
	return nil
}

// Remove deletes the session and returns its final state, marked offline.
// Later lookups for connID fail with ErrNotFound.
func (s *Store) Remove(connID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[connID]
	if !ok {
		return Session{}, ErrNotFound
	}
	delete(s.byID, connID)
	if s.byName[NormalizeName(sess.Name)] == connID {
		delete(s.byName, NormalizeName(sess.Name))
	}
	sess.Online = false
	return *sess, nil
}

// ListOnline returns every live session accepted by pred (all when pred is
// nil), ordered by join time and then name.
func (s *Store) ListOnline(pred func(Session) bool) []Session {
	s.mu.RLock()
	out := make([]Session, 0, len(s.byID))
	for _, sess := range s.byID {
		if pred == nil || pred(*sess) {
			out = append(out, *sess)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Inactive returns the real sessions whose last activity is before cutoff.
func (s *Store) Inactive(cutoff time.Time) []Session {
	return s.ListOnline(func(sess Session) bool {
		return !sess.Synthetic && sess.LastActivity.Before(cutoff)
	})
}

// Counts returns the number of real and synthetic sessions.
func (s *Store) Counts() (users, synthetic int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.byID {
		if sess.Synthetic {
			synthetic++
		} else {
			users++
		}
	}
	return users, synthetic
}
