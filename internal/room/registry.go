// Package room defines the fixed set of chat rooms, who may enter each one,
// and which sessions are currently inside.
package room

import (
	"errors"
	"sort"
	"sync"

	"github.com/globalchat/chat-relay/internal/chat"
	"github.com/globalchat/chat-relay/internal/session"
)

// ID identifies a room.
type ID string

const (
	Global     ID = "global"
	MaleFemale ID = "male_female"
	MaleOnly   ID = "male_male"
	FemaleOnly ID = "female_female"
)

var (
	ErrUnknownRoom = errors.New("room: unknown room")
	ErrRestricted  = errors.New("room: not open to this gender")
	ErrNotMember   = errors.New("room: session is not in any room")
)

// Room describes one room. An empty Admit list means the room is open to
// everyone.
type Room struct {
	ID    ID               `json:"id"`
	Name  string           `json:"name"`
	Admit []session.Gender `json:"admit,omitempty"`
}

// Admits reports whether a session of gender g may enter.
func (r Room) Admits(g session.Gender) bool {
	if len(r.Admit) == 0 {
		return true
	}
	for _, allowed := range r.Admit {
		if allowed == g {
			return true
		}
	}
	return false
}

var fixedRooms = []Room{
	{ID: Global, Name: "Global"},
	{ID: MaleFemale, Name: "Male & Female"},
	{ID: MaleOnly, Name: "Male Only", Admit: []session.Gender{session.Male}},
	{ID: FemaleOnly, Name: "Female Only", Admit: []session.Gender{session.Female}},
}

// Backlog supplies the replay for a newly entered room.
type Backlog interface {
	Tail(room string, n int) []chat.Message
}

// Registry tracks room membership. A session is in at most one room; moving
// between rooms happens under a single lock so no observer sees the session in
// two rooms or in none.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[ID]Room
	members map[ID]map[string]struct{}
	where   map[string]ID
	backlog Backlog
	replay  int
}

// NewRegistry creates a registry over the fixed rooms. replay bounds the
// backlog returned when a session enters a room.
func NewRegistry(backlog Backlog, replay int) *Registry {
	r := &Registry{
		rooms:   make(map[ID]Room, len(fixedRooms)),
		members: make(map[ID]map[string]struct{}, len(fixedRooms)),
		where:   make(map[string]ID),
		backlog: backlog,
		replay:  replay,
	}
	for _, rm := range fixedRooms {
		r.rooms[rm.ID] = rm
		r.members[rm.ID] = make(map[string]struct{})
	}
	return r
}

// Rooms lists the rooms in display order.
func (r *Registry) Rooms() []Room {
	out := make([]Room, len(fixedRooms))
	copy(out, fixedRooms)
	return out
}

// Resolve checks that candidate names a room a session of gender g may enter.
// It never creates rooms.
func (r *Registry) Resolve(candidate string, g session.Gender) (ID, error) {
	rm, ok := r.rooms[ID(candidate)]
	if !ok {
		return "", ErrUnknownRoom
	}
	if !rm.Admits(g) {
		return "", ErrRestricted
	}
	return rm.ID, nil
}

// Home is the room a newly joined session lands in. With gender assignment
// each gender goes to its own room; otherwise everyone starts in Global.
func (r *Registry) Home(g session.Gender, genderAssigned bool) ID {
	if !genderAssigned {
		return Global
	}
	switch g {
	case session.Male:
		return MaleOnly
	case session.Female:
		return FemaleOnly
	}
	return Global
}

// SwitchRoom moves sessionID into to, leaving whatever room it was in, and
// returns the previous room (empty for a first entry) together with the
// backlog of the new room, oldest first.
func (r *Registry) SwitchRoom(sessionID string, to ID) (ID, []chat.Message, error) {
	if _, ok := r.rooms[to]; !ok {
		return "", nil, ErrUnknownRoom
	}

	r.mu.Lock()
	from := r.where[sessionID]
	if from != "" {
		delete(r.members[from], sessionID)
	}
	r.members[to][sessionID] = struct{}{}
	r.where[sessionID] = to
	r.mu.Unlock()

	var backlog []chat.Message
	if r.backlog != nil {
		backlog = r.backlog.Tail(string(to), r.replay)
	}
	if backlog == nil {
		backlog = []chat.Message{}
	}
	return from, backlog, nil
}

// Leave removes sessionID from its room and returns that room.
func (r *Registry) Leave(sessionID string) (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	from, ok := r.where[sessionID]
	if !ok {
		return "", ErrNotMember
	}
	delete(r.members[from], sessionID)
	delete(r.where, sessionID)
	return from, nil
}

// RoomOf returns the room sessionID is in.
func (r *Registry) RoomOf(sessionID string) (ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.where[sessionID]
	return id, ok
}

// MembersOf returns the session IDs in a room, sorted.
func (r *Registry) MembersOf(id ID) []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.members[id]))
	for sid := range r.members[id] {
		out = append(out, sid)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Counts returns the member count of every room, including empty ones.
func (r *Registry) Counts() map[ID]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[ID]int, len(r.members))
	for id, m := range r.members {
		out[id] = len(m)
	}
	return out
}
