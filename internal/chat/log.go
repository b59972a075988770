package chat

import (
	"sort"
	"sync"
	"time"
)

// Log keeps the most recent messages of every room, oldest first. Each room
// holds at most max entries; appending to a full room evicts the oldest one.
// Every mutation replaces a room's slice while holding the write lock, so a
// concurrent reader sees either the old or the new contents, never a mix.
type Log struct {
	mu    sync.RWMutex
	max   int
	rooms map[string][]Message
}

// NewLog creates a Log bounded to max messages per room.
func NewLog(max int) *Log {
	if max <= 0 {
		max = 1
	}
	return &Log{
		max:   max,
		rooms: make(map[string][]Message),
	}
}

// Append adds msg to the room and returns how many entries were evicted to
// stay within the bound.
func (l *Log) Append(room string, msg Message) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.rooms[room]
	evicted := 0
	if over := len(entries) + 1 - l.max; over > 0 {
		evicted = over
		entries = entries[over:]
	}

	next := make([]Message, len(entries), len(entries)+1)
	copy(next, entries)
	l.rooms[room] = append(next, msg)
	return evicted
}

// Tail returns up to n of the newest messages in the room, oldest first.
// The result is never nil.
func (l *Log) Tail(room string, n int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.rooms[room]
	if n < 0 || n > len(entries) {
		n = len(entries)
	}
	out := make([]Message, n)
	copy(out, entries[len(entries)-n:])
	return out
}

// DeleteByID removes a single message regardless of its position and reports
// whether it was present.
func (l *Log) DeleteByID(room, id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.rooms[room]
	for i := range entries {
		if entries[i].ID != id {
			continue
		}
		next := make([]Message, 0, len(entries)-1)
		next = append(next, entries[:i]...)
		next = append(next, entries[i+1:]...)
		l.rooms[room] = next
		return true
	}
	return false
}

// PurgeOlderThan drops every message created before cutoff. Entries without
// a timestamp cannot be aged and are dropped as corrupt. It returns the number
// of removed entries.
func (l *Log) PurgeOlderThan(room string, cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.rooms[room]
	kept := make([]Message, 0, len(entries))
	for _, m := range entries {
		if m.CreatedAt.IsZero() || m.CreatedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, m)
	}
	removed := len(entries) - len(kept)
	if removed > 0 {
		l.rooms[room] = kept
	}
	return removed
}

// Len returns the number of messages held for the room.
func (l *Log) Len(room string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rooms[room])
}

// Total returns the number of messages across all rooms.
func (l *Log) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, entries := range l.rooms {
		n += len(entries)
	}
	return n
}

// Rooms lists every room that has ever held a message, sorted.
func (l *Log) Rooms() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.rooms))
	for id := range l.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot copies the full contents of every room.
func (l *Log) Snapshot() map[string][]Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string][]Message, len(l.rooms))
	for id, entries := range l.rooms {
		cp := make([]Message, len(entries))
		copy(cp, entries)
		out[id] = cp
	}
	return out
}
