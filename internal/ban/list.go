// Package ban keeps the process-lifetime ban list. Entries are keyed either
// by display name or by origin network address and are never lifted while the
// process runs:
//
//	name:    lower-cased, trimmed display name
//	address: host part of the client's remote address
package ban

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Kind says which identity a Record bans.
type Kind string

const (
	KindName    Kind = "name"
	KindAddress Kind = "address"
)

// Record is one ban entry.
type Record struct {
	Kind      Kind      `json:"kind"`
	Value     string    `json:"value"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// List is a goroutine-safe ban list.
type List struct {
	mu    sync.RWMutex
	names map[string]Record
	addrs map[string]Record
}

// NewList creates an empty ban list.
func NewList() *List {
	return &List{
		names: make(map[string]Record),
		addrs: make(map[string]Record),
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// BanName records a ban on a display name. Banning an already banned name
// keeps the original record and returns false.
func (l *List) BanName(name, reason string, at time.Time) (Record, bool) {
	return l.add(l.names, KindName, normalizeName(name), reason, at)
}

// BanAddress records a ban on an origin address.
func (l *List) BanAddress(addr, reason string, at time.Time) (Record, bool) {
	return l.add(l.addrs, KindAddress, strings.TrimSpace(addr), reason, at)
}

func (l *List) add(m map[string]Record, kind Kind, key, reason string, at time.Time) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := m[key]; ok {
		return existing, false
	}
	rec := Record{Kind: kind, Value: key, Reason: reason, CreatedAt: at}
	m[key] = rec
	return rec, true
}

// NameBanned reports whether the display name is banned. Comparison ignores
// case and surrounding whitespace.
func (l *List) NameBanned(name string) bool {
	l.mu.RLock()
	_, ok := l.names[normalizeName(name)]
	l.mu.RUnlock()
	return ok
}

// AddressBanned reports whether the address is banned. An empty address is
// never banned.
func (l *List) AddressBanned(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	l.mu.RLock()
	_, ok := l.addrs[addr]
	l.mu.RUnlock()
	return ok
}

// All returns every record ordered by creation time.
func (l *List) All() []Record {
	l.mu.RLock()
	out := make([]Record, 0, len(l.names)+len(l.addrs))
	for _, r := range l.names {
		out = append(out, r)
	}
	for _, r := range l.addrs {
		out = append(out, r)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Value < out[j].Value
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
