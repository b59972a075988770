package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/globalchat/chat-relay/internal/ban"
	"github.com/globalchat/chat-relay/internal/country"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func profile(t *testing.T, name, gender, code, addr string) Profile {
	t.Helper()
	p, err := NewProfile(name, gender, code, addr)
	if err != nil {
		t.Fatalf("NewProfile(%q): %v", name, err)
	}
	return p
}

func TestNewProfileValidation(t *testing.T) {
	tests := []struct {
		name    string
		display string
		gender  string
		country string
		wantErr error
	}{
		{"valid", "Alice", "Female", "US", nil},
		{"lower-case gender", "Bob", "male", "gb", nil},
		{"name too short", "A", "Female", "US", ErrInvalidName},
		{"name only spaces", "   ", "Female", "US", ErrInvalidName},
		{"name too long", "abcdefghijklmnopqrstu", "Female", "US", ErrInvalidName},
		{"twenty runes", "ééééééééééééééééééé2", "Male", "US", nil},
		{"bad gender", "Alice", "other", "US", ErrInvalidGender},
		{"unknown country", "Alice", "Female", "ZZ", ErrUnknownCountry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProfile(tt.display, tt.gender, tt.country, "")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewProfile() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateAndGet(t *testing.T) {
	s := NewStore(100, ban.NewList())

	sess, err := s.Create("c1", profile(t, " Alice ", "Female", "US", "1.2.3.4"), now)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if sess.Name != "Alice" || !sess.Online || sess.Country != (country.Country{Code: "US", Name: "United States", Flag: "🇺🇸"}) {
		t.Errorf("unexpected session %+v", sess)
	}

	got, err := s.Get("c1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Addr != "1.2.3.4" || !got.JoinedAt.Equal(now) {
		t.Errorf("unexpected stored session %+v", got)
	}
}

func TestCreateRejections(t *testing.T) {
	bans := ban.NewList()
	bans.BanName("Mallory", "spam", now)
	bans.BanAddress("6.6.6.6", "abuse", now)
	s := NewStore(2, bans)

	if _, err := s.Create("c1", profile(t, "Alice", "Female", "US", "1.1.1.1"), now); err != nil {
		t.Fatalf("first create: %v", err)
	}

	tests := []struct {
		name    string
		connID  string
		p       Profile
		wantErr error
	}{
		{"same connection", "c1", profile(t, "Other", "Male", "US", ""), ErrDuplicateConnection},
		{"banned name any case", "c2", profile(t, "mallory", "Female", "US", ""), ErrNameBanned},
		{"banned address", "c3", profile(t, "Trent", "Male", "US", "6.6.6.6"), ErrAddressBanned},
		{"name in use", "c4", profile(t, "ALICE", "Female", "GB", ""), ErrNameTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Create(tt.connID, tt.p, now); !errors.Is(err, tt.wantErr) {
				t.Errorf("Create() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := s.Create("c5", profile(t, "Bob", "Male", "US", ""), now); err != nil {
		t.Fatalf("second real session: %v", err)
	}
	if _, err := s.Create("c6", profile(t, "Carol", "Female", "US", ""), now); !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("expected ErrCapacityExceeded, got %v", err)
	}

	synthetic := profile(t, "Sarah", "Female", "US", "")
	synthetic.Synthetic = true
	if _, err := s.Create("synthetic:sarah", synthetic, now); err != nil {
		t.Errorf("synthetic sessions must not count against capacity: %v", err)
	}
}

func TestRemoveFreesNameAndFailsLookups(t *testing.T) {
	s := NewStore(10, nil)
	s.Create("c1", profile(t, "Alice", "Female", "US", ""), now)

	removed, err := s.Remove("c1")
	if err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if removed.Online {
		t.Error("removed session should be marked offline")
	}
	if _, err := s.Get("c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after remove: %v, want ErrNotFound", err)
	}
	if _, err := s.Remove("c1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove: %v, want ErrNotFound", err)
	}
	if _, ok := s.FindByName("alice"); ok {
		t.Error("name should be free after remove")
	}
	if _, err := s.Create("c2", profile(t, "Alice", "Female", "US", ""), now); err != nil {
		t.Errorf("name reuse after remove: %v", err)
	}
}

func TestMuteTouchAndRoom(t *testing.T) {
	s := NewStore(10, nil)
	s.Create("c1", profile(t, "Carol", "Female", "US", ""), now)

	sess, err := s.Mute("c1", now.Add(5*time.Second))
	if err != nil {
		t.Fatalf("Mute() error: %v", err)
	}
	if !sess.Muted(now.Add(4999*time.Millisecond)) {
		t.Error("expected muted inside the window")
	}
	if sess.Muted(now.Add(5 * time.Second)) {
		t.Error("mute must end at its expiry instant")
	}
	if err := s.ClearMute("c1"); err != nil {
		t.Fatalf("ClearMute() error: %v", err)
	}
	if got, _ := s.Get("c1"); !got.MutedUntil.IsZero() {
		t.Error("mute should be cleared")
	}

	if err := s.Touch("c1", now.Add(time.Minute)); err != nil {
		t.Fatalf("Touch() error: %v", err)
	}
	if err := s.SetRoom("c1", "global"); err != nil {
		t.Fatalf("SetRoom() error: %v", err)
	}
	got, _ := s.Get("c1")
	if !got.LastActivity.Equal(now.Add(time.Minute)) || got.Room != "global" {
		t.Errorf("unexpected session %+v", got)
	}

	if err := s.Touch("missing", now); !errors.Is(err, ErrNotFound) {
		t.Errorf("Touch on missing: %v", err)
	}
}

func TestListOnlineAndInactive(t *testing.T) {
	s := NewStore(10, nil)
	for i, name := range []string{"Cleo", "Abby", "Bert"} {
		s.Create(fmt.Sprintf("c%d", i), profile(t, name, "Female", "US", ""), now.Add(time.Duration(i)*time.Second))
	}
	bot := profile(t, "Lisa", "Female", "DE", "")
	bot.Synthetic = true
	s.Create("synthetic:lisa", bot, now.Add(-time.Hour))

	all := s.ListOnline(nil)
	if len(all) != 4 {
		t.Fatalf("expected 4 sessions, got %d", len(all))
	}
	if all[0].Name != "Lisa" || all[1].Name != "Cleo" {
		t.Errorf("unexpected ordering: %s, %s", all[0].Name, all[1].Name)
	}

	humans := s.ListOnline(func(sess Session) bool { return !sess.Synthetic })
	if len(humans) != 3 {
		t.Errorf("expected 3 real sessions, got %d", len(humans))
	}

	s.Touch("c2", now.Add(time.Hour))
	stale := s.Inactive(now.Add(30 * time.Minute))
	if len(stale) != 2 {
		t.Fatalf("expected 2 inactive sessions, got %d", len(stale))
	}
	for _, sess := range stale {
		if sess.Synthetic || sess.ID == "c2" {
			t.Errorf("unexpected inactive session %+v", sess)
		}
	}

	users, synthetic := s.Counts()
	if users != 3 || synthetic != 1 {
		t.Errorf("Counts() = %d, %d", users, synthetic)
	}
}
