package synthetic

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/globalchat/chat-relay/internal/relay"
	"github.com/globalchat/chat-relay/internal/room"
	"github.com/globalchat/chat-relay/internal/session"
)

func TestDefaultPool(t *testing.T) {
	p := Default()
	if len(p.Participants) != 5 {
		t.Errorf("participants = %d, want 5", len(p.Participants))
	}
	if len(p.Messages) != 10 {
		t.Errorf("messages = %d, want 10", len(p.Messages))
	}
	profiles, err := p.Profiles()
	if err != nil {
		t.Fatalf("Profiles: %v", err)
	}
	for _, prof := range profiles {
		if !prof.Synthetic {
			t.Errorf("%s is not marked synthetic", prof.Name)
		}
	}
	if profiles[0].Name != "Sarah" || profiles[0].Gender != session.Female || profiles[0].Country.Code != "US" {
		t.Errorf("first participant = %+v", profiles[0])
	}
}

func TestParseRejectsBadPools(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ``},
		{"no messages", "participants:\n  - {name: Sam, gender: Male, country: US}\n"},
		{"blank messages", "participants:\n  - {name: Sam, gender: Male, country: US}\nmessages: ['  ']\n"},
		{"bad gender", "participants:\n  - {name: Sam, gender: robot, country: US}\nmessages: [hi]\n"},
		{"unknown country", "participants:\n  - {name: Sam, gender: Male, country: XX}\nmessages: [hi]\n"},
		{"duplicate", "participants:\n  - {name: Sam, gender: Male, country: US}\n  - {name: sam, gender: Male, country: GB}\nmessages: [hi]\n"},
		{"not yaml", "participants: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	p, err := Load("")
	if err != nil || len(p.Participants) != 5 {
		t.Fatalf("Load(\"\") = %d participants, %v", len(p.Participants), err)
	}

	path := filepath.Join(t.TempDir(), "pool.yaml")
	doc := "participants:\n  - {name: Robo, gender: Male, country: JP}\nmessages:\n  - beep\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(p.Participants) != 1 || p.Participants[0].Name != "Robo" || p.Messages[0] != "beep" {
		t.Errorf("loaded pool = %+v", p)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

type post struct {
	name string
	room room.ID
	text string
}

type fakeRelay struct {
	mu        sync.Mutex
	posts     []post
	audience  bool
	muted     bool
	submitted int
}

func (f *fakeRelay) Submit(task func()) bool {
	f.mu.Lock()
	f.submitted++
	f.mu.Unlock()
	task()
	return true
}

func (f *fakeRelay) PostSynthetic(name string, id room.ID, text string) error {
	if !f.audience {
		return relay.ErrNoAudience
	}
	if f.muted {
		return relay.ErrMuted
	}
	if id == room.FemaleOnly && name == "Mike" {
		return room.ErrRestricted
	}
	f.mu.Lock()
	f.posts = append(f.posts, post{name, id, text})
	f.mu.Unlock()
	return nil
}

func TestPostOnce(t *testing.T) {
	pool := Pool{
		Participants: []Participant{{Name: "Mike", Gender: "Male", Country: "GB"}},
		Messages:     []string{"hello"},
	}
	r := &fakeRelay{}
	p := NewPoster(pool, r, time.Second, 1)

	if p.PostOnce() {
		t.Error("posted with nobody online")
	}

	r.audience = true
	posted := 0
	for i := 0; i < 50; i++ {
		if p.PostOnce() {
			posted++
		}
	}
	if posted == 0 || posted == 50 {
		t.Errorf("posted %d of 50 draws; restricted draws must be skipped, others posted", posted)
	}
	for _, got := range r.posts {
		if got.room == room.FemaleOnly {
			t.Errorf("post landed in a restricted room: %+v", got)
		}
		if got.text != "hello" || got.name != "Mike" {
			t.Errorf("unexpected post %+v", got)
		}
	}
}

func TestPostOnce_MutedParticipantIsSkipped(t *testing.T) {
	pool := Pool{
		Participants: []Participant{{Name: "Sarah", Gender: "Female", Country: "US"}},
		Messages:     []string{"hello"},
	}
	r := &fakeRelay{audience: true, muted: true}
	p := NewPoster(pool, r, time.Second, 1)

	for i := 0; i < 10; i++ {
		if p.PostOnce() {
			t.Fatal("posted as a muted participant")
		}
	}
	if len(r.posts) != 0 {
		t.Errorf("posts = %+v, want none", r.posts)
	}
}

func TestPosterStartStop(t *testing.T) {
	r := &fakeRelay{audience: true}
	p := NewPoster(Default(), r, 5*time.Millisecond, 7)

	p.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		n := r.submitted
		r.mu.Unlock()
		if n >= 3 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()
	p.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitted < 3 {
		t.Errorf("submitted %d ticks, want at least 3", r.submitted)
	}
}
