package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/globalchat/chat-relay/internal/chat"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// inlineLoop runs tasks immediately on the caller's goroutine.
type inlineLoop struct {
	mu    sync.Mutex
	count int
}

func (l *inlineLoop) Submit(task func()) bool {
	l.mu.Lock()
	l.count++
	l.mu.Unlock()
	task()
	return true
}

func (l *inlineLoop) submitted() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// parkedLoop accepts tasks but never runs them.
type parkedLoop struct {
	mu    sync.Mutex
	tasks []func()
}

func (l *parkedLoop) Submit(task func()) bool {
	l.mu.Lock()
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()
	return true
}

func (l *parkedLoop) queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

type countingEvictor struct {
	cutoffs []time.Time
	evict   int
}

func (e *countingEvictor) EvictInactive(cutoff time.Time) int {
	e.cutoffs = append(e.cutoffs, cutoff)
	return e.evict
}

// brokenLog panics when purging one specific room.
type brokenLog struct {
	*chat.Log
	bad string
}

func (b brokenLog) PurgeOlderThan(room string, cutoff time.Time) int {
	if room == b.bad {
		panic("corrupt entry")
	}
	return b.Log.PurgeOlderThan(room, cutoff)
}

func TestSweepPurgesOnlyExpiredMessages(t *testing.T) {
	log := chat.NewLog(30)
	log.Append("global", chat.Message{ID: "old", CreatedAt: epoch.Add(-31 * time.Minute)})
	log.Append("global", chat.Message{ID: "edge", CreatedAt: epoch.Add(-30 * time.Minute)})
	log.Append("global", chat.Message{ID: "new", CreatedAt: epoch.Add(-time.Minute)})

	s := New(Config{Interval: time.Minute, Retention: 30 * time.Minute}, log, nil, &inlineLoop{})
	res := s.Sweep(epoch)

	if res.Purged != 1 {
		t.Errorf("Purged = %d, want 1", res.Purged)
	}
	got := log.Tail("global", -1)
	if len(got) != 2 || got[0].ID != "edge" || got[1].ID != "new" {
		t.Errorf("remaining = %+v", got)
	}
}

func TestSweepIsolatesRoomFailures(t *testing.T) {
	log := chat.NewLog(30)
	for _, room := range []string{"global", "male_male", "female_female"} {
		log.Append(room, chat.Message{ID: room, CreatedAt: epoch.Add(-time.Hour)})
	}
	s := New(Config{Interval: time.Minute, Retention: 30 * time.Minute}, brokenLog{Log: log, bad: "male_male"}, nil, &inlineLoop{})

	res := s.Sweep(epoch)

	if len(res.Failed) != 1 || res.Failed[0] != "male_male" {
		t.Errorf("Failed = %v, want [male_male]", res.Failed)
	}
	if res.Purged != 2 {
		t.Errorf("Purged = %d, want 2", res.Purged)
	}
	if log.Len("male_male") != 1 {
		t.Error("failed room must be left untouched")
	}
}

func TestSweepEvictsInactive(t *testing.T) {
	ev := &countingEvictor{evict: 3}
	s := New(Config{Interval: time.Minute, Inactive: 15 * time.Minute}, chat.NewLog(30), ev, &inlineLoop{})

	res := s.Sweep(epoch)

	if res.Evicted != 3 {
		t.Errorf("Evicted = %d, want 3", res.Evicted)
	}
	if len(ev.cutoffs) != 1 || !ev.cutoffs[0].Equal(epoch.Add(-15*time.Minute)) {
		t.Errorf("cutoffs = %v", ev.cutoffs)
	}
}

func TestDisabledDuties(t *testing.T) {
	log := chat.NewLog(30)
	log.Append("global", chat.Message{ID: "old", CreatedAt: epoch.Add(-48 * time.Hour)})
	ev := &countingEvictor{}
	s := New(Config{Interval: time.Minute}, log, ev, &inlineLoop{})

	if s.Enabled() {
		t.Error("sweeper with no duties reports enabled")
	}
	s.Sweep(epoch)
	if log.Len("global") != 1 || len(ev.cutoffs) != 0 {
		t.Error("disabled duties ran")
	}
}

func TestStartStopRunsOnLoop(t *testing.T) {
	loop := &inlineLoop{}
	s := New(Config{Interval: 10 * time.Millisecond, Retention: time.Minute}, chat.NewLog(30), nil, loop)

	s.Start(context.Background())
	s.Start(context.Background()) // second start is a no-op
	deadline := time.Now().Add(2 * time.Second)
	for loop.submitted() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if loop.submitted() < 2 {
		t.Fatalf("ticks submitted = %d, want at least 2", loop.submitted())
	}
	after := loop.submitted()
	time.Sleep(50 * time.Millisecond)
	if loop.submitted() != after {
		t.Error("sweeper kept ticking after Stop")
	}
	s.Stop() // stopping twice is harmless
}

func TestTickSkippedWhilePreviousPending(t *testing.T) {
	loop := &parkedLoop{}
	s := New(Config{Interval: 5 * time.Millisecond, Retention: time.Minute}, chat.NewLog(30), nil, loop)

	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	if n := loop.queued(); n != 1 {
		t.Errorf("queued sweeps = %d, want 1 while the first is still pending", n)
	}
}
