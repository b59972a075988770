// Package sweeper runs the periodic retention and inactivity duties. Each
// tick is handed to the relay loop so a sweep never races an event handler.
package sweeper

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/globalchat/chat-relay/internal/metrics"
)

// MessageLog is the part of the room log the sweeper purges.
type MessageLog interface {
	Rooms() []string
	PurgeOlderThan(room string, cutoff time.Time) int
}

// Evictor disconnects sessions idle since before cutoff.
type Evictor interface {
	EvictInactive(cutoff time.Time) int
}

// Submitter runs a task on the relay loop. It reports false once the loop
// has stopped.
type Submitter interface {
	Submit(task func()) bool
}

// Config holds the sweep schedule. A zero Retention or Inactive disables that
// duty.
type Config struct {
	Interval  time.Duration
	Retention time.Duration
	Inactive  time.Duration
}

// Result describes one sweep.
type Result struct {
	Purged  int
	Evicted int
	Failed  []string // rooms whose purge failed
}

// Sweeper owns a single ticker. A tick that fires while the previous sweep
// is still queued or running is skipped.
type Sweeper struct {
	cfg     Config
	log     MessageLog
	evictor Evictor
	loop    Submitter
	now     func() time.Time

	busy atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a sweeper. evictor may be nil when inactivity eviction is off.
func New(cfg Config, messages MessageLog, evictor Evictor, loop Submitter) *Sweeper {
	return &Sweeper{
		cfg:     cfg,
		log:     messages,
		evictor: evictor,
		loop:    loop,
		now:     time.Now,
	}
}

// SetClock replaces the wall clock. Call before Start.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// Enabled reports whether any duty is configured.
func (s *Sweeper) Enabled() bool {
	return s.cfg.Interval > 0 && (s.cfg.Retention > 0 || (s.cfg.Inactive > 0 && s.evictor != nil))
}

// Start launches the ticker goroutine. Calling Start on a running or
// disabled sweeper does nothing.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.Enabled() {
		log.Printf("sweeper: disabled")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
	log.Printf("sweeper: started interval=%s retention=%s inactive=%s",
		s.cfg.Interval, s.cfg.Retention, s.cfg.Inactive)
}

// Stop halts the ticker and waits for its goroutine to exit. A sweep already
// handed to the loop still completes there.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Printf("sweeper: stopped")
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.busy.CompareAndSwap(false, true) {
				log.Printf("sweeper: previous sweep still pending, skipping tick")
				continue
			}
			if !s.loop.Submit(s.sweepTask) {
				s.busy.Store(false)
				return
			}
		}
	}
}

func (s *Sweeper) sweepTask() {
	defer s.busy.Store(false)
	res := s.Sweep(s.now())
	if res.Purged > 0 || res.Evicted > 0 || len(res.Failed) > 0 {
		log.Printf("sweeper: purged=%d evicted=%d failed_rooms=%v", res.Purged, res.Evicted, res.Failed)
	}
}

// Sweep performs both duties once. It must run on the relay loop. A failure
// in one room is recorded and the remaining rooms are still swept.
func (s *Sweeper) Sweep(now time.Time) Result {
	var res Result
	if s.cfg.Retention > 0 {
		cutoff := now.Add(-s.cfg.Retention)
		for _, room := range s.log.Rooms() {
			n, err := s.purgeRoom(room, cutoff)
			if err != nil {
				log.Printf("sweeper: purge room=%s: %v", room, err)
				res.Failed = append(res.Failed, room)
				continue
			}
			res.Purged += n
		}
		metrics.SweeperPurgedTotal.Add(float64(res.Purged))
	}
	if s.cfg.Inactive > 0 && s.evictor != nil {
		res.Evicted = s.evictor.EvictInactive(now.Add(-s.cfg.Inactive))
		metrics.SweeperEvictedTotal.Add(float64(res.Evicted))
	}
	return res
}

func (s *Sweeper) purgeRoom(room string, cutoff time.Time) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweeper: recovered: %v", r)
		}
	}()
	return s.log.PurgeOlderThan(room, cutoff), nil
}
