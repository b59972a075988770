package synthetic

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/globalchat/chat-relay/internal/relay"
	"github.com/globalchat/chat-relay/internal/room"
)

// Relay is the part of the engine the poster drives.
type Relay interface {
	Submit(task func()) bool
	PostSynthetic(name string, id room.ID, text string) error
}

var candidateRooms = []room.ID{room.Global, room.MaleFemale, room.MaleOnly, room.FemaleOnly}

// Poster posts one random line from a random participant to a random room on
// every tick. Draws that pick a room the participant may not enter are
// skipped rather than retried.
type Poster struct {
	pool     Pool
	relay    Relay
	interval time.Duration
	rng      *rand.Rand // only used on the relay loop

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoster creates a poster. seed makes the draws reproducible.
func NewPoster(pool Pool, r Relay, interval time.Duration, seed int64) *Poster {
	return &Poster{
		pool:     pool,
		relay:    r,
		interval: interval,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Start launches the ticker goroutine.
func (p *Poster) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil || p.interval <= 0 {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
	log.Printf("synthetic: posting every %s as %d participants", p.interval, len(p.pool.Participants))
}

// Stop halts the ticker and waits for its goroutine.
func (p *Poster) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poster) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.relay.Submit(func() { p.PostOnce() }) {
				return
			}
		}
	}
}

// PostOnce makes one draw and posts it. It must run on the relay loop and
// reports whether a message was posted.
func (p *Poster) PostOnce() bool {
	part := p.pool.Participants[p.rng.Intn(len(p.pool.Participants))]
	id := candidateRooms[p.rng.Intn(len(candidateRooms))]
	text := p.pool.Messages[p.rng.Intn(len(p.pool.Messages))]

	err := p.relay.PostSynthetic(part.Name, id, text)
	switch {
	case err == nil:
		return true
	case errors.Is(err, relay.ErrNoAudience), errors.Is(err, relay.ErrMuted), errors.Is(err, room.ErrRestricted):
	default:
		log.Printf("synthetic: post as %q to %s: %v", part.Name, id, err)
	}
	return false
}
