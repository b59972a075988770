package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// LiveEvent is the envelope published for every live update.
type LiveEvent struct {
	Kind   string          `json:"kind"`
	Server string          `json:"server"`
	Ts     int64           `json:"ts"` // unix milliseconds
	Data   json.RawMessage `json:"data"`
}

// Publisher is the part of NATSClient the mirror needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// LiveMirror publishes live updates from a background goroutine so the relay
// loop never waits on the network. When the buffer is full new updates are
// dropped and counted.
type LiveMirror struct {
	pub     Publisher
	server  string
	mu      sync.RWMutex
	closed  bool
	queue   chan LiveEvent
	done    chan struct{}
	dropped atomic.Int64
}

// NewLiveMirror starts a mirror that tags events with server.
func NewLiveMirror(pub Publisher, server string, buffer int) *LiveMirror {
	if buffer <= 0 {
		buffer = 256
	}
	m := &LiveMirror{
		pub:    pub,
		server: server,
		queue:  make(chan LiveEvent, buffer),
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

// Publish queues one live update. It never blocks. Updates published after
// Close are dropped.
func (m *LiveMirror) Publish(kind string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[nats] live %s: marshal: %v", kind, err)
		return
	}
	ev := LiveEvent{Kind: kind, Server: m.server, Ts: time.Now().UnixMilli(), Data: data}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- ev:
	default:
		if n := m.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Printf("[nats] live mirror buffer full, dropped=%d", n)
		}
	}
}

// Dropped reports how many updates were discarded.
func (m *LiveMirror) Dropped() int64 { return m.dropped.Load() }

// Close publishes what is already queued and stops the mirror.
func (m *LiveMirror) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()
	<-m.done
}

func (m *LiveMirror) run() {
	defer close(m.done)
	for ev := range m.queue {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := m.pub.Publish(LiveSubject(ev.Kind), data); err != nil {
			log.Printf("[nats] publish %s: %v", LiveSubject(ev.Kind), err)
		}
	}
}

// SubscribeLive delivers every live update to handler.
func (c *NATSClient) SubscribeLive(handler func(LiveEvent)) error {
	return c.Subscribe(SubjectLiveAll, func(msg *nats.Msg) {
		ev, err := DecodeLive(msg.Subject, msg.Data)
		if err != nil {
			log.Printf("[nats] %v", err)
			return
		}
		handler(ev)
	})
}

// DecodeLive parses a live update received on subject. The kind is taken
// from the subject when the payload omits it.
func DecodeLive(subject string, data []byte) (LiveEvent, error) {
	var ev LiveEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return LiveEvent{}, fmt.Errorf("decode live event on %s: %w", subject, err)
	}
	if ev.Kind == "" {
		ev.Kind = strings.TrimPrefix(subject, SubjectLive+".")
	}
	return ev, nil
}
