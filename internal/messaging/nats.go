// Package messaging carries the relay's live-update stream over NATS. Each
// admin live update is mirrored to relay.live.<kind> so processes such as
// the auditor can follow relay activity without holding an admin socket.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectLive    = "relay.live"
	SubjectLiveAll = SubjectLive + ".>"
)

// LiveSubject is the subject one kind of live update is published on.
func LiveSubject(kind string) string {
	return SubjectLive + "." + kind
}

// NATSConfig holds connection settings. MaxReconnects of -1 retries forever.
type NATSConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "chat-relay",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSClient is a connection plus the subscriptions opened through it, so
// Close can drain them all.
type NATSClient struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSClient dials NATS. Only the initial dial can fail; later outages
// are handled by reconnects and logged.
func NewNATSClient(cfg NATSConfig) (*NATSClient, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("[nats] disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	log.Printf("[nats] connected to %s as %q", nc.ConnectedUrl(), cfg.Name)
	return &NATSClient{conn: nc}, nil
}

// Publish hands data to the connection's outbound buffer. It does not wait
// for the server.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe runs handler for every message on subject until Close.
func (c *NATSClient) Subscribe(subject string, handler nats.MsgHandler) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// Flush round-trips to the server, so everything published or subscribed
// before it has been processed.
func (c *NATSClient) Flush() error {
	return c.conn.Flush()
}

// Close drains subscriptions and then the connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", sub.Subject, err)
		}
	}
	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] drain connection: %v", err)
	}
}
