// Package client provides a reusable WebSocket load test client for the chat
// relay. It connects using gobwas/ws (the same library the server uses),
// records the connection ID from the connected greeting, and tracks
// per-connection performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ---------------------------------------------------------------------------
// Protocol message types (local equivalents of internal/protocol constants)
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoin            = "join"
	TypeSwitchRoom      = "switch_room"
	TypeMessage         = "message"
	TypeDirectMessage   = "direct_message"
	TypeTyping          = "typing"
	TypeRequestPresence = "request_presence"
	TypeAdminAuth       = "admin_auth"
	TypePing            = "ping"
)

// Server -> Client message types.
const (
	TypeConnected       = "connected"
	TypeJoinAccepted    = "join_accepted"
	TypeJoinRejected    = "join_rejected"
	TypeRoomBacklog     = "room_backlog"
	TypeNewMessage      = "new_message"
	TypeDirectDelivered = "direct_message"
	TypeDirectSent      = "direct_message_sent"
	TypePresenceCount   = "presence_count"
	TypePresenceRoster  = "presence_roster"
	TypeAdminSnapshot   = "admin_snapshot"
	TypeAdminAuthFailed = "admin_auth_failed"
	TypeRateLimited     = "rate_limited"
	TypeError           = "error"
	TypePong            = "pong"
)

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	JoinLatency      time.Duration
	MessagesReceived int
	MessagesSent     int
	RateLimited      int
	Errors           int
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client represents a single simulated participant. It manages the WebSocket
// lifecycle and dispatches incoming messages to registered handlers.
type Client struct {
	conn    net.Conn
	reader  io.Reader
	writeMu sync.Mutex

	mu       sync.Mutex
	connID   string
	joined   bool
	joinSent time.Time
	metrics  Metrics
	handlers map[string]func(json.RawMessage)

	ready     chan struct{} // closed on connected
	admitted  chan error    // join outcome
	done      chan struct{}
	closeOnce sync.Once
}

// New dials url and starts the read loop. Use WaitForConnected before
// sending.
func New(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		reader:   conn,
		handlers: make(map[string]func(json.RawMessage)),
		ready:    make(chan struct{}),
		admitted: make(chan error, 1),
		done:     make(chan struct{}),
	}
	// The greeting may already be buffered with the handshake response.
	if br != nil {
		c.reader = io.MultiReader(br, conn)
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	c.metrics.MessagesSent++
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// On registers a handler for a server message type, replacing any earlier
// one. Handlers run on the read loop goroutine and should not block.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

// WaitForConnected blocks until the server greeting arrives.
func (c *Client) WaitForConnected(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed before greeting")
	case <-c.ready:
		return nil
	}
}

// Join sends a join request and waits for the outcome.
func (c *Client) Join(ctx context.Context, name, gender, country string) error {
	c.mu.Lock()
	c.joinSent = time.Now()
	c.mu.Unlock()

	if err := c.Send(map[string]string{
		"type":    TypeJoin,
		"name":    name,
		"gender":  gender,
		"country": country,
	}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed before join completed")
	case err := <-c.admitted:
		return err
	}
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Done is closed when the connection is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// ConnectionID returns the ID from the connected greeting.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// readLoop reads frames until the connection fails or is closed.
func (c *Client) readLoop() {
	defer c.Close()
	rw := struct {
		io.Reader
		io.Writer
	}{c.reader, c.conn}

	for {
		data, err := wsutil.ReadServerText(rw)
		if err != nil {
			select {
			case <-c.done:
				// Intentional close; not an error.
			default:
				c.mu.Lock()
				c.metrics.Errors++
				c.mu.Unlock()
			}
			return
		}

		var envelope struct {
			Type         string `json:"type"`
			ConnectionID string `json:"connection_id"`
			Code         string `json:"code"`
			Reason       string `json:"reason"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		switch envelope.Type {
		case TypeConnected:
			if c.connID == "" {
				c.connID = envelope.ConnectionID
				close(c.ready)
			}
		case TypeJoinAccepted:
			c.joined = true
			c.metrics.JoinLatency = time.Since(c.joinSent)
			c.signalJoin(nil)
		case TypeJoinRejected:
			c.signalJoin(fmt.Errorf("join rejected: %s (%s)", envelope.Code, envelope.Reason))
		case TypeRateLimited:
			c.metrics.RateLimited++
		}
		handler := c.handlers[envelope.Type]
		c.mu.Unlock()

		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}

// signalJoin must be called with mu held.
func (c *Client) signalJoin(err error) {
	select {
	case c.admitted <- err:
	default:
	}
}
