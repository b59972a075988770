package ws

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/globalchat/chat-relay/internal/metrics"
	"github.com/globalchat/chat-relay/internal/protocol"
	"github.com/globalchat/chat-relay/internal/ratelimit"
)

// Sink receives parsed client messages. relay.Engine satisfies it.
type Sink interface {
	Deliver(connID string, msg protocol.ClientMessage)
}

// Sender queues frames for a connection. Server satisfies it.
type Sender interface {
	Send(connID string, data []byte) error
}

// forgetter is implemented by limiters that keep per-identifier state.
type forgetter interface {
	Forget(identifier string, rule ratelimit.Rule)
}

// MessageDispatcher parses inbound frames, answers pings, applies the
// per-connection send limits and hands everything else to the sink.
// Malformed and unknown messages get an error reply and never reach the sink.
type MessageDispatcher struct {
	sink    Sink
	sender  Sender
	limiter ratelimit.Checker
}

// NewMessageDispatcher creates a dispatcher. limiter may be nil to disable
// message throttling.
func NewMessageDispatcher(sink Sink, limiter ratelimit.Checker) *MessageDispatcher {
	return &MessageDispatcher{sink: sink, limiter: limiter}
}

// SetSender assigns the frame sender. The dispatcher is created before the
// server because NewServer takes the Dispatch callback.
func (d *MessageDispatcher) SetSender(sender Sender) {
	d.sender = sender
}

// Dispatch is the onMessage callback implementation.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			log.Printf("ws: unsupported message type=%q conn=%s", msgType, conn.ID)
			d.sendError(conn.ID, protocol.CodeUnsupportedType, "unsupported message type")
			return
		}
		log.Printf("ws: dispatch parse error conn=%s: %v", conn.ID, err)
		d.sendError(conn.ID, protocol.CodeParseError, "invalid message format")
		return
	}

	if _, ok := msg.(protocol.PingMsg); ok {
		d.reply(conn.ID, protocol.TypePong, protocol.PongMsg{})
		return
	}

	if rule, limited := ruleFor(msg); limited && !d.allow(conn.ID, rule) {
		metrics.RateLimitedTotal.WithLabelValues(rule.Name).Inc()
		d.reply(conn.ID, protocol.TypeRateLimited, protocol.RateLimitedMsg{
			RetryAfter: int(rule.Window / time.Second),
		})
		return
	}

	d.sink.Deliver(conn.ID, msg)
}

// Forget drops limiter state for a closed connection.
func (d *MessageDispatcher) Forget(connID string) {
	f, ok := d.limiter.(forgetter)
	if !ok {
		return
	}
	f.Forget(connID, ratelimit.RuleMessage)
	f.Forget(connID, ratelimit.RuleDirect)
}

func ruleFor(msg protocol.ClientMessage) (ratelimit.Rule, bool) {
	switch msg.(type) {
	case protocol.ChatMsg:
		return ratelimit.RuleMessage, true
	case protocol.DirectMsg:
		return ratelimit.RuleDirect, true
	}
	return ratelimit.Rule{}, false
}

func (d *MessageDispatcher) allow(connID string, rule ratelimit.Rule) bool {
	if d.limiter == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	allowed, _ := d.limiter.Allow(ctx, connID, rule)
	return allowed
}

func (d *MessageDispatcher) sendError(connID, code, message string) {
	d.reply(connID, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

func (d *MessageDispatcher) reply(connID, msgType string, payload interface{}) {
	if d.sender == nil {
		return
	}
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("ws: failed to build %s conn=%s: %v", msgType, connID, err)
		return
	}
	if err := d.sender.Send(connID, data); err != nil {
		log.Printf("ws: failed to send %s conn=%s: %v", msgType, connID, err)
	}
}
