package ws

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/globalchat/chat-relay/internal/protocol"
	"github.com/globalchat/chat-relay/internal/ratelimit"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []protocol.ClientMessage
}

func (s *recordingSink) Deliver(_ string, msg protocol.ClientMessage) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

type recordingSender struct {
	mu     sync.Mutex
	frames []map[string]interface{}
}

func (s *recordingSender) Send(_ string, data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	s.mu.Lock()
	s.frames = append(s.frames, m)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) last(t *testing.T) map[string]interface{} {
	t.Helper()
	if len(s.frames) == 0 {
		t.Fatal("no frame sent")
	}
	return s.frames[len(s.frames)-1]
}

func newTestDispatcher(limiter ratelimit.Checker) (*MessageDispatcher, *recordingSink, *recordingSender) {
	sink := &recordingSink{}
	sender := &recordingSender{}
	d := NewMessageDispatcher(sink, limiter)
	d.SetSender(sender)
	return d, sink, sender
}

func TestDispatch_Replies(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType string
		wantCode string
	}{
		{"ping", `{"type":"ping"}`, protocol.TypePong, ""},
		{"garbage", `{not json`, protocol.TypeError, protocol.CodeParseError},
		{"missing type", `{"text":"hi"}`, protocol.TypeError, protocol.CodeParseError},
		{"unknown type", `{"type":"find_match"}`, protocol.TypeError, protocol.CodeUnsupportedType},
		{"bad payload", `{"type":"admin_mute","duration_ms":"x"}`, protocol.TypeError, protocol.CodeParseError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, sink, sender := newTestDispatcher(nil)
			d.Dispatch(&Connection{ID: "c1"}, []byte(tt.input))

			frame := sender.last(t)
			if frame["type"] != tt.wantType {
				t.Errorf("type = %v, want %s", frame["type"], tt.wantType)
			}
			if tt.wantCode != "" && frame["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", frame["code"], tt.wantCode)
			}
			if len(sink.msgs) != 0 {
				t.Errorf("sink received %d messages, want none", len(sink.msgs))
			}
		})
	}
}

func TestDispatch_DeliversToSink(t *testing.T) {
	d, sink, sender := newTestDispatcher(nil)
	d.Dispatch(&Connection{ID: "c1"}, []byte(`{"type":"join","name":"Ann","gender":"Female","country":"US"}`))

	if len(sender.frames) != 0 {
		t.Errorf("unexpected reply %v", sender.frames)
	}
	if len(sink.msgs) != 1 {
		t.Fatalf("sink received %d messages, want 1", len(sink.msgs))
	}
	if jm, ok := sink.msgs[0].(protocol.JoinMsg); !ok || jm.Name != "Ann" {
		t.Errorf("unexpected message %#v", sink.msgs[0])
	}
}

func TestDispatch_RateLimitsMessages(t *testing.T) {
	d, sink, sender := newTestDispatcher(ratelimit.NewMemoryLimiter())
	conn := &Connection{ID: "c1"}

	for i := 0; i < ratelimit.RuleMessage.Limit; i++ {
		d.Dispatch(conn, []byte(`{"type":"message","text":"hi"}`))
	}
	if len(sink.msgs) != ratelimit.RuleMessage.Limit {
		t.Fatalf("delivered %d, want %d", len(sink.msgs), ratelimit.RuleMessage.Limit)
	}

	d.Dispatch(conn, []byte(`{"type":"message","text":"one too many"}`))
	if len(sink.msgs) != ratelimit.RuleMessage.Limit {
		t.Error("over-limit message reached the sink")
	}
	frame := sender.last(t)
	if frame["type"] != protocol.TypeRateLimited {
		t.Fatalf("type = %v, want rate_limited", frame["type"])
	}
	if frame["retry_after"] != float64(10) {
		t.Errorf("retry_after = %v, want 10", frame["retry_after"])
	}

	// Direct messages have their own budget; other types are never limited.
	d.Dispatch(conn, []byte(`{"type":"direct_message","to":"Bo","text":"hi"}`))
	d.Dispatch(conn, []byte(`{"type":"typing","is_typing":true}`))
	if len(sink.msgs) != ratelimit.RuleMessage.Limit+2 {
		t.Errorf("delivered %d, want %d", len(sink.msgs), ratelimit.RuleMessage.Limit+2)
	}

	// Another connection is unaffected, and Forget resets this one.
	d.Dispatch(&Connection{ID: "c2"}, []byte(`{"type":"message","text":"hi"}`))
	d.Forget("c1")
	d.Dispatch(conn, []byte(`{"type":"message","text":"again"}`))
	if len(sink.msgs) != ratelimit.RuleMessage.Limit+4 {
		t.Errorf("delivered %d, want %d", len(sink.msgs), ratelimit.RuleMessage.Limit+4)
	}
}
