package stats

import (
	"strings"
	"testing"
	"time"
)

const exposition = `# HELP relay_connections_active Open WebSocket connections.
# TYPE relay_connections_active gauge
relay_connections_active 42
# TYPE relay_sessions_online gauge
relay_sessions_online{kind="real"} 30
relay_sessions_online{kind="synthetic"} 5
# TYPE relay_messages_total counter
relay_messages_total{kind="room"} 17
relay_messages_total{kind="direct"} 3
# TYPE relay_event_duration_seconds histogram
relay_event_duration_seconds_bucket{le="0.001"} 3
relay_event_duration_seconds_bucket{le="+Inf"} 4
relay_event_duration_seconds_sum 0.25
relay_event_duration_seconds_count 4
`

func TestDecodeSnapshot(t *testing.T) {
	at := time.Unix(1700000000, 0)
	snap, err := decodeSnapshot(strings.NewReader(exposition), at)
	if err != nil {
		t.Fatalf("decodeSnapshot: %v", err)
	}
	if !snap.at.Equal(at) {
		t.Errorf("at = %v, want %v", snap.at, at)
	}
	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"connections", snap.connections, 42},
		{"sessions summed across labels", snap.sessions, 35},
		{"messages summed across labels", snap.messages, 20},
		{"missing family reads zero", snap.rateLimited, 0},
		{"histogram sum", snap.eventSum, 0.25},
		{"histogram count", snap.eventCount, 4},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestDecodeSnapshot_Malformed(t *testing.T) {
	if _, err := decodeSnapshot(strings.NewReader("relay_connections_active{kind=\"x\" 1\n"), time.Now()); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	c.AddConnect(1)
	c.AddConnect(2)
	c.AddError()
	c.AddRateLimited(3)
	if c.ConnectionCount() != 2 || c.ErrorCount() != 1 {
		t.Errorf("connections=%d errors=%d", c.ConnectionCount(), c.ErrorCount())
	}
}

func TestSeriesSummarize(t *testing.T) {
	var s series
	for i := 1; i <= 100; i++ {
		s = append(s, time.Duration(101-i)*time.Millisecond)
	}
	got := s.summarize()
	if got.n != 100 {
		t.Fatalf("n = %d", got.n)
	}
	if got.p50 != 51*time.Millisecond {
		t.Errorf("p50 = %v", got.p50)
	}
	if got.p95 != 95*time.Millisecond || got.p99 != 99*time.Millisecond {
		t.Errorf("p95 = %v p99 = %v", got.p95, got.p99)
	}
	if got.max != 100*time.Millisecond {
		t.Errorf("max = %v", got.max)
	}
	if got.avg != 50500*time.Microsecond {
		t.Errorf("avg = %v", got.avg)
	}
	if s[0] != 100*time.Millisecond {
		t.Error("summarize must not reorder the caller's samples")
	}
}

func TestSeriesSummarize_Empty(t *testing.T) {
	if got := series(nil).summarize(); got.n != 0 {
		t.Errorf("empty series summary = %+v", got)
	}
}
