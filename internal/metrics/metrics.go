// Package metrics provides Prometheus instrumentation for the chat relay. It
// exposes gauges for connections, sessions and room occupancy, counters for
// message throughput and moderation, and a histogram for event handling time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of open WebSocket connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "Current number of open WebSocket connections",
	})

	// SessionsOnline tracks joined sessions, labeled by kind: "user" or "synthetic".
	SessionsOnline = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_sessions_online",
		Help: "Current number of joined sessions",
	}, []string{"kind"})

	// RoomMembers tracks the member count of every room.
	RoomMembers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_room_members",
		Help: "Current number of sessions in each room",
	}, []string{"room"})

	// MessagesTotal counts processed messages labeled by kind:
	// "room", "direct", "synthetic", "flagged" or "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Total number of messages processed",
	}, []string{"kind"})

	// ModerationActionsTotal counts admin actions labeled by action.
	ModerationActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_moderation_actions_total",
		Help: "Total number of moderation actions applied",
	}, []string{"action"}) // action = "delete", "mute", "ban", "resolve", "export"

	// RateLimitedTotal counts frames refused by a rate limit rule.
	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_rate_limited_total",
		Help: "Total number of frames refused by rate limiting",
	}, []string{"rule"})

	// SweeperPurgedTotal counts messages removed by the retention sweep.
	SweeperPurgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_sweeper_purged_total",
		Help: "Total number of messages purged by the sweeper",
	})

	// SweeperEvictedTotal counts sessions evicted for inactivity.
	SweeperEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_sweeper_evicted_total",
		Help: "Total number of sessions evicted for inactivity",
	})

	// EventDuration records how long the event loop spends on one task.
	EventDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_event_duration_seconds",
		Help:    "Time spent handling one event on the relay loop",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		SessionsOnline,
		RoomMembers,
		MessagesTotal,
		ModerationActionsTotal,
		RateLimitedTotal,
		SweeperPurgedTotal,
		SweeperEvictedTotal,
		EventDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
