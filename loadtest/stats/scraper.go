package stats

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Relay metric families read by the scraper.
const (
	metricConnections = "relay_connections_active"
	metricSessions    = "relay_sessions_online"
	metricMessages    = "relay_messages_total"
	metricRateLimited = "relay_rate_limited_total"
	metricEventTime   = "relay_event_duration_seconds"
)

// metricSnapshot is one scrape of the relay's /metrics endpoint. Labelled
// families are summed across their series.
type metricSnapshot struct {
	at          time.Time
	connections float64
	sessions    float64
	messages    float64
	rateLimited float64
	eventSum    float64
	eventCount  float64
}

// Scraper polls a Prometheus endpoint during a run so the report can show
// server-side movement next to client-side latencies.
type Scraper struct {
	url      string
	interval time.Duration
	http     *http.Client

	mu    sync.Mutex
	snaps []metricSnapshot

	cancel context.CancelFunc
	done   chan struct{}
}

func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		url:      metricsURL,
		interval: interval,
		http:     &http.Client{Timeout: 5 * time.Second},
		done:     make(chan struct{}),
	}
}

// Start scrapes once immediately, then every interval until ctx ends or Stop
// is called. A final scrape is taken on the way out.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.scrapeOnce()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.scrapeOnce()
				return
			case <-ticker.C:
				s.scrapeOnce()
			}
		}
	}()
}

func (s *Scraper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scraper) scrapeOnce() {
	resp, err := s.http.Get(s.url)
	if err != nil {
		// The relay may not be listening yet.
		return
	}
	defer resp.Body.Close()

	snap, err := decodeSnapshot(resp.Body, time.Now())
	if err != nil {
		return
	}
	s.mu.Lock()
	s.snaps = append(s.snaps, snap)
	s.mu.Unlock()
}

// decodeSnapshot parses a text exposition body into a snapshot.
func decodeSnapshot(r io.Reader, at time.Time) (metricSnapshot, error) {
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return metricSnapshot{}, fmt.Errorf("parse metrics: %w", err)
	}

	snap := metricSnapshot{at: at}
	snap.connections = sumFamily(families[metricConnections])
	snap.sessions = sumFamily(families[metricSessions])
	snap.messages = sumFamily(families[metricMessages])
	snap.rateLimited = sumFamily(families[metricRateLimited])
	if mf := families[metricEventTime]; mf != nil {
		for _, m := range mf.GetMetric() {
			h := m.GetHistogram()
			snap.eventSum += h.GetSampleSum()
			snap.eventCount += float64(h.GetSampleCount())
		}
	}
	return snap, nil
}

// sumFamily adds up every gauge or counter series of a family. A missing
// family reads as zero.
func sumFamily(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.GetGauge() != nil:
			total += m.GetGauge().GetValue()
		case m.GetCounter() != nil:
			total += m.GetCounter().GetValue()
		case m.GetUntyped() != nil:
			total += m.GetUntyped().GetValue()
		}
	}
	return total
}

// Report prints initial, final, delta and peak for each tracked series and
// the mean loop event time over the run.
func (s *Scraper) Report() {
	s.mu.Lock()
	snaps := append([]metricSnapshot(nil), s.snaps...)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Println("\n--- Server Metrics (no data collected) ---")
		return
	}
	first, last := snaps[0], snaps[len(snaps)-1]

	fmt.Println("\n--- Server Metrics (Prometheus) ---")
	fmt.Printf("  Scrapes: %d over %s\n", len(snaps), last.at.Sub(first.at).Round(time.Second))

	rows := []struct {
		label string
		pick  func(metricSnapshot) float64
	}{
		{"Connections", func(m metricSnapshot) float64 { return m.connections }},
		{"Sessions", func(m metricSnapshot) float64 { return m.sessions }},
		{"Messages", func(m metricSnapshot) float64 { return m.messages }},
		{"Rate Limited", func(m metricSnapshot) float64 { return m.rateLimited }},
	}

	fmt.Println()
	fmt.Printf("  %-14s %10s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta", "Peak")
	for _, row := range rows {
		a, b := row.pick(first), row.pick(last)
		fmt.Printf("  %-14s %10.0f %10.0f %10.0f %10.0f\n", row.label, a, b, b-a, peak(snaps, row.pick))
	}

	fmt.Println()
	if n := last.eventCount - first.eventCount; n > 0 {
		fmt.Printf("  %-14s avg: %.4fs over %.0f events\n", "Loop event", (last.eventSum-first.eventSum)/n, n)
	} else {
		fmt.Printf("  %-14s avg: N/A\n", "Loop event")
	}
}

func peak(snaps []metricSnapshot, pick func(metricSnapshot) float64) float64 {
	top := math.Inf(-1)
	for _, s := range snaps {
		if v := pick(s); v > top {
			top = v
		}
	}
	return top
}
