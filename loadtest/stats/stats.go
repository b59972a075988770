// Package stats aggregates load test measurements across clients and
// optionally scrapes the relay's Prometheus endpoint for the final report.
package stats

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// series is a set of latency samples.
type series []time.Duration

// summary holds the distribution printed for a series.
type summary struct {
	n                       int
	avg, p50, p95, p99, max time.Duration
}

func (s series) summarize() summary {
	if len(s) == 0 {
		return summary{}
	}
	sorted := append(series(nil), s...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	n := len(sorted)
	rank := func(q float64) time.Duration {
		return sorted[int(math.Ceil(float64(n)*q))-1]
	}
	return summary{
		n:   n,
		avg: total / time.Duration(n),
		p50: sorted[n/2],
		p95: rank(0.95),
		p99: rank(0.99),
		max: sorted[n-1],
	}
}

func (s summary) String() string {
	r := func(d time.Duration) time.Duration { return d.Round(time.Microsecond) }
	return fmt.Sprintf("avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)",
		r(s.avg), r(s.p50), r(s.p95), r(s.p99), r(s.max), s.n)
}

// Collector is shared by every client goroutine of a run.
type Collector struct {
	mu      sync.Mutex
	started time.Time
	scraper *Scraper

	connect series
	join    series
	fanout  series

	connections int
	errors      int
	rateLimited int
}

func NewCollector() *Collector {
	return &Collector{started: time.Now()}
}

// SetScraper makes Report include the server-side metrics.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// AddConnect records an established connection and its handshake time.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.connect = append(c.connect, d)
	c.connections++
	c.mu.Unlock()
}

// AddJoin records the time from join request to join_accepted.
func (c *Collector) AddJoin(d time.Duration) {
	c.mu.Lock()
	c.join = append(c.join, d)
	c.mu.Unlock()
}

// AddRateLimited counts rate_limited replies.
func (c *Collector) AddRateLimited(n int) {
	c.mu.Lock()
	c.rateLimited += n
	c.mu.Unlock()
}

// AddMsgLatency records the delay between one participant posting and
// another receiving the post.
func (c *Collector) AddMsgLatency(d time.Duration) {
	c.mu.Lock()
	c.fanout = append(c.fanout, d)
	c.mu.Unlock()
}

func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

func (c *Collector) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connections
}

func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report prints the run summary to stdout.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Println("\n=== Relay Load Test Results ===")
	fmt.Printf("Duration:     %s\n", time.Since(c.started).Round(time.Second))
	fmt.Printf("Connections:  %d\n", c.connections)
	fmt.Printf("Errors:       %d\n", c.errors)
	if c.connections > 0 {
		fmt.Printf("Error rate:   %.2f%%\n", float64(c.errors)/float64(c.connections)*100)
	}
	if c.rateLimited > 0 {
		fmt.Printf("Rate limited: %d\n", c.rateLimited)
	}

	for _, sec := range []struct {
		title string
		data  series
	}{
		{"Connect Latency", c.connect},
		{"Join Latency", c.join},
		{"Fan-out Latency", c.fanout},
	} {
		if len(sec.data) == 0 {
			continue
		}
		fmt.Printf("\n--- %s ---\n  %s\n", sec.title, sec.data.summarize())
	}

	if c.scraper != nil {
		c.scraper.Report()
	}
	fmt.Println()
}
