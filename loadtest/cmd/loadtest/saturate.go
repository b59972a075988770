package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/globalchat/chat-relay/loadtest/client"
	"github.com/globalchat/chat-relay/loadtest/stats"
)

// fleet is the set of connections held open by a saturate run.
type fleet struct {
	mu      sync.Mutex
	clients []*client.Client

	joined   atomic.Int64
	rejected atomic.Int64
}

func (f *fleet) add(c *client.Client) {
	f.mu.Lock()
	f.clients = append(f.clients, c)
	f.mu.Unlock()
}

// alive counts connections whose read loop is still running.
func (f *fleet) alive() (alive, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clients {
		select {
		case <-c.Done():
		default:
			alive++
		}
	}
	return alive, len(f.clients)
}

func (f *fleet) closeAll() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clients {
		c.Close()
	}
	return len(f.clients)
}

// runSaturate opens connections over a ramp-up period and holds them open,
// reporting drops. With -join every connection also joins as a participant,
// which probes MAX_USERS: joins past the cap come back rejected. The
// per-address connect limit still applies, so large runs need several
// source addresses or a raised limit.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	connections := fs.Int("connections", 1000, "Number of connections to open")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "Hold duration after all connections are open")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts during ramp-up")
	join := fs.Bool("join", false, "Join each connection as a participant")
	fs.Parse(args)

	fmt.Printf("Saturate test: %d connections to %s (ramp=%s, hold=%s, concurrency=%d, join=%v)\n",
		*connections, *url, *rampUp, *hold, *concurrency, *join)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	f := &fleet{}

	fmt.Println("\n--- Ramp-up ---")
	start := time.Now()
	completed := rampConnections(ctx, f, collector, *url, *connections, *rampUp, *concurrency, *join)
	fmt.Printf("\nRamp-up finished in %s: %d connected, %d errors\n",
		time.Since(start).Round(time.Millisecond), collector.ConnectionCount(), collector.ErrorCount())
	if *join {
		fmt.Printf("Joins: %d accepted, %d rejected\n", f.joined.Load(), f.rejected.Load())
	}

	var dropped int
	if completed {
		dropped = holdConnections(ctx, f, *hold)
	} else {
		fmt.Println("Interrupted during ramp-up; skipping hold.")
	}

	fmt.Println("\n--- Cleanup ---")
	fmt.Printf("Closed %d connections.\n", f.closeAll())

	if dropped > 0 {
		fmt.Printf("\nConnections dropped during hold: %d\n", dropped)
	}
	collector.Report()
}

// rampConnections launches n connection attempts spread over ramp. It
// returns false when the run was interrupted.
func rampConnections(ctx context.Context, f *fleet, collector *stats.Collector,
	url string, n int, ramp time.Duration, concurrency int, join bool) bool {

	step := ramp / time.Duration(n)
	if step <= 0 {
		step = time.Millisecond
	}

	progressCtx, stopProgress := context.WithCancel(ctx)
	defer stopProgress()
	go reportRamp(progressCtx, collector, n)

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(step)
	defer ticker.Stop()

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			openOne(ctx, f, collector, url, i, join)
		}(i)
	}
	return true
}

func openOne(ctx context.Context, f *fleet, collector *stats.Collector, url string, i int, join bool) {
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := client.New(connCtx, url)
	if err != nil {
		collector.AddError()
		return
	}
	if err := c.WaitForConnected(connCtx); err != nil {
		collector.AddError()
		c.Close()
		return
	}
	collector.AddConnect(c.GetMetrics().ConnectLatency)

	if join {
		name := fmt.Sprintf("sat-%04d", i)
		if err := c.Join(connCtx, name, genders[i%len(genders)], countries[i%len(countries)]); err != nil {
			f.rejected.Add(1)
		} else {
			f.joined.Add(1)
			collector.AddJoin(c.GetMetrics().JoinLatency)
		}
	}
	f.add(c)
}

func reportRamp(ctx context.Context, collector *stats.Collector, target int) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	last, lastAt := 0, time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n := collector.ConnectionCount()
			rate := float64(n-last) / now.Sub(lastAt).Seconds()
			fmt.Printf("  [ramp] %d/%d connected, %d errors, %.1f conn/s\n",
				n, target, collector.ErrorCount(), rate)
			last, lastAt = n, now
		}
	}
}

// holdConnections keeps the fleet open for d and returns how many
// connections the server dropped meanwhile.
func holdConnections(ctx context.Context, f *fleet, d time.Duration) int {
	_, initial := f.alive()
	fmt.Printf("\n--- Hold ---\nHolding %d connections for %s...\n", initial, d)

	timer := time.NewTimer(d)
	defer timer.Stop()
	status := time.NewTicker(5 * time.Second)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("Interrupted during hold.")
			alive, total := f.alive()
			return total - alive
		case <-timer.C:
			alive, total := f.alive()
			return total - alive
		case <-status.C:
			alive, total := f.alive()
			fmt.Printf("  [hold] alive: %d/%d  dropped: %d\n", alive, total, total-alive)
		}
	}
}
