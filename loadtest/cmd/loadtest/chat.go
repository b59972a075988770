package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/globalchat/chat-relay/loadtest/client"
	"github.com/globalchat/chat-relay/loadtest/stats"
)

// stampPrefix marks load test messages; the send time follows it so any
// receiver can compute the fan-out delay.
const stampPrefix = "lt:"

var (
	countries = []string{"US", "GB", "CA", "AU", "DE", "FR", "JP", "IN", "BR", "MX"}
	genders   = []string{"Male", "Female"}
)

// runChat connects and joins a population of participants, has each of them
// post to the global room at a steady interval, and measures how long a post
// takes to reach the other members.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	users := fs.Int("users", 50, "Number of participants (must fit MAX_USERS)")
	rampUp := fs.Duration("ramp", 5*time.Second, "Ramp-up duration for connection creation")
	duration := fs.Duration("duration", 30*time.Second, "How long participants keep posting")
	msgInterval := fs.Duration("msg-interval", 2500*time.Millisecond, "Interval between posts per participant")
	msgSize := fs.Int("msg-size", 64, "Size of each message payload in bytes")
	concurrency := fs.Int("concurrency", 20, "Maximum simultaneous connection attempts during ramp-up")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	scrapeInterval := fs.Duration("scrape-interval", 2*time.Second, "Interval between metrics scrapes")
	fs.Parse(args)

	fmt.Printf("Chat test: %d participants to %s (ramp=%s, duration=%s, interval=%s, msg-size=%d)\n",
		*users, *url, *rampUp, *duration, *msgInterval, *msgSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, *scrapeInterval)
	collector.SetScraper(scraper)
	scraper.Start(ctx)

	var received atomic.Int64

	// -----------------------------------------------------------------------
	// Phase 1: connect and join
	// -----------------------------------------------------------------------
	fmt.Println("\n--- Phase 1: Connect and join ---")

	interval := *rampUp / time.Duration(*users)
	if interval <= 0 {
		interval = time.Millisecond
	}

	var mu sync.Mutex
	clients := make([]*client.Client, 0, *users)
	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup
	rampTicker := time.NewTicker(interval)

	interrupted := false
	for i := 0; i < *users && !interrupted; i++ {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during connection phase.")
			interrupted = true
			continue
		case <-rampTicker.C:
		}

		i := i
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			c, err := client.New(connCtx, *url)
			if err != nil {
				collector.AddError()
				return
			}
			if err := c.WaitForConnected(connCtx); err != nil {
				collector.AddError()
				c.Close()
				return
			}

			name := fmt.Sprintf("lt-%04d", i)
			c.On(client.TypeNewMessage, func(raw json.RawMessage) {
				if d, ok := fanoutDelay(raw, name); ok {
					received.Add(1)
					collector.AddMsgLatency(d)
				}
			})

			if err := c.Join(connCtx, name, genders[i%len(genders)], countries[i%len(countries)]); err != nil {
				fmt.Printf("  [join] %s: %v\n", name, err)
				collector.AddError()
				c.Close()
				return
			}

			m := c.GetMetrics()
			collector.AddConnect(m.ConnectLatency)
			collector.AddJoin(m.JoinLatency)

			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}()
	}
	rampTicker.Stop()
	wg.Wait()

	mu.Lock()
	joined := make([]*client.Client, len(clients))
	copy(joined, clients)
	mu.Unlock()

	fmt.Printf("Phase 1 complete: %d/%d joined (%d errors)\n", len(joined), *users, collector.ErrorCount())

	if interrupted || len(joined) == 0 {
		finish(joined, scraper, collector)
		return
	}

	// -----------------------------------------------------------------------
	// Phase 2: post
	// -----------------------------------------------------------------------
	fmt.Printf("\n--- Phase 2: %d participants posting for %s ---\n", len(joined), *duration)

	payload := strings.Repeat("abcdefgh", (*msgSize/8)+1)[:*msgSize]
	var sent atomic.Int64

	postCtx, cancelPosts := context.WithTimeout(ctx, *duration)
	defer cancelPosts()

	progressDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Printf("  [chat] sent: %d  received: %d  errors: %d\n",
					sent.Load(), received.Load(), collector.ErrorCount())
			case <-progressDone:
				return
			}
		}
	}()

	var postWg sync.WaitGroup
	for i, c := range joined {
		i, c := i, c
		postWg.Add(1)
		go func() {
			defer postWg.Done()

			// Spread the first posts across one interval.
			offset := time.Duration(i) * *msgInterval / time.Duration(len(joined))
			select {
			case <-time.After(offset):
			case <-postCtx.Done():
				return
			}

			ticker := time.NewTicker(*msgInterval)
			defer ticker.Stop()
			for {
				text := stampPrefix + strconv.FormatInt(time.Now().UnixNano(), 10) + ":" + payload
				if err := c.Send(map[string]string{"type": client.TypeMessage, "text": text}); err != nil {
					collector.AddError()
					return
				}
				sent.Add(1)

				select {
				case <-ticker.C:
				case <-postCtx.Done():
					return
				case <-c.Done():
					return
				}
			}
		}()
	}
	postWg.Wait()

	// Let in-flight fan-out arrive.
	time.Sleep(time.Second)
	close(progressDone)

	expected := sent.Load() * int64(len(joined)-1)
	fmt.Printf("\n--- Chat Results ---\n")
	fmt.Printf("Posts sent:        %d\n", sent.Load())
	fmt.Printf("Deliveries:        %d / %d expected\n", received.Load(), expected)
	fmt.Printf("Post throughput:   %.1f msg/s\n", float64(sent.Load())/duration.Seconds())

	finish(joined, scraper, collector)
}

// fanoutDelay extracts the send stamp from a new_message written by another
// load test participant.
func fanoutDelay(raw json.RawMessage, self string) (time.Duration, bool) {
	var msg struct {
		Message struct {
			Author string `json:"author"`
			Text   string `json:"text"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Message.Author == self {
		return 0, false
	}
	rest, ok := strings.CutPrefix(msg.Message.Text, stampPrefix)
	if !ok {
		return 0, false
	}
	stamp, _, _ := strings.Cut(rest, ":")
	ns, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Since(time.Unix(0, ns)), true
}

func finish(clients []*client.Client, scraper *stats.Scraper, collector *stats.Collector) {
	limited := 0
	for _, c := range clients {
		limited += c.GetMetrics().RateLimited
		c.Close()
	}
	collector.AddRateLimited(limited)
	scraper.Stop()
	collector.Report()
}
