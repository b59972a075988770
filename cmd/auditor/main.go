package main

import (
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/globalchat/chat-relay/internal/config"
	"github.com/globalchat/chat-relay/internal/messaging"
)

// tally counts live updates per relay and kind between reports.
type tally struct {
	mu     sync.Mutex
	counts map[string]int
}

func (t *tally) add(server, kind string) {
	t.mu.Lock()
	t.counts[server+"/"+kind]++
	t.mu.Unlock()
}

func (t *tally) flush() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.counts) == 0 {
		return "no activity"
	}
	keys := make([]string, 0, len(t.counts))
	for k := range t.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(strconv.Itoa(t.counts[k]))
	}
	t.counts = make(map[string]int)
	return b.String()
}

func main() {
	log.Println("Starting chat relay auditor...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	natsConfig := messaging.DefaultNATSConfig()
	if cfg.NATSURL != "" {
		natsConfig.URL = cfg.NATSURL
	}
	natsConfig.Name = "chat-relay-auditor"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	counts := &tally{counts: make(map[string]int)}
	err = natsClient.SubscribeLive(func(ev messaging.LiveEvent) {
		counts.add(ev.Server, ev.Kind)
		switch ev.Kind {
		case "ban", "muted", "message_deleted", "report", "report_resolved":
			log.Printf("[auditor] %s server=%s ts=%d data=%s",
				strings.ToUpper(ev.Kind), ev.Server, ev.Ts, ev.Data)
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to live updates: %v", err)
	}

	log.Printf("Chat relay auditor running")
	log.Printf("  nats_url: %s", natsConfig.URL)
	log.Printf("  subject:  %s", messaging.SubjectLiveAll)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-ticker.C:
			log.Printf("[auditor] last minute: %s", counts.flush())
		case sig := <-sigCh:
			log.Printf("received signal %v, shutting down...", sig)
			log.Printf("[auditor] final: %s", counts.flush())
			natsClient.Close()
			return
		}
	}
}
