// Command e2etest runs end-to-end scenarios against a running relay: HTTP
// routes, connect and join, room fan-out, direct messages, rate limiting and
// admin login.
//
// Usage:
//
//	go run ./cmd/e2etest/ [-url ws://localhost:8080/ws] [-api http://localhost:8080] [-timeout 60s]
//
// Exit code 0 if all required scenarios pass, 1 if any fail.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/globalchat/chat-relay/loadtest/client"
)

// ---------------------------------------------------------------------------
// Result tracking
// ---------------------------------------------------------------------------

// resultKind categorises a scenario outcome.
type resultKind int

const (
	resultPass resultKind = iota
	resultFail
	resultInfo // optional / non-fatal
)

// scenarioResult holds the outcome of a single test scenario.
type scenarioResult struct {
	name   string
	kind   resultKind
	detail string
}

func (r scenarioResult) tag() string {
	switch r.kind {
	case resultPass:
		return "PASS"
	case resultFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

func main() {
	wsURL := flag.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	apiBase := flag.String("api", "http://localhost:8080", "HTTP API base URL")
	adminUser := flag.String("admin-user", "admin", "Admin username")
	adminPass := flag.String("admin-pass", "admin123", "Admin password (the relay must set ADMIN_PASSWORD to match)")
	timeout := flag.Duration("timeout", 60*time.Second, "Global test timeout")
	flag.Parse()

	fmt.Println("=== Chat Relay E2E Test ===")
	fmt.Printf("Server: %s\n\n", *wsURL)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Names are unique per run so a relay left running between runs does
	// not reject them as taken.
	suffix := fmt.Sprintf("%04d", time.Now().UnixNano()%10000)

	var results []scenarioResult
	results = append(results, scenarioHTTP(ctx, *apiBase))
	results = append(results, scenarioRoom(ctx, *wsURL, suffix)...)
	results = append(results, scenarioRateLimit(ctx, *wsURL, suffix))
	results = append(results, scenarioAdmin(ctx, *wsURL, *adminUser, *adminPass))

	fmt.Println()
	passed, failed, info := 0, 0, 0
	for _, r := range results {
		fmt.Printf("[%s] %s", r.tag(), r.name)
		if r.detail != "" {
			fmt.Printf(" (%s)", r.detail)
		}
		fmt.Println()

		switch r.kind {
		case resultPass:
			passed++
		case resultFail:
			failed++
		case resultInfo:
			info++
		}
	}

	fmt.Printf("\n=== Results: %d/%d passed", passed, passed+failed)
	if info > 0 {
		fmt.Printf(", %d info", info)
	}
	fmt.Println(" ===")

	if failed > 0 {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// HTTP routes
// ---------------------------------------------------------------------------

func scenarioHTTP(ctx context.Context, apiBase string) scenarioResult {
	name := "HTTP routes"

	body, err := httpGetBody(ctx, apiBase+"/health")
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/health: %v", err)}
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &health); err != nil || health.Status != "healthy" {
		return scenarioResult{name, resultFail, fmt.Sprintf("/health body %q", body)}
	}

	body, err = httpGetBody(ctx, apiBase+"/api/countries")
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/api/countries: %v", err)}
	}
	var countries []struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &countries); err != nil || len(countries) == 0 {
		return scenarioResult{name, resultFail, fmt.Sprintf("/api/countries body %q", body)}
	}

	body, err = httpGetBody(ctx, apiBase+"/metrics")
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/metrics: %v", err)}
	}
	if !strings.Contains(string(body), "relay_connections_active") {
		return scenarioResult{name, resultFail, "/metrics: missing relay_connections_active"}
	}

	return scenarioResult{name, resultPass, fmt.Sprintf("countries=%d", len(countries))}
}

// ---------------------------------------------------------------------------
// Join, room fan-out and direct messages
// ---------------------------------------------------------------------------

func scenarioRoom(ctx context.Context, wsURL, suffix string) []scenarioResult {
	joinName := "Join and duplicate name"
	roomName := "Room message fan-out"
	dmName := "Direct message"
	skipped := func(reason string) []scenarioResult {
		return []scenarioResult{
			{joinName, resultFail, reason},
			{roomName, resultFail, "skipped: join failed"},
			{dmName, resultFail, "skipped: join failed"},
		}
	}

	ann, err := connect(ctx, wsURL)
	if err != nil {
		return skipped(fmt.Sprintf("client A: %v", err))
	}
	defer ann.Close()
	bob, err := connect(ctx, wsURL)
	if err != nil {
		return skipped(fmt.Sprintf("client B: %v", err))
	}
	defer bob.Close()

	annName, bobName := "Ann"+suffix, "Bob"+suffix

	bobRoom := make(chan json.RawMessage, 8)
	bob.On(client.TypeNewMessage, forward(bobRoom))
	annDM := make(chan json.RawMessage, 1)
	ann.On(client.TypeDirectDelivered, forward(annDM))
	bobSent := make(chan json.RawMessage, 1)
	bob.On(client.TypeDirectSent, forward(bobSent))

	joinCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := ann.Join(joinCtx, annName, "Female", "US"); err != nil {
		return skipped(fmt.Sprintf("join %s: %v", annName, err))
	}
	if err := bob.Join(joinCtx, bobName, "Male", "GB"); err != nil {
		return skipped(fmt.Sprintf("join %s: %v", bobName, err))
	}

	var results []scenarioResult

	// A second join with the same name, differently cased, must be refused.
	dup, err := connect(ctx, wsURL)
	if err != nil {
		results = append(results, scenarioResult{joinName, resultFail, fmt.Sprintf("client C: %v", err)})
	} else {
		err := dup.Join(joinCtx, strings.ToLower(annName), "Female", "CA")
		dup.Close()
		if err != nil && strings.Contains(err.Error(), "name_taken") {
			results = append(results, scenarioResult{joinName, resultPass, "duplicate refused"})
		} else {
			results = append(results, scenarioResult{joinName, resultFail, fmt.Sprintf("duplicate join: %v", err)})
		}
	}

	// Room fan-out.
	text := "hello from e2e " + suffix
	if err := ann.Send(map[string]string{"type": client.TypeMessage, "text": text}); err != nil {
		results = append(results, scenarioResult{roomName, resultFail, fmt.Sprintf("send: %v", err)})
	} else {
		results = append(results, awaitRoomMessage(bobRoom, annName, text, roomName))
	}

	// Direct message.
	if err := bob.Send(map[string]string{"type": client.TypeDirectMessage, "to": annName, "text": "psst"}); err != nil {
		results = append(results, scenarioResult{dmName, resultFail, fmt.Sprintf("send: %v", err)})
		return results
	}
	if _, err := await(annDM, 5*time.Second); err != nil {
		results = append(results, scenarioResult{dmName, resultFail, "recipient: " + err.Error()})
		return results
	}
	if _, err := await(bobSent, 5*time.Second); err != nil {
		results = append(results, scenarioResult{dmName, resultFail, "sender ack: " + err.Error()})
		return results
	}
	results = append(results, scenarioResult{dmName, resultPass, ""})
	return results
}

func awaitRoomMessage(ch chan json.RawMessage, author, text, name string) scenarioResult {
	deadline := time.After(5 * time.Second)
	for {
		select {
		case raw := <-ch:
			var msg struct {
				Message struct {
					Author string `json:"author"`
					Text   string `json:"text"`
				} `json:"message"`
			}
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			// Synthetic participants may post in between.
			if msg.Message.Author == author && msg.Message.Text == text {
				return scenarioResult{name, resultPass, ""}
			}
		case <-deadline:
			return scenarioResult{name, resultFail, "message not received within 5s"}
		}
	}
}

// ---------------------------------------------------------------------------
// Rate limiting (optional)
// ---------------------------------------------------------------------------

func scenarioRateLimit(ctx context.Context, wsURL, suffix string) scenarioResult {
	name := "Rate limiting"

	c, err := connect(ctx, wsURL)
	if err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("connect: %v", err)}
	}
	defer c.Close()

	limited := make(chan json.RawMessage, 1)
	c.On(client.TypeRateLimited, forward(limited))

	joinCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Join(joinCtx, "Flood"+suffix, "Male", "DE"); err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("join: %v", err)}
	}

	for i := 0; i < 8; i++ {
		_ = c.Send(map[string]string{"type": client.TypeMessage, "text": fmt.Sprintf("burst %d", i)})
	}
	raw, err := await(limited, 3*time.Second)
	if err != nil {
		return scenarioResult{name, resultInfo, "no rate_limited reply"}
	}
	var msg struct {
		RetryAfter int `json:"retry_after"`
	}
	_ = json.Unmarshal(raw, &msg)
	return scenarioResult{name, resultPass, fmt.Sprintf("retry_after=%ds", msg.RetryAfter)}
}

// ---------------------------------------------------------------------------
// Admin login (optional)
// ---------------------------------------------------------------------------

func scenarioAdmin(ctx context.Context, wsURL, user, pass string) scenarioResult {
	name := "Admin login"

	c, err := connect(ctx, wsURL)
	if err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("connect: %v", err)}
	}
	defer c.Close()

	snapshot := make(chan json.RawMessage, 1)
	failed := make(chan json.RawMessage, 1)
	c.On(client.TypeAdminSnapshot, forward(snapshot))
	c.On(client.TypeAdminAuthFailed, forward(failed))

	if err := c.Send(map[string]string{"type": client.TypeAdminAuth, "username": user, "password": pass}); err != nil {
		return scenarioResult{name, resultInfo, fmt.Sprintf("send: %v", err)}
	}

	select {
	case raw := <-snapshot:
		var snap struct {
			Snapshot struct {
				Stats struct {
					OnlineUsers int `json:"online_users"`
				} `json:"stats"`
			} `json:"snapshot"`
		}
		_ = json.Unmarshal(raw, &snap)
		return scenarioResult{name, resultPass, fmt.Sprintf("online=%d", snap.Snapshot.Stats.OnlineUsers)}
	case <-failed:
		return scenarioResult{name, resultInfo, "credentials refused"}
	case <-time.After(5 * time.Second):
		return scenarioResult{name, resultInfo, "no reply"}
	case <-ctx.Done():
		return scenarioResult{name, resultInfo, ctx.Err().Error()}
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func connect(ctx context.Context, wsURL string) (*client.Client, error) {
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := client.New(connCtx, wsURL)
	if err != nil {
		return nil, err
	}
	if err := c.WaitForConnected(connCtx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// forward returns a handler that hands frames to ch without blocking.
func forward(ch chan json.RawMessage) func(json.RawMessage) {
	return func(raw json.RawMessage) {
		select {
		case ch <- raw:
		default:
		}
	}
}

func await(ch chan json.RawMessage, d time.Duration) (json.RawMessage, error) {
	select {
	case raw := <-ch:
		return raw, nil
	case <-time.After(d):
		return nil, fmt.Errorf("timed out after %s", d)
	}
}

func httpGetBody(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
