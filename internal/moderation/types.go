package moderation

import (
	"time"

	"github.com/globalchat/chat-relay/internal/ban"
	"github.com/globalchat/chat-relay/internal/chat"
	"github.com/globalchat/chat-relay/internal/report"
	"github.com/globalchat/chat-relay/internal/session"
)

// Stats summarises relay activity for the admin dashboard.
type Stats struct {
	TotalUsers          int            `json:"total_users"`
	OnlineUsers         int            `json:"online_users"`
	SyntheticUsers      int            `json:"synthetic_users"`
	TotalMessages       int            `json:"total_messages"`
	TotalDirectMessages int            `json:"total_direct_messages"`
	PendingReports      int            `json:"pending_reports"`
	UsersByRoom         map[string]int `json:"users_by_room"`
}

// Snapshot is the admin view of relay state. Unlike room broadcasts it
// carries origin addresses.
type Snapshot struct {
	TakenAt        time.Time                 `json:"taken_at"`
	Stats          Stats                     `json:"stats"`
	Users          []session.Session         `json:"users"`
	Messages       map[string][]chat.Message `json:"messages"`
	DirectMessages []chat.DirectMessage      `json:"direct_messages"`
	Reports        []report.Report           `json:"reports"`
	Bans           []ban.Record              `json:"bans"`
}

// BanTarget names exactly one of a display name or an origin address.
type BanTarget struct {
	Name    string
	Address string
	Reason  string
}
