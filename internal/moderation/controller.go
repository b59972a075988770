// Package moderation implements the admin side of the relay: credential
// checks, message deletion, mutes, bans, report review, state snapshots, and
// the spam heuristics that file automatic reports.
package moderation

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/globalchat/chat-relay/internal/ban"
	"github.com/globalchat/chat-relay/internal/chat"
	"github.com/globalchat/chat-relay/internal/metrics"
	"github.com/globalchat/chat-relay/internal/report"
	"github.com/globalchat/chat-relay/internal/room"
	"github.com/globalchat/chat-relay/internal/session"
)

// Sizes of the admin overview; Export returns everything retained.
const (
	OverviewDirectMessages = 30
	OverviewReports        = 20
)

// SystemReporter is the reporter name on automatic reports.
const SystemReporter = "system"

var (
	ErrNotFound        = errors.New("moderation: target not found")
	ErrInvalidDuration = errors.New("moderation: mute duration must be positive")
	ErrInvalidTarget   = errors.New("moderation: ban needs exactly one of name or address")
)

// Notifier receives the side effects of moderation actions. The relay engine
// implements it to inform rooms and close connections.
type Notifier interface {
	MessageDeleted(room room.ID, messageID string)
	Muted(s session.Session)
	Evict(s session.Session, reason string)
}

// Stores groups the state a Controller acts on.
type Stores struct {
	Sessions *session.Store
	Rooms    *room.Registry
	Log      *chat.Log
	Directs  *chat.DirectLog
	Reports  *report.Store
	Bans     *ban.List
}

// Controller applies admin actions to the relay stores. It is not safe for
// concurrent use; the relay calls it from its event loop.
type Controller struct {
	st       Stores
	notify   Notifier
	username string
	password string
	now      func() time.Time
}

// NewController creates a controller. An empty password disables admin login.
func NewController(st Stores, notify Notifier, username, password string, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{st: st, notify: notify, username: username, password: password, now: now}
}

// Authenticate compares the credentials in constant time.
func (c *Controller) Authenticate(username, password string) bool {
	if c.password == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.username))
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(c.password))
	return userOK&passOK == 1
}

// DeleteMessage removes one message from a room log and tells the room.
func (c *Controller) DeleteMessage(roomID, messageID string) error {
	if !c.knownRoom(room.ID(roomID)) {
		return room.ErrUnknownRoom
	}
	if !c.st.Log.DeleteByID(roomID, messageID) {
		return ErrNotFound
	}
	metrics.ModerationActionsTotal.WithLabelValues("delete").Inc()
	c.notify.MessageDeleted(room.ID(roomID), messageID)
	return nil
}

func (c *Controller) knownRoom(id room.ID) bool {
	for _, r := range c.st.Rooms.Rooms() {
		if r.ID == id {
			return true
		}
	}
	return false
}

// Mute silences the named session for d. The session stays connected.
func (c *Controller) Mute(name string, d time.Duration) (session.Session, error) {
	if d <= 0 {
		return session.Session{}, ErrInvalidDuration
	}
	target, ok := c.st.Sessions.FindByName(name)
	if !ok {
		return session.Session{}, ErrNotFound
	}
	muted, err := c.st.Sessions.Mute(target.ID, c.now().Add(d))
	if err != nil {
		return session.Session{}, fmt.Errorf("moderation: mute %s: %w", target.ID, err)
	}
	metrics.ModerationActionsTotal.WithLabelValues("mute").Inc()
	c.notify.Muted(muted)
	return muted, nil
}

// Ban records a name or address ban and then evicts every live session it
// matches. The record is written first so a racing join cannot slip in.
// It returns the number of sessions evicted.
func (c *Controller) Ban(t BanTarget) (int, error) {
	name := strings.TrimSpace(t.Name)
	addr := strings.TrimSpace(t.Address)
	if (name == "") == (addr == "") {
		return 0, ErrInvalidTarget
	}
	reason := strings.TrimSpace(t.Reason)
	if reason == "" {
		reason = "banned by moderator"
	}

	now := c.now()
	var match func(session.Session) bool
	if name != "" {
		c.st.Bans.BanName(name, reason, now)
		key := session.NormalizeName(name)
		match = func(s session.Session) bool { return session.NormalizeName(s.Name) == key }
	} else {
		c.st.Bans.BanAddress(addr, reason, now)
		match = func(s session.Session) bool { return s.Addr == addr }
	}
	metrics.ModerationActionsTotal.WithLabelValues("ban").Inc()

	targets := c.st.Sessions.ListOnline(match)
	for _, s := range targets {
		c.notify.Evict(s, reason)
	}
	return len(targets), nil
}

// ResolveReport marks a pending report resolved.
func (c *Controller) ResolveReport(id string) (report.Report, error) {
	r, err := c.st.Reports.Resolve(id, c.now())
	if err != nil {
		return r, err
	}
	metrics.ModerationActionsTotal.WithLabelValues("resolve").Inc()
	return r, nil
}

// AutoReport files a system report when msg trips a spam heuristic. An
// author with an unresolved system report is not reported again.
func (c *Controller) AutoReport(msg chat.Message) (report.Report, bool) {
	v := Screen(msg.Text)
	if !v.Flagged {
		return report.Report{}, false
	}
	metrics.MessagesTotal.WithLabelValues("flagged").Inc()
	if c.st.Reports.HasPending(SystemReporter, msg.Author) {
		return report.Report{}, false
	}
	r, err := c.st.Reports.Create(report.Report{
		Reporter:     SystemReporter,
		ReportedUser: msg.Author,
		MessageID:    msg.ID,
		Room:         msg.Room,
		Reason:       "spam: " + v.Reason,
		CreatedAt:    msg.CreatedAt,
	})
	if err != nil {
		return report.Report{}, false
	}
	return r, true
}

// Stats computes the dashboard counters.
func (c *Controller) Stats() Stats {
	users, synthetic := c.st.Sessions.Counts()
	byRoom := make(map[string]int)
	for id, n := range c.st.Rooms.Counts() {
		byRoom[string(id)] = n
	}
	return Stats{
		TotalUsers:          users + synthetic,
		OnlineUsers:         users,
		SyntheticUsers:      synthetic,
		TotalMessages:       c.st.Log.Total(),
		TotalDirectMessages: c.st.Directs.Total(),
		PendingReports:      c.st.Reports.Pending(),
		UsersByRoom:         byRoom,
	}
}

// Overview is the snapshot sent on admin login.
func (c *Controller) Overview() Snapshot {
	return c.snapshot(OverviewDirectMessages, OverviewReports)
}

// Export is the complete snapshot.
func (c *Controller) Export() Snapshot {
	metrics.ModerationActionsTotal.WithLabelValues("export").Inc()
	return c.snapshot(-1, -1)
}

func (c *Controller) snapshot(directs, reports int) Snapshot {
	return Snapshot{
		TakenAt:        c.now(),
		Stats:          c.Stats(),
		Users:          c.st.Sessions.ListOnline(nil),
		Messages:       c.st.Log.Snapshot(),
		DirectMessages: c.st.Directs.Recent(directs),
		Reports:        c.st.Reports.Recent(reports),
		Bans:           c.st.Bans.All(),
	}
}
