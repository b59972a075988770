package relay

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/globalchat/chat-relay/internal/chat"
	"github.com/globalchat/chat-relay/internal/metrics"
	"github.com/globalchat/chat-relay/internal/protocol"
	"github.com/globalchat/chat-relay/internal/report"
	"github.com/globalchat/chat-relay/internal/room"
	"github.com/globalchat/chat-relay/internal/session"
)

// newMessageID returns a time-ordered identifier.
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// sender resolves the session behind connID for an event that may only come
// from a joined, unbanned, unmuted session. It replies to the client itself
// when the event must be dropped.
func (e *Engine) sender(connID string, now time.Time) (session.Session, bool) {
	sess, err := e.st.Sessions.Get(connID)
	if err != nil {
		e.sendError(connID, protocol.CodeNotJoined, "join first")
		return session.Session{}, false
	}
	if e.st.Bans.NameBanned(sess.Name) || e.st.Bans.AddressBanned(sess.Addr) {
		e.Evict(sess, "banned")
		return session.Session{}, false
	}
	if sess.Muted(now) {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		e.sendError(connID, protocol.CodeMuted,
			fmt.Sprintf("you are muted until %s", sess.MutedUntil.UTC().Format(time.RFC3339)))
		return session.Session{}, false
	}
	if !sess.MutedUntil.IsZero() {
		storeErr("clear mute", connID, e.st.Sessions.ClearMute(connID))
		sess.MutedUntil = time.Time{}
	}
	return sess, true
}

func (e *Engine) post(connID string, m protocol.ChatMsg) {
	now := e.now()
	sess, ok := e.sender(connID, now)
	if !ok {
		return
	}
	text, err := chat.NormalizeBody(m.Text, e.cfg.MaxMessageLength)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		e.sendError(connID, errorCode(err), describe(err))
		return
	}
	id, ok := e.st.Rooms.RoomOf(connID)
	if !ok {
		e.sendError(connID, protocol.CodeNotJoined, "not in a room")
		return
	}
	storeErr("touch", connID, e.st.Sessions.Touch(connID, now))
	e.publish(sess, id, text, now)
}

// publish appends a message authored by sess to a room log and fans it out.
func (e *Engine) publish(sess session.Session, id room.ID, text string, now time.Time) chat.Message {
	msg := chat.Message{
		ID:        newMessageID(),
		Room:      string(id),
		AuthorID:  sess.ID,
		Author:    sess.Name,
		Gender:    string(sess.Gender),
		Country:   sess.Country,
		Text:      text,
		CreatedAt: now,
		Synthetic: sess.Synthetic,
	}
	e.st.Log.Append(string(id), msg)

	e.toRoom(id, "", protocol.TypeNewMessage, protocol.NewMessageMsg{Message: messageView(msg)})
	e.adminUpdate("message", adminView(msg, sess, sess.Muted(now)))

	kind := "room"
	if sess.Synthetic {
		kind = "synthetic"
	}
	metrics.MessagesTotal.WithLabelValues(kind).Inc()

	if r, filed := e.mod.AutoReport(msg); filed {
		log.Printf("relay: spam report=%s message=%s author=%q", r.ID, msg.ID, msg.Author)
		e.adminUpdate("report", r)
	}
	return msg
}

func (e *Engine) direct(connID string, m protocol.DirectMsg) {
	now := e.now()
	sess, ok := e.sender(connID, now)
	if !ok {
		return
	}
	text, err := chat.NormalizeBody(m.Text, e.cfg.MaxMessageLength)
	if err != nil {
		e.sendError(connID, errorCode(err), describe(err))
		return
	}
	target, found := e.st.Sessions.FindByName(m.To)
	if !found || target.Synthetic {
		e.sendError(connID, protocol.CodeNotFound, "user is not online")
		return
	}
	if target.ID == sess.ID {
		e.sendError(connID, protocol.CodeValidation, "cannot message yourself")
		return
	}
	storeErr("touch", connID, e.st.Sessions.Touch(connID, now))

	dm := chat.DirectMessage{
		ID:        newMessageID(),
		From:      sess.Name,
		To:        target.Name,
		Text:      text,
		CreatedAt: now,
	}
	e.st.Directs.Add(dm)
	metrics.MessagesTotal.WithLabelValues("direct").Inc()

	view := directView(dm)
	e.send(target.ID, protocol.TypeDirectDelivered, protocol.DirectDeliveredMsg{Message: view})
	e.send(connID, protocol.TypeDirectSent, protocol.DirectSentMsg{Message: view})
	e.adminUpdate("direct_message", view)
}

func (e *Engine) typing(connID string, m protocol.TypingMsg) {
	sess, err := e.st.Sessions.Get(connID)
	if err != nil {
		e.sendError(connID, protocol.CodeNotJoined, "join first")
		return
	}
	id, ok := e.st.Rooms.RoomOf(connID)
	if !ok {
		return
	}
	storeErr("touch", connID, e.st.Sessions.Touch(connID, e.now()))
	e.toRoom(id, connID, protocol.TypeTypingBroadcast, protocol.ServerTypingMsg{
		Name:     sess.Name,
		Room:     string(id),
		IsTyping: m.IsTyping,
	})
}

func (e *Engine) report(connID string, m protocol.ReportMsg) {
	r := report.Report{
		ReportedUser: m.ReportedUser,
		MessageID:    m.MessageID,
		Reason:       m.Reason,
		CreatedAt:    e.now(),
	}
	if sess, err := e.st.Sessions.Get(connID); err == nil {
		r.Reporter = sess.Name
		if id, ok := e.st.Rooms.RoomOf(connID); ok {
			r.Room = string(id)
		}
	}
	created, err := e.st.Reports.Create(r)
	if err != nil {
		e.sendError(connID, errorCode(err), describe(err))
		return
	}
	log.Printf("relay: report=%s reporter=%q reported=%q message=%s", created.ID, created.Reporter, created.ReportedUser, created.MessageID)
	e.send(connID, protocol.TypeReportSubmitted, protocol.ReportSubmittedMsg{ReportID: created.ID})
	e.adminUpdate("report", created)
}
