package relay

import (
	"log"
	"strings"
	"time"

	"github.com/globalchat/chat-relay/internal/config"
	"github.com/globalchat/chat-relay/internal/protocol"
	"github.com/globalchat/chat-relay/internal/room"
	"github.com/globalchat/chat-relay/internal/session"
)

func (e *Engine) join(connID string, m protocol.JoinMsg) {
	if _, err := e.st.Sessions.Get(connID); err == nil {
		e.sendError(connID, protocol.CodeAlreadyJoined, "already joined")
		return
	}
	p, err := session.NewProfile(m.Name, m.Gender, m.Country, e.addrs[connID])
	if err == nil {
		var sess session.Session
		sess, err = e.st.Sessions.Create(connID, p, e.now())
		if err == nil {
			e.admit(sess)
			return
		}
	}
	log.Printf("relay: join rejected conn=%s name=%q: %v", connID, strings.TrimSpace(m.Name), err)
	e.send(connID, protocol.TypeJoinRejected, protocol.JoinRejectedMsg{
		Code:   errorCode(err),
		Reason: describe(err),
	})
}

// admit places a newly created session in its home room and announces it.
func (e *Engine) admit(sess session.Session) {
	home := e.st.Rooms.Home(sess.Gender, e.cfg.RoomAssignment == config.AssignGenderAssigned)
	_, backlog, err := e.st.Rooms.SwitchRoom(sess.ID, home)
	if err != nil {
		// Home always names a fixed room.
		log.Printf("relay: place conn=%s in %s: %v", sess.ID, home, err)
		return
	}
	storeErr("set room", sess.ID, e.st.Sessions.SetRoom(sess.ID, string(home)))
	sess.Room = string(home)

	e.send(sess.ID, protocol.TypeJoinAccepted, protocol.JoinAcceptedMsg{
		Profile: profileView(sess),
		Backlog: messageViews(backlog),
	})
	log.Printf("relay: joined conn=%s name=%q room=%s synthetic=%v", sess.ID, sess.Name, home, sess.Synthetic)

	if e.cfg.PresenceMode == config.PresenceAnonymous {
		e.toRoom(home, sess.ID, protocol.TypeUserJoined, protocol.UserJoinedMsg{
			Name:    sess.Name,
			Country: countryView(sess.Country),
			Room:    string(home),
		})
	}
	e.presenceChanged()
	e.adminUpdate("user_joined", userView(sess))
}

func (e *Engine) switchRoom(connID string, m protocol.SwitchRoomMsg) {
	sess, err := e.st.Sessions.Get(connID)
	if err != nil {
		e.sendError(connID, protocol.CodeNotJoined, "join first")
		return
	}
	to, err := e.st.Rooms.Resolve(strings.TrimSpace(m.Room), sess.Gender)
	if err != nil {
		e.sendError(connID, errorCode(err), describe(err))
		return
	}
	from, backlog, err := e.st.Rooms.SwitchRoom(connID, to)
	if err != nil {
		e.sendError(connID, errorCode(err), describe(err))
		return
	}
	storeErr("set room", connID, e.st.Sessions.SetRoom(connID, string(to)))
	storeErr("touch", connID, e.st.Sessions.Touch(connID, e.now()))

	e.send(connID, protocol.TypeRoomBacklog, protocol.RoomBacklogMsg{
		Room:     string(to),
		Messages: messageViews(backlog),
	})
	if from == to {
		return
	}
	e.moved(sess, from, to)
}

// moved announces that sess went from one room to another.
func (e *Engine) moved(sess session.Session, from, to room.ID) {
	if e.cfg.PresenceMode == config.PresenceAnonymous {
		if from != "" {
			e.toRoom(from, sess.ID, protocol.TypeUserLeft, protocol.UserLeftMsg{Name: sess.Name, Room: string(from)})
		}
		e.toRoom(to, sess.ID, protocol.TypeUserJoined, protocol.UserJoinedMsg{
			Name:    sess.Name,
			Country: countryView(sess.Country),
			Room:    string(to),
		})
	}
	e.presenceChanged()
}

// storeErr logs a failed session update. The session may already have been
// removed by an earlier event.
func storeErr(op, connID string, err error) {
	if err != nil {
		log.Printf("relay: %s conn=%s: %v", op, connID, err)
	}
}

// drop removes a session and announces its departure. It reports false when
// connID had no session.
func (e *Engine) drop(connID string) (session.Session, bool) {
	sess, err := e.st.Sessions.Remove(connID)
	if err != nil {
		return session.Session{}, false
	}
	from, _ := e.st.Rooms.Leave(connID)
	if e.cfg.PresenceMode == config.PresenceAnonymous && from != "" {
		e.toRoom(from, "", protocol.TypeUserLeft, protocol.UserLeftMsg{Name: sess.Name, Room: string(from)})
	}
	e.presenceChanged()
	e.adminUpdate("user_left", userView(sess))
	return sess, true
}

// presenceChanged broadcasts room counts, and the roster in roster mode, to
// every joined session.
func (e *Engine) presenceChanged() {
	e.toEveryone(protocol.TypePresenceCount, e.countsMsg())
	if e.cfg.PresenceMode == config.PresenceRoster {
		e.toEveryone(protocol.TypePresenceRoster, e.rosterMsg())
	}
	e.updateGauges()
}

func (e *Engine) requestPresence(connID string) {
	if _, err := e.st.Sessions.Get(connID); err != nil {
		e.sendError(connID, protocol.CodeNotJoined, "join first")
		return
	}
	if e.cfg.PresenceMode == config.PresenceRoster {
		e.send(connID, protocol.TypePresenceRoster, e.rosterMsg())
		return
	}
	e.send(connID, protocol.TypePresenceCount, e.countsMsg())
}

func (e *Engine) countsMsg() protocol.PresenceCountMsg {
	counts := e.st.Rooms.Counts()
	msg := protocol.PresenceCountMsg{Counts: make(map[string]int, len(counts))}
	for id, n := range counts {
		msg.Counts[string(id)] = n
		msg.Total += n
	}
	return msg
}

func (e *Engine) rosterMsg() protocol.PresenceRosterMsg {
	online := e.st.Sessions.ListOnline(nil)
	users := make([]protocol.UserView, len(online))
	for i, s := range online {
		users[i] = userView(s)
	}
	return protocol.PresenceRosterMsg{Users: users}
}

// EvictInactive disconnects every real session idle since before cutoff,
// exactly as if its connection had closed. It returns the number evicted.
func (e *Engine) EvictInactive(cutoff time.Time) int {
	idle := e.st.Sessions.Inactive(cutoff)
	for _, s := range idle {
		e.send(s.ID, protocol.TypeDisconnected, protocol.DisconnectedMsg{Reason: "inactive"})
		e.drop(s.ID)
		e.transport.Disconnect(s.ID)
		log.Printf("relay: evicted idle conn=%s name=%q", s.ID, s.Name)
	}
	return len(idle)
}
