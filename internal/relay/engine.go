// Package relay is the broadcast core of the chat relay. An Engine owns the
// session, room, log and moderation stores and processes every inbound event
// on a single goroutine, so handlers never interleave their effects on shared
// state. Outbound frames go through a Transport, which must not block.
package relay

import (
	"context"
	"log"
	"runtime/debug"
	"time"

	"github.com/globalchat/chat-relay/internal/ban"
	"github.com/globalchat/chat-relay/internal/chat"
	"github.com/globalchat/chat-relay/internal/config"
	"github.com/globalchat/chat-relay/internal/metrics"
	"github.com/globalchat/chat-relay/internal/moderation"
	"github.com/globalchat/chat-relay/internal/protocol"
	"github.com/globalchat/chat-relay/internal/report"
	"github.com/globalchat/chat-relay/internal/room"
	"github.com/globalchat/chat-relay/internal/session"
)

// taskQueueSize bounds the number of events waiting for the loop.
const taskQueueSize = 1024

// Transport delivers frames to connections. Send queues data and returns
// without waiting for the network; Disconnect closes the connection once the
// frames queued before it have been written.
type Transport interface {
	Send(connID string, data []byte) error
	Disconnect(connID string)
}

// Mirror receives a copy of every admin live update.
type Mirror interface {
	Publish(kind string, payload interface{})
}

// Archiver stores exported snapshots.
type Archiver interface {
	Save(ctx context.Context, snap moderation.Snapshot) error
}

// NewStores builds empty stores sized from cfg.
func NewStores(cfg config.Config) moderation.Stores {
	messages := chat.NewLog(cfg.MaxMessagesPerRoom)
	bans := ban.NewList()
	return moderation.Stores{
		Sessions: session.NewStore(cfg.MaxUsers, bans),
		Rooms:    room.NewRegistry(messages, cfg.ReplaySize),
		Log:      messages,
		Directs:  chat.NewDirectLog(cfg.MaxDirectMessages),
		Reports:  report.NewStore(cfg.MaxReports),
		Bans:     bans,
	}
}

// Engine routes inbound events to recipients. Apart from the lifecycle
// methods, Submit, Deliver, Connected and Disconnected, its methods must run
// on the loop goroutine.
type Engine struct {
	cfg       config.Config
	st        moderation.Stores
	mod       *moderation.Controller
	transport Transport
	mirror    Mirror
	archiver  Archiver
	now       func() time.Time

	tasks chan func()
	done  chan struct{}

	addrs  map[string]string // connection ID -> origin address
	admins map[string]bool   // authenticated admin connections
}

// NewEngine creates an engine over st. Call Run to start processing.
func NewEngine(cfg config.Config, st moderation.Stores, transport Transport) *Engine {
	e := &Engine{
		cfg:       cfg,
		st:        st,
		transport: transport,
		now:       time.Now,
		tasks:     make(chan func(), taskQueueSize),
		done:      make(chan struct{}),
		addrs:     make(map[string]string),
		admins:    make(map[string]bool),
	}
	e.mod = moderation.NewController(st, e, cfg.AdminUsername, cfg.AdminPassword, e.clock)
	return e
}

// SetMirror assigns the live-update mirror. Call before Run.
func (e *Engine) SetMirror(m Mirror) { e.mirror = m }

// SetArchiver assigns the snapshot archive. Call before Run.
func (e *Engine) SetArchiver(a Archiver) { e.archiver = a }

// SetClock replaces the wall clock. Call before Run.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

func (e *Engine) clock() time.Time { return e.now() }

// Stores returns the stores the engine operates on.
func (e *Engine) Stores() moderation.Stores { return e.st }

// Run processes submitted tasks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-e.tasks:
			start := time.Now()
			e.runTask(task)
			metrics.EventDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("relay: task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	task()
}

// Submit queues task for the loop. It returns false once the loop has
// stopped.
func (e *Engine) Submit(task func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.tasks <- task:
		return true
	case <-e.done:
		return false
	}
}

// Connected records the origin address of a new connection.
func (e *Engine) Connected(connID, addr string) {
	e.Submit(func() { e.addrs[connID] = addr })
}

// Deliver queues an inbound client message.
func (e *Engine) Deliver(connID string, msg protocol.ClientMessage) {
	e.Submit(func() { e.Handle(connID, msg) })
}

// Disconnected queues the cleanup for a closed connection. Repeated calls for
// the same connection are harmless.
func (e *Engine) Disconnected(connID string) {
	e.Submit(func() {
		delete(e.addrs, connID)
		delete(e.admins, connID)
		if sess, ok := e.drop(connID); ok {
			log.Printf("relay: session left conn=%s name=%q", connID, sess.Name)
		}
	})
}

// Handle processes one inbound message from connID.
func (e *Engine) Handle(connID string, msg protocol.ClientMessage) {
	switch m := msg.(type) {
	case protocol.JoinMsg:
		e.join(connID, m)
	case protocol.SwitchRoomMsg:
		e.switchRoom(connID, m)
	case protocol.ChatMsg:
		e.post(connID, m)
	case protocol.DirectMsg:
		e.direct(connID, m)
	case protocol.TypingMsg:
		e.typing(connID, m)
	case protocol.ReportMsg:
		e.report(connID, m)
	case protocol.RequestPresenceMsg:
		e.requestPresence(connID)
	case protocol.AdminAuthMsg:
		e.adminAuth(connID, m)
	case protocol.AdminDeleteMessageMsg:
		e.adminDelete(connID, m)
	case protocol.AdminMuteMsg:
		e.adminMute(connID, m)
	case protocol.AdminBanMsg:
		e.adminBan(connID, m)
	case protocol.AdminResolveReportMsg:
		e.adminResolve(connID, m)
	case protocol.AdminExportMsg:
		e.adminExport(connID)
	case protocol.PingMsg:
		e.send(connID, protocol.TypePong, protocol.PongMsg{})
	default:
		log.Printf("relay: unsupported message %T conn=%s", msg, connID)
		e.sendError(connID, protocol.CodeUnsupportedType, "unsupported message type")
	}
}

// ---------------------------------------------------------------------------
// Outbound helpers
// ---------------------------------------------------------------------------

func (e *Engine) send(connID, msgType string, payload interface{}) {
	if isSynthetic(connID) {
		return
	}
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("relay: failed to build %s: %v", msgType, err)
		return
	}
	if err := e.transport.Send(connID, data); err != nil {
		log.Printf("relay: send %s conn=%s: %v", msgType, connID, err)
	}
}

func (e *Engine) sendError(connID, code, message string) {
	e.send(connID, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

// fanout encodes payload once and sends it to every connection in ids other
// than except.
func (e *Engine) fanout(ids []string, except, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("relay: failed to build %s: %v", msgType, err)
		return
	}
	for _, id := range ids {
		if id == except || isSynthetic(id) {
			continue
		}
		if err := e.transport.Send(id, data); err != nil {
			log.Printf("relay: send %s conn=%s: %v", msgType, id, err)
		}
	}
}

func (e *Engine) toRoom(id room.ID, except, msgType string, payload interface{}) {
	e.fanout(e.st.Rooms.MembersOf(id), except, msgType, payload)
}

// toEveryone reaches every joined, real session.
func (e *Engine) toEveryone(msgType string, payload interface{}) {
	online := e.st.Sessions.ListOnline(func(s session.Session) bool { return !s.Synthetic })
	ids := make([]string, len(online))
	for i, s := range online {
		ids[i] = s.ID
	}
	e.fanout(ids, "", msgType, payload)
}

// adminUpdate mirrors an event to authenticated admins and the live mirror.
func (e *Engine) adminUpdate(event string, data interface{}) {
	if e.mirror != nil {
		e.mirror.Publish(event, data)
	}
	if len(e.admins) == 0 {
		return
	}
	ids := make([]string, 0, len(e.admins))
	for id := range e.admins {
		ids = append(ids, id)
	}
	e.fanout(ids, "", protocol.TypeAdminLiveUpdate, protocol.AdminLiveUpdateMsg{Event: event, Data: data})
}

func (e *Engine) updateGauges() {
	users, synthetic := e.st.Sessions.Counts()
	metrics.SessionsOnline.WithLabelValues("user").Set(float64(users))
	metrics.SessionsOnline.WithLabelValues("synthetic").Set(float64(synthetic))
	for id, n := range e.st.Rooms.Counts() {
		metrics.RoomMembers.WithLabelValues(string(id)).Set(float64(n))
	}
}
