package relay

import (
	"context"
	"log"
	"time"

	"github.com/globalchat/chat-relay/internal/moderation"
	"github.com/globalchat/chat-relay/internal/protocol"
	"github.com/globalchat/chat-relay/internal/room"
	"github.com/globalchat/chat-relay/internal/session"
)

const archiveTimeout = 30 * time.Second

// Admin action names reported in admin_action_result.
const (
	actionDelete  = "delete_message"
	actionMute    = "mute"
	actionBan     = "ban"
	actionResolve = "resolve_report"
)

func (e *Engine) adminAuth(connID string, m protocol.AdminAuthMsg) {
	if !e.mod.Authenticate(m.Username, m.Password) {
		log.Printf("relay: admin auth failed conn=%s user=%q", connID, m.Username)
		e.send(connID, protocol.TypeAdminAuthFailed, protocol.AdminAuthFailedMsg{Reason: "invalid credentials"})
		return
	}
	e.admins[connID] = true
	log.Printf("relay: admin authenticated conn=%s", connID)
	e.send(connID, protocol.TypeAdminSnapshot, protocol.AdminSnapshotMsg{Snapshot: e.mod.Overview()})
}

// requireAdmin rejects the command unless connID has authenticated.
func (e *Engine) requireAdmin(connID string) bool {
	if e.admins[connID] {
		return true
	}
	e.sendError(connID, protocol.CodeNotAuthorized, "not authorized")
	return false
}

func (e *Engine) actionResult(connID, action string, affected int, err error) {
	res := protocol.AdminActionResultMsg{Action: action, OK: err == nil, Affected: affected}
	if err != nil {
		res.Message = describe(err)
		log.Printf("relay: admin %s failed conn=%s: %v", action, connID, err)
	}
	e.send(connID, protocol.TypeAdminActionResult, res)
}

func (e *Engine) adminDelete(connID string, m protocol.AdminDeleteMessageMsg) {
	if !e.requireAdmin(connID) {
		return
	}
	err := e.mod.DeleteMessage(m.Room, m.MessageID)
	affected := 0
	if err == nil {
		affected = 1
	}
	e.actionResult(connID, actionDelete, affected, err)
}

func (e *Engine) adminMute(connID string, m protocol.AdminMuteMsg) {
	if !e.requireAdmin(connID) {
		return
	}
	_, err := e.mod.Mute(m.Name, time.Duration(m.DurationMs)*time.Millisecond)
	affected := 0
	if err == nil {
		affected = 1
	}
	e.actionResult(connID, actionMute, affected, err)
}

func (e *Engine) adminBan(connID string, m protocol.AdminBanMsg) {
	if !e.requireAdmin(connID) {
		return
	}
	n, err := e.mod.Ban(moderation.BanTarget{Name: m.Name, Address: m.Address, Reason: m.Reason})
	if err == nil {
		log.Printf("relay: ban name=%q address=%q evicted=%d", m.Name, m.Address, n)
		e.adminUpdate("ban", map[string]interface{}{"name": m.Name, "address": m.Address, "evicted": n})
	}
	e.actionResult(connID, actionBan, n, err)
}

func (e *Engine) adminResolve(connID string, m protocol.AdminResolveReportMsg) {
	if !e.requireAdmin(connID) {
		return
	}
	r, err := e.mod.ResolveReport(m.ReportID)
	affected := 0
	if err == nil {
		affected = 1
		e.adminUpdate("report_resolved", r)
	}
	e.actionResult(connID, actionResolve, affected, err)
}

func (e *Engine) adminExport(connID string) {
	if !e.requireAdmin(connID) {
		return
	}
	snap := e.mod.Export()
	e.send(connID, protocol.TypeAdminSnapshot, protocol.AdminSnapshotMsg{Snapshot: snap})

	if e.archiver == nil {
		return
	}
	archiver := e.archiver
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := archiver.Save(ctx, snap); err != nil {
			log.Printf("relay: archive snapshot: %v", err)
		}
	}()
}

// MessageDeleted tells a room that one of its messages was removed.
func (e *Engine) MessageDeleted(id room.ID, messageID string) {
	msg := protocol.MessageDeletedMsg{Room: string(id), MessageID: messageID}
	e.toRoom(id, "", protocol.TypeMessageDeleted, msg)
	e.adminUpdate("message_deleted", msg)
}

// Muted tells a session it has been muted.
func (e *Engine) Muted(s session.Session) {
	e.send(s.ID, protocol.TypeMuted, protocol.MutedMsg{Until: s.MutedUntil.UnixMilli()})
	e.adminUpdate("muted", map[string]interface{}{"name": s.Name, "until": s.MutedUntil.UnixMilli()})
}

// Evict delivers a ban notice, removes the session, and closes its
// connection after the notice is flushed.
func (e *Engine) Evict(s session.Session, reason string) {
	e.send(s.ID, protocol.TypeBanned, protocol.BannedMsg{Reason: reason})
	e.drop(s.ID)
	delete(e.admins, s.ID)
	if !s.Synthetic {
		e.transport.Disconnect(s.ID)
	}
	log.Printf("relay: evicted conn=%s name=%q reason=%q", s.ID, s.Name, reason)
}
