// Package protocol defines the WebSocket message types and structures used for
// communication between chat clients and the relay. All messages are JSON
// objects carrying a "type" discriminator.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoin               = "join"
	TypeSwitchRoom         = "switch_room"
	TypeMessage            = "message"
	TypeDirectMessage      = "direct_message"
	TypeTyping             = "typing"
	TypeReport             = "report"
	TypeRequestPresence    = "request_presence"
	TypeAdminAuth          = "admin_auth"
	TypeAdminDeleteMessage = "admin_delete_message"
	TypeAdminMute          = "admin_mute"
	TypeAdminBan           = "admin_ban"
	TypeAdminResolveReport = "admin_resolve_report"
	TypeAdminExport        = "admin_export"
	TypePing               = "ping"
)

// Server -> Client message types.
const (
	TypeConnected         = "connected"
	TypeJoinAccepted      = "join_accepted"
	TypeJoinRejected      = "join_rejected"
	TypeRoomBacklog       = "room_backlog"
	TypeNewMessage        = "new_message"
	TypeDirectDelivered   = "direct_message"
	TypeDirectSent        = "direct_message_sent"
	TypePresenceCount     = "presence_count"
	TypePresenceRoster    = "presence_roster"
	TypeUserJoined        = "user_joined"
	TypeUserLeft          = "user_left"
	TypeTypingBroadcast   = "typing"
	TypeMessageDeleted    = "message_deleted"
	TypeMuted             = "muted"
	TypeBanned            = "banned"
	TypeDisconnected      = "disconnected"
	TypeReportSubmitted   = "report_submitted"
	TypeAdminSnapshot     = "admin_snapshot"
	TypeAdminAuthFailed   = "admin_auth_failed"
	TypeAdminLiveUpdate   = "admin_live_update"
	TypeAdminActionResult = "admin_action_result"
	TypeRateLimited       = "rate_limited"
	TypeError             = "error"
	TypePong              = "pong"
)

// Error codes carried by ErrorMsg and JoinRejectedMsg.
const (
	CodeParseError      = "parse_error"
	CodeUnsupportedType = "unsupported_type"
	CodeValidation      = "validation_error"
	CodeNameTaken       = "name_taken"
	CodeJoinRejected    = "join_rejected"
	CodeAlreadyJoined   = "already_joined"
	CodeNotJoined       = "not_joined"
	CodeNotAuthorized   = "not_authorized"
	CodeNotFound        = "not_found"
	CodeMuted           = "muted"
	CodeRateLimited     = "rate_limited"
	CodeInternal        = "internal_error"
)

// ErrUnknownType is returned by ParseClientMessage for a well-formed envelope
// whose type is not a client message.
var ErrUnknownType = errors.New("protocol: unknown client message type")

// ---------------------------------------------------------------------------
// Envelope is used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the raw bytes and extracts only the "type" field.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// ClientMessage is implemented only by the inbound message structs in this
// package, so a type switch over it can be checked for completeness.
type ClientMessage interface {
	clientMessage()
}

// JoinMsg is the join handshake carrying the declared profile.
type JoinMsg struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Gender  string `json:"gender"`
	Country string `json:"country"`
}

// SwitchRoomMsg moves the session to another room.
type SwitchRoomMsg struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// ChatMsg is a message for the sender's current room.
type ChatMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// DirectMsg is a one-to-one message addressed by display name.
type DirectMsg struct {
	Type string `json:"type"`
	To   string `json:"to"`
	Text string `json:"text"`
}

// TypingMsg starts or stops the typing indicator.
type TypingMsg struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

// ReportMsg files a complaint about a message or user.
type ReportMsg struct {
	Type         string `json:"type"`
	MessageID    string `json:"message_id"`
	ReportedUser string `json:"reported_user"`
	Reason       string `json:"reason"`
}

// RequestPresenceMsg asks for a presence snapshot.
type RequestPresenceMsg struct {
	Type string `json:"type"`
}

// AdminAuthMsg authenticates the connection as the administrator.
type AdminAuthMsg struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// AdminDeleteMessageMsg removes one message from a room.
type AdminDeleteMessageMsg struct {
	Type      string `json:"type"`
	Room      string `json:"room"`
	MessageID string `json:"message_id"`
}

// AdminMuteMsg mutes a participant for DurationMs milliseconds.
type AdminMuteMsg struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	DurationMs int64  `json:"duration_ms"`
}

// AdminBanMsg bans by display name or by address. Exactly one of Name and
// Address must be set.
type AdminBanMsg struct {
	Type    string `json:"type"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Reason  string `json:"reason"`
}

// AdminResolveReportMsg resolves a pending report.
type AdminResolveReportMsg struct {
	Type     string `json:"type"`
	ReportID string `json:"report_id"`
}

// AdminExportMsg requests a full state snapshot.
type AdminExportMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

func (JoinMsg) clientMessage()               {}
func (SwitchRoomMsg) clientMessage()         {}
func (ChatMsg) clientMessage()               {}
func (DirectMsg) clientMessage()             {}
func (TypingMsg) clientMessage()             {}
func (ReportMsg) clientMessage()             {}
func (RequestPresenceMsg) clientMessage()    {}
func (AdminAuthMsg) clientMessage()          {}
func (AdminDeleteMessageMsg) clientMessage() {}
func (AdminMuteMsg) clientMessage()          {}
func (AdminBanMsg) clientMessage()           {}
func (AdminResolveReportMsg) clientMessage() {}
func (AdminExportMsg) clientMessage()        {}
func (PingMsg) clientMessage()               {}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// Country is the wire form of a country reference.
type Country struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Flag string `json:"flag"`
}

// UserView is a participant as other participants see it: no address and no
// moderation state.
type UserView struct {
	Name      string  `json:"name"`
	Gender    string  `json:"gender"`
	Country   Country `json:"country"`
	Room      string  `json:"room"`
	Synthetic bool    `json:"synthetic,omitempty"`
}

// MessageView is a room message as delivered to room members.
type MessageView struct {
	ID        string  `json:"id"`
	Room      string  `json:"room"`
	Author    string  `json:"author"`
	Gender    string  `json:"gender"`
	Country   Country `json:"country"`
	Text      string  `json:"text"`
	Ts        int64   `json:"ts"` // unix milliseconds
	Synthetic bool    `json:"synthetic,omitempty"`
}

// AdminMessageView adds the details only the administrator may see.
type AdminMessageView struct {
	MessageView
	AuthorID    string `json:"author_id"`
	AuthorAddr  string `json:"author_addr"`
	AuthorMuted bool   `json:"author_muted"`
}

// ConnectedMsg greets a new connection.
type ConnectedMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

// ProfileView is the joining participant's own profile.
type ProfileView struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Gender  string  `json:"gender"`
	Country Country `json:"country"`
	Room    string  `json:"room"`
}

// JoinAcceptedMsg completes the join handshake.
type JoinAcceptedMsg struct {
	Type    string        `json:"type"`
	Profile ProfileView   `json:"profile"`
	Backlog []MessageView `json:"backlog"`
}

// JoinRejectedMsg refuses the join handshake.
type JoinRejectedMsg struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// RoomBacklogMsg is the replay sent after a room switch.
type RoomBacklogMsg struct {
	Type     string        `json:"type"`
	Room     string        `json:"room"`
	Messages []MessageView `json:"messages"`
}

// NewMessageMsg broadcasts a room message.
type NewMessageMsg struct {
	Type    string      `json:"type"`
	Message MessageView `json:"message"`
}

// DirectMessageView is a direct message as seen by its two parties.
type DirectMessageView struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}

// DirectDeliveredMsg delivers a direct message to its recipient.
type DirectDeliveredMsg struct {
	Type    string            `json:"type"`
	Message DirectMessageView `json:"message"`
}

// DirectSentMsg confirms a direct message to its sender.
type DirectSentMsg struct {
	Type    string            `json:"type"`
	Message DirectMessageView `json:"message"`
}

// PresenceCountMsg carries per-room online counts.
type PresenceCountMsg struct {
	Type   string         `json:"type"`
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

// PresenceRosterMsg carries the full list of online participants.
type PresenceRosterMsg struct {
	Type  string     `json:"type"`
	Users []UserView `json:"users"`
}

// UserJoinedMsg announces an arrival without exposing the roster.
type UserJoinedMsg struct {
	Type    string  `json:"type"`
	Name    string  `json:"name"`
	Country Country `json:"country"`
	Room    string  `json:"room"`
}

// UserLeftMsg announces a departure.
type UserLeftMsg struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Room string `json:"room"`
}

// ServerTypingMsg relays a typing indicator to the room.
type ServerTypingMsg struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Room     string `json:"room"`
	IsTyping bool   `json:"is_typing"`
}

// MessageDeletedMsg tells room members to drop a message.
type MessageDeletedMsg struct {
	Type      string `json:"type"`
	Room      string `json:"room"`
	MessageID string `json:"message_id"`
}

// MutedMsg tells a participant they are muted.
type MutedMsg struct {
	Type  string `json:"type"`
	Until int64  `json:"until"` // unix milliseconds
}

// BannedMsg is the last message a banned participant receives.
type BannedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// DisconnectedMsg precedes a server-initiated close that is not a ban.
type DisconnectedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ReportSubmittedMsg acknowledges a report.
type ReportSubmittedMsg struct {
	Type     string `json:"type"`
	ReportID string `json:"report_id"`
}

// AdminSnapshotMsg carries moderator state. Snapshot is produced by the
// moderation package and marshalled as-is.
type AdminSnapshotMsg struct {
	Type     string      `json:"type"`
	Snapshot interface{} `json:"snapshot"`
}

// AdminAuthFailedMsg refuses admin authentication.
type AdminAuthFailedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// AdminLiveUpdateMsg mirrors an event to administrators.
type AdminLiveUpdateMsg struct {
	Type  string      `json:"type"`
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// AdminActionResultMsg reports the outcome of a moderation command.
type AdminActionResultMsg struct {
	Type     string `json:"type"`
	Action   string `json:"action"`
	OK       bool   `json:"ok"`
	Affected int    `json:"affected"`
	Message  string `json:"message,omitempty"`
}

// RateLimitedMsg is sent by the server when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error. A
// type that is not a client message yields an error wrapping ErrUnknownType.
func ParseClientMessage(data []byte) (string, ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var msg ClientMessage
	switch env.Type {
	case TypeJoin:
		msg = &JoinMsg{}
	case TypeSwitchRoom:
		msg = &SwitchRoomMsg{}
	case TypeMessage:
		msg = &ChatMsg{}
	case TypeDirectMessage:
		msg = &DirectMsg{}
	case TypeTyping:
		msg = &TypingMsg{}
	case TypeReport:
		msg = &ReportMsg{}
	case TypeRequestPresence:
		msg = &RequestPresenceMsg{}
	case TypeAdminAuth:
		msg = &AdminAuthMsg{}
	case TypeAdminDeleteMessage:
		msg = &AdminDeleteMessageMsg{}
	case TypeAdminMute:
		msg = &AdminMuteMsg{}
	case TypeAdminBan:
		msg = &AdminBanMsg{}
	case TypeAdminResolveReport:
		msg = &AdminResolveReportMsg{}
	case TypeAdminExport:
		msg = &AdminExportMsg{}
	case TypePing:
		msg = &PingMsg{}
	default:
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err := json.Unmarshal(env.Raw, msg); err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, deref(msg), nil
}

// deref turns the decoding target back into a value so handlers switch on
// value types.
func deref(msg ClientMessage) ClientMessage {
	switch m := msg.(type) {
	case *JoinMsg:
		return *m
	case *SwitchRoomMsg:
		return *m
	case *ChatMsg:
		return *m
	case *DirectMsg:
		return *m
	case *TypingMsg:
		return *m
	case *ReportMsg:
		return *m
	case *RequestPresenceMsg:
		return *m
	case *AdminAuthMsg:
		return *m
	case *AdminDeleteMessageMsg:
		return *m
	case *AdminMuteMsg:
		return *m
	case *AdminBanMsg:
		return *m
	case *AdminResolveReportMsg:
		return *m
	case *AdminExportMsg:
		return *m
	case *PingMsg:
		return *m
	}
	return msg
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	typ, _ := json.Marshal(msgType)
	m["type"] = typ

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
