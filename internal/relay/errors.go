package relay

import (
	"errors"
	"strings"

	"github.com/globalchat/chat-relay/internal/chat"
	"github.com/globalchat/chat-relay/internal/moderation"
	"github.com/globalchat/chat-relay/internal/protocol"
	"github.com/globalchat/chat-relay/internal/report"
	"github.com/globalchat/chat-relay/internal/room"
	"github.com/globalchat/chat-relay/internal/session"
)

var (
	ErrNoAudience   = errors.New("relay: no real users online")
	ErrNotSynthetic = errors.New("relay: not a synthetic participant")
	ErrMuted        = errors.New("relay: participant is muted")
)

// joinRejectedReason is shown for bans and capacity alike so clients cannot
// tell which one applied.
const joinRejectedReason = "unable to join the chat right now"

// errorCode maps a store or controller error to its wire code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrNameTaken):
		return protocol.CodeNameTaken
	case errors.Is(err, session.ErrNameBanned),
		errors.Is(err, session.ErrAddressBanned),
		errors.Is(err, session.ErrCapacityExceeded):
		return protocol.CodeJoinRejected
	case errors.Is(err, session.ErrInvalidName),
		errors.Is(err, session.ErrInvalidGender),
		errors.Is(err, session.ErrUnknownCountry),
		errors.Is(err, chat.ErrEmptyBody),
		errors.Is(err, chat.ErrInvalidUTF8),
		errors.Is(err, room.ErrUnknownRoom),
		errors.Is(err, report.ErrMissingTarget),
		errors.Is(err, report.ErrAlreadyResolved),
		errors.Is(err, moderation.ErrInvalidDuration),
		errors.Is(err, moderation.ErrInvalidTarget):
		return protocol.CodeValidation
	case errors.Is(err, room.ErrRestricted):
		return protocol.CodeNotAuthorized
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, moderation.ErrNotFound),
		errors.Is(err, report.ErrNotFound):
		return protocol.CodeNotFound
	case errors.Is(err, ErrMuted):
		return protocol.CodeMuted
	}
	return protocol.CodeInternal
}

// describe returns the client-facing text for err: the message without its
// package prefix.
func describe(err error) string {
	if errorCode(err) == protocol.CodeJoinRejected {
		return joinRejectedReason
	}
	msg := err.Error()
	if i := strings.Index(msg, ": "); i >= 0 {
		msg = msg[i+2:]
	}
	return msg
}
