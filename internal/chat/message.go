// Package chat holds the message types exchanged in rooms and the bounded
// in-memory logs that retain them.
package chat

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/globalchat/chat-relay/internal/country"
)

var (
	ErrEmptyBody   = errors.New("chat: message text is empty")
	ErrInvalidUTF8 = errors.New("chat: message contains invalid UTF-8")
)

// Message is a room message. Values are never modified after they are
// appended to a Log; moderation may only remove whole entries.
type Message struct {
	ID        string          `json:"id"`
	Room      string          `json:"room"`
	AuthorID  string          `json:"author_id"`
	Author    string          `json:"author"`
	Gender    string          `json:"gender"`
	Country   country.Country `json:"country"`
	Text      string          `json:"text"`
	CreatedAt time.Time       `json:"created_at"`
	Synthetic bool            `json:"synthetic"`
}

// DirectMessage is a one-to-one message. It is never written to a room log.
type DirectMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeBody trims surrounding whitespace and truncates the text to at
// most maxRunes characters. Oversized input is shortened, not rejected.
func NormalizeBody(text string, maxRunes int) (string, error) {
	if !utf8.ValidString(text) {
		return "", ErrInvalidUTF8
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyBody
	}
	if maxRunes > 0 && utf8.RuneCountInString(text) > maxRunes {
		runes := []rune(text)
		text = string(runes[:maxRunes])
	}
	return text, nil
}
