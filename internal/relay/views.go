package relay

import (
	"github.com/globalchat/chat-relay/internal/chat"
	"github.com/globalchat/chat-relay/internal/country"
	"github.com/globalchat/chat-relay/internal/protocol"
	"github.com/globalchat/chat-relay/internal/session"
)

// Room members and peers only ever see these redacted views. Addresses and
// mute state are reserved for adminView.

func countryView(c country.Country) protocol.Country {
	return protocol.Country{Code: c.Code, Name: c.Name, Flag: c.Flag}
}

func messageView(m chat.Message) protocol.MessageView {
	return protocol.MessageView{
		ID:        m.ID,
		Room:      m.Room,
		Author:    m.Author,
		Gender:    m.Gender,
		Country:   countryView(m.Country),
		Text:      m.Text,
		Ts:        m.CreatedAt.UnixMilli(),
		Synthetic: m.Synthetic,
	}
}

func messageViews(msgs []chat.Message) []protocol.MessageView {
	out := make([]protocol.MessageView, len(msgs))
	for i, m := range msgs {
		out[i] = messageView(m)
	}
	return out
}

func adminView(m chat.Message, author session.Session, muted bool) protocol.AdminMessageView {
	return protocol.AdminMessageView{
		MessageView: messageView(m),
		AuthorID:    m.AuthorID,
		AuthorAddr:  author.Addr,
		AuthorMuted: muted,
	}
}

func userView(s session.Session) protocol.UserView {
	return protocol.UserView{
		Name:      s.Name,
		Gender:    string(s.Gender),
		Country:   countryView(s.Country),
		Room:      s.Room,
		Synthetic: s.Synthetic,
	}
}

func profileView(s session.Session) protocol.ProfileView {
	return protocol.ProfileView{
		ID:      s.ID,
		Name:    s.Name,
		Gender:  string(s.Gender),
		Country: countryView(s.Country),
		Room:    s.Room,
	}
}

func directView(d chat.DirectMessage) protocol.DirectMessageView {
	return protocol.DirectMessageView{
		ID:   d.ID,
		From: d.From,
		To:   d.To,
		Text: d.Text,
		Ts:   d.CreatedAt.UnixMilli(),
	}
}
