package relay

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/globalchat/chat-relay/internal/chat"
	"github.com/globalchat/chat-relay/internal/room"
	"github.com/globalchat/chat-relay/internal/session"
)

// Synthetic sessions have no connection; their IDs carry this prefix and
// nothing is ever sent to them.
const syntheticPrefix = "synthetic:"

func isSynthetic(connID string) bool {
	return strings.HasPrefix(connID, syntheticPrefix)
}

// SeedSynthetic registers simulated participants in the global room.
func (e *Engine) SeedSynthetic(profiles []session.Profile) error {
	for _, p := range profiles {
		p.Synthetic = true
		id := syntheticPrefix + session.NormalizeName(p.Name)
		sess, err := e.st.Sessions.Create(id, p, e.now())
		if err != nil {
			return fmt.Errorf("relay: seed %q: %w", p.Name, err)
		}
		if _, _, err := e.st.Rooms.SwitchRoom(sess.ID, room.Global); err != nil {
			return fmt.Errorf("relay: seed %q: %w", p.Name, err)
		}
		storeErr("set room", sess.ID, e.st.Sessions.SetRoom(sess.ID, string(room.Global)))
	}
	e.updateGauges()
	log.Printf("relay: seeded %d synthetic participants", len(profiles))
	return nil
}

// PostSynthetic posts text as the named synthetic participant, moving it
// into the target room first. It does nothing while no real user is online
// or the participant is muted, and refuses rooms the participant's gender
// may not enter.
func (e *Engine) PostSynthetic(name string, id room.ID, text string) error {
	if users, _ := e.st.Sessions.Counts(); users == 0 {
		return ErrNoAudience
	}
	sess, ok := e.st.Sessions.FindByName(name)
	if !ok || !sess.Synthetic {
		return ErrNotSynthetic
	}
	now := e.now()
	if sess.Muted(now) {
		return ErrMuted
	}
	if !sess.MutedUntil.IsZero() {
		storeErr("clear mute", sess.ID, e.st.Sessions.ClearMute(sess.ID))
		sess.MutedUntil = time.Time{}
	}
	to, err := e.st.Rooms.Resolve(string(id), sess.Gender)
	if err != nil {
		return err
	}
	text, err = chat.NormalizeBody(text, e.cfg.MaxMessageLength)
	if err != nil {
		return err
	}
	if cur, _ := e.st.Rooms.RoomOf(sess.ID); cur != to {
		from, _, err := e.st.Rooms.SwitchRoom(sess.ID, to)
		if err != nil {
			return err
		}
		storeErr("set room", sess.ID, e.st.Sessions.SetRoom(sess.ID, string(to)))
		sess.Room = string(to)
		e.moved(sess, from, to)
	}
	e.publish(sess, to, text, now)
	return nil
}
