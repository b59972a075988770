// Package session tracks the participants connected to the relay. Each live
// connection owns at most one session, holding its declared profile, current
// room and moderation state. All state is in memory.
package session

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/globalchat/chat-relay/internal/country"
)

// Gender is the declared gender category of a participant.
type Gender string

const (
	Male   Gender = "Male"
	Female Gender = "Female"
)

// Display name bounds, in characters after trimming.
const (
	MinNameChars = 2
	MaxNameChars = 20
)

var (
	ErrInvalidName    = errors.New("session: display name must be 2-20 characters")
	ErrInvalidGender  = errors.New("session: gender must be Male or Female")
	ErrUnknownCountry = errors.New("session: unknown country code")
)

// Profile is what a client declares when it joins.
type Profile struct {
	Name      string
	Gender    Gender
	Country   country.Country
	Addr      string
	Synthetic bool
}

// Session is a copy of one participant's state. Changing a Session value has
// no effect on the store; use the Store methods instead.
type Session struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Gender       Gender          `json:"gender"`
	Country      country.Country `json:"country"`
	Addr         string          `json:"addr"`
	Room         string          `json:"room"`
	Online       bool            `json:"online"`
	MutedUntil   time.Time       `json:"muted_until"`
	LastActivity time.Time       `json:"last_activity"`
	JoinedAt     time.Time       `json:"joined_at"`
	Synthetic    bool            `json:"synthetic"`
}

// Muted reports whether a mute is in force at now.
func (s Session) Muted(now time.Time) bool {
	return s.MutedUntil.After(now)
}

// ParseGender accepts the two gender categories, ignoring case.
func ParseGender(v string) (Gender, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "male":
		return Male, nil
	case "female":
		return Female, nil
	}
	return "", ErrInvalidGender
}

// NewProfile validates raw join fields and builds a Profile.
func NewProfile(name, gender, countryCode, addr string) (Profile, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); !utf8.ValidString(name) || n < MinNameChars || n > MaxNameChars {
		return Profile{}, ErrInvalidName
	}
	g, err := ParseGender(gender)
	if err != nil {
		return Profile{}, err
	}
	c, ok := country.Lookup(countryCode)
	if !ok {
		return Profile{}, ErrUnknownCountry
	}
	return Profile{Name: name, Gender: g, Country: c, Addr: addr}, nil
}

// NormalizeName is the form used to compare display names.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
