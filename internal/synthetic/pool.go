// Package synthetic seeds the simulated participants that keep rooms lively
// and posts their canned lines on a timer.
package synthetic

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/globalchat/chat-relay/internal/session"
)

//go:embed pool.yaml
var defaultPool []byte

var ErrEmptyPool = errors.New("synthetic: pool needs at least one participant and one message")

// Participant is one simulated user.
type Participant struct {
	Name    string `yaml:"name"`
	Gender  string `yaml:"gender"`
	Country string `yaml:"country"`
}

// Pool is the seed document.
type Pool struct {
	Participants []Participant `yaml:"participants"`
	Messages     []string      `yaml:"messages"`
}

// Default returns the embedded pool.
func Default() Pool {
	p, err := Parse(defaultPool)
	if err != nil {
		panic(fmt.Sprintf("synthetic: embedded pool: %v", err))
	}
	return p
}

// Load reads a pool from path, or returns the embedded pool when path is
// empty.
func Load(path string) (Pool, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Pool{}, fmt.Errorf("synthetic: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML pool.
func Parse(data []byte) (Pool, error) {
	var p Pool
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Pool{}, fmt.Errorf("synthetic: decode pool: %w", err)
	}
	msgs := p.Messages[:0]
	for _, m := range p.Messages {
		if m = strings.TrimSpace(m); m != "" {
			msgs = append(msgs, m)
		}
	}
	p.Messages = msgs
	if len(p.Participants) == 0 || len(p.Messages) == 0 {
		return Pool{}, ErrEmptyPool
	}
	if _, err := p.Profiles(); err != nil {
		return Pool{}, err
	}
	return p, nil
}

// Profiles validates every participant the same way a real join is
// validated.
func (p Pool) Profiles() ([]session.Profile, error) {
	out := make([]session.Profile, 0, len(p.Participants))
	seen := make(map[string]bool, len(p.Participants))
	for _, part := range p.Participants {
		prof, err := session.NewProfile(part.Name, part.Gender, part.Country, "")
		if err != nil {
			return nil, fmt.Errorf("synthetic: participant %q: %w", part.Name, err)
		}
		key := session.NormalizeName(prof.Name)
		if seen[key] {
			return nil, fmt.Errorf("synthetic: participant %q: %w", part.Name, session.ErrNameTaken)
		}
		seen[key] = true
		prof.Synthetic = true
		out = append(out, prof)
	}
	return out, nil
}
