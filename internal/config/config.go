// Package config loads relay settings from the environment. A .env file in
// the working directory is read first when present; real environment
// variables always take precedence over it.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Presence modes.
const (
	PresenceAnonymous = "anonymous"
	PresenceRoster    = "roster"
)

// Room assignment policies.
const (
	AssignSelfSelect     = "self-select"
	AssignGenderAssigned = "gender-assigned"
)

// Config is the complete set of relay settings.
type Config struct {
	ListenAddr     string
	WorkerPoolSize int
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ServerName     string
	StaticDir      string

	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Enable it only behind a proxy that sets those headers.
	TrustProxyHeaders bool

	MaxUsers           int
	MaxMessagesPerRoom int
	MaxMessageLength   int
	ReplaySize         int
	MaxDirectMessages  int
	MaxReports         int

	CleanupInterval time.Duration
	RetentionWindow time.Duration // 0 disables time-based purge
	InactiveTimeout time.Duration // 0 disables inactivity eviction

	PresenceMode   string
	RoomAssignment string

	AdminUsername string
	AdminPassword string // empty disables admin login

	SyntheticEnabled  bool
	SyntheticInterval time.Duration
	SyntheticConfig   string // optional YAML file replacing the embedded pool

	RedisAddr  string // empty selects the in-memory rate limiter
	NATSURL    string // empty disables the live-update mirror
	ArchiveURL string // empty disables the snapshot archive
}

// Default returns the settings used when no variable overrides them.
func Default() Config {
	return Config{
		ListenAddr:         ":8080",
		WorkerPoolSize:     256,
		MaxConnections:     10000,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxUsers:           100,
		MaxMessagesPerRoom: 30,
		MaxMessageLength:   300,
		ReplaySize:         30,
		MaxDirectMessages:  50,
		MaxReports:         50,
		CleanupInterval:    30 * time.Minute,
		RetentionWindow:    30 * time.Minute,
		InactiveTimeout:    15 * time.Minute,
		PresenceMode:       PresenceRoster,
		RoomAssignment:     AssignSelfSelect,
		AdminUsername:      "admin",
		SyntheticEnabled:   true,
		SyntheticInterval:  45 * time.Second,
	}
}

// Load reads .env (if any) and the process environment on top of Default.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: ignoring .env: %v", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from the given lookup function. It is split out from
// Load so tests can supply a map instead of mutating the process environment.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	cfg.ListenAddr = p.str("LISTEN_ADDR", cfg.ListenAddr)
	cfg.WorkerPoolSize = p.positiveInt("WORKER_POOL_SIZE", cfg.WorkerPoolSize)
	cfg.MaxConnections = p.positiveInt("MAX_CONNECTIONS", cfg.MaxConnections)
	cfg.ReadTimeout = p.duration("READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = p.duration("WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.ServerName = p.str("SERVER_NAME", hostname())
	cfg.StaticDir = p.str("STATIC_DIR", cfg.StaticDir)
	cfg.TrustProxyHeaders = p.boolean("TRUST_PROXY_HEADERS", cfg.TrustProxyHeaders)

	cfg.MaxUsers = p.positiveInt("MAX_USERS", cfg.MaxUsers)
	cfg.MaxMessagesPerRoom = p.positiveInt("MAX_MESSAGES_PER_ROOM", cfg.MaxMessagesPerRoom)
	cfg.MaxMessageLength = p.positiveInt("MAX_MESSAGE_LENGTH", cfg.MaxMessageLength)
	cfg.ReplaySize = p.positiveInt("REPLAY_SIZE", cfg.ReplaySize)
	cfg.MaxDirectMessages = p.positiveInt("MAX_DIRECT_MESSAGES", cfg.MaxDirectMessages)
	cfg.MaxReports = p.positiveInt("MAX_REPORTS", cfg.MaxReports)

	cfg.CleanupInterval = p.duration("CLEANUP_INTERVAL", cfg.CleanupInterval)
	cfg.RetentionWindow = p.duration("RETENTION_WINDOW", cfg.RetentionWindow)
	cfg.InactiveTimeout = p.duration("INACTIVE_TIMEOUT", cfg.InactiveTimeout)

	cfg.PresenceMode = strings.ToLower(p.str("PRESENCE_MODE", cfg.PresenceMode))
	cfg.RoomAssignment = strings.ToLower(p.str("ROOM_ASSIGNMENT", cfg.RoomAssignment))

	cfg.AdminUsername = p.str("ADMIN_USERNAME", cfg.AdminUsername)
	if v, ok := lookup("ADMIN_PASSWORD"); ok {
		cfg.AdminPassword = v
	}

	cfg.SyntheticEnabled = p.boolean("SYNTHETIC_ENABLED", cfg.SyntheticEnabled)
	cfg.SyntheticInterval = p.duration("SYNTHETIC_INTERVAL", cfg.SyntheticInterval)
	cfg.SyntheticConfig = p.str("SYNTHETIC_CONFIG", "")

	cfg.RedisAddr = p.str("REDIS_ADDR", "")
	cfg.NATSURL = p.str("NATS_URL", "")
	cfg.ArchiveURL = p.str("ARCHIVE_DATABASE_URL", "")

	if len(p.errs) > 0 {
		return cfg, errors.Join(p.errs...)
	}
	return cfg, cfg.Validate()
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	switch c.PresenceMode {
	case PresenceAnonymous, PresenceRoster:
	default:
		return fmt.Errorf("config: PRESENCE_MODE must be %q or %q, got %q",
			PresenceAnonymous, PresenceRoster, c.PresenceMode)
	}
	switch c.RoomAssignment {
	case AssignSelfSelect, AssignGenderAssigned:
	default:
		return fmt.Errorf("config: ROOM_ASSIGNMENT must be %q or %q, got %q",
			AssignSelfSelect, AssignGenderAssigned, c.RoomAssignment)
	}
	if c.ReplaySize > c.MaxMessagesPerRoom {
		return fmt.Errorf("config: REPLAY_SIZE (%d) exceeds MAX_MESSAGES_PER_ROOM (%d)",
			c.ReplaySize, c.MaxMessagesPerRoom)
	}
	if c.CleanupInterval <= 0 && (c.RetentionWindow > 0 || c.InactiveTimeout > 0) {
		return errors.New("config: CLEANUP_INTERVAL must be positive while a sweep duty is enabled")
	}
	if c.SyntheticEnabled && c.SyntheticInterval <= 0 {
		return errors.New("config: SYNTHETIC_INTERVAL must be positive")
	}
	return nil
}

// parser collects conversion errors so every bad variable is reported at once.
type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v, ok := p.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p *parser) positiveInt(key string, def int) int {
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		p.errs = append(p.errs, fmt.Errorf("config: %s must be a positive integer, got %q", key, v))
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d < 0 {
		p.errs = append(p.errs, fmt.Errorf("config: %s must be a non-negative duration, got %q", key, v))
		return def
	}
	return d
}

func (p *parser) boolean(key string, def bool) bool {
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("config: %s must be a boolean, got %q", key, v))
		return def
	}
	return b
}

func hostname() string {
	name, _ := os.Hostname()
	if name == "" {
		return "relay-1"
	}
	return name
}
