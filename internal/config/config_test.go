package config

import (
	"strings"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxUsers != 100 {
		t.Errorf("MaxUsers = %d, want 100", cfg.MaxUsers)
	}
	if cfg.MaxMessagesPerRoom != 30 {
		t.Errorf("MaxMessagesPerRoom = %d, want 30", cfg.MaxMessagesPerRoom)
	}
	if cfg.MaxMessageLength != 300 {
		t.Errorf("MaxMessageLength = %d, want 300", cfg.MaxMessageLength)
	}
	if cfg.InactiveTimeout != 15*time.Minute {
		t.Errorf("InactiveTimeout = %s, want 15m", cfg.InactiveTimeout)
	}
	if cfg.PresenceMode != PresenceRoster || cfg.RoomAssignment != AssignSelfSelect {
		t.Errorf("unexpected modes %q / %q", cfg.PresenceMode, cfg.RoomAssignment)
	}
	if cfg.ServerName == "" {
		t.Error("ServerName should fall back to the hostname")
	}
	if cfg.AdminPassword != "" {
		t.Errorf("admin login must be disabled by default, got password %q", cfg.AdminPassword)
	}
	if cfg.TrustProxyHeaders {
		t.Error("proxy headers must not be trusted by default")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(map[string]string{
		"LISTEN_ADDR":         ":9090",
		"MAX_USERS":           "5",
		"RETENTION_WINDOW":    "0s",
		"PRESENCE_MODE":       "Anonymous",
		"ROOM_ASSIGNMENT":     "gender-assigned",
		"ADMIN_PASSWORD":      "hunter2",
		"SYNTHETIC_ENABLED":   "false",
		"NATS_URL":            "nats://nats:4222",
		"TRUST_PROXY_HEADERS": "true",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.MaxUsers != 5 {
		t.Errorf("MaxUsers = %d", cfg.MaxUsers)
	}
	if cfg.RetentionWindow != 0 {
		t.Errorf("RetentionWindow = %s, want 0", cfg.RetentionWindow)
	}
	if cfg.PresenceMode != PresenceAnonymous {
		t.Errorf("PresenceMode = %q", cfg.PresenceMode)
	}
	if cfg.RoomAssignment != AssignGenderAssigned {
		t.Errorf("RoomAssignment = %q", cfg.RoomAssignment)
	}
	if cfg.AdminPassword != "hunter2" {
		t.Errorf("AdminPassword = %q", cfg.AdminPassword)
	}
	if !cfg.TrustProxyHeaders {
		t.Error("TrustProxyHeaders should be true")
	}
	if cfg.SyntheticEnabled {
		t.Error("SyntheticEnabled should be false")
	}
	if cfg.NATSURL != "nats://nats:4222" {
		t.Errorf("NATSURL = %q", cfg.NATSURL)
	}
}

func TestFromEnv_CollectsAllErrors(t *testing.T) {
	_, err := FromEnv(lookupFrom(map[string]string{
		"MAX_USERS":        "-1",
		"CLEANUP_INTERVAL": "soon",
	}))
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, key := range []string{"MAX_USERS", "CLEANUP_INTERVAL"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad presence", func(c *Config) { c.PresenceMode = "loud" }, false},
		{"bad assignment", func(c *Config) { c.RoomAssignment = "random" }, false},
		{"replay larger than log", func(c *Config) { c.ReplaySize = 31 }, false},
		{"sweep without interval", func(c *Config) { c.CleanupInterval = 0 }, false},
		{"sweep fully disabled", func(c *Config) {
			c.CleanupInterval = 0
			c.RetentionWindow = 0
			c.InactiveTimeout = 0
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}
