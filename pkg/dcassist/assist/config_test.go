package assist

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() on defaults error = %v", err)
	}

	if cfg.Storage.Journal != JournalJSONL {
		t.Errorf("default journal = %q, want %q", cfg.Storage.Journal, JournalJSONL)
	}
	if !cfg.Gateway.Enabled || cfg.Gateway.Address != ":8090" {
		t.Errorf("default gateway = %+v, want enabled on :8090", cfg.Gateway)
	}
	if cfg.Proxy.Temperature != 0.7 {
		t.Errorf("default temperature = %v, want 0.7", cfg.Proxy.Temperature)
	}
	if cfg.Sessions.TTLHours != 24 || cfg.Sessions.MaxSessions != 256 {
		t.Errorf("default sessions = %+v, want ttl 24h, max 256", cfg.Sessions)
	}
	if cfg.Scheduler.PruneSpec != "@hourly" {
		t.Errorf("default prune spec = %q, want @hourly", cfg.Scheduler.PruneSpec)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults pass",
			mutate: func(*Config) {},
		},
		{
			name:   "empty journal backend allowed",
			mutate: func(c *Config) { c.Storage.Journal = "" },
		},
		{
			name:   "none journal backend allowed",
			mutate: func(c *Config) { c.Storage.Journal = JournalNone },
		},
		{
			name:   "sqlite journal backend allowed",
			mutate: func(c *Config) { c.Storage.Journal = JournalSQLite },
		},
		{
			name:    "unknown journal backend",
			mutate:  func(c *Config) { c.Storage.Journal = "postgres" },
			wantErr: "journal backend",
		},
		{
			name:    "missing proxy base url",
			mutate:  func(c *Config) { c.Proxy.BaseURL = "" },
			wantErr: "base_url",
		},
		{
			name:    "negative session ttl",
			mutate:  func(c *Config) { c.Sessions.TTLHours = -1 },
			wantErr: "ttl_hours",
		},
		{
			name:    "negative session cap",
			mutate:  func(c *Config) { c.Sessions.MaxSessions = -1 },
			wantErr: "max_sessions",
		},
		{
			name: "enabled gateway needs an address",
			mutate: func(c *Config) {
				c.Gateway.Enabled = true
				c.Gateway.Address = ""
			},
			wantErr: "gateway.address",
		},
		{
			name: "disabled gateway needs no address",
			mutate: func(c *Config) {
				c.Gateway.Enabled = false
				c.Gateway.Address = ""
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestSessionsTTL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		hours int
		want  time.Duration
	}{
		{hours: 2, want: 2 * time.Hour},
		{hours: 0, want: 24 * time.Hour},
		{hours: -5, want: 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := (SessionsConfig{TTLHours: tt.hours}).TTL(); got != tt.want {
			t.Errorf("TTL() with %d hours = %v, want %v", tt.hours, got, tt.want)
		}
	}
}
