package config

import (
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MUNIVOICE_WEBHOOK_SECRET", "hunter2")
}

func TestLoadDefaults(t *testing.T) {
	is := is.New(t)
	setRequired(t)

	cfg, err := Load()
	is.NoErr(err)
	is.Equal(cfg.ListenAddr, ":8080")
	is.Equal(cfg.LogFormat, "json")
	is.Equal(cfg.IncomingPerMin, 10)
	is.Equal(cfg.RemovalGrace, 30*time.Second)
	is.Equal(cfg.IdleTimeout, 10*time.Minute)
	is.Equal(cfg.AuditRetention, 3*365*24*time.Hour)
	is.True(len(cfg.AllowedCIDRs) > 0)
}

func TestLoadOverrides(t *testing.T) {
	is := is.New(t)
	setRequired(t)
	t.Setenv("MUNIVOICE_LISTEN_ADDR", ":9000")
	t.Setenv("MUNIVOICE_ALLOWED_CIDRS", "203.0.113.0/24, 198.51.100.0/24")
	t.Setenv("MUNIVOICE_INCOMING_PER_MIN", "25")
	t.Setenv("MUNIVOICE_REMOVAL_GRACE", "1m")
	t.Setenv("MUNIVOICE_LOG_FORMAT", "text")

	cfg, err := Load()
	is.NoErr(err)
	is.Equal(cfg.ListenAddr, ":9000")
	is.Equal(cfg.AllowedCIDRs, []string{"203.0.113.0/24", "198.51.100.0/24"})
	is.Equal(cfg.IncomingPerMin, 25)
	is.Equal(cfg.RemovalGrace, time.Minute)
	is.Equal(cfg.LogFormat, "text")
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"missing api key", "OPENAI_API_KEY", "", "OPENAI_API_KEY"},
		{"missing secret", "MUNIVOICE_WEBHOOK_SECRET", "", "WEBHOOK_SECRET"},
		{"bad cidr", "MUNIVOICE_ALLOWED_CIDRS", "not-a-cidr", "invalid CIDR"},
		{"bad int", "MUNIVOICE_INCOMING_PER_MIN", "many", "INCOMING_PER_MIN"},
		{"zero limit", "MUNIVOICE_INCOMING_PER_MIN", "0", "must be positive"},
		{"bad duration", "MUNIVOICE_REMOVAL_GRACE", "soon", "REMOVAL_GRACE"},
		{"bad format", "MUNIVOICE_LOG_FORMAT", "xml", "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			setRequired(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			is.True(err != nil)
			is.True(strings.Contains(err.Error(), tt.wantErr))
		})
	}
}
