// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
)

// Telephony provider webhook source ranges, plus private networks for
// staging behind a tunnel. Override with MUNIVOICE_ALLOWED_CIDRS.
var defaultAllowedCIDRs = []string{
	"54.172.60.0/23",
	"54.244.51.0/24",
	"177.71.206.192/26",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
}

// Config holds everything the service reads from the environment.
type Config struct {
	ListenAddr string

	OpenAIAPIKey string
	LLMModel     string
	Voice        string

	WebhookSecret string
	AllowedCIDRs  []string

	AuditLogPath string
	// AuditRetention is the mandated retention period for audit records.
	// The process only announces it; rotation tooling enforces it.
	AuditRetention time.Duration

	LogLevel  string // debug, info, warn, error
	LogFormat string // json or text

	MaxContextTurns int
	IncomingPerMin  int // rate limit for /voice/incoming, per source IP
	RemovalGrace    time.Duration
	// IdleTimeout is how long a session may sit with no activity before the
	// registry reaps it. Covers lost terminal status callbacks.
	IdleTimeout   time.Duration
	AttemptBudget time.Duration
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      getenv("MUNIVOICE_LISTEN_ADDR", ":8080"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		LLMModel:        os.Getenv("MUNIVOICE_LLM_MODEL"),
		Voice:           getenv("MUNIVOICE_VOICE", "alloy"),
		WebhookSecret:   os.Getenv("MUNIVOICE_WEBHOOK_SECRET"),
		AuditLogPath:    getenv("MUNIVOICE_AUDIT_LOG", "munivoice-audit.log"),
		AuditRetention:  3 * 365 * 24 * time.Hour,
		LogLevel:        getenv("MUNIVOICE_LOG_LEVEL", "info"),
		LogFormat:       getenv("MUNIVOICE_LOG_FORMAT", "json"),
		MaxContextTurns: 8,
		IncomingPerMin:  10,
		RemovalGrace:    30 * time.Second,
		IdleTimeout:     10 * time.Minute,
		AttemptBudget:   5 * time.Second,
	}

	cfg.AllowedCIDRs = defaultAllowedCIDRs
	if raw := os.Getenv("MUNIVOICE_ALLOWED_CIDRS"); raw != "" {
		cfg.AllowedCIDRs = splitList(raw)
	}

	var err error
	if cfg.MaxContextTurns, err = getint("MUNIVOICE_MAX_CONTEXT_TURNS", cfg.MaxContextTurns); err != nil {
		return nil, err
	}
	if cfg.IncomingPerMin, err = getint("MUNIVOICE_INCOMING_PER_MIN", cfg.IncomingPerMin); err != nil {
		return nil, err
	}
	if cfg.RemovalGrace, err = getduration("MUNIVOICE_REMOVAL_GRACE", cfg.RemovalGrace); err != nil {
		return nil, err
	}
	if cfg.IdleTimeout, err = getduration("MUNIVOICE_IDLE_TIMEOUT", cfg.IdleTimeout); err != nil {
		return nil, err
	}
	if cfg.AttemptBudget, err = getduration("MUNIVOICE_ATTEMPT_BUDGET", cfg.AttemptBudget); err != nil {
		return nil, err
	}
	if cfg.AuditRetention, err = getduration("MUNIVOICE_AUDIT_RETENTION", cfg.AuditRetention); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values and formats.
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("MUNIVOICE_WEBHOOK_SECRET is required")
	}
	if len(c.AllowedCIDRs) == 0 {
		return fmt.Errorf("MUNIVOICE_ALLOWED_CIDRS must not be empty")
	}
	for _, cidr := range c.AllowedCIDRs {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			return fmt.Errorf("invalid CIDR %q: %w", cidr, err)
		}
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("MUNIVOICE_LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if c.MaxContextTurns <= 0 {
		return fmt.Errorf("MUNIVOICE_MAX_CONTEXT_TURNS must be positive")
	}
	if c.IncomingPerMin <= 0 {
		return fmt.Errorf("MUNIVOICE_INCOMING_PER_MIN must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("MUNIVOICE_IDLE_TIMEOUT must be positive")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getduration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
