// Package ratelimit tracks request counts per (client identity, route) pair
// over fixed time windows and decides whether a request is allowed.
package ratelimit

import (
	"sync"
	"time"
)

// Limit is the threshold for one route: at most Requests per Window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Config holds per-route limits plus a fallback for unlisted routes.
type Config struct {
	Routes  map[string]Limit
	Default Limit
}

// DefaultConfig mirrors the thresholds used in production: incoming calls are
// limited hard, status polling loosely.
func DefaultConfig() Config {
	return Config{
		Routes: map[string]Limit{
			"/voice/incoming": {Requests: 10, Window: time.Minute},
			"/voice/status":   {Requests: 100, Window: time.Minute},
			"/health":         {Requests: 60, Window: time.Minute},
		},
		Default: Limit{Requests: 100, Window: time.Minute},
	}
}

type bucket struct {
	windowStart time.Time
	count       int
}

// Limiter decides allow/deny per (identity, route). Bucket updates are
// serialized under one mutex; contention is bounded by webhook traffic, not
// media traffic, so a single lock is enough.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*bucket
	now     func() time.Time
}

// New creates a Limiter with the given configuration.
func New(cfg Config) *Limiter {
	if cfg.Default.Requests <= 0 {
		cfg.Default = Limit{Requests: 100, Window: time.Minute}
	}
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow records one attempt from identity against route and reports whether
// it falls within the route's window threshold. The attempt is counted even
// when denied, so sustained abuse stays denied.
func (l *Limiter) Allow(identity, route string) bool {
	limit := l.limitFor(route)
	now := l.now()
	key := identity + "|" + route

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= limit.Window {
		b = &bucket{windowStart: now}
		l.buckets[key] = b
	}

	b.count++
	return b.count <= limit.Requests
}

// PruneExpired drops buckets whose window has closed with no new requests.
// Callers run it periodically; the limiter stays correct without it, it only
// bounds memory.
func (l *Limiter) PruneExpired() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	pruned := 0
	for key, b := range l.buckets {
		limit := l.limitFor(routeFromKey(key))
		if now.Sub(b.windowStart) >= limit.Window {
			delete(l.buckets, key)
			pruned++
		}
	}
	return pruned
}

func (l *Limiter) limitFor(route string) Limit {
	if limit, ok := l.cfg.Routes[route]; ok && limit.Requests > 0 {
		return limit
	}
	return l.cfg.Default
}

func routeFromKey(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[i+1:]
		}
	}
	return key
}

// setNow overrides the clock for tests.
func (l *Limiter) setNow(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
