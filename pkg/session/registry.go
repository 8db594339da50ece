package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultRemovalGrace is how long a Closed session stays resolvable so that
// late provider callbacks can still find it.
const DefaultRemovalGrace = 30 * time.Second

// Registry tracks active sessions by call SID. It owns session lifetimes:
// sessions enter on Create and leave a grace period after teardown.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	timers   map[string]*time.Timer
	grace    time.Duration
	logger   *slog.Logger
	closed   bool
}

// NewRegistry creates an empty registry. A non-positive grace uses
// DefaultRemovalGrace.
func NewRegistry(grace time.Duration, logger *slog.Logger) *Registry {
	if grace <= 0 {
		grace = DefaultRemovalGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		timers:   make(map[string]*time.Timer),
		grace:    grace,
		logger:   logger,
	}
}

// Create builds a new session and registers it. A second call with the same
// SID fails: the provider guarantees SID uniqueness, so a duplicate means a
// replayed webhook.
func (r *Registry) Create(cfg Config) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if _, ok := r.sessions[cfg.CallSID]; ok {
		return nil, ErrSessionExists
	}

	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	r.sessions[cfg.CallSID] = s
	r.logger.Info("session registered",
		slog.String("call_sid", cfg.CallSID),
		slog.Int("active", len(r.sessions)))
	return s, nil
}

// Get resolves a session by call SID.
func (r *Registry) Get(callSID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callSID]
	return s, ok
}

// Len reports the number of registered sessions, including those in their
// removal grace period.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ScheduleRemoval drops the session after the grace period. Call it once the
// session reaches Closed.
func (r *Registry) ScheduleRemoval(callSID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[callSID]; !ok {
		return
	}
	if _, ok := r.timers[callSID]; ok {
		return
	}
	r.timers[callSID] = time.AfterFunc(r.grace, func() {
		r.Remove(callSID)
	})
}

// ReapIdle tears down and removes every session with no activity for at
// least idle. It is the backstop for calls whose terminal status callback
// never arrived: without it a session parked in Closing would stay
// registered forever. Returns the number of sessions reaped.
func (r *Registry) ReapIdle(ctx context.Context, idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	r.mu.Lock()
	stale := make([]*Session, 0)
	for _, s := range r.sessions {
		if s.LastActivity().Before(cutoff) {
			stale = append(stale, s)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		if s.State() != StateClosed {
			r.logger.Warn("reaping idle session",
				slog.String("call_sid", s.CallSID()),
				slog.String("state", s.State().String()),
				slog.Time("last_activity", s.LastActivity()))
			s.Hangup()
			if err := s.ConfirmTeardown(ctx); err != nil {
				r.logger.Warn("teardown on reap",
					slog.String("call_sid", s.CallSID()),
					slog.String("error", err.Error()))
			}
		}
		r.Remove(s.CallSID())
	}
	return len(stale)
}

// Remove drops the session immediately.
func (r *Registry) Remove(callSID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[callSID]; ok {
		t.Stop()
		delete(r.timers, callSID)
	}
	if _, ok := r.sessions[callSID]; ok {
		delete(r.sessions, callSID)
		r.logger.Info("session removed",
			slog.String("call_sid", callSID),
			slog.Int("active", len(r.sessions)))
	}
}

// Close tears down every registered session and rejects further Creates.
// Used on service shutdown.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	for sid, t := range r.timers {
		t.Stop()
		delete(r.timers, sid)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		if s.State() == StateClosed {
			continue
		}
		s.Hangup()
		if err := s.ConfirmTeardown(ctx); err != nil {
			r.logger.Warn("teardown on shutdown",
				slog.String("call_sid", s.CallSID()),
				slog.String("error", err.Error()))
		}
	}
}
