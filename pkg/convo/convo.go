// Package convo is the per-call short-term conversation memory. It stores
// dialogue turns and evicts the oldest once a call exceeds its turn cap,
// bounding both LLM context size and memory use on long calls.
//
// The store performs no PII masking: callers must append already-masked text.
// Keeping it a dumb append/evict structure keeps the hot path fast.
package convo

import (
	"sync"
	"time"
)

// Speaker identifies who produced a dialogue turn.
type Speaker string

const (
	SpeakerCaller    Speaker = "caller"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one utterance within a call. Immutable once appended.
type Turn struct {
	Speaker     Speaker
	Text        string // PII-masked before it reaches the store
	Timestamp   time.Time
	SnippetRefs []string // knowledge snippets used to produce this turn
}

// DefaultMaxTurns bounds retained context per call.
const DefaultMaxTurns = 20

// Store holds the turn history for every active call. Safe for concurrent
// use across sessions.
type Store struct {
	mu       sync.RWMutex
	calls    map[string][]Turn
	maxTurns int
}

// NewStore creates a Store retaining at most maxTurns per call; zero or
// negative means DefaultMaxTurns.
func NewStore(maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Store{
		calls:    make(map[string][]Turn),
		maxTurns: maxTurns,
	}
}

// Append adds a turn to the call's history, evicting the oldest turn when the
// cap is reached. Turns are kept in append order and never reordered.
func (s *Store) Append(callID string, turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.calls[callID], turn)
	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}
	s.calls[callID] = turns
}

// Recent returns up to maxTurns of the call's newest turns in chronological
// order. maxTurns <= 0 returns everything retained.
func (s *Store) Recent(callID string, maxTurns int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.calls[callID]
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}

	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Len returns how many turns are retained for the call.
func (s *Store) Len(callID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.calls[callID])
}

// Drop releases the call's history after session teardown.
func (s *Store) Drop(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.calls, callID)
}
