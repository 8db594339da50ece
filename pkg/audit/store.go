package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Store is the durable, append-only sink for audit events.
type Store interface {
	Append(event Event) error
	Close() error
}

// record is one line in the audit log. Hash chains each record to its
// predecessor so any rewrite of history is detectable.
type record struct {
	Event    Event  `json:"event"`
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// FileStore appends newline-delimited JSON records to a single file. Writes
// are serialized per log segment; the format is stable so external reporting
// tools can consume it across versions.
type FileStore struct {
	mu       sync.Mutex
	f        *os.File
	prevHash string
}

// NewFileStore opens (or creates) the audit log at path for appending.
func NewFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileStore{f: f}, nil
}

// Append writes one chain-hashed record and syncs it to disk. Audit
// completeness is a compliance requirement, so a write is not reported as
// durable until fsync succeeds.
func (s *FileStore) Append(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := chain(event, s.prevHash)
	if err != nil {
		return err
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}

	s.prevHash = rec.Hash
	return nil
}

// Close closes the underlying file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

func chain(event Event, prevHash string) (record, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return record{}, fmt.Errorf("marshal audit event: %w", err)
	}
	sum := sha256.Sum256(append([]byte(prevHash), body...))
	return record{
		Event:    event,
		PrevHash: prevHash,
		Hash:     hex.EncodeToString(sum[:]),
	}, nil
}

// MemoryStore keeps events in memory for tests and dry runs.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
	failN  int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// FailNext makes the next n Append calls fail, for exercising retry paths.
func (s *MemoryStore) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failN = n
}

// Append stores the event.
func (s *MemoryStore) Append(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return fmt.Errorf("simulated audit store failure")
	}
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of everything appended so far.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByType returns stored events matching eventType.
func (s *MemoryStore) ByType(eventType string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
