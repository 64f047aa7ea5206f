package idempotency

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"
)

// DefaultTTL is how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// ErrKeyReused is returned when a key is presented again with a different request body or target.
var ErrKeyReused = errors.New("idempotency: key reused for a different request")

// State reports what Claim found for a key.
type State int

const (
	// StateClaimed means the caller owns the key and must call Complete or Abandon.
	StateClaimed State = iota
	// StateInFlight means another request holds the key and has not finished.
	StateInFlight
	// StateReplay means a stored response is available.
	StateReplay
)

// Entry is a stored response for a key.
type Entry struct {
	Fingerprint string
	Status      int
	Header      http.Header
	Body        []byte
	ExpiresAt   time.Time
}

// Store keeps claims and completed responses.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error)
	Complete(ctx context.Context, key string, entry Entry) error
	Abandon(ctx context.Context, key string) error
	Sweep(ctx context.Context, now time.Time, limit int) (int, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	Entry
	done bool
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Claim reserves key for fingerprint unless a live entry already exists.
func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Entry, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[key]
	if ok && now.Before(existing.ExpiresAt) {
		if existing.Fingerprint != fingerprint {
			return 0, Entry{}, ErrKeyReused
		}
		if existing.done {
			return StateReplay, cloneEntry(existing.Entry), nil
		}
		return StateInFlight, Entry{}, nil
	}

	s.entries[key] = memoryEntry{Entry: Entry{Fingerprint: fingerprint, ExpiresAt: now.Add(ttl)}}
	return StateClaimed, Entry{}, nil
}

// Complete stores the response for a claimed key.
func (s *MemoryStore) Complete(_ context.Context, key string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[key]
	if ok && existing.Fingerprint != entry.Fingerprint {
		return ErrKeyReused
	}
	if entry.ExpiresAt.IsZero() {
		entry.ExpiresAt = existing.ExpiresAt
	}
	s.entries[key] = memoryEntry{Entry: cloneEntry(entry), done: true}
	return nil
}

// Abandon releases a claim so the key can be retried.
func (s *MemoryStore) Abandon(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Sweep removes up to limit expired entries. A non-positive limit removes all of them.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if now.Before(entry.ExpiresAt) {
			continue
		}
		delete(s.entries, key)
		removed++
	}
	return removed, nil
}

func cloneEntry(entry Entry) Entry {
	entry.Header = entry.Header.Clone()
	if entry.Body != nil {
		entry.Body = append([]byte(nil), entry.Body...)
	}
	return entry
}
