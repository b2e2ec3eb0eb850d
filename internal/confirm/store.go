// Package confirm implements the Confirmation Store: single-use
// tickets representing a MEDIUM-risk tools/call awaiting human
// approval, with lazy 10-minute expiry checked on access.
package confirm

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"mcpgateway/internal/gwerrors"
)

// TTL is the lifetime of a confirmation before it is considered
// expired. No background sweeper runs; expiry is checked lazily.
const TTL = 10 * time.Minute

// PendingConfirmation is a single-use ticket for one intercepted
// MEDIUM-risk tools/call.
type PendingConfirmation struct {
	ID        string
	ServerID  string
	Method    string
	Params    json.RawMessage
	ToolName  string
	CreatedAt time.Time
}

// ExpiresAt returns the instant this confirmation lapses.
func (p *PendingConfirmation) ExpiresAt() time.Time {
	return p.CreatedAt.Add(TTL)
}

// Store exclusively owns the set of PendingConfirmations.
type Store struct {
	mu      sync.Mutex
	entries map[string]*PendingConfirmation
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]*PendingConfirmation)}
}

// Create inserts a new confirmation with createdAt = now and returns
// it. The caller is expected to surface its ID and ExpiresAt to the
// client.
func (s *Store) Create(serverID, method, toolName string, params json.RawMessage) *PendingConfirmation {
	entry := &PendingConfirmation{
		ID:        uuid.New().String(),
		ServerID:  serverID,
		Method:    method,
		ToolName:  toolName,
		Params:    params,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.entries[entry.ID] = entry
	s.mu.Unlock()
	return entry
}

// Peek looks up id without removing it, checking lazy expiry. A
// not-found id surfaces KindNotFound; an aged-out entry is removed and
// surfaces KindExpired.
func (s *Store) Peek(id string) (*PendingConfirmation, error) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if ok && time.Since(entry.CreatedAt) > TTL {
		delete(s.entries, id)
		ok = false
		s.mu.Unlock()
		return nil, gwerrors.NewF(gwerrors.KindExpired, "confirmation %q expired", id)
	}
	s.mu.Unlock()

	if !ok {
		return nil, gwerrors.NewF(gwerrors.KindNotFound, "unknown confirmation %q", id)
	}
	return entry, nil
}

// Reject removes id (after the same expiry check as Peek) and reports
// the entry that was rejected. A rejected confirmation is never
// dispatched.
func (s *Store) Reject(id string) (*PendingConfirmation, error) {
	entry, err := s.Peek(id)
	if err != nil {
		return nil, err
	}
	s.Remove(id)
	return entry, nil
}

// Remove deletes id unconditionally, used once an approved dispatch
// has completed.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}
