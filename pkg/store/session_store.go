// Package store persists terminal session records: the append-only
// audit trail the persistence collaborator contract requires. A record
// is written exactly once when its session ends and is retrievable by
// session id or lineage id, together with its ledger chain.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/ledger"
)

// ErrDuplicateSession marks an attempt to write a session record twice.
// Records are write-once; there is no update path.
var ErrDuplicateSession = errors.New("store: session record already exists")

// ErrNotFound marks a lookup for a record that was never written.
var ErrNotFound = errors.New("store: session record not found")

// SessionStore is the persistence collaborator contract.
type SessionStore interface {
	// Append writes one terminal record with its ledger chain. Fails
	// with ErrDuplicateSession when the session id is already stored.
	Append(ctx context.Context, record *contracts.SessionRecord, chain []ledger.Entry) error

	// Get returns one record by session id.
	Get(ctx context.Context, sessionID string) (*contracts.SessionRecord, error)

	// ByLineage returns every record for a lineage, oldest first.
	ByLineage(ctx context.Context, lineageID string) ([]*contracts.SessionRecord, error)

	// Chain returns the ledger entries stored with a record, for audit
	// verification.
	Chain(ctx context.Context, sessionID string) ([]ledger.Entry, error)
}

// MemorySessionStore is the in-process SessionStore.
type MemorySessionStore struct {
	mu      sync.RWMutex
	records map[string]*contracts.SessionRecord
	chains  map[string][]ledger.Entry
	order   []string
}

// NewMemorySessionStore creates an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		records: make(map[string]*contracts.SessionRecord),
		chains:  make(map[string][]ledger.Entry),
	}
}

// Append writes one record, rejecting duplicates.
func (s *MemorySessionStore) Append(_ context.Context, record *contracts.SessionRecord, chain []ledger.Entry) error {
	if record == nil || record.SessionID == "" {
		return fmt.Errorf("store: record missing session_id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.SessionID]; exists {
		return fmt.Errorf("store: session %s: %w", record.SessionID, ErrDuplicateSession)
	}
	clone := *record
	s.records[record.SessionID] = &clone
	s.chains[record.SessionID] = append([]ledger.Entry(nil), chain...)
	s.order = append(s.order, record.SessionID)
	return nil
}

// Get returns one record by session id.
func (s *MemorySessionStore) Get(_ context.Context, sessionID string) (*contracts.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[sessionID]
	if !ok {
		return nil, fmt.Errorf("store: session %s: %w", sessionID, ErrNotFound)
	}
	clone := *r
	return &clone, nil
}

// ByLineage returns every record for a lineage in insertion order.
func (s *MemorySessionStore) ByLineage(_ context.Context, lineageID string) ([]*contracts.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*contracts.SessionRecord
	for _, id := range s.order {
		r := s.records[id]
		if r.LineageID == lineageID {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Chain returns the stored ledger entries.
func (s *MemorySessionStore) Chain(_ context.Context, sessionID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain, ok := s.chains[sessionID]
	if !ok {
		return nil, fmt.Errorf("store: session %s: %w", sessionID, ErrNotFound)
	}
	return append([]ledger.Entry(nil), chain...), nil
}

var _ SessionStore = (*MemorySessionStore)(nil)
