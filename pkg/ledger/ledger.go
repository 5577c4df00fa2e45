// Package ledger provides the append-only, hash-chained round history of
// a consensus session. Every round result, directive batch, escalation,
// and review decision is chained to its predecessor, so a terminal
// session record can prove its history was not rewritten.
package ledger

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/accordhq/accord/pkg/canonicalize"
	"github.com/accordhq/accord/pkg/contracts"
)

// EntryType categorizes a ledger entry.
type EntryType string

const (
	EntryArtifact   EntryType = "ARTIFACT_VERSION"
	EntryRound      EntryType = "ROUND_RESULT"
	EntryDirectives EntryType = "DIRECTIVES"
	EntryEscalation EntryType = "ESCALATION"
	EntryDecision   EntryType = "REVIEW_DECISION"
	EntrySessionEnd EntryType = "SESSION_END"
)

// Entry is one immutable, hash-chained record.
type Entry struct {
	Sequence    uint64          `json:"sequence"`
	EntryType   EntryType       `json:"entry_type"`
	ContentHash string          `json:"content_hash"`
	PrevHash    string          `json:"prev_hash"`
	Timestamp   time.Time       `json:"timestamp"`
	Author      string          `json:"author,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// Ledger is the append-only history of one session.
type Ledger struct {
	mu        sync.RWMutex
	sessionID string
	entries   []Entry
	headHash  string
	rounds    map[int]uint64 // round index -> sequence, write-once
	clock     func() time.Time
}

// New creates an empty ledger for a session.
func New(sessionID string) *Ledger {
	return &Ledger{
		sessionID: sessionID,
		entries:   make([]Entry, 0),
		headHash:  "genesis",
		rounds:    make(map[int]uint64),
		clock:     time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Append chains a new entry holding the canonical JSON of v.
// Returns the assigned sequence number.
func (l *Ledger) Append(entryType EntryType, author string, v any) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.append(entryType, author, v)
}

func (l *Ledger) append(entryType EntryType, author string, v any) (uint64, error) {
	data, err := canonicalize.JCS(v)
	if err != nil {
		return 0, fmt.Errorf("ledger: encode %s entry: %w", entryType, err)
	}

	seq := uint64(len(l.entries)) + 1
	contentHash, err := entryHash(seq, entryType, data, l.headHash)
	if err != nil {
		return 0, err
	}

	l.entries = append(l.entries, Entry{
		Sequence:    seq,
		EntryType:   entryType,
		ContentHash: contentHash,
		PrevHash:    l.headHash,
		Timestamp:   l.clock(),
		Author:      author,
		Data:        data,
	})
	l.headHash = contentHash
	return seq, nil
}

func entryHash(seq uint64, entryType EntryType, data json.RawMessage, prev string) (string, error) {
	input := struct {
		Seq  uint64          `json:"seq"`
		Type EntryType       `json:"type"`
		Data json.RawMessage `json:"data"`
		Prev string          `json:"prev"`
	}{seq, entryType, data, prev}

	h, err := canonicalize.Hash(input)
	if err != nil {
		return "", fmt.Errorf("ledger: hash entry %d: %w", seq, err)
	}
	return h, nil
}

// AppendRound records one round's ConsensusResult. Round indexes are
// write-once and strictly sequential: round n+1 cannot be recorded before
// round n, and no round can be recorded twice.
func (l *Ledger) AppendRound(result contracts.ConsensusResult) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.rounds[result.Round]; exists {
		return 0, fmt.Errorf("ledger: round %d already recorded", result.Round)
	}
	if result.Round != len(l.rounds)+1 {
		return 0, fmt.Errorf("ledger: round %d out of order, expected %d", result.Round, len(l.rounds)+1)
	}

	seq, err := l.append(EntryRound, "", result)
	if err != nil {
		return 0, err
	}
	l.rounds[result.Round] = seq
	return seq, nil
}

// Rounds returns the recorded ConsensusResults in round order.
func (l *Ledger) Rounds() ([]contracts.ConsensusResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	results := make([]contracts.ConsensusResult, 0, len(l.rounds))
	for _, entry := range l.entries {
		if entry.EntryType != EntryRound {
			continue
		}
		var r contracts.ConsensusResult
		if err := json.Unmarshal(entry.Data, &r); err != nil {
			return nil, fmt.Errorf("ledger: decode round entry %d: %w", entry.Sequence, err)
		}
		results = append(results, r)
	}
	return results, nil
}

// Get retrieves an entry by sequence number.
func (l *Ledger) Get(seq uint64) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq == 0 || seq > uint64(len(l.entries)) {
		return nil, fmt.Errorf("ledger: entry %d not found", seq)
	}
	entry := l.entries[seq-1]
	return &entry, nil
}

// Entries returns a copy of the full chain in order.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Head returns the current head hash ("genesis" when empty).
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Length returns the number of entries.
func (l *Ledger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// SessionID returns the owning session id.
func (l *Ledger) SessionID() string {
	return l.sessionID
}

// Verify walks the whole chain, recomputing every hash.
func (l *Ledger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return VerifyEntries(l.entries)
}

// VerifyEntries checks an exported chain without a live ledger, e.g. from
// a session record bundle.
func VerifyEntries(entries []Entry) (bool, string) {
	prevHash := "genesis"
	for i, entry := range entries {
		if entry.Sequence != uint64(i)+1 {
			return false, fmt.Sprintf("sequence gap at entry %d", i+1)
		}
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PrevHash)
		}
		computed, err := entryHash(entry.Sequence, entry.EntryType, entry.Data, entry.PrevHash)
		if err != nil {
			return false, fmt.Sprintf("entry %d not hashable: %v", i+1, err)
		}
		if computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prevHash = entry.ContentHash
	}
	return true, "chain verified"
}
