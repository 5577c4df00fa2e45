package learning

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/accordhq/accord/pkg/contracts"
)

// MemoryStore is the in-process Store. The default for tests and
// single-node runs; SQLite and Redis back it for durable and shared
// deployments.
type MemoryStore struct {
	mu         sync.RWMutex
	strategies map[string]contracts.Strategy
	hits       map[string]int64
	totals     map[string]int64
	patterns   map[string]contracts.Pattern
	clock      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strategies: make(map[string]contracts.Strategy),
		hits:       make(map[string]int64),
		totals:     make(map[string]int64),
		patterns:   make(map[string]contracts.Pattern),
		clock:      time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

// StrategyFor returns the latest strategy, or a version-0 default.
func (s *MemoryStore) StrategyFor(_ context.Context, evaluatorID string) (contracts.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.strategies[evaluatorID]; ok {
		return st, nil
	}
	return contracts.Strategy{EvaluatorID: evaluatorID}, nil
}

// Snapshot reads the latest strategy for each id.
func (s *MemoryStore) Snapshot(ctx context.Context, evaluatorIDs []string) (map[string]contracts.Strategy, error) {
	out := make(map[string]contracts.Strategy, len(evaluatorIDs))
	for _, id := range evaluatorIDs {
		st, err := s.StrategyFor(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = st
	}
	return out, nil
}

// PutStrategy performs the version-checked write.
func (s *MemoryStore) PutStrategy(_ context.Context, st contracts.Strategy) error {
	if st.EvaluatorID == "" {
		return fmt.Errorf("learning: strategy missing evaluator_id")
	}
	if err := CheckSchema(st); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.strategies[st.EvaluatorID].Version
	if st.Version != current+1 {
		return fmt.Errorf("learning: strategy %s: write at version %d but head is %d: %w",
			st.EvaluatorID, st.Version, current, contracts.ErrLearningStoreConflict)
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.clock()
	}
	s.strategies[st.EvaluatorID] = st
	return nil
}

// Reliability returns the evaluator's recorded hit rate.
func (s *MemoryStore) Reliability(_ context.Context, evaluatorID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return reliabilityFrom(s.hits[evaluatorID], s.totals[evaluatorID]), nil
}

// ReliabilitySnapshot reads reliability for each id.
func (s *MemoryStore) ReliabilitySnapshot(ctx context.Context, evaluatorIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(evaluatorIDs))
	for _, id := range evaluatorIDs {
		r, err := s.Reliability(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = r
	}
	return out, nil
}

// RecordOutcome folds one outcome into the tally.
func (s *MemoryStore) RecordOutcome(_ context.Context, evaluatorID string, hit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totals[evaluatorID]++
	if hit {
		s.hits[evaluatorID]++
	}
	return nil
}

// UpsertPattern merges by trigger signature.
func (s *MemoryStore) UpsertPattern(_ context.Context, p contracts.Pattern) (contracts.Pattern, error) {
	if p.TriggerSignature == "" {
		return contracts.Pattern{}, fmt.Errorf("learning: pattern missing trigger_signature")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	existing, ok := s.patterns[p.TriggerSignature]
	if !ok {
		p.SupportCount = 1
		p.FirstSeen = now
		p.LastSeen = now
		s.patterns[p.TriggerSignature] = p
		return p, nil
	}

	existing.SupportCount++
	existing.LastSeen = now
	if p.ObservedDiffSummary != "" {
		existing.ObservedDiffSummary = p.ObservedDiffSummary
	}
	if !p.RecommendedDelta.Zero() {
		existing.RecommendedDelta = p.RecommendedDelta
	}
	s.patterns[p.TriggerSignature] = existing
	return existing, nil
}

// MarkPatternApplied records the accepted strategy version.
func (s *MemoryStore) MarkPatternApplied(_ context.Context, triggerSignature string, strategyVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patterns[triggerSignature]
	if !ok {
		return fmt.Errorf("learning: pattern %q not found", triggerSignature)
	}
	p.AppliedStrategyVersion = strategyVersion
	s.patterns[triggerSignature] = p
	return nil
}

// Pattern returns one pattern by signature.
func (s *MemoryStore) Pattern(_ context.Context, triggerSignature string) (contracts.Pattern, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patterns[triggerSignature]
	return p, ok, nil
}

// Patterns returns every pattern, ordered by signature.
func (s *MemoryStore) Patterns(_ context.Context) ([]contracts.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]contracts.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggerSignature < out[j].TriggerSignature })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
