// Package learning holds the engine's only cross-session mutable state:
// versioned evaluator strategies, historical reliability, and mined
// correction patterns.
//
// Reads are snapshots; sessions take one at start and never see a
// mid-session update. Writes are single-writer by discipline: every
// strategy write carries the version it was derived from and loses
// cleanly when another writer got there first.
package learning

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/accordhq/accord/pkg/contracts"
)

// StrategySchemaVersion is the layout version written into new strategy
// documents.
const StrategySchemaVersion = "1.0.0"

// supportedSchema is the range of strategy layouts this build can read.
var supportedSchema = mustConstraint("^1.0")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// CheckSchema rejects strategy documents written by an incompatible
// engine generation.
func CheckSchema(s contracts.Strategy) error {
	if s.SchemaVersion == "" {
		return nil
	}
	v, err := semver.NewVersion(s.SchemaVersion)
	if err != nil {
		return fmt.Errorf("learning: strategy %s: bad schema version %q: %w", s.EvaluatorID, s.SchemaVersion, err)
	}
	if !supportedSchema.Check(v) {
		return fmt.Errorf("learning: strategy %s: schema %s outside supported range %s", s.EvaluatorID, s.SchemaVersion, supportedSchema)
	}
	return nil
}

// Store is the learning repository contract. All methods are safe for
// concurrent use; only PutStrategy mutates strategies and it is
// version-checked.
type Store interface {
	// StrategyFor returns the latest strategy for an evaluator. An
	// evaluator with no recorded strategy gets a zero-value default at
	// version 0.
	StrategyFor(ctx context.Context, evaluatorID string) (contracts.Strategy, error)

	// Snapshot reads the latest strategy for each evaluator in one pass.
	// Sessions call it once at start and freeze the result.
	Snapshot(ctx context.Context, evaluatorIDs []string) (map[string]contracts.Strategy, error)

	// PutStrategy writes a new strategy version. s.Version must be
	// exactly one past the stored version (or 1 for a first write);
	// anything else fails with contracts.ErrLearningStoreConflict and
	// the caller re-reads and retries.
	PutStrategy(ctx context.Context, s contracts.Strategy) error

	// Reliability returns the evaluator's historical hit rate in [0,1].
	// Evaluators with no history report the neutral 0.5.
	Reliability(ctx context.Context, evaluatorID string) (float64, error)

	// ReliabilitySnapshot reads reliability for each evaluator in one
	// pass, for the session-start freeze.
	ReliabilitySnapshot(ctx context.Context, evaluatorIDs []string) (map[string]float64, error)

	// RecordOutcome folds one observed outcome into the evaluator's
	// reliability: hit when the evaluator's verdict matched the final
	// human-confirmed result.
	RecordOutcome(ctx context.Context, evaluatorID string, hit bool) error

	// UpsertPattern merges a mined pattern by trigger signature,
	// incrementing SupportCount by exactly one, and returns the stored
	// state after the merge.
	UpsertPattern(ctx context.Context, p contracts.Pattern) (contracts.Pattern, error)

	// MarkPatternApplied records that a strategy update proposed by the
	// pattern was accepted at the given strategy version.
	MarkPatternApplied(ctx context.Context, triggerSignature string, strategyVersion int64) error

	// Pattern returns one pattern by trigger signature.
	Pattern(ctx context.Context, triggerSignature string) (contracts.Pattern, bool, error)

	// Patterns returns every stored pattern, ordered by trigger
	// signature.
	Patterns(ctx context.Context) ([]contracts.Pattern, error)
}

// DefaultReliability is the neutral prior reported for evaluators with
// no recorded outcomes.
const DefaultReliability = 0.5

// reliabilityFrom converts a hit/total tally to a rate, neutral when
// empty.
func reliabilityFrom(hits, total int64) float64 {
	if total == 0 {
		return DefaultReliability
	}
	return float64(hits) / float64(total)
}
