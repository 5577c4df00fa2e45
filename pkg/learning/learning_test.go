package learning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/observability"
)

func fixedClock() func() time.Time {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestMemoryStoreStrategyVersioning(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore().WithClock(fixedClock())

	st, err := s.StrategyFor(ctx, "eval-technical")
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Version, "unknown evaluators read as version 0")

	first := contracts.Strategy{
		EvaluatorID:   "eval-technical",
		Version:       1,
		SchemaVersion: StrategySchemaVersion,
		Weight:        0.4,
	}
	require.NoError(t, s.PutStrategy(ctx, first))

	// A writer that re-sends the version it read loses.
	err = s.PutStrategy(ctx, first)
	require.ErrorIs(t, err, contracts.ErrLearningStoreConflict)

	// Skipping ahead loses too.
	third := first
	third.Version = 3
	require.ErrorIs(t, s.PutStrategy(ctx, third), contracts.ErrLearningStoreConflict)

	second := first
	second.Version = 2
	second.Weight = 0.45
	require.NoError(t, s.PutStrategy(ctx, second))

	got, err := s.StrategyFor(ctx, "eval-technical")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.InDelta(t, 0.45, got.Weight, 1e-9)
}

func TestMemoryStoreRejectsFutureSchema(t *testing.T) {
	s := NewMemoryStore()
	err := s.PutStrategy(context.Background(), contracts.Strategy{
		EvaluatorID:   "eval-visual",
		Version:       1,
		SchemaVersion: "2.0.0",
	})
	require.Error(t, err)
}

func TestMemoryStoreReliability(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	r, err := s.Reliability(ctx, "eval-pedagogy")
	require.NoError(t, err)
	assert.InDelta(t, DefaultReliability, r, 1e-9, "no history reads neutral")

	require.NoError(t, s.RecordOutcome(ctx, "eval-pedagogy", true))
	require.NoError(t, s.RecordOutcome(ctx, "eval-pedagogy", true))
	require.NoError(t, s.RecordOutcome(ctx, "eval-pedagogy", false))

	r, err = s.Reliability(ctx, "eval-pedagogy")
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, r, 1e-9)

	snap, err := s.ReliabilitySnapshot(ctx, []string{"eval-pedagogy", "eval-unknown"})
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, snap["eval-pedagogy"], 1e-9)
	assert.InDelta(t, DefaultReliability, snap["eval-unknown"], 1e-9)
}

func TestMemoryStorePatternMerge(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore().WithClock(fixedClock())

	sig, err := TriggerSignature("narration", "factual-error")
	require.NoError(t, err)

	first, err := s.UpsertPattern(ctx, contracts.Pattern{TriggerSignature: sig, ObservedDiffSummary: "one"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.SupportCount)

	second, err := s.UpsertPattern(ctx, contracts.Pattern{TriggerSignature: sig, ObservedDiffSummary: "two"})
	require.NoError(t, err)
	assert.Equal(t, 2, second.SupportCount)
	assert.Equal(t, "two", second.ObservedDiffSummary)

	require.NoError(t, s.MarkPatternApplied(ctx, sig, 4))
	got, ok, err := s.Pattern(ctx, sig)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(4), got.AppliedStrategyVersion)
}

func TestTriggerSignatureStable(t *testing.T) {
	a, err := TriggerSignature("narration", "factual-error")
	require.NoError(t, err)
	b, err := TriggerSignature("narration", "factual-error")
	require.NoError(t, err)
	c, err := TriggerSignature("diagram", "factual-error")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "sha256:")
}

func TestApplyDeltaAdditive(t *testing.T) {
	current := contracts.Strategy{
		EvaluatorID:       "eval-technical",
		Version:           2,
		WeightAdjustments: map[string]float64{"technical_accuracy": 0.05},
	}
	next := ApplyDelta(current, contracts.StrategyDelta{
		EvaluatorID:          "eval-technical",
		WeightAdjustments:    map[string]float64{"technical_accuracy": 0.05},
		ConfidenceTrustDelta: -0.05,
	})

	assert.Equal(t, int64(3), next.Version)
	assert.Equal(t, StrategySchemaVersion, next.SchemaVersion)
	assert.InDelta(t, 0.10, next.WeightAdjustments["technical_accuracy"], 1e-9)
	assert.InDelta(t, 0.95, next.ConfidenceTrust, 1e-9, "unset trust starts from 1")
	assert.InDelta(t, 0.05, current.WeightAdjustments["technical_accuracy"], 1e-9, "input untouched")
}

func flaggedEvaluations() []*contracts.Evaluation {
	return []*contracts.Evaluation{
		{
			EvaluationID: "ev-1",
			EvaluatorID:  "eval-technical",
			Dimension:    "technical_accuracy",
			Score:        0.6,
			Confidence:   0.8,
			Issues: []contracts.Issue{{
				TargetFacet:     "narration",
				Severity:        0.7,
				Category:        "factual-error",
				Description:     "wrong boiling point",
				SuggestedAction: contracts.ActionRewrite,
			}},
		},
		{
			EvaluationID: "ev-2",
			EvaluatorID:  "eval-visual",
			Dimension:    "visual_quality",
			Score:        0.9,
			Confidence:   0.95,
		},
	}
}

func editedCorrection() Correction {
	original := &contracts.ContentArtifact{
		ArtifactID: "art-1",
		LineageID:  "lin-1",
		Version:    1,
		Facets: map[string]contracts.Facet{
			"narration": {ContentType: "text/plain", Content: []byte("water boils at 90C")},
			"diagram":   {ContentType: "image/svg+xml", PayloadRef: "sha256:abc"},
		},
	}
	corrected := &contracts.ContentArtifact{
		ArtifactID:     "art-2",
		LineageID:      "lin-1",
		Version:        2,
		PrevArtifactID: "art-1",
		Facets: map[string]contracts.Facet{
			"narration": {ContentType: "text/plain", Content: []byte("water boils at 100C")},
			"diagram":   {ContentType: "image/svg+xml", PayloadRef: "sha256:abc"},
		},
	}
	return Correction{
		SessionID:   "sess-1",
		Original:    original,
		Corrected:   corrected,
		Rationale:   "boiling point was wrong",
		Evaluations: flaggedEvaluations(),
	}
}

func TestMinerIngestIdempotentSignature(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore().WithClock(fixedClock())
	miner := NewMiner(store, 3, 10, observability.NewRecorder()).WithClock(fixedClock())

	c := editedCorrection()

	patterns, err := miner.Ingest(ctx, c)
	require.NoError(t, err)
	require.Len(t, patterns, 1, "only the edited facet mines a pattern")
	assert.Equal(t, 1, patterns[0].SupportCount)

	again, err := miner.Ingest(ctx, c)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, patterns[0].TriggerSignature, again[0].TriggerSignature, "same correction, same signature")
	assert.Equal(t, 2, again[0].SupportCount, "support grows by exactly one per ingest")

	all, err := store.Patterns(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "no duplicate signatures")
}

func TestMinerProposesStrategyAtThreshold(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore().WithClock(fixedClock())
	miner := NewMiner(store, 3, 10, observability.NewRecorder()).WithClock(fixedClock())

	c := editedCorrection()
	for i := 0; i < 3; i++ {
		_, err := miner.Ingest(ctx, c)
		require.NoError(t, err)
	}

	// The flagged-but-shipped issue raises the flagging dimension's weight.
	st, err := store.StrategyFor(ctx, "eval-technical")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Version)
	assert.InDelta(t, 0.05, st.WeightAdjustments["technical_accuracy"], 1e-9)
	assert.Contains(t, st.Provenance, "pattern:")

	sig, err := TriggerSignature("narration", "factual-error")
	require.NoError(t, err)
	p, ok, err := store.Pattern(ctx, sig)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, st.Version, p.AppliedStrategyVersion)

	// Further ingests of an applied pattern do not stack more versions.
	_, err = miner.Ingest(ctx, c)
	require.NoError(t, err)
	st, err = store.StrategyFor(ctx, "eval-technical")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Version)
}

func TestMinerUncaughtCorrectionLowersTrust(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore().WithClock(fixedClock())
	miner := NewMiner(store, 1, 10, observability.NewRecorder()).WithClock(fixedClock())

	c := editedCorrection()
	// Strip the issues so no evaluator saw the problem coming.
	for _, ev := range c.Evaluations {
		ev.Issues = nil
	}

	_, err := miner.Ingest(ctx, c)
	require.NoError(t, err)

	// eval-visual was the most confident endorser.
	st, err := store.StrategyFor(ctx, "eval-visual")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Version)
	assert.InDelta(t, 0.95, st.ConfidenceTrust, 1e-9)
}

func TestMinerSystemicAlert(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore().WithClock(fixedClock())
	recorder := observability.NewRecorder()

	// Proposal threshold unreachable so the pattern stays unapplied.
	miner := NewMiner(store, 100, 2, recorder).WithClock(fixedClock())

	c := editedCorrection()
	_, err := miner.Ingest(ctx, c)
	require.NoError(t, err)
	assert.Empty(t, recorder.Alerts())

	_, err = miner.Ingest(ctx, c)
	require.NoError(t, err)

	alerts := recorder.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, observability.AlertSystemicPattern, alerts[0].Kind)
	assert.Equal(t, "sess-1", alerts[0].SessionID)
}

func TestMinerRejectsEmptyCorrection(t *testing.T) {
	miner := NewMiner(NewMemoryStore(), 3, 10, nil)

	_, err := miner.Ingest(context.Background(), Correction{})
	require.Error(t, err)

	_, err = miner.Ingest(context.Background(), Correction{
		Original: &contracts.ContentArtifact{ArtifactID: "art-1", LineageID: "lin-1", Version: 1},
	})
	require.Error(t, err, "needs either an edit or a rationale")
}
