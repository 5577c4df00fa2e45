package contracts

import "time"

// Strategy is the tunable parameter set for one evaluator. The learning
// store owns strategies; a session snapshots them once at start, so a
// mid-session update never changes behavior inside a running session.
type Strategy struct {
	EvaluatorID string `json:"evaluator_id"`

	// Version increases by one on every accepted update. Writers carry
	// the version they read; the store rejects stale writers.
	Version int64 `json:"version"`

	// SchemaVersion is the semver of the strategy document layout.
	SchemaVersion string `json:"schema_version,omitempty"`

	// Weight is the evaluator's dimension weight in consensus scoring.
	// Zero means unset; the scorer falls back to a uniform share.
	Weight float64 `json:"weight,omitempty"`

	// ConfidenceTrust scales the evaluator's reported confidence during
	// synthesis ranking. Zero means unset and is treated as 1.
	ConfidenceTrust float64 `json:"confidence_trust,omitempty"`

	// WeightAdjustments are additive per-dimension deltas accumulated
	// from pattern mining, applied on top of Weight.
	WeightAdjustments map[string]float64 `json:"weight_adjustments,omitempty"`

	// ThresholdOverrides override engine thresholds for this evaluator.
	// Known keys: "confidence_floor".
	ThresholdOverrides map[string]float64 `json:"threshold_overrides,omitempty"`

	// Provenance says what produced this version: "seed", "operator", or
	// "pattern:<trigger_signature>".
	Provenance string `json:"provenance,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveWeight returns the scoring weight for the given dimension: the
// base Weight (or def when unset) plus any mined adjustment, floored at
// zero.
func (s Strategy) EffectiveWeight(dimension string, def float64) float64 {
	w := s.Weight
	if w == 0 {
		w = def
	}
	w += s.WeightAdjustments[dimension]
	if w < 0 {
		return 0
	}
	return w
}

// TrustedConfidence scales a reported confidence by the strategy's
// confidence trust, clamped to [0,1].
func (s Strategy) TrustedConfidence(confidence float64) float64 {
	trust := s.ConfidenceTrust
	if trust == 0 {
		trust = 1
	}
	c := confidence * trust
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Threshold returns the override for key, or def when absent.
func (s Strategy) Threshold(key string, def float64) float64 {
	if v, ok := s.ThresholdOverrides[key]; ok {
		return v
	}
	return def
}

// StrategyDelta is a proposed additive change to one evaluator's
// strategy, mined from human corrections.
type StrategyDelta struct {
	EvaluatorID          string             `json:"evaluator_id"`
	WeightAdjustments    map[string]float64 `json:"weight_adjustments,omitempty"`
	ConfidenceTrustDelta float64            `json:"confidence_trust_delta,omitempty"`
	ThresholdDeltas      map[string]float64 `json:"threshold_deltas,omitempty"`
	Reason               string             `json:"reason,omitempty"`
}

// Zero reports whether the delta proposes no change.
func (d StrategyDelta) Zero() bool {
	return len(d.WeightAdjustments) == 0 && d.ConfidenceTrustDelta == 0 && len(d.ThresholdDeltas) == 0
}

// Pattern is a recurring correction signature mined from human feedback.
// Patterns merge by TriggerSignature and are never deleted.
type Pattern struct {
	// TriggerSignature is the canonical digest of the (facet, issue
	// category) pair that provoked the correction.
	TriggerSignature string `json:"trigger_signature"`

	ObservedDiffSummary string `json:"observed_diff_summary,omitempty"`

	RecommendedDelta StrategyDelta `json:"recommended_delta"`

	// SupportCount increments by exactly one per ingested correction.
	SupportCount int `json:"support_count"`

	// AppliedStrategyVersion is the strategy version an accepted proposal
	// from this pattern produced; zero while none has been accepted.
	AppliedStrategyVersion int64 `json:"applied_strategy_version,omitempty"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}
