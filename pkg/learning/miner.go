package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/accordhq/accord/pkg/canonicalize"
	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/observability"
)

// casRetries bounds strategy write retries after a lost race. Content
// decisions never block on learning writes, so exhaustion logs and
// skips.
const casRetries = 3

// weightStep and trustStep are the additive nudges a proposed strategy
// delta applies per accepted pattern.
const (
	weightStep = 0.05
	trustStep  = 0.05
)

// Correction is one human intervention handed to the miner: the artifact
// the engine produced, what the human made of it, and the final round's
// evaluations for attribution.
type Correction struct {
	SessionID string
	Original  *contracts.ContentArtifact

	// Corrected is the reviewer's edited version; nil when the reviewer
	// only gave a rationale.
	Corrected *contracts.ContentArtifact

	// Rationale is the reviewer's explanation, required when Corrected
	// is nil.
	Rationale string

	// Evaluations are the last round's verdicts, degraded included.
	Evaluations []*contracts.Evaluation
}

// Miner turns corrections into patterns and patterns into strategy
// proposals.
type Miner struct {
	store             Store
	proposalThreshold int
	systemicThreshold int
	alerter           observability.Alerter
	logger            *slog.Logger
	clock             func() time.Time
}

// NewMiner creates a miner over the store. proposalThreshold is the
// support count at which a strategy delta is written; systemicThreshold
// is the count at which an unaddressed pattern alerts an operator.
func NewMiner(store Store, proposalThreshold, systemicThreshold int, alerter observability.Alerter) *Miner {
	if alerter == nil {
		alerter = observability.NewSlogAlerter(nil)
	}
	return &Miner{
		store:             store,
		proposalThreshold: proposalThreshold,
		systemicThreshold: systemicThreshold,
		alerter:           alerter,
		logger:            slog.Default().With("component", "pattern-miner"),
		clock:             time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Miner) WithClock(clock func() time.Time) *Miner {
	m.clock = clock
	return m
}

// Ingest diffs a correction facet-wise, merges one pattern per corrected
// facet, and follows up on proposal and systemic thresholds. Feeding the
// same correction twice increments each pattern's support by exactly one
// per call and never duplicates a signature.
func (m *Miner) Ingest(ctx context.Context, c Correction) ([]contracts.Pattern, error) {
	if c.Original == nil {
		return nil, fmt.Errorf("learning: correction missing original artifact")
	}
	if c.Corrected == nil && c.Rationale == "" {
		return nil, fmt.Errorf("learning: correction carries neither edits nor rationale")
	}

	facets := correctedFacets(c)
	if len(facets) == 0 {
		return nil, nil
	}

	var out []contracts.Pattern
	for _, fc := range facets {
		sig, err := TriggerSignature(fc.facet, fc.category)
		if err != nil {
			return nil, err
		}

		merged, err := m.store.UpsertPattern(ctx, contracts.Pattern{
			TriggerSignature:    sig,
			ObservedDiffSummary: fc.summary,
			RecommendedDelta:    fc.delta,
		})
		if err != nil {
			return nil, fmt.Errorf("learning: merge pattern for facet %q: %w", fc.facet, err)
		}
		out = append(out, merged)

		if merged.AppliedStrategyVersion == 0 && merged.SupportCount >= m.proposalThreshold {
			m.propose(ctx, merged)
		}
		if merged.AppliedStrategyVersion == 0 && merged.SupportCount >= m.systemicThreshold {
			m.alerter.Notify(ctx, observability.Alert{
				Kind:      observability.AlertSystemicPattern,
				SessionID: c.SessionID,
				LineageID: c.Original.LineageID,
				Message: fmt.Sprintf("pattern %s reached support %d with no accepted strategy update",
					merged.TriggerSignature, merged.SupportCount),
				Detail:    map[string]string{"trigger_signature": merged.TriggerSignature},
				CreatedAt: m.clock(),
			})
		}
	}
	return out, nil
}

// propose applies the pattern's recommended delta as a new strategy
// version. Lost races re-read and retry up to casRetries, then the
// proposal is skipped for this correction; the next ingest tries again.
func (m *Miner) propose(ctx context.Context, p contracts.Pattern) {
	delta := p.RecommendedDelta
	if delta.Zero() || delta.EvaluatorID == "" {
		return
	}

	for attempt := 1; attempt <= casRetries; attempt++ {
		current, err := m.store.StrategyFor(ctx, delta.EvaluatorID)
		if err != nil {
			m.logger.Error("strategy read failed, skipping proposal",
				"evaluator_id", delta.EvaluatorID, "error", err)
			return
		}

		next := ApplyDelta(current, delta)
		next.Provenance = "pattern:" + p.TriggerSignature
		next.UpdatedAt = m.clock()

		err = m.store.PutStrategy(ctx, next)
		if err == nil {
			if err := m.store.MarkPatternApplied(ctx, p.TriggerSignature, next.Version); err != nil {
				m.logger.Warn("pattern applied but not marked",
					"trigger_signature", p.TriggerSignature, "error", err)
			}
			m.logger.Info("strategy updated from pattern",
				"evaluator_id", delta.EvaluatorID,
				"version", next.Version,
				"trigger_signature", p.TriggerSignature)
			return
		}
		if !errors.Is(err, contracts.ErrLearningStoreConflict) {
			m.logger.Error("strategy write failed, skipping proposal",
				"evaluator_id", delta.EvaluatorID, "error", err)
			return
		}
		m.logger.Debug("strategy write lost the race, retrying",
			"evaluator_id", delta.EvaluatorID, "attempt", attempt)
	}
	m.logger.Warn("strategy write conflicted on every retry, skipping proposal",
		"evaluator_id", delta.EvaluatorID,
		"trigger_signature", p.TriggerSignature,
		"retries", casRetries)
}

// ApplyDelta folds a delta into a strategy, returning the successor
// version. Strategies are additive: every field of the current version
// survives unless the delta nudges it.
func ApplyDelta(current contracts.Strategy, delta contracts.StrategyDelta) contracts.Strategy {
	next := current
	next.Version = current.Version + 1
	next.SchemaVersion = StrategySchemaVersion

	if len(delta.WeightAdjustments) > 0 {
		next.WeightAdjustments = make(map[string]float64, len(current.WeightAdjustments)+len(delta.WeightAdjustments))
		for k, v := range current.WeightAdjustments {
			next.WeightAdjustments[k] = v
		}
		for k, v := range delta.WeightAdjustments {
			next.WeightAdjustments[k] += v
		}
	}
	if delta.ConfidenceTrustDelta != 0 {
		trust := current.ConfidenceTrust
		if trust == 0 {
			trust = 1
		}
		trust += delta.ConfidenceTrustDelta
		if trust < 0 {
			trust = 0
		}
		next.ConfidenceTrust = trust
	}
	if len(delta.ThresholdDeltas) > 0 {
		next.ThresholdOverrides = make(map[string]float64, len(current.ThresholdOverrides)+len(delta.ThresholdDeltas))
		for k, v := range current.ThresholdOverrides {
			next.ThresholdOverrides[k] = v
		}
		for k, v := range delta.ThresholdDeltas {
			next.ThresholdOverrides[k] += v
		}
	}
	return next
}

// TriggerSignature is the stable canonical digest of the (facet, issue
// category) pair that provoked a correction.
func TriggerSignature(facet, category string) (string, error) {
	sig, err := canonicalize.Hash(struct {
		Facet    string `json:"facet"`
		Category string `json:"category"`
	}{facet, category})
	if err != nil {
		return "", fmt.Errorf("learning: trigger signature for %q/%q: %w", facet, category, err)
	}
	return sig, nil
}

// facetCorrection is one facet's contribution to the mined output.
type facetCorrection struct {
	facet    string
	category string
	summary  string
	delta    contracts.StrategyDelta
}

// correctedFacets diffs the original against the corrected artifact (or
// falls back to the facets the evaluations flagged, when the reviewer
// only wrote a rationale) and attributes each corrected facet to an
// issue category and an evaluator.
func correctedFacets(c Correction) []facetCorrection {
	var names []string
	changed := make(map[string]string) // facet -> change kind

	if c.Corrected != nil {
		for name, orig := range c.Original.Facets {
			after, ok := c.Corrected.Facets[name]
			switch {
			case !ok:
				changed[name] = "removed"
			case !sameFacet(orig, after):
				changed[name] = "edited"
			}
		}
		for name := range c.Corrected.Facets {
			if _, ok := c.Original.Facets[name]; !ok {
				changed[name] = "added"
			}
		}
	} else {
		// Rationale-only rejection: attribute to every facet the round
		// flagged.
		for _, ev := range c.Evaluations {
			if ev == nil || ev.Degraded {
				continue
			}
			for _, issue := range ev.Issues {
				if _, ok := changed[issue.TargetFacet]; !ok {
					changed[issue.TargetFacet] = "rejected"
				}
			}
		}
	}

	for name := range changed {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]facetCorrection, 0, len(names))
	for _, name := range names {
		category, evaluatorID, dimension, flagged := attributeIssue(c.Evaluations, name)

		fc := facetCorrection{
			facet:    name,
			category: category,
			summary:  fmt.Sprintf("facet %q %s by reviewer", name, changed[name]),
		}
		if c.Rationale != "" {
			fc.summary += ": " + canonicalize.NormalizeText(c.Rationale)
		}

		if flagged {
			// An evaluator saw the problem but the round still shipped it:
			// raise that dimension's weight so the verdict counts for more.
			fc.delta = contracts.StrategyDelta{
				EvaluatorID:       evaluatorID,
				WeightAdjustments: map[string]float64{dimension: weightStep},
				Reason:            fmt.Sprintf("evaluator flagged %q on facet %q but consensus shipped it", category, name),
			}
		} else if id, ok := mostConfidentEvaluator(c.Evaluations); ok {
			// Nobody flagged it: trust the loudest endorser a little less.
			fc.delta = contracts.StrategyDelta{
				EvaluatorID:          id,
				ConfidenceTrustDelta: -trustStep,
				Reason:               fmt.Sprintf("facet %q needed human correction no evaluator caught", name),
			}
		}
		out = append(out, fc)
	}
	return out
}

// attributeIssue finds the most severe recorded issue for a facet.
func attributeIssue(evaluations []*contracts.Evaluation, facet string) (category, evaluatorID, dimension string, found bool) {
	best := -1.0
	category = "uncaught"
	for _, ev := range evaluations {
		if ev == nil || ev.Degraded {
			continue
		}
		for _, issue := range ev.Issues {
			if issue.TargetFacet != facet || issue.Severity <= best {
				continue
			}
			best = issue.Severity
			category = issue.Category
			evaluatorID = ev.EvaluatorID
			dimension = ev.Dimension
			found = true
		}
	}
	return category, evaluatorID, dimension, found
}

// mostConfidentEvaluator picks the active evaluator with the highest
// trusted confidence, ties broken by id for determinism.
func mostConfidentEvaluator(evaluations []*contracts.Evaluation) (string, bool) {
	bestID := ""
	best := -1.0
	for _, ev := range evaluations {
		if ev == nil || ev.Degraded {
			continue
		}
		if ev.Confidence > best || (ev.Confidence == best && ev.EvaluatorID < bestID) {
			best = ev.Confidence
			bestID = ev.EvaluatorID
		}
	}
	return bestID, bestID != ""
}

// sameFacet compares two facet values by canonical hash.
func sameFacet(a, b contracts.Facet) bool {
	ha, errA := canonicalize.Hash(a)
	hb, errB := canonicalize.Hash(b)
	if errA != nil || errB != nil {
		return false
	}
	return ha == hb
}
