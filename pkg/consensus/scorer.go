// Package consensus aggregates one round's evaluations into a single
// weighted score and agreement index.
//
// Scoring is a pure function of its inputs: evaluations, critiques, and
// the session's strategy snapshot. The scorer sorts everything it sums,
// so identical inputs produce byte-identical canonical results no matter
// what order the fan-in delivered them.
package consensus

import (
	"errors"
	"fmt"
	"sort"

	"github.com/accordhq/accord/pkg/canonicalize"
	"github.com/accordhq/accord/pkg/contracts"
)

// Scorer computes ConsensusResults for rounds.
type Scorer struct {
	consensusThreshold float64
	qualityThreshold   float64

	// defaultWeights are per-dimension defaults from the engine profile;
	// strategies override them per evaluator. May be nil, in which case
	// every dimension starts from a uniform share.
	defaultWeights map[string]float64
}

// NewScorer creates a scorer with the given convergence thresholds.
func NewScorer(consensusThreshold, qualityThreshold float64, defaultWeights map[string]float64) *Scorer {
	return &Scorer{
		consensusThreshold: consensusThreshold,
		qualityThreshold:   qualityThreshold,
		defaultWeights:     defaultWeights,
	}
}

// Score aggregates one round. evaluations must hold every registered
// evaluator's entry, degraded ones included; only active entries feed the
// aggregates. strategies is the session-start snapshot keyed by
// evaluator id.
func (s *Scorer) Score(
	round int,
	artifact *contracts.ContentArtifact,
	evaluations []*contracts.Evaluation,
	critiques []*contracts.CrossEvaluation,
	strategies map[string]contracts.Strategy,
) (*contracts.ConsensusResult, error) {
	if len(evaluations) == 0 {
		return nil, errors.New("consensus: no evaluations to score")
	}

	active := make([]*contracts.Evaluation, 0, len(evaluations))
	var degradedIDs []string
	for _, ev := range evaluations {
		if ev == nil {
			return nil, errors.New("consensus: nil evaluation")
		}
		if ev.Degraded {
			degradedIDs = append(degradedIDs, ev.EvaluatorID)
			continue
		}
		if err := ev.Validate(); err != nil {
			return nil, fmt.Errorf("consensus: %w", err)
		}
		active = append(active, ev)
	}

	// Fixed iteration order regardless of fan-in arrival.
	sort.Slice(active, func(i, j int) bool { return active[i].EvaluatorID < active[j].EvaluatorID })
	sort.Strings(degradedIDs)

	activeIDs := make([]string, len(active))
	for i, ev := range active {
		activeIDs[i] = ev.EvaluatorID
	}

	result := &contracts.ConsensusResult{
		Round:              round,
		PerDimension:       make(map[string]float64),
		ActiveEvaluators:   activeIDs,
		DegradedEvaluators: degradedIDs,
		// A strict majority of degraded evaluators leaves no basis for
		// machine consensus; exactly half still proceeds.
		Inconclusive: len(degradedIDs)*2 > len(evaluations),
	}
	if artifact != nil {
		result.ArtifactID = artifact.ArtifactID
		result.ArtifactVersion = artifact.Version
	}

	if len(active) > 0 {
		result.WeightedScore = s.weightedScore(active, strategies, result.PerDimension)
		result.AgreementIndex = agreementIndex(active, critiques)
		result.Converged = result.AgreementIndex >= s.consensusThreshold &&
			result.WeightedScore >= s.qualityThreshold
	}
	if result.Inconclusive {
		result.Converged = false
	}

	hash, err := canonicalize.Hash(result)
	if err != nil {
		return nil, fmt.Errorf("consensus: hash result: %w", err)
	}
	result.ContentHash = hash
	return result, nil
}

// weightedScore fills perDimension and returns the normalized
// strategy-weighted mean. active must be sorted and non-empty.
func (s *Scorer) weightedScore(active []*contracts.Evaluation, strategies map[string]contracts.Strategy, perDimension map[string]float64) float64 {
	// A dimension scored by several evaluators contributes its mean.
	dimTotals := make(map[string]float64)
	dimCounts := make(map[string]int)
	for _, ev := range active {
		dimTotals[ev.Dimension] += ev.Score
		dimCounts[ev.Dimension]++
	}
	for dim, total := range dimTotals {
		perDimension[dim] = total / float64(dimCounts[dim])
	}

	uniform := 1.0 / float64(len(active))

	var weightSum, scoreSum float64
	for _, ev := range active {
		def := uniform
		if d, ok := s.defaultWeights[ev.Dimension]; ok && d > 0 {
			def = d
		}
		w := strategies[ev.EvaluatorID].EffectiveWeight(ev.Dimension, def)
		weightSum += w
		scoreSum += w * ev.Score
	}
	if weightSum == 0 {
		// All weights tuned to zero; fall back to the plain mean rather
		// than dividing by zero.
		var sum float64
		for _, ev := range active {
			sum += ev.Score
		}
		return sum / float64(len(active))
	}
	return scoreSum / weightSum
}

// agreementIndex is the mean pairwise critique agreement over pairs whose
// evaluators are both active. Before cross-critique it is 0, so a first
// pass never converges without corroboration. A lone active evaluator
// vouches for itself with its own confidence.
func agreementIndex(active []*contracts.Evaluation, critiques []*contracts.CrossEvaluation) float64 {
	if len(active) == 1 {
		return active[0].Confidence
	}

	activeSet := make(map[string]bool, len(active))
	for _, ev := range active {
		activeSet[ev.EvaluatorID] = true
	}

	pairs := make([]*contracts.CrossEvaluation, 0, len(critiques))
	for _, c := range critiques {
		if c == nil {
			continue
		}
		if !activeSet[c.ReviewerEvaluatorID] || !activeSet[c.ReviewedEvaluatorID] {
			continue
		}
		pairs = append(pairs, c)
	}
	if len(pairs) == 0 {
		return 0
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].ReviewerEvaluatorID != pairs[j].ReviewerEvaluatorID {
			return pairs[i].ReviewerEvaluatorID < pairs[j].ReviewerEvaluatorID
		}
		return pairs[i].ReviewedEvaluatorID < pairs[j].ReviewedEvaluatorID
	})

	var sum float64
	for _, c := range pairs {
		sum += c.Agreement
	}
	return sum / float64(len(pairs))
}

// Rescore recomputes a stored round from its recorded inputs and reports
// whether the stored result still matches, by content hash. Auditors use
// it to prove a ConsensusResult was derived from its inputs.
func (s *Scorer) Rescore(
	stored *contracts.ConsensusResult,
	artifact *contracts.ContentArtifact,
	evaluations []*contracts.Evaluation,
	critiques []*contracts.CrossEvaluation,
	strategies map[string]contracts.Strategy,
) (bool, error) {
	fresh, err := s.Score(stored.Round, artifact, evaluations, critiques, strategies)
	if err != nil {
		return false, err
	}
	return fresh.ContentHash == stored.ContentHash, nil
}
