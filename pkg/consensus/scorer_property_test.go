//go:build property
// +build property

// Package consensus_test contains property-based tests for scoring determinism.
package consensus_test

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/accordhq/accord/pkg/consensus"
	"github.com/accordhq/accord/pkg/contracts"
)

var propertyDimensions = []string{
	"technical_accuracy",
	"visual_quality",
	"pedagogical_effectiveness",
	"objective_alignment",
}

func buildRound(scores, confidences []float64, degradedMask int, agreements []float64) ([]*contracts.Evaluation, []*contracts.CrossEvaluation) {
	n := len(scores)
	evals := make([]*contracts.Evaluation, 0, n)
	for i := 0; i < n; i++ {
		ev := &contracts.Evaluation{
			EvaluationID: fmt.Sprintf("ev-%d", i),
			EvaluatorID:  fmt.Sprintf("eval-%d", i),
			Dimension:    propertyDimensions[i%len(propertyDimensions)],
			Score:        scores[i],
			Confidence:   confidences[i%len(confidences)],
		}
		if degradedMask&(1<<i) != 0 {
			ev.Degraded = true
			ev.DegradedReason = "timeout"
		}
		evals = append(evals, ev)
	}

	var critiques []*contracts.CrossEvaluation
	k := 0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			critiques = append(critiques, &contracts.CrossEvaluation{
				ReviewID:            fmt.Sprintf("cr-%d-%d", i, j),
				ReviewerID:          fmt.Sprintf("ev-%d", i),
				ReviewedID:          fmt.Sprintf("ev-%d", j),
				ReviewerEvaluatorID: fmt.Sprintf("eval-%d", i),
				ReviewedEvaluatorID: fmt.Sprintf("eval-%d", j),
				Agreement:           agreements[k%len(agreements)],
			})
			k++
		}
	}
	return evals, critiques
}

// TestScoringDeterminism verifies scoring is a pure function of its inputs.
// Property: Score(inputs) == Score(inputs) for any inputs, by content hash
func TestScoringDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	scorer := consensus.NewScorer(0.85, 0.85, nil)

	properties.Property("Scoring is deterministic", prop.ForAll(
		func(scores, confidences, agreements []float64, mask int) bool {
			evals, critiques := buildRound(scores, confidences, mask%16, agreements)

			first, err1 := scorer.Score(1, nil, evals, critiques, nil)
			second, err2 := scorer.Score(1, nil, evals, critiques, nil)

			if err1 != nil && err2 != nil {
				return true // Both fail consistently
			}
			if err1 != nil || err2 != nil {
				return false // Inconsistent failure
			}
			return first.ContentHash == second.ContentHash
		},
		gen.SliceOfN(4, gen.Float64Range(0, 1)),
		gen.SliceOfN(4, gen.Float64Range(0, 1)),
		gen.SliceOfN(12, gen.Float64Range(0, 1)),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

// TestScoringOrderInvariance verifies fan-in arrival order never changes
// the result.
// Property: Score(reverse(inputs)) == Score(inputs), by content hash
func TestScoringOrderInvariance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	scorer := consensus.NewScorer(0.85, 0.85, nil)

	properties.Property("Input order does not matter", prop.ForAll(
		func(scores, confidences, agreements []float64, mask int) bool {
			evals, critiques := buildRound(scores, confidences, mask%16, agreements)

			first, err := scorer.Score(1, nil, evals, critiques, nil)
			if err != nil {
				return true
			}

			for i, j := 0, len(evals)-1; i < j; i, j = i+1, j-1 {
				evals[i], evals[j] = evals[j], evals[i]
			}
			for i, j := 0, len(critiques)-1; i < j; i, j = i+1, j-1 {
				critiques[i], critiques[j] = critiques[j], critiques[i]
			}

			second, err := scorer.Score(1, nil, evals, critiques, nil)
			if err != nil {
				return false
			}
			return first.ContentHash == second.ContentHash
		},
		gen.SliceOfN(4, gen.Float64Range(0, 1)),
		gen.SliceOfN(4, gen.Float64Range(0, 1)),
		gen.SliceOfN(12, gen.Float64Range(0, 1)),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

// TestConvergenceRequiresBothThresholds verifies a round only converges
// when both thresholds hold and the round is conclusive.
func TestConvergenceRequiresBothThresholds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	scorer := consensus.NewScorer(0.85, 0.85, nil)

	properties.Property("Converged implies both thresholds", prop.ForAll(
		func(scores, confidences, agreements []float64, mask int) bool {
			evals, critiques := buildRound(scores, confidences, mask%16, agreements)

			result, err := scorer.Score(1, nil, evals, critiques, nil)
			if err != nil {
				return true
			}

			if result.Converged {
				return result.WeightedScore >= 0.85 &&
					result.AgreementIndex >= 0.85 &&
					!result.Inconclusive
			}
			return result.WeightedScore < 0.85 ||
				result.AgreementIndex < 0.85 ||
				result.Inconclusive
		},
		gen.SliceOfN(4, gen.Float64Range(0, 1)),
		gen.SliceOfN(4, gen.Float64Range(0, 1)),
		gen.SliceOfN(12, gen.Float64Range(0, 1)),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

// TestScoreBounds verifies aggregates stay inside the unit interval when
// every input does.
func TestScoreBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	scorer := consensus.NewScorer(0.85, 0.85, nil)

	properties.Property("Aggregates stay in [0, 1]", prop.ForAll(
		func(scores, confidences, agreements []float64, mask int) bool {
			evals, critiques := buildRound(scores, confidences, mask%16, agreements)

			result, err := scorer.Score(1, nil, evals, critiques, nil)
			if err != nil {
				return true
			}
			if result.WeightedScore < 0 || result.WeightedScore > 1 {
				return false
			}
			return result.AgreementIndex >= 0 && result.AgreementIndex <= 1
		},
		gen.SliceOfN(4, gen.Float64Range(0, 1)),
		gen.SliceOfN(4, gen.Float64Range(0, 1)),
		gen.SliceOfN(12, gen.Float64Range(0, 1)),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

// TestDegradedMajorityAlwaysInconclusive verifies a degraded strict
// majority forces an inconclusive, non-converged round.
func TestDegradedMajorityAlwaysInconclusive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	scorer := consensus.NewScorer(0.85, 0.85, nil)

	// Masks with three or four bits set out of four.
	majorityMasks := []int{7, 11, 13, 14, 15}

	properties.Property("Degraded majority never converges", prop.ForAll(
		func(scores, confidences, agreements []float64, pick int) bool {
			mask := majorityMasks[pick%len(majorityMasks)]
			evals, critiques := buildRound(scores, confidences, mask, agreements)

			result, err := scorer.Score(1, nil, evals, critiques, nil)
			if err != nil {
				return true
			}
			return result.Inconclusive && !result.Converged
		},
		gen.SliceOfN(4, gen.Float64Range(0, 1)),
		gen.SliceOfN(4, gen.Float64Range(0, 1)),
		gen.SliceOfN(12, gen.Float64Range(0, 1)),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
