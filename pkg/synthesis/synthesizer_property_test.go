//go:build property
// +build property

// Package synthesis_test contains property-based tests for directive
// conflict-freedom.
package synthesis_test

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/synthesis"
)

var propertyActions = []contracts.ActionKind{
	contracts.ActionRewrite,
	contracts.ActionAdjust,
	contracts.ActionRemove,
	contracts.ActionAdd,
}

var propertyFacets = []string{"intro", "diagram", "code", "summary"}

func buildEvaluations(severities []float64, actionPicks, facetPicks []int) []*contracts.Evaluation {
	evals := make([]*contracts.Evaluation, 0, len(severities))
	for i, sev := range severities {
		evals = append(evals, &contracts.Evaluation{
			EvaluationID: fmt.Sprintf("ev-%d", i),
			EvaluatorID:  fmt.Sprintf("eval-%d", i),
			Dimension:    "technical_accuracy",
			Score:        0.5,
			Confidence:   0.5 + sev/2,
			Issues: []contracts.Issue{{
				TargetFacet:     propertyFacets[facetPicks[i%len(facetPicks)]%len(propertyFacets)],
				Severity:        sev,
				Category:        "accuracy",
				Description:     fmt.Sprintf("issue %d", i),
				SuggestedAction: propertyActions[actionPicks[i%len(actionPicks)]%len(propertyActions)],
			}},
		})
	}
	return evals
}

// TestDirectivesNeverConflict verifies the core synthesis invariant.
// Property: no two output directives share a facet with different actions
func TestDirectivesNeverConflict(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Same facet always resolves to one action", prop.ForAll(
		func(severities []float64, actionPicks, facetPicks []int, reliabilities []float64) bool {
			reliability := make(map[string]float64, len(reliabilities))
			for i, r := range reliabilities {
				reliability[fmt.Sprintf("eval-%d", i)] = r
			}
			s := synthesis.NewSynthesizer(nil, reliability)

			directives, err := s.Synthesize(1, buildEvaluations(severities, actionPicks, facetPicks), nil)
			if err != nil {
				return false
			}

			actionByFacet := make(map[string]contracts.ActionKind)
			for _, d := range directives {
				if prev, ok := actionByFacet[d.TargetFacet]; ok && prev != d.ActionKind {
					return false
				}
				actionByFacet[d.TargetFacet] = d.ActionKind
			}
			return true
		},
		gen.SliceOfN(8, gen.Float64Range(0, 1)),
		gen.SliceOfN(8, gen.IntRange(0, 100)),
		gen.SliceOfN(8, gen.IntRange(0, 100)),
		gen.SliceOfN(8, gen.Float64Range(0, 1)),
	))

	properties.TestingRun(t)
}

// TestDirectivesOrderedByPriority verifies output ordering is
// monotonically non-increasing in priority.
func TestDirectivesOrderedByPriority(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("Priorities never increase down the list", prop.ForAll(
		func(severities []float64, actionPicks, facetPicks []int) bool {
			s := synthesis.NewSynthesizer(nil, nil)

			directives, err := s.Synthesize(1, buildEvaluations(severities, actionPicks, facetPicks), nil)
			if err != nil {
				return false
			}
			for i := 1; i < len(directives); i++ {
				if directives[i].Priority > directives[i-1].Priority {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(8, gen.Float64Range(0, 1)),
		gen.SliceOfN(8, gen.IntRange(0, 100)),
		gen.SliceOfN(8, gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}
