package builtin

import (
	"context"
	"errors"
	"fmt"

	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/evaluator"
)

// Pedagogical judges teachability of substantial prose facets: worked
// examples present, sentences digestible, long material closed out with
// a recap and practice.
type Pedagogical struct{ base }

func NewPedagogical() *Pedagogical {
	return &Pedagogical{newBase("builtin-pedagogical", evaluator.DimensionPedagogicalEffectiveness)}
}

const (
	// proseFloor is the facet size below which teachability checks
	// would just be noise.
	proseFloor = 400

	// lessonFloor is the size at which material counts as a full lesson
	// and owes the reader a recap and exercises.
	lessonFloor = 1500

	maxMeanSentenceWords = 30
)

type pedagogicalDetail struct {
	FacetsInspected int     `json:"facets_inspected"`
	MissingExamples int     `json:"missing_examples"`
	MeanSentence    float64 `json:"mean_sentence_words"`
	MissingSummary  int     `json:"missing_summary"`
	MissingExercise int     `json:"missing_exercises"`
}

func (p *Pedagogical) Evaluate(_ context.Context, artifact *contracts.ContentArtifact, _ contracts.Strategy) (*contracts.Evaluation, error) {
	if artifact == nil {
		return nil, errors.New("builtin-pedagogical: nil artifact")
	}

	var issues []contracts.Issue
	var detail pedagogicalDetail
	for _, name := range artifact.FacetNames() {
		text := evaluator.FacetText(artifact.Facets[name])
		if len(text) < proseFloor {
			continue
		}
		detail.FacetsInspected++

		if countMarkers(text, "example", "for instance", "```") == 0 {
			detail.MissingExamples++
			issues = append(issues, contracts.Issue{
				TargetFacet:     name,
				Severity:        0.6,
				Category:        "missing-example",
				Description:     "no worked example or illustration in the material",
				SuggestedAction: contracts.ActionAdd,
			})
		}
		if mean := meanSentenceWords(text); mean > maxMeanSentenceWords {
			if mean > detail.MeanSentence {
				detail.MeanSentence = mean
			}
			issues = append(issues, contracts.Issue{
				TargetFacet:     name,
				Severity:        0.5,
				Category:        "dense-prose",
				Description:     fmt.Sprintf("sentences average %.0f words", mean),
				SuggestedAction: contracts.ActionRewrite,
			})
		}

		if len(text) < lessonFloor {
			continue
		}
		if countMarkers(text, "summary", "recap", "key takeaways") == 0 {
			detail.MissingSummary++
			issues = append(issues, contracts.Issue{
				TargetFacet:     name,
				Severity:        0.4,
				Category:        "missing-summary",
				Description:     "long material ends without a recap",
				SuggestedAction: contracts.ActionAdd,
			})
		}
		if countMarkers(text, "exercise", "practice", "try it") == 0 {
			detail.MissingExercise++
			issues = append(issues, contracts.Issue{
				TargetFacet:     name,
				Severity:        0.5,
				Category:        "missing-exercises",
				Description:     "long material offers the reader nothing to practice",
				SuggestedAction: contracts.ActionAdd,
			})
		}
	}

	return p.verdict(artifact, issues, confidenceFor(len(artifactText(artifact))), detail), nil
}
