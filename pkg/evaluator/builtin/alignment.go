package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/evaluator"
)

// Alignment checks the artifact body against the declared objectives.
// Objectives live in a facet named "objectives", one per line; an
// objective counts as addressed when enough of its vocabulary shows up
// in the rest of the artifact.
type Alignment struct{ base }

func NewAlignment() *Alignment {
	return &Alignment{newBase("builtin-alignment", evaluator.DimensionObjectiveAlignment)}
}

const (
	// ObjectivesFacet is the facet the alignment judge reads goals from.
	ObjectivesFacet = "objectives"

	// coverageFloor is the token-coverage share at which an objective
	// counts as addressed.
	coverageFloor = 0.6
)

type alignmentDetail struct {
	Objectives int `json:"objectives"`
	Covered    int `json:"covered"`
}

func (a *Alignment) Evaluate(_ context.Context, artifact *contracts.ContentArtifact, _ contracts.Strategy) (*contracts.Evaluation, error) {
	if artifact == nil {
		return nil, errors.New("builtin-alignment: nil artifact")
	}

	objectives := objectiveLines(evaluator.FacetText(artifact.Facets[ObjectivesFacet]))
	if len(objectives) == 0 {
		// Nothing to align against. Middling score, low confidence, and
		// a request to declare objectives.
		eval := a.verdict(artifact, []contracts.Issue{{
			TargetFacet:     ObjectivesFacet,
			Severity:        0.3,
			Category:        "missing-objectives",
			Description:     "artifact declares no objectives to align against",
			SuggestedAction: contracts.ActionAdd,
		}}, 0.3, alignmentDetail{})
		eval.Score = 0.5
		return eval, nil
	}

	var body strings.Builder
	for _, name := range artifact.FacetNames() {
		if name == ObjectivesFacet {
			continue
		}
		body.WriteString(evaluator.FacetText(artifact.Facets[name]))
		body.WriteString("\n")
	}
	bodyTokens := tokens(body.String())
	target := primaryFacet(artifact, ObjectivesFacet)

	detail := alignmentDetail{Objectives: len(objectives)}
	var issues []contracts.Issue
	for _, objective := range objectives {
		if coverage(objective, bodyTokens) >= coverageFloor {
			detail.Covered++
			continue
		}
		issues = append(issues, contracts.Issue{
			TargetFacet:     target,
			Severity:        0.7,
			Category:        "unaddressed-objective",
			Description:     fmt.Sprintf("objective %q is not addressed by the content", objective),
			SuggestedAction: contracts.ActionAdd,
		})
	}

	eval := a.verdict(artifact, issues, confidenceFor(body.Len()), detail)
	eval.Score = float64(detail.Covered) / float64(detail.Objectives)
	return eval, nil
}

// objectiveLines splits the objectives facet into individual objectives,
// dropping list markers and blank lines.
func objectiveLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. \t")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// primaryFacet returns the facet carrying the most text, the natural
// home for content the artifact is missing. Ties go to the lexically
// first name.
func primaryFacet(a *contracts.ContentArtifact, skip string) string {
	best := ""
	bestLen := -1
	for _, name := range a.FacetNames() {
		if name == skip {
			continue
		}
		if l := len(evaluator.FacetText(a.Facets[name])); l > bestLen {
			best, bestLen = name, l
		}
	}
	if best == "" {
		return skip
	}
	return best
}
