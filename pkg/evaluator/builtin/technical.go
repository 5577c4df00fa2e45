package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/evaluator"
)

// Technical flags the mechanical defects that reliably mark broken
// content: unbalanced code fences, placeholder text, unfinished-work
// markers, unresolved template expressions.
type Technical struct{ base }

func NewTechnical() *Technical {
	return &Technical{newBase("builtin-technical", evaluator.DimensionTechnicalAccuracy)}
}

type technicalDetail struct {
	FenceDefects        int `json:"fence_defects"`
	Placeholders        int `json:"placeholders"`
	UnfinishedMarkers   int `json:"unfinished_markers"`
	UnresolvedTemplates int `json:"unresolved_templates"`
}

func (t *Technical) Evaluate(_ context.Context, artifact *contracts.ContentArtifact, _ contracts.Strategy) (*contracts.Evaluation, error) {
	if artifact == nil {
		return nil, errors.New("builtin-technical: nil artifact")
	}

	var issues []contracts.Issue
	var detail technicalDetail
	for _, name := range artifact.FacetNames() {
		text := evaluator.FacetText(artifact.Facets[name])
		if text == "" {
			continue
		}

		if !fenceBalanced(text) {
			detail.FenceDefects++
			issues = append(issues, contracts.Issue{
				TargetFacet:     name,
				Severity:        0.8,
				Category:        "broken-code-fence",
				Description:     "code fence opened but never closed",
				SuggestedAction: contracts.ActionRewrite,
			})
		}
		if n := countMarkers(text, "lorem ipsum") + strings.Count(text, "TBD"); n > 0 {
			detail.Placeholders += n
			issues = append(issues, contracts.Issue{
				TargetFacet:     name,
				Severity:        0.7,
				Category:        "placeholder-content",
				Description:     fmt.Sprintf("%d placeholder fragments left in the text", n),
				SuggestedAction: contracts.ActionRewrite,
			})
		}
		if n := strings.Count(text, "TODO") + strings.Count(text, "FIXME"); n > 0 {
			detail.UnfinishedMarkers += n
			issues = append(issues, contracts.Issue{
				TargetFacet:     name,
				Severity:        0.5,
				Category:        "unfinished-work",
				Description:     fmt.Sprintf("%d unfinished-work markers remain", n),
				SuggestedAction: contracts.ActionAdjust,
			})
		}
		if n := unresolvedTemplateCount(text); n > 0 {
			detail.UnresolvedTemplates += n
			issues = append(issues, contracts.Issue{
				TargetFacet:     name,
				Severity:        0.6,
				Category:        "unresolved-template",
				Description:     fmt.Sprintf("%d template expressions never expanded", n),
				SuggestedAction: contracts.ActionAdjust,
			})
		}
	}

	return t.verdict(artifact, issues, confidenceFor(len(artifactText(artifact))), detail), nil
}
