package builtin

import (
	"context"
	"errors"
	"fmt"

	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/evaluator"
)

// Visual judges presentation: line discipline, heading structure,
// image alt text, paragraph density.
type Visual struct{ base }

func NewVisual() *Visual {
	return &Visual{newBase("builtin-visual", evaluator.DimensionVisualQuality)}
}

const (
	maxLineWidth      = 120
	denseParagraphCap = 600
)

type visualDetail struct {
	OverlongLines   int `json:"overlong_lines"`
	HeadingJumps    int `json:"heading_jumps"`
	BareImages      int `json:"bare_images"`
	DenseParagraphs int `json:"dense_paragraphs"`
}

func (v *Visual) Evaluate(_ context.Context, artifact *contracts.ContentArtifact, _ contracts.Strategy) (*contracts.Evaluation, error) {
	if artifact == nil {
		return nil, errors.New("builtin-visual: nil artifact")
	}

	var issues []contracts.Issue
	var detail visualDetail
	for _, name := range artifact.FacetNames() {
		text := evaluator.FacetText(artifact.Facets[name])
		if text == "" {
			continue
		}

		if n := longLineCount(text, maxLineWidth); n > 0 {
			detail.OverlongLines += n
			issues = append(issues, contracts.Issue{
				TargetFacet:     name,
				Severity:        0.4,
				Category:        "overlong-lines",
				Description:     fmt.Sprintf("%d lines exceed %d characters", n, maxLineWidth),
				SuggestedAction: contracts.ActionAdjust,
			})
		}
		if n := headingJumps(text); n > 0 {
			detail.HeadingJumps += n
			issues = append(issues, contracts.Issue{
				TargetFacet:     name,
				Severity:        0.5,
				Category:        "heading-structure",
				Description:     fmt.Sprintf("%d headings skip a level", n),
				SuggestedAction: contracts.ActionAdjust,
			})
		}
		if n := bareImageCount(text); n > 0 {
			detail.BareImages += n
			issues = append(issues, contracts.Issue{
				TargetFacet:     name,
				Severity:        0.6,
				Category:        "missing-alt-text",
				Description:     fmt.Sprintf("%d images carry no alt text", n),
				SuggestedAction: contracts.ActionAdd,
			})
		}
		if n := denseParagraphCount(text, denseParagraphCap); n > 0 {
			detail.DenseParagraphs += n
			issues = append(issues, contracts.Issue{
				TargetFacet:     name,
				Severity:        0.5,
				Category:        "dense-paragraph",
				Description:     fmt.Sprintf("%d paragraphs run past %d characters without a break", n, denseParagraphCap),
				SuggestedAction: contracts.ActionRewrite,
			})
		}
	}

	return v.verdict(artifact, issues, confidenceFor(len(artifactText(artifact))), detail), nil
}
