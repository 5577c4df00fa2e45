package evaluator

import "github.com/accordhq/accord/pkg/contracts"

// ArtifactView is the artifact projection handed to external judges.
// Facet bodies ride inline when small; external payloads are
// represented by their summary and digest.
type ArtifactView struct {
	ArtifactID string      `json:"artifact_id"`
	Version    int         `json:"version"`
	Facets     []FacetView `json:"facets"`
}

type FacetView struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Text        string `json:"text,omitempty"`
	PayloadRef  string `json:"payload_ref,omitempty"`
}

// VerdictView is the peer-verdict projection used in cross-critique
// requests.
type VerdictView struct {
	EvaluatorID string            `json:"evaluator_id"`
	Dimension   string            `json:"dimension"`
	Score       float64           `json:"score"`
	Confidence  float64           `json:"confidence"`
	Issues      []contracts.Issue `json:"issues,omitempty"`
}

// View projects an artifact for a judge, facets in name order.
func View(artifact *contracts.ContentArtifact) ArtifactView {
	view := ArtifactView{
		ArtifactID: artifact.ArtifactID,
		Version:    artifact.Version,
	}
	for _, name := range artifact.FacetNames() {
		f := artifact.Facets[name]
		fv := FacetView{Name: name, ContentType: f.ContentType}
		if len(f.Content) > 0 {
			fv.Text = string(f.Content)
		} else {
			fv.Text = f.Summary
			fv.PayloadRef = f.PayloadRef
		}
		view.Facets = append(view.Facets, fv)
	}
	return view
}

// VerdictViewOf projects an evaluation for a cross-critique request.
func VerdictViewOf(eval *contracts.Evaluation) VerdictView {
	return VerdictView{
		EvaluatorID: eval.EvaluatorID,
		Dimension:   eval.Dimension,
		Score:       eval.Score,
		Confidence:  eval.Confidence,
		Issues:      eval.Issues,
	}
}
