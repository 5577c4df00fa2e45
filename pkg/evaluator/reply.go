package evaluator

import (
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/accordhq/accord/pkg/contracts"
)

// VerdictReply is the wire shape every external judge, model-backed or
// sandboxed, returns from an evaluation pass.
type VerdictReply struct {
	Score      float64      `json:"score"`
	Confidence float64      `json:"confidence"`
	Issues     []IssueReply `json:"issues"`
}

type IssueReply struct {
	TargetFacet     string  `json:"target_facet"`
	Location        string  `json:"location"`
	Severity        float64 `json:"severity"`
	Category        string  `json:"category"`
	Description     string  `json:"description"`
	SuggestedAction string  `json:"suggested_action"`
}

// PeerReviewsReply is the wire shape of a cross-critique pass.
type PeerReviewsReply struct {
	Reviews []PeerReviewReply `json:"reviews"`
}

type PeerReviewReply struct {
	EvaluatorID string   `json:"evaluator_id"`
	Agreement   float64  `json:"agreement"`
	Rebuttals   []string `json:"rebuttals"`
}

// DecodeVerdict validates raw against schema and decodes it.
func DecodeVerdict(schema *jsonschema.Schema, raw []byte) (*VerdictReply, error) {
	if err := validateJSON(schema, raw); err != nil {
		return nil, err
	}
	var verdict VerdictReply
	if err := json.Unmarshal(raw, &verdict); err != nil {
		return nil, err
	}
	return &verdict, nil
}

// DecodePeerReviews validates raw against schema and decodes it.
func DecodePeerReviews(schema *jsonschema.Schema, raw []byte) (*PeerReviewsReply, error) {
	if err := validateJSON(schema, raw); err != nil {
		return nil, err
	}
	var reviews PeerReviewsReply
	if err := json.Unmarshal(raw, &reviews); err != nil {
		return nil, err
	}
	return &reviews, nil
}

func validateJSON(schema *jsonschema.Schema, raw []byte) error {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	return schema.Validate(decoded)
}

// MapVerdict builds the evaluation record for a judge's decoded reply.
// The full raw reply rides along in RawDetail for audit.
func MapVerdict(v *VerdictReply, evaluatorID, dimension string, artifact *contracts.ContentArtifact, evaluationID string, at time.Time, raw json.RawMessage) *contracts.Evaluation {
	eval := &contracts.Evaluation{
		EvaluationID:    evaluationID,
		EvaluatorID:     evaluatorID,
		Dimension:       dimension,
		ArtifactID:      artifact.ArtifactID,
		ArtifactVersion: artifact.Version,
		Score:           v.Score,
		Confidence:      v.Confidence,
		RawDetail:       raw,
		CreatedAt:       at,
	}
	for _, issue := range v.Issues {
		eval.Issues = append(eval.Issues, contracts.Issue{
			TargetFacet:     issue.TargetFacet,
			Location:        issue.Location,
			Severity:        issue.Severity,
			Category:        issue.Category,
			Description:     issue.Description,
			SuggestedAction: contracts.ActionKind(issue.SuggestedAction),
		})
	}
	sort.SliceStable(eval.Issues, func(i, j int) bool {
		return eval.Issues[i].Severity > eval.Issues[j].Severity
	})
	return eval
}

// MapPeerReviews turns decoded reviews into cross-evaluation records.
// Reviews naming evaluators outside the peer set are dropped with a
// warning; the judge being reviewed must exist in others.
func MapPeerReviews(reviews *PeerReviewsReply, reviewerID string, own *contracts.Evaluation, others []*contracts.Evaluation, newID func() string, at time.Time) []*contracts.CrossEvaluation {
	byEvaluator := make(map[string]*contracts.Evaluation, len(others))
	for _, other := range others {
		byEvaluator[other.EvaluatorID] = other
	}

	out := make([]*contracts.CrossEvaluation, 0, len(reviews.Reviews))
	for _, review := range reviews.Reviews {
		peer, ok := byEvaluator[review.EvaluatorID]
		if !ok {
			slog.Warn("evaluator: peer review names unknown evaluator",
				"reviewer", reviewerID, "named", review.EvaluatorID)
			continue
		}
		out = append(out, &contracts.CrossEvaluation{
			ReviewID:            newID(),
			ReviewerID:          own.EvaluationID,
			ReviewedID:          peer.EvaluationID,
			ReviewerEvaluatorID: reviewerID,
			ReviewedEvaluatorID: peer.EvaluatorID,
			Round:               own.Round,
			Agreement:           review.Agreement,
			Rebuttals:           review.Rebuttals,
			CreatedAt:           at,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReviewedEvaluatorID < out[j].ReviewedEvaluatorID
	})
	return out
}
