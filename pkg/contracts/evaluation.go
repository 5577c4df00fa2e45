package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Evaluation is the verdict of one evaluator on one artifact version in
// one round. Produced exactly once per evaluator per round; never mutated.
type Evaluation struct {
	EvaluationID string `json:"evaluation_id"`
	EvaluatorID  string `json:"evaluator_id"`

	// Dimension is the quality dimension this verdict covers.
	Dimension string `json:"dimension"`

	ArtifactID      string `json:"artifact_id"`
	ArtifactVersion int    `json:"artifact_version"`
	Round           int    `json:"round"`

	// Score is the dimension score in [0,1].
	Score float64 `json:"score"`

	// Confidence in [0,1] is the evaluator's own certainty. It gates
	// degraded classification and weights issue ranking during synthesis.
	Confidence float64 `json:"confidence"`

	// Issues are ordered most severe first.
	Issues []Issue `json:"issues,omitempty"`

	// RawDetail carries evaluator-specific diagnostics verbatim.
	RawDetail json.RawMessage `json:"raw_detail,omitempty"`

	// Degraded marks an evaluation excluded from aggregation because the
	// evaluator errored, timed out, or reported confidence below the
	// configured floor. Degraded evaluations stay in the round record.
	Degraded       bool   `json:"degraded,omitempty"`
	DegradedReason string `json:"degraded_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Issue is one concrete problem an evaluator found.
type Issue struct {
	// TargetFacet names the artifact facet the issue concerns.
	TargetFacet string `json:"target_facet"`

	// Location pinpoints the problem inside the facet, free-form
	// ("paragraph 3", "frame 12", "node intro/2").
	Location string `json:"location,omitempty"`

	// Severity in [0,1]; 1 means the facet is unusable as-is.
	Severity float64 `json:"severity"`

	// Category is a stable machine key ("factual-error", "low-contrast",
	// "pacing"). Pattern mining groups human corrections by it.
	Category string `json:"category"`

	Description string `json:"description"`

	// SuggestedAction is the fix the evaluator proposes for the facet.
	SuggestedAction ActionKind `json:"suggested_action,omitempty"`
}

// Validate checks the numeric and referential invariants of an evaluation.
func (e *Evaluation) Validate() error {
	if e == nil {
		return errors.New("nil evaluation")
	}
	if e.EvaluationID == "" {
		return errors.New("missing evaluation_id")
	}
	if e.EvaluatorID == "" {
		return errors.New("missing evaluator_id")
	}
	if e.Dimension == "" {
		return errors.New("missing dimension")
	}
	if e.Score < 0 || e.Score > 1 {
		return fmt.Errorf("evaluation %s: score %v outside [0,1]", e.EvaluationID, e.Score)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("evaluation %s: confidence %v outside [0,1]", e.EvaluationID, e.Confidence)
	}
	for i, issue := range e.Issues {
		if issue.TargetFacet == "" {
			return fmt.Errorf("evaluation %s: issue %d missing target_facet", e.EvaluationID, i)
		}
		if issue.Severity < 0 || issue.Severity > 1 {
			return fmt.Errorf("evaluation %s: issue %d severity %v outside [0,1]", e.EvaluationID, i, issue.Severity)
		}
	}
	return nil
}

// CrossEvaluation is one evaluator's appraisal of a peer's Evaluation,
// produced during the cross-critique phase. ReviewerID and ReviewedID
// reference the two evaluations; the round record owns the result.
type CrossEvaluation struct {
	ReviewID string `json:"review_id"`

	// ReviewerID is the evaluation id of the reviewer's own verdict;
	// ReviewedID is the evaluation id under review.
	ReviewerID string `json:"reviewer_id"`
	ReviewedID string `json:"reviewed_id"`

	// Evaluator ids, denormalized so aggregation never has to join back
	// through the evaluation set.
	ReviewerEvaluatorID string `json:"reviewer_evaluator_id"`
	ReviewedEvaluatorID string `json:"reviewed_evaluator_id"`

	Round int `json:"round"`

	// Agreement in [0,1]; 1 fully endorses the reviewed evaluation.
	Agreement float64 `json:"agreement"`

	// Rebuttals are specific objections, empty when in agreement.
	Rebuttals []string `json:"rebuttals,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the referential and numeric invariants of a critique.
func (c *CrossEvaluation) Validate() error {
	if c == nil {
		return errors.New("nil cross-evaluation")
	}
	if c.ReviewerID == "" || c.ReviewedID == "" {
		return errors.New("cross-evaluation must reference two evaluations")
	}
	if c.ReviewerID == c.ReviewedID {
		return fmt.Errorf("cross-evaluation %s reviews itself", c.ReviewID)
	}
	if c.Agreement < 0 || c.Agreement > 1 {
		return fmt.Errorf("cross-evaluation %s: agreement %v outside [0,1]", c.ReviewID, c.Agreement)
	}
	return nil
}
