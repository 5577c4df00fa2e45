package contracts

// ConsensusResult is the aggregate verdict for one round. One is produced
// per round and appended to the session's round history; entries are
// never rewritten.
//
// The struct deliberately carries no timestamps and no map-order
// dependent fields: scoring identical inputs twice must yield
// byte-identical canonical JSON.
type ConsensusResult struct {
	Round int `json:"round"`

	// WeightedScore is the strategy-weighted arithmetic mean of the
	// active evaluators' dimension scores.
	WeightedScore float64 `json:"weighted_score"`

	// AgreementIndex is the mean pairwise cross-critique agreement for
	// the round. It is 0 before cross-critique has run; when only one
	// evaluator is active it is that evaluator's own confidence.
	AgreementIndex float64 `json:"agreement_index"`

	// PerDimension maps dimension name to that dimension's score.
	PerDimension map[string]float64 `json:"per_dimension"`

	// Converged is true iff AgreementIndex reached the consensus
	// threshold and WeightedScore reached the quality threshold.
	Converged bool `json:"converged"`

	// Inconclusive marks a round in which a strict majority of the
	// registered evaluators degraded. Inconclusive rounds escalate
	// immediately, whatever the scores say.
	Inconclusive bool `json:"inconclusive,omitempty"`

	ActiveEvaluators   []string `json:"active_evaluators,omitempty"`
	DegradedEvaluators []string `json:"degraded_evaluators,omitempty"`

	ArtifactID      string `json:"artifact_id"`
	ArtifactVersion int    `json:"artifact_version"`

	// ContentHash is the canonical digest of this result computed with
	// the hash field blank. Set by the scorer after aggregation.
	ContentHash string `json:"content_hash,omitempty"`
}

// ActionKind classifies what an improvement directive asks the content
// collaborator to do with a facet.
type ActionKind string

const (
	ActionRewrite ActionKind = "REWRITE"
	ActionAdjust  ActionKind = "ADJUST"
	ActionRemove  ActionKind = "REMOVE"
	ActionAdd     ActionKind = "ADD"
)

// Valid reports whether k is one of the defined action kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionRewrite, ActionAdjust, ActionRemove, ActionAdd:
		return true
	}
	return false
}

// ImprovementDirective is one synthesized instruction for the content
// collaborator. A synthesized list never contains two directives with the
// same TargetFacet and differing ActionKind; synthesis resolves such
// conflicts before returning.
type ImprovementDirective struct {
	DirectiveID string     `json:"directive_id"`
	TargetFacet string     `json:"target_facet"`
	ActionKind  ActionKind `json:"action_kind"`

	// Rationale tells the collaborator why the change is needed.
	Rationale string `json:"rationale"`

	// Priority ranks directives; the list is returned highest first.
	Priority float64 `json:"priority"`

	// SourceEvaluators names the evaluators whose issues produced the
	// directive.
	SourceEvaluators []string `json:"source_evaluators,omitempty"`

	// ResolutionNote records how a conflicting counter-proposal on the
	// same facet was settled, for audit.
	ResolutionNote string `json:"resolution_note,omitempty"`
}
