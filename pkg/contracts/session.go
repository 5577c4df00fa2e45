package contracts

import "time"

// SessionState is one node of the orchestrator's state machine.
type SessionState string

const (
	StateEvaluating      SessionState = "EVALUATING"
	StateCrossCritiquing SessionState = "CROSS_CRITIQUING"
	StateScoring         SessionState = "SCORING"
	StateConverged       SessionState = "CONVERGED"
	StateSynthesizing    SessionState = "SYNTHESIZING"
	StateImproving       SessionState = "IMPROVING"
	StateEscalating      SessionState = "ESCALATING"
	StateApproved        SessionState = "APPROVED"
	StateRejected        SessionState = "REJECTED"
	StateFailed          SessionState = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s SessionState) Terminal() bool {
	return s == StateApproved || s == StateFailed
}

// SessionOutcome is the terminal result of a consensus session.
type SessionOutcome string

const (
	OutcomeApproved SessionOutcome = "APPROVED"
	OutcomeFailed   SessionOutcome = "FAILED"
)

// EscalationRecord documents one trip through the human gateway.
type EscalationRecord struct {
	RequestID string           `json:"request_id"`
	Reason    EscalationReason `json:"reason"`

	// Round is the consensus round that triggered the escalation.
	Round int `json:"round"`

	// HumanRound counts gateway trips within the session, starting at 1.
	HumanRound int `json:"human_round"`

	Outcome    ReviewOutcome `json:"outcome,omitempty"`
	ReviewerID string        `json:"reviewer_id,omitempty"`
	Rationale  string        `json:"rationale,omitempty"`
	TimedOut   bool          `json:"timed_out,omitempty"`
	Edited     bool          `json:"edited,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	DecidedAt time.Time `json:"decided_at"`
}

// SessionRecord is the durable audit record emitted for every terminal
// session. Records are append-only and retrievable by lineage id; a
// caller inspecting a FAILED session gets the full round history, never a
// bare outcome.
type SessionRecord struct {
	SessionID string         `json:"session_id"`
	LineageID string         `json:"lineage_id"`
	Outcome   SessionOutcome `json:"outcome"`

	// FinalScore is the weighted score of the last recorded round.
	FinalScore float64 `json:"final_score"`

	// FinalVersion is the artifact version the session ended on.
	FinalVersion int `json:"final_version"`

	// Rounds is the complete round history in order.
	Rounds []ConsensusResult `json:"rounds"`

	// Artifacts lists every version the session observed, in order.
	Artifacts []ArtifactRef `json:"artifacts"`

	Escalations []EscalationRecord `json:"escalations,omitempty"`

	// FailureReason is set for FAILED outcomes.
	FailureReason string `json:"failure_reason,omitempty"`

	// ChainHead is the head hash of the session's round ledger, letting
	// auditors verify the history was not rewritten.
	ChainHead string `json:"chain_head,omitempty"`

	// Signature is the ed25519 signature over the canonical form of the
	// record with Signature blank.
	Signature   string `json:"signature,omitempty"`
	SignerKeyID string `json:"signer_key_id,omitempty"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}
