package contracts

import "time"

// ReviewOutcome is a human verdict on an escalated session.
type ReviewOutcome string

const (
	ReviewApproved ReviewOutcome = "APPROVED"
	ReviewRejected ReviewOutcome = "REJECTED"
)

// ReviewStatus tracks the lifecycle of a review request.
type ReviewStatus string

const (
	ReviewPending ReviewStatus = "PENDING"
	ReviewDecided ReviewStatus = "DECIDED"
	ReviewExpired ReviewStatus = "EXPIRED"
)

// EscalationReason says why a session reached the human gateway.
type EscalationReason string

const (
	// EscalateInconclusive: a strict majority of evaluators degraded in
	// one round, so no machine consensus is possible.
	EscalateInconclusive EscalationReason = "INCONCLUSIVE_ROUND"

	// EscalateIterationBound: the session synthesized max_iterations
	// rounds without converging.
	EscalateIterationBound EscalationReason = "ITERATION_BOUND"

	// EscalateOnConvergence: policy requires human sign-off even for
	// converged artifacts.
	EscalateOnConvergence EscalationReason = "CONVERGED_VALIDATION"
)

// ReviewRequest is everything a reviewer sees when a session escalates.
// The gateway owns the request lifecycle; the orchestrator blocks on the
// decision with a deadline.
type ReviewRequest struct {
	RequestID string           `json:"request_id"`
	SessionID string           `json:"session_id"`
	LineageID string           `json:"lineage_id"`
	Reason    EscalationReason `json:"reason"`

	// Artifact is the version under review.
	Artifact *ContentArtifact `json:"artifact"`

	// Consensus is the last recorded round result, nil when the round
	// never reached scoring.
	Consensus *ConsensusResult `json:"consensus,omitempty"`

	// Evaluations are the round's individual verdicts, degraded included.
	Evaluations []*Evaluation `json:"evaluations,omitempty"`

	Round      int `json:"round"`
	HumanRound int `json:"human_round"`

	Status    ReviewStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// ReviewDecision is the reviewer's answer to a request.
type ReviewDecision struct {
	RequestID string        `json:"request_id"`
	Outcome   ReviewOutcome `json:"outcome"`

	// Rationale is required for rejections; it seeds the next synthesis
	// round and pattern mining.
	Rationale string `json:"rationale,omitempty"`

	// EditedArtifact carries the reviewer's corrected version when the
	// reviewer fixed the content directly instead of describing the fix.
	EditedArtifact *ContentArtifact `json:"edited_artifact,omitempty"`

	ReviewerID string    `json:"reviewer_id"`
	DecidedAt  time.Time `json:"decided_at"`
}

// ReviewReceipt is the immutable proof that a review concluded, produced
// for every terminal request including expirations.
type ReviewReceipt struct {
	ReceiptID  string        `json:"receipt_id"`
	RequestID  string        `json:"request_id"`
	SessionID  string        `json:"session_id"`
	Outcome    ReviewOutcome `json:"outcome,omitempty"`
	ReviewerID string        `json:"reviewer_id,omitempty"`
	TimedOut   bool          `json:"timed_out,omitempty"`

	// ContentHash is the sha256 digest of the canonical request/decision
	// pair.
	ContentHash string `json:"content_hash"`

	CreatedAt time.Time `json:"created_at"`
}
