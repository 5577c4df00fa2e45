package contracts

import (
	"errors"
	"fmt"
)

// Sentinel errors of the engine's failure taxonomy. Components wrap these
// with context; callers match with errors.Is.
var (
	// ErrEvaluatorFailure marks a single evaluator error, timeout, or
	// below-floor confidence. Absorbed inside the round: the evaluator
	// is excluded from aggregation and recorded as degraded.
	ErrEvaluatorFailure = errors.New("evaluator failure")

	// ErrInconclusiveRound marks a round in which a strict majority of
	// registered evaluators degraded. Escalated immediately, not retried.
	ErrInconclusiveRound = errors.New("inconclusive round")

	// ErrSynthesisConflict marks directives competing for one facet.
	// Always resolved inside synthesis; callers never see it.
	ErrSynthesisConflict = errors.New("synthesis conflict")

	// ErrEscalationTimeout marks an unresponsive human gateway. The
	// session fails and the alerting collaborator is notified.
	ErrEscalationTimeout = errors.New("escalation timeout")

	// ErrLearningStoreConflict marks a lost compare-and-swap race on a
	// strategy write. Retried a bounded number of times, then skipped;
	// content decisions never block on learning writes.
	ErrLearningStoreConflict = errors.New("learning store conflict")
)

// FailureKind classifies why an evaluator degraded.
type FailureKind string

const (
	FailureError         FailureKind = "error"
	FailureTimeout       FailureKind = "timeout"
	FailureLowConfidence FailureKind = "low_confidence"
)

// EvaluatorError records one evaluator's degraded classification for one
// round. It matches ErrEvaluatorFailure under errors.Is.
type EvaluatorError struct {
	EvaluatorID string
	Kind        FailureKind
	Err         error
}

func (e *EvaluatorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evaluator %s degraded (%s): %v", e.EvaluatorID, e.Kind, e.Err)
	}
	return fmt.Sprintf("evaluator %s degraded (%s)", e.EvaluatorID, e.Kind)
}

func (e *EvaluatorError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrEvaluatorFailure, e.Err}
	}
	return []error{ErrEvaluatorFailure}
}
