// Package evaluator defines the quality-dimension evaluator contract and
// its registry.
//
// An evaluator judges one dimension of a content artifact. Evaluate must
// be a pure function of (artifact, strategy): no hidden state, so the
// same inputs always reproduce the same verdict. Failures are expressed
// through the returned error; the session turns them into degraded
// evaluation records rather than letting them kill a round.
package evaluator

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/accordhq/accord/pkg/contracts"
)

// Dimension names required by the built-in evaluator set.
const (
	DimensionTechnicalAccuracy        = "technical_accuracy"
	DimensionVisualQuality            = "visual_quality"
	DimensionPedagogicalEffectiveness = "pedagogical_effectiveness"
	DimensionObjectiveAlignment       = "objective_alignment"
)

// Evaluator is the capability interface every quality judge implements.
type Evaluator interface {
	// ID returns the stable evaluator identifier (e.g. "builtin-technical").
	ID() string

	// Dimension returns the quality dimension this evaluator covers.
	Dimension() string

	// Evaluate judges one artifact. It MUST be deterministic for a
	// fixed (artifact, strategy) pair.
	Evaluate(ctx context.Context, artifact *contracts.ContentArtifact, strategy contracts.Strategy) (*contracts.Evaluation, error)

	// EvaluatePeers reviews the other evaluators' verdicts on the same
	// artifact and returns one cross-evaluation per peer.
	EvaluatePeers(ctx context.Context, artifact *contracts.ContentArtifact, own *contracts.Evaluation, others []*contracts.Evaluation) ([]*contracts.CrossEvaluation, error)
}

func newEvaluationID() string { return uuid.New().String() }

// FacetText returns the text a judge should inspect for a facet: the
// inline content when present, otherwise the stored summary.
func FacetText(f contracts.Facet) string {
	if len(f.Content) > 0 {
		return string(f.Content)
	}
	return f.Summary
}

// Degraded builds the evaluation record for an evaluator that failed,
// timed out, or reported confidence under the floor. Degraded records
// are excluded from aggregation but stay in the round history.
func Degraded(evaluatorID, dimension string, artifact *contracts.ContentArtifact, kind contracts.FailureKind, reason string) *contracts.Evaluation {
	ev := &contracts.Evaluation{
		EvaluationID:   newEvaluationID(),
		EvaluatorID:    evaluatorID,
		Dimension:      dimension,
		Degraded:       true,
		DegradedReason: string(kind) + ": " + reason,
	}
	if artifact != nil {
		ev.ArtifactID = artifact.ArtifactID
		ev.ArtifactVersion = artifact.Version
	}
	return ev
}

// ClassifyFailure maps an evaluator error to its failure kind.
func ClassifyFailure(err error) contracts.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return contracts.FailureTimeout
	}
	return contracts.FailureError
}
