package builtin

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/accordhq/accord/pkg/contracts"
)

// rebuttalGap is the score divergence past which a judge files a
// written objection alongside its agreement figure.
const rebuttalGap = 0.3

// EvaluatePeers builds this judge's row of the critique mesh. A
// deterministic judge endorses peers whose scores land near its own:
// agreement is 1 minus the score gap.
func (b *base) EvaluatePeers(_ context.Context, _ *contracts.ContentArtifact, own *contracts.Evaluation, others []*contracts.Evaluation) ([]*contracts.CrossEvaluation, error) {
	if own == nil {
		return nil, fmt.Errorf("%s: nil own verdict", b.id)
	}

	out := make([]*contracts.CrossEvaluation, 0, len(others))
	for _, other := range others {
		if other == nil {
			continue
		}
		gap := math.Abs(own.Score - other.Score)
		review := &contracts.CrossEvaluation{
			ReviewID:            b.newID(),
			ReviewerID:          own.EvaluationID,
			ReviewedID:          other.EvaluationID,
			ReviewerEvaluatorID: b.id,
			ReviewedEvaluatorID: other.EvaluatorID,
			Round:               own.Round,
			Agreement:           clamp01(1 - gap),
			CreatedAt:           b.clock(),
		}
		if gap > rebuttalGap {
			review.Rebuttals = []string{fmt.Sprintf(
				"score gap %.2f: %s reports %.2f on %s, own verdict is %.2f",
				gap, other.EvaluatorID, other.Score, other.Dimension, own.Score)}
		}
		out = append(out, review)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReviewedEvaluatorID < out[j].ReviewedEvaluatorID
	})
	return out, nil
}
