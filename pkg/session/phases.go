package session

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/evaluator"
)

// evaluatePhase fans out to every registered evaluator concurrently,
// each under its own deadline inside the phase deadline, and collects
// one evaluation per evaluator. There is no short-circuiting: the phase
// returns only once every evaluator has answered, failed, or timed out.
// Failures become degraded records, never phase errors.
func (o *Orchestrator) evaluatePhase(ctx context.Context, round int, artifact *contracts.ContentArtifact, strategies map[string]contracts.Strategy) []*contracts.Evaluation {
	phaseCtx, cancel := context.WithTimeout(ctx, o.profile.PhaseTimeout())
	defer cancel()

	evaluators := o.registry.List()
	evals := make([]*contracts.Evaluation, len(evaluators))

	var g errgroup.Group
	for i, e := range evaluators {
		i, e := i, e
		g.Go(func() error {
			evalCtx, cancel := context.WithTimeout(phaseCtx, o.profile.EvaluatorTimeout())
			defer cancel()

			ev, err := e.Evaluate(evalCtx, artifact, strategies[e.ID()])
			switch {
			case err != nil:
				kind := evaluator.ClassifyFailure(err)
				o.logger.Warn("evaluator degraded",
					"evaluator_id", e.ID(), "round", round, "kind", string(kind), "error", err)
				evals[i] = evaluator.Degraded(e.ID(), e.Dimension(), artifact, kind, err.Error())
			case ev == nil:
				evals[i] = evaluator.Degraded(e.ID(), e.Dimension(), artifact, contracts.FailureError, "nil verdict")
			default:
				floor := strategies[e.ID()].Threshold("confidence_floor", o.profile.ConfidenceFloor)
				if ev.Confidence < floor {
					ev.Degraded = true
					ev.DegradedReason = fmt.Sprintf("%s: confidence %.2f below floor %.2f",
						contracts.FailureLowConfidence, ev.Confidence, floor)
				}
				evals[i] = ev
			}
			evals[i].Round = round
			return nil
		})
	}
	_ = g.Wait()
	return evals
}

// critiquePhase fans out the full critique mesh: every active evaluator
// reviews every other active evaluator's verdict. An evaluator that
// fails or times out here degrades retroactively; its verdict drops out
// of aggregation and pairs involving it drop out of the agreement mean.
func (o *Orchestrator) critiquePhase(ctx context.Context, round int, artifact *contracts.ContentArtifact, evals []*contracts.Evaluation) []*contracts.CrossEvaluation {
	phaseCtx, cancel := context.WithTimeout(ctx, o.profile.PhaseTimeout())
	defer cancel()

	byID := make(map[string]*contracts.Evaluation, len(evals))
	var active []*contracts.Evaluation
	for _, ev := range evals {
		byID[ev.EvaluatorID] = ev
		if !ev.Degraded {
			active = append(active, ev)
		}
	}
	if len(active) < 2 {
		return nil
	}

	rows := make([][]*contracts.CrossEvaluation, len(active))

	var g errgroup.Group
	for i, own := range active {
		i, own := i, own
		e, ok := o.registry.Get(own.Dimension)
		if !ok || e.ID() != own.EvaluatorID {
			continue
		}

		others := make([]*contracts.Evaluation, 0, len(active)-1)
		for _, peer := range active {
			if peer.EvaluatorID != own.EvaluatorID {
				others = append(others, peer)
			}
		}

		g.Go(func() error {
			evalCtx, cancel := context.WithTimeout(phaseCtx, o.profile.EvaluatorTimeout())
			defer cancel()

			reviews, err := e.EvaluatePeers(evalCtx, artifact, own, others)
			if err != nil {
				kind := evaluator.ClassifyFailure(err)
				o.logger.Warn("evaluator degraded during critique",
					"evaluator_id", e.ID(), "round", round, "kind", string(kind), "error", err)
				if ev := byID[e.ID()]; ev != nil {
					ev.Degraded = true
					ev.DegradedReason = fmt.Sprintf("%s: critique phase: %v", kind, err)
				}
				return nil
			}
			for _, r := range reviews {
				r.Round = round
			}
			rows[i] = reviews
			return nil
		})
	}
	_ = g.Wait()

	var out []*contracts.CrossEvaluation
	for _, row := range rows {
		out = append(out, row...)
	}
	return out
}

// runRound executes the EVALUATING and CROSS_CRITIQUING phases for one
// artifact version. If a supersede notification arrives mid-round, the
// in-flight calls are cancelled and the round's partial output is
// discarded: the returned replacement artifact is non-nil and the
// evaluations are nil.
func (o *Orchestrator) runRound(ctx context.Context, r *running, round int, artifact *contracts.ContentArtifact, strategies map[string]contracts.Strategy) ([]*contracts.Evaluation, []*contracts.CrossEvaluation, *contracts.ContentArtifact) {
	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	replaced := make(chan *contracts.ContentArtifact, 1)
	go func() {
		select {
		case next := <-r.supersede:
			replaced <- next
			cancel()
		case <-done:
		}
	}()

	evals := o.evaluatePhase(roundCtx, round, artifact, strategies)
	critiques := o.critiquePhase(roundCtx, round, artifact, evals)
	close(done)

	select {
	case next := <-replaced:
		o.logger.Info("round discarded, artifact superseded",
			"lineage_id", artifact.LineageID,
			"stale_version", artifact.Version,
			"new_version", next.Version,
			"round", round)
		return nil, nil, next
	default:
		return evals, critiques, nil
	}
}
