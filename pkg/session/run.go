package session

import (
	"context"
	"fmt"
	"time"

	"github.com/accordhq/accord/pkg/canonicalize"
	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/ledger"
	"github.com/accordhq/accord/pkg/learning"
	"github.com/accordhq/accord/pkg/observability"
	"github.com/accordhq/accord/pkg/policy"
	"github.com/accordhq/accord/pkg/synthesis"
)

// sessionEnd is the payload of the final ledger entry.
type sessionEnd struct {
	Outcome       contracts.SessionOutcome `json:"outcome"`
	FinalScore    float64                  `json:"final_score"`
	FinalVersion  int                      `json:"final_version"`
	Rounds        int                      `json:"rounds"`
	FailureReason string                   `json:"failure_reason,omitempty"`
}

// escalated is the ledger payload recording that a session reached the
// human gateway. The artifact itself is already chained.
type escalated struct {
	RequestID  string                     `json:"request_id"`
	Reason     contracts.EscalationReason `json:"reason"`
	Round      int                        `json:"round"`
	HumanRound int                        `json:"human_round"`
	ExpiresAt  time.Time                  `json:"expires_at"`
}

// Run drives one artifact through the full consensus state machine and
// returns the terminal session record. APPROVED sessions return a nil
// error; FAILED sessions return the record together with an error
// naming the failure, so callers never get a bare outcome.
func (o *Orchestrator) Run(ctx context.Context, artifact *contracts.ContentArtifact) (*contracts.SessionRecord, error) {
	if err := artifact.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	r, err := o.register(artifact.LineageID, artifact.Version)
	if err != nil {
		return nil, err
	}
	defer o.release(artifact.LineageID)

	sessionID := o.newID()
	startedAt := o.clock()
	logger := o.logger.With("session_id", sessionID, "lineage_id", artifact.LineageID)

	ctx, span := o.obs.StartSpan(ctx, "session.run")
	defer span.End()
	o.obs.SessionStarted(ctx)

	chain := ledger.New(sessionID).WithClock(o.clock)

	strategies, reliability, err := o.snapshots(ctx, logger)
	if err != nil {
		o.obs.SessionEnded(ctx, string(contracts.OutcomeFailed), 0)
		return nil, err
	}
	synth := synthesis.NewSynthesizer(strategies, reliability)

	run := &runState{
		sessionID:   sessionID,
		startedAt:   startedAt,
		artifact:    artifact,
		strategies:  strategies,
		reliability: reliability,
		synth:       synth,
		chain:       chain,
		logger:      logger,
	}
	run.round = 1
	run.observeArtifact(artifact)

	logger.Info("session started",
		"artifact_id", artifact.ArtifactID,
		"version", artifact.Version,
		"evaluators", o.registry.Len(),
		"profile", o.profile.Name)

	record, runErr := o.loop(ctx, r, run)
	o.obs.SessionEnded(ctx, string(record.Outcome), len(record.Rounds))
	return record, runErr
}

// runState is the accumulating state of one session.
type runState struct {
	sessionID   string
	startedAt   time.Time
	artifact    *contracts.ContentArtifact
	strategies  map[string]contracts.Strategy
	reliability map[string]float64
	synth       *synthesis.Synthesizer
	chain       *ledger.Ledger
	logger      interface {
		Info(msg string, args ...any)
		Warn(msg string, args ...any)
	}

	round      int
	humanRound int

	artifacts   []contracts.ArtifactRef
	escalations []contracts.EscalationRecord

	lastResult *contracts.ConsensusResult
	lastEvals  []*contracts.Evaluation
}

// observeArtifact records a version in the artifact list and the ledger.
func (s *runState) observeArtifact(a *contracts.ContentArtifact) {
	ref := contracts.ArtifactRef{ArtifactID: a.ArtifactID, Version: a.Version}
	if h, err := canonicalize.Hash(a); err == nil {
		ref.ContentHash = h
	}
	s.artifacts = append(s.artifacts, ref)
	if _, err := s.chain.Append(ledger.EntryArtifact, a.Source, ref); err != nil {
		s.logger.Warn("artifact entry not chained", "artifact_id", a.ArtifactID, "error", err)
	}
}

// loop is the EVALUATING..terminal cycle. Re-entrant: a rejected review
// resumes it at the round the rejection advanced to.
func (o *Orchestrator) loop(ctx context.Context, r *running, run *runState) (*contracts.SessionRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return o.finish(ctx, run, contracts.OutcomeFailed, fmt.Sprintf("session aborted: %v", err))
		}

		roundStart := o.clock()
		evals, critiques, replacement := o.runRound(ctx, r, run.round, run.artifact, run.strategies)
		if replacement != nil {
			// Stale round discarded wholesale; the replacement restarts the
			// same round index against the new version.
			run.artifact = replacement
			run.observeArtifact(replacement)
			continue
		}
		run.lastEvals = evals

		result, err := o.scorer.Score(run.round, run.artifact, evals, critiques, run.strategies)
		if err != nil {
			return o.finish(ctx, run, contracts.OutcomeFailed, fmt.Sprintf("round %d scoring failed: %v", run.round, err))
		}
		if _, err := run.chain.AppendRound(*result); err != nil {
			return o.finish(ctx, run, contracts.OutcomeFailed, fmt.Sprintf("round %d not chained: %v", run.round, err))
		}
		run.lastResult = result
		o.obs.RoundScored(ctx, result.Converged, result.Inconclusive, o.clock().Sub(roundStart))

		run.logger.Info("round scored",
			"round", run.round,
			"weighted_score", result.WeightedScore,
			"agreement_index", result.AgreementIndex,
			"converged", result.Converged,
			"inconclusive", result.Inconclusive,
			"degraded", len(result.DegradedEvaluators))

		requireReview := o.evaluateRules(ctx, run, result)

		switch {
		case result.Inconclusive:
			// No machine consensus possible this round; straight to the
			// gateway without synthesis.
			return o.escalate(ctx, r, run, contracts.EscalateInconclusive)

		case result.Converged:
			if o.profile.ValidateOnConvergence || requireReview {
				return o.escalate(ctx, r, run, contracts.EscalateOnConvergence)
			}
			o.recordOutcomes(ctx, run, true)
			return o.finish(ctx, run, contracts.OutcomeApproved, "")

		default:
			directives, err := run.synth.Synthesize(run.round, evals, critiques)
			if err != nil {
				return o.finish(ctx, run, contracts.OutcomeFailed, fmt.Sprintf("round %d synthesis failed: %v", run.round, err))
			}
			if _, err := run.chain.Append(ledger.EntryDirectives, "", directives); err != nil {
				run.logger.Warn("directives not chained", "round", run.round, "error", err)
			}

			if run.round >= o.profile.MaxIterations {
				return o.escalate(ctx, r, run, contracts.EscalateIterationBound)
			}
			if o.improver == nil || len(directives) == 0 {
				return o.escalate(ctx, r, run, contracts.EscalateIterationBound)
			}
			if done, record, err := o.improve(ctx, r, run, directives); done {
				return record, err
			}
		}
	}
}

// improve applies directives and advances the session to the next
// version and round. A failed improvement terminates the session; the
// (done, record, err) triple mirrors that.
func (o *Orchestrator) improve(ctx context.Context, r *running, run *runState, directives []contracts.ImprovementDirective) (bool, *contracts.SessionRecord, error) {
	next, err := o.improver.Improve(ctx, run.artifact, directives)
	if err != nil {
		record, ferr := o.finish(ctx, run, contracts.OutcomeFailed, fmt.Sprintf("round %d improvement failed: %v", run.round, err))
		return true, record, ferr
	}
	if err := next.Validate(); err != nil {
		record, ferr := o.finish(ctx, run, contracts.OutcomeFailed, fmt.Sprintf("round %d produced invalid artifact: %v", run.round, err))
		return true, record, ferr
	}
	if !next.Supersedes(run.artifact) {
		record, ferr := o.finish(ctx, run, contracts.OutcomeFailed,
			fmt.Sprintf("round %d improver returned version %d, want past %d", run.round, next.Version, run.artifact.Version))
		return true, record, ferr
	}

	o.advance(r, next.Version)
	run.artifact = next
	run.observeArtifact(next)
	run.round++
	return false, nil, nil
}

// advance moves the supersede version floor to the engine-produced
// version.
func (o *Orchestrator) advance(r *running, version int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if version > r.version {
		r.version = version
	}
}

// evaluateRules runs the profile's policy rules against the round
// statistics. Alert effects notify the operator; the return value says
// whether any matched rule demands human review.
func (o *Orchestrator) evaluateRules(ctx context.Context, run *runState, result *contracts.ConsensusResult) bool {
	if o.rules == nil || o.rules.Len() == 0 {
		return false
	}

	matches, err := o.rules.Evaluate(policy.RoundStats{
		Round:          result.Round,
		WeightedScore:  result.WeightedScore,
		AgreementIndex: result.AgreementIndex,
		Converged:      result.Converged,
		Inconclusive:   result.Inconclusive,
		ActiveCount:    len(result.ActiveEvaluators),
		DegradedCount:  len(result.DegradedEvaluators),
		HumanRound:     run.humanRound,
		MaxIterations:  o.profile.MaxIterations,
	})
	if err != nil {
		run.logger.Warn("policy evaluation failed", "round", result.Round, "error", err)
		return false
	}

	for _, alert := range matches.Alerts() {
		o.alerter.Notify(ctx, observability.Alert{
			Kind:      observability.AlertPolicyRule,
			SessionID: run.sessionID,
			LineageID: run.artifact.LineageID,
			Message:   alert.Message,
			Detail:    map[string]string{"rule": alert.Name, "round": fmt.Sprint(result.Round)},
			CreatedAt: o.clock(),
		})
	}
	return matches.RequireReview()
}

// escalate suspends the session on the human gateway and resolves the
// decision: approval terminates, rejection loops back through synthesis
// while human rounds remain, and an unresponsive gateway fails the
// session with an operator alert.
func (o *Orchestrator) escalate(ctx context.Context, r *running, run *runState, reason contracts.EscalationReason) (*contracts.SessionRecord, error) {
	run.humanRound++
	o.obs.Escalated(ctx, string(reason))

	if o.gateway == nil {
		return o.finish(ctx, run, contracts.OutcomeFailed,
			fmt.Sprintf("escalation %s with no human gateway configured", reason))
	}

	now := o.clock()
	req := &contracts.ReviewRequest{
		RequestID:   o.newID(),
		SessionID:   run.sessionID,
		LineageID:   run.artifact.LineageID,
		Reason:      reason,
		Artifact:    run.artifact,
		Consensus:   run.lastResult,
		Evaluations: run.lastEvals,
		Round:       run.round,
		HumanRound:  run.humanRound,
		CreatedAt:   now,
		ExpiresAt:   now.Add(o.profile.ReviewTimeout()),
	}
	if _, err := run.chain.Append(ledger.EntryEscalation, "", escalated{
		RequestID:  req.RequestID,
		Reason:     reason,
		Round:      run.round,
		HumanRound: run.humanRound,
		ExpiresAt:  req.ExpiresAt,
	}); err != nil {
		run.logger.Warn("escalation not chained", "request_id", req.RequestID, "error", err)
	}
	run.logger.Info("session escalated",
		"request_id", req.RequestID,
		"reason", string(reason),
		"round", run.round,
		"human_round", run.humanRound)

	esc := contracts.EscalationRecord{
		RequestID:  req.RequestID,
		Reason:     reason,
		Round:      run.round,
		HumanRound: run.humanRound,
		CreatedAt:  now,
	}

	decision, err := o.gateway.Validate(ctx, req)
	if err != nil {
		esc.TimedOut = true
		esc.DecidedAt = o.clock()
		run.escalations = append(run.escalations, esc)
		o.alerter.Notify(ctx, observability.Alert{
			Kind:      observability.AlertEscalationTimeout,
			SessionID: run.sessionID,
			LineageID: run.artifact.LineageID,
			Message:   fmt.Sprintf("review request %s got no decision: %v", req.RequestID, err),
			Detail:    map[string]string{"request_id": req.RequestID, "reason": string(reason)},
			CreatedAt: o.clock(),
		})
		return o.finish(ctx, run, contracts.OutcomeFailed,
			fmt.Sprintf("human review for request %s concluded without a decision: %v", req.RequestID, err))
	}

	esc.Outcome = decision.Outcome
	esc.ReviewerID = decision.ReviewerID
	esc.Rationale = decision.Rationale
	esc.Edited = decision.EditedArtifact != nil
	esc.DecidedAt = decision.DecidedAt
	run.escalations = append(run.escalations, esc)
	if _, err := run.chain.Append(ledger.EntryDecision, decision.ReviewerID, decision); err != nil {
		run.logger.Warn("decision not chained", "request_id", req.RequestID, "error", err)
	}

	switch decision.Outcome {
	case contracts.ReviewApproved:
		o.recordOutcomes(ctx, run, true)
		return o.finish(ctx, run, contracts.OutcomeApproved, "")

	case contracts.ReviewRejected:
		o.recordOutcomes(ctx, run, false)
		o.mine(ctx, run, decision)

		if run.humanRound >= o.profile.MaxHumanRounds {
			return o.finish(ctx, run, contracts.OutcomeFailed,
				fmt.Sprintf("rejected by %s after %d human round(s): %s",
					decision.ReviewerID, run.humanRound, decision.Rationale))
		}
		return o.resynthesize(ctx, r, run, decision)

	default:
		return o.finish(ctx, run, contracts.OutcomeFailed,
			fmt.Sprintf("review request %s returned unknown outcome %q", req.RequestID, decision.Outcome))
	}
}

// resynthesize folds a human rejection back into the loop: the verdict
// enters synthesis as a full-confidence evaluation whose reliability
// outranks every machine evaluator, and the reviewer's own edit, when
// present, short-circuits the improver.
func (o *Orchestrator) resynthesize(ctx context.Context, r *running, run *runState, decision *contracts.ReviewDecision) (*contracts.SessionRecord, error) {
	if decision.EditedArtifact != nil {
		edited := decision.EditedArtifact
		if err := edited.Validate(); err != nil {
			return o.finish(ctx, run, contracts.OutcomeFailed, fmt.Sprintf("reviewer edit invalid: %v", err))
		}
		if !edited.Supersedes(run.artifact) {
			return o.finish(ctx, run, contracts.OutcomeFailed,
				fmt.Sprintf("reviewer edit version %d does not supersede %d", edited.Version, run.artifact.Version))
		}
		o.advance(r, edited.Version)
		run.artifact = edited
		run.observeArtifact(edited)
		run.round++
		return o.loop(ctx, r, run)
	}

	human := o.humanEvaluation(decision, run.artifact, run.lastEvals, run.round)
	evals := append(append([]*contracts.Evaluation(nil), run.lastEvals...), human)

	rel := make(map[string]float64, len(run.reliability)+1)
	for k, v := range run.reliability {
		rel[k] = v
	}
	rel[human.EvaluatorID] = 1
	synth := synthesis.NewSynthesizer(run.strategies, rel)

	directives, err := synth.Synthesize(run.round, evals, nil)
	if err != nil {
		return o.finish(ctx, run, contracts.OutcomeFailed, fmt.Sprintf("post-rejection synthesis failed: %v", err))
	}
	if _, err := run.chain.Append(ledger.EntryDirectives, human.EvaluatorID, directives); err != nil {
		run.logger.Warn("rejection directives not chained", "round", run.round, "error", err)
	}
	if o.improver == nil || len(directives) == 0 {
		return o.finish(ctx, run, contracts.OutcomeFailed,
			"rejection produced no applicable directives and no improver is wired")
	}
	if done, record, err := o.improve(ctx, r, run, directives); done {
		return record, err
	}
	return o.loop(ctx, r, run)
}

// mine feeds the rejection to the pattern miner.
func (o *Orchestrator) mine(ctx context.Context, run *runState, decision *contracts.ReviewDecision) {
	if o.miner == nil {
		return
	}
	patterns, err := o.miner.Ingest(ctx, learning.Correction{
		SessionID:   run.sessionID,
		Original:    run.artifact,
		Corrected:   decision.EditedArtifact,
		Rationale:   decision.Rationale,
		Evaluations: run.lastEvals,
	})
	if err != nil {
		run.logger.Warn("correction not mined", "error", err)
		return
	}
	for _, p := range patterns {
		o.obs.PatternIngested(ctx, p.SupportCount)
	}
}

// recordOutcomes folds the final human-confirmed result into each active
// evaluator's reliability. An evaluator hit when its verdict pointed the
// same way the outcome went: a passing score on an approved artifact or
// a failing score on a rejected one.
func (o *Orchestrator) recordOutcomes(ctx context.Context, run *runState, approved bool) {
	for _, ev := range run.lastEvals {
		if ev == nil || ev.Degraded {
			continue
		}
		hit := (ev.Score >= o.profile.QualityThreshold) == approved
		if err := o.learning.RecordOutcome(ctx, ev.EvaluatorID, hit); err != nil {
			run.logger.Warn("outcome not recorded", "evaluator_id", ev.EvaluatorID, "error", err)
		}
	}
}

// finish builds, chains, signs, and persists the terminal record.
// FAILED outcomes return the record together with an error so no caller
// can mistake a failure for silence.
func (o *Orchestrator) finish(ctx context.Context, run *runState, outcome contracts.SessionOutcome, failureReason string) (*contracts.SessionRecord, error) {
	rounds, err := run.chain.Rounds()
	if err != nil {
		run.logger.Warn("round history unreadable", "error", err)
	}
	var finalScore float64
	if run.lastResult != nil {
		finalScore = run.lastResult.WeightedScore
	}

	if _, err := run.chain.Append(ledger.EntrySessionEnd, "", sessionEnd{
		Outcome:       outcome,
		FinalScore:    finalScore,
		FinalVersion:  run.artifact.Version,
		Rounds:        len(rounds),
		FailureReason: failureReason,
	}); err != nil {
		run.logger.Warn("session end not chained", "error", err)
	}

	record := &contracts.SessionRecord{
		SessionID:     run.sessionID,
		LineageID:     run.artifact.LineageID,
		Outcome:       outcome,
		FinalScore:    finalScore,
		FinalVersion:  run.artifact.Version,
		Rounds:        rounds,
		Artifacts:     run.artifacts,
		Escalations:   run.escalations,
		FailureReason: failureReason,
		ChainHead:     run.chain.Head(),
		StartedAt:     run.startedAt,
		EndedAt:       o.clock(),
	}

	if o.signer != nil {
		if err := o.signer.SignSessionRecord(record); err != nil {
			run.logger.Warn("record not signed", "error", err)
		}
	}
	if o.records != nil {
		if err := o.records.Append(ctx, record, run.chain.Entries()); err != nil {
			run.logger.Warn("record not persisted", "error", err)
		}
	}

	run.logger.Info("session ended",
		"outcome", string(outcome),
		"rounds", len(rounds),
		"final_score", finalScore,
		"final_version", run.artifact.Version,
		"human_rounds", run.humanRound)

	if outcome == contracts.OutcomeFailed {
		return record, fmt.Errorf("session %s failed: %s", run.sessionID, failureReason)
	}
	return record, nil
}

// snapshots freezes the strategy and reliability views a session works
// from. Strategies written by an incompatible engine generation fall
// back to the zero-value default rather than poisoning the session.
func (o *Orchestrator) snapshots(ctx context.Context, logger interface {
	Warn(msg string, args ...any)
}) (map[string]contracts.Strategy, map[string]float64, error) {
	ids := make([]string, 0, o.registry.Len())
	for _, e := range o.registry.List() {
		ids = append(ids, e.ID())
	}

	strategies, err := o.learning.Snapshot(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("session: strategy snapshot: %w", err)
	}
	for id, s := range strategies {
		if err := learning.CheckSchema(s); err != nil {
			logger.Warn("strategy schema unsupported, using default", "evaluator_id", id, "error", err)
			strategies[id] = contracts.Strategy{EvaluatorID: id}
		}
	}

	reliability, err := o.learning.ReliabilitySnapshot(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("session: reliability snapshot: %w", err)
	}
	return strategies, reliability, nil
}
