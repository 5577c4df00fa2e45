package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accordhq/accord/pkg/config"
	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/evaluator"
	"github.com/accordhq/accord/pkg/improve"
	"github.com/accordhq/accord/pkg/ledger"
	"github.com/accordhq/accord/pkg/learning"
	"github.com/accordhq/accord/pkg/observability"
	"github.com/accordhq/accord/pkg/policy"
	"github.com/accordhq/accord/pkg/review"
	"github.com/accordhq/accord/pkg/store"
)

// stubEvaluator is a deterministic scripted evaluator. scores holds one
// score per round; the last entry repeats once the script runs out.
type stubEvaluator struct {
	id         string
	dim        string
	confidence float64
	agreement  float64
	issues     []contracts.Issue
	failWith   error

	// blockFirst, when set, makes the first Evaluate call wait for ctx
	// cancellation; started closes once the call is in flight.
	blockFirst bool
	started    chan struct{}

	mu     sync.Mutex
	scores []float64
	calls  int
}

func (e *stubEvaluator) ID() string        { return e.id }
func (e *stubEvaluator) Dimension() string { return e.dim }

func (e *stubEvaluator) Evaluate(ctx context.Context, artifact *contracts.ContentArtifact, _ contracts.Strategy) (*contracts.Evaluation, error) {
	e.mu.Lock()
	call := e.calls
	e.calls++
	var score float64
	if len(e.scores) > 0 {
		idx := call
		if idx >= len(e.scores) {
			idx = len(e.scores) - 1
		}
		score = e.scores[idx]
	}
	e.mu.Unlock()

	if e.blockFirst && call == 0 {
		if e.started != nil {
			close(e.started)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.failWith != nil {
		return nil, e.failWith
	}

	return &contracts.Evaluation{
		EvaluationID:    fmt.Sprintf("%s-r%d", e.id, call+1),
		EvaluatorID:     e.id,
		Dimension:       e.dim,
		ArtifactID:      artifact.ArtifactID,
		ArtifactVersion: artifact.Version,
		Score:           score,
		Confidence:      e.confidence,
		Issues:          e.issues,
		CreatedAt:       time.Now(),
	}, nil
}

func (e *stubEvaluator) EvaluatePeers(_ context.Context, _ *contracts.ContentArtifact, own *contracts.Evaluation, others []*contracts.Evaluation) ([]*contracts.CrossEvaluation, error) {
	out := make([]*contracts.CrossEvaluation, 0, len(others))
	for _, other := range others {
		out = append(out, &contracts.CrossEvaluation{
			ReviewID:            own.EvaluationID + "->" + other.EvaluationID,
			ReviewerID:          own.EvaluationID,
			ReviewedID:          other.EvaluationID,
			ReviewerEvaluatorID: own.EvaluatorID,
			ReviewedEvaluatorID: other.EvaluatorID,
			Agreement:           e.agreement,
			CreatedAt:           time.Now(),
		})
	}
	return out, nil
}

func testProfile() *config.EngineProfile {
	p := config.DefaultProfile()
	p.Name = "test"
	p.EvaluatorTimeoutSeconds = 5
	p.PhaseTimeoutSeconds = 10
	p.ReviewTimeoutSeconds = 5
	return p
}

func testArtifact(version int) *contracts.ContentArtifact {
	a := &contracts.ContentArtifact{
		ArtifactID: fmt.Sprintf("art-%d", version),
		LineageID:  "lin-1",
		Version:    version,
		Facets: map[string]contracts.Facet{
			"body": {ContentType: "text/markdown", Content: []byte("# Lesson\n\nPhotosynthesis converts light to sugar.")},
		},
		Source:    "generator",
		CreatedAt: time.Now(),
	}
	if version > 1 {
		a.PrevArtifactID = fmt.Sprintf("art-%d", version-1)
	}
	return a
}

// fourStubs returns the standard judge panel with uniform scoring.
func fourStubs(score, confidence, agreement float64, issues []contracts.Issue) []*stubEvaluator {
	dims := map[string]string{
		"eval-technical": "technical_accuracy",
		"eval-visual":    "visual_quality",
		"eval-pedagogy":  "pedagogical_effectiveness",
		"eval-alignment": "objective_alignment",
	}
	var out []*stubEvaluator
	for _, id := range []string{"eval-alignment", "eval-pedagogy", "eval-technical", "eval-visual"} {
		out = append(out, &stubEvaluator{
			id:         id,
			dim:        dims[id],
			scores:     []float64{score},
			confidence: confidence,
			agreement:  agreement,
			issues:     issues,
		})
	}
	return out
}

func lowScoreIssues() []contracts.Issue {
	return []contracts.Issue{{
		TargetFacet:     "body",
		Severity:        0.6,
		Category:        "clarity",
		Description:     "explanation skips the light-dependent reactions",
		SuggestedAction: contracts.ActionAdjust,
	}}
}

type harness struct {
	orch     *Orchestrator
	learning *learning.MemoryStore
	records  *store.MemorySessionStore
	alerts   *observability.Recorder
}

func newHarness(t *testing.T, profile *config.EngineProfile, stubs []*stubEvaluator) *harness {
	t.Helper()

	registry := evaluator.NewRegistry()
	for _, s := range stubs {
		require.NoError(t, registry.Register(s))
	}

	ls := learning.NewMemoryStore()
	orch, err := NewOrchestrator(profile, registry, ls)
	require.NoError(t, err)

	records := store.NewMemorySessionStore()
	alerts := observability.NewRecorder()
	orch.WithRecordStore(records).
		WithImprover(improve.NewFacetPatcher()).
		WithAlerter(alerts)
	return &harness{orch: orch, learning: ls, records: records, alerts: alerts}
}

func mustEngine(t *testing.T, rules []config.PolicyRule) *policy.Engine {
	t.Helper()
	engine, err := policy.NewEngine(rules)
	require.NoError(t, err)
	return engine
}

func approveGateway(reviewerID string) review.GatewayFunc {
	return func(_ context.Context, req *contracts.ReviewRequest) (*contracts.ReviewDecision, error) {
		return &contracts.ReviewDecision{
			RequestID:  req.RequestID,
			Outcome:    contracts.ReviewApproved,
			ReviewerID: reviewerID,
			DecidedAt:  time.Now(),
		}, nil
	}
}

func rejectGateway(reviewerID, rationale string, edited *contracts.ContentArtifact) review.GatewayFunc {
	return func(_ context.Context, req *contracts.ReviewRequest) (*contracts.ReviewDecision, error) {
		return &contracts.ReviewDecision{
			RequestID:      req.RequestID,
			Outcome:        contracts.ReviewRejected,
			Rationale:      rationale,
			EditedArtifact: edited,
			ReviewerID:     reviewerID,
			DecidedAt:      time.Now(),
		}, nil
	}
}

func TestRunConvergesFirstRound(t *testing.T) {
	h := newHarness(t, testProfile(), fourStubs(0.93, 0.9, 0.95, nil))

	record, err := h.orch.Run(context.Background(), testArtifact(1))
	require.NoError(t, err)

	assert.Equal(t, contracts.OutcomeApproved, record.Outcome)
	assert.Len(t, record.Rounds, 1)
	assert.True(t, record.Rounds[0].Converged)
	assert.Equal(t, 1, record.FinalVersion)
	assert.InDelta(t, 0.93, record.FinalScore, 1e-9)
	assert.Empty(t, record.Escalations)

	stored, err := h.records.Get(context.Background(), record.SessionID)
	require.NoError(t, err)
	assert.Equal(t, record.ChainHead, stored.ChainHead)

	chain, err := h.records.Chain(context.Background(), record.SessionID)
	require.NoError(t, err)
	ok, detail := ledger.VerifyEntries(chain)
	assert.True(t, ok, detail)
	assert.Equal(t, record.ChainHead, chain[len(chain)-1].ContentHash)

	// Approval with a passing score counts as a hit for every evaluator.
	rel, err := h.learning.Reliability(context.Background(), "eval-technical")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, rel, 1e-9)
}

func TestRunDegradedEvaluatorStillConverges(t *testing.T) {
	stubs := fourStubs(0.93, 0.9, 0.95, nil)
	stubs[0].failWith = errors.New("judge backend unavailable")
	h := newHarness(t, testProfile(), stubs)

	record, err := h.orch.Run(context.Background(), testArtifact(1))
	require.NoError(t, err)

	assert.Equal(t, contracts.OutcomeApproved, record.Outcome)
	require.Len(t, record.Rounds, 1)
	assert.Equal(t, []string{stubs[0].id}, record.Rounds[0].DegradedEvaluators)
	assert.Len(t, record.Rounds[0].ActiveEvaluators, 3)
	assert.False(t, record.Rounds[0].Inconclusive, "one degraded of four proceeds")
}

func TestRunInconclusiveEscalatesWithoutSynthesis(t *testing.T) {
	stubs := fourStubs(0.93, 0.9, 0.95, nil)
	for _, s := range stubs[:3] {
		s.failWith = errors.New("judge backend unavailable")
	}
	h := newHarness(t, testProfile(), stubs)
	h.orch.WithGateway(approveGateway("rev-1"))

	record, err := h.orch.Run(context.Background(), testArtifact(1))
	require.NoError(t, err)

	assert.Equal(t, contracts.OutcomeApproved, record.Outcome)
	require.Len(t, record.Rounds, 1)
	assert.True(t, record.Rounds[0].Inconclusive)
	require.Len(t, record.Escalations, 1)
	assert.Equal(t, contracts.EscalateInconclusive, record.Escalations[0].Reason)
	assert.Equal(t, 1, record.Escalations[0].HumanRound)
}

func TestRunIterationBoundTerminatesExactly(t *testing.T) {
	profile := testProfile()
	profile.MaxIterations = 3
	h := newHarness(t, profile, fourStubs(0.5, 0.9, 0.95, lowScoreIssues()))
	h.orch.WithGateway(approveGateway("rev-1"))

	record, err := h.orch.Run(context.Background(), testArtifact(1))
	require.NoError(t, err)

	assert.Equal(t, contracts.OutcomeApproved, record.Outcome)
	assert.Len(t, record.Rounds, 3, "exactly max_iterations rounds, never a fourth")
	assert.Len(t, record.Artifacts, 3, "one improved version per non-terminal round")
	require.Len(t, record.Escalations, 1)
	assert.Equal(t, contracts.EscalateIterationBound, record.Escalations[0].Reason)
	assert.Equal(t, 3, record.Escalations[0].Round)
	assert.Equal(t, 3, record.FinalVersion)
}

func TestRunFailsWithoutGateway(t *testing.T) {
	profile := testProfile()
	profile.MaxIterations = 1
	h := newHarness(t, profile, fourStubs(0.5, 0.9, 0.95, lowScoreIssues()))

	record, err := h.orch.Run(context.Background(), testArtifact(1))
	require.Error(t, err)
	require.NotNil(t, record, "failed sessions still return the full record")

	assert.Equal(t, contracts.OutcomeFailed, record.Outcome)
	assert.NotEmpty(t, record.FailureReason)
	assert.Len(t, record.Rounds, 1, "history survives the failure")

	stored, serr := h.records.Get(context.Background(), record.SessionID)
	require.NoError(t, serr)
	assert.Equal(t, contracts.OutcomeFailed, stored.Outcome)
}

func TestRunGatewayTimeoutFailsWithAlert(t *testing.T) {
	profile := testProfile()
	profile.MaxIterations = 1
	h := newHarness(t, profile, fourStubs(0.5, 0.9, 0.95, lowScoreIssues()))
	h.orch.WithGateway(review.GatewayFunc(func(_ context.Context, req *contracts.ReviewRequest) (*contracts.ReviewDecision, error) {
		return nil, fmt.Errorf("request %s expired: %w", req.RequestID, contracts.ErrEscalationTimeout)
	}))

	record, err := h.orch.Run(context.Background(), testArtifact(1))
	require.Error(t, err)
	assert.Equal(t, contracts.OutcomeFailed, record.Outcome)
	require.Len(t, record.Escalations, 1)
	assert.True(t, record.Escalations[0].TimedOut)

	alerts := h.alerts.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, observability.AlertEscalationTimeout, alerts[0].Kind)
	assert.Equal(t, record.SessionID, alerts[0].SessionID)
}

func TestRunRejectionExhaustsHumanRounds(t *testing.T) {
	profile := testProfile()
	profile.MaxIterations = 1
	profile.MaxHumanRounds = 2
	h := newHarness(t, profile, fourStubs(0.5, 0.9, 0.95, lowScoreIssues()))
	h.orch.WithGateway(rejectGateway("rev-1", "the body still misstates the chemistry", nil))
	h.orch.WithMiner(learning.NewMiner(h.learning, 3, 10, h.alerts))

	record, err := h.orch.Run(context.Background(), testArtifact(1))
	require.Error(t, err)

	assert.Equal(t, contracts.OutcomeFailed, record.Outcome)
	require.Len(t, record.Escalations, 2, "one rejection re-synthesis, then the bound")
	assert.Equal(t, contracts.ReviewRejected, record.Escalations[0].Outcome)
	assert.Equal(t, contracts.ReviewRejected, record.Escalations[1].Outcome)
	assert.Equal(t, 2, record.Escalations[1].HumanRound)
	assert.Len(t, record.Rounds, 2, "rejection re-synthesis bought exactly one more round")

	// Both rejections fed the miner; the flagged facet pattern merged by
	// signature with one support increment per ingest.
	patterns, err := h.learning.Patterns(context.Background())
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 2, patterns[0].SupportCount)
}

func TestRunRejectionAtHumanRoundBoundFailsImmediately(t *testing.T) {
	profile := testProfile()
	profile.MaxIterations = 1
	profile.MaxHumanRounds = 1
	h := newHarness(t, profile, fourStubs(0.5, 0.9, 0.95, lowScoreIssues()))

	edited := testArtifact(2)
	edited.Facets["body"] = contracts.Facet{
		ContentType: "text/markdown",
		Content:     []byte("# Lesson\n\nPhotosynthesis converts light to glucose."),
	}
	h.orch.WithGateway(rejectGateway("rev-1", "fixed the chemistry", edited))
	h.orch.WithMiner(learning.NewMiner(h.learning, 3, 10, h.alerts))

	record, err := h.orch.Run(context.Background(), testArtifact(1))
	require.Error(t, err)

	// The bound consumes the one permitted human round: no re-synthesis,
	// no second evaluated round, terminal FAILED.
	assert.Equal(t, contracts.OutcomeFailed, record.Outcome)
	require.Len(t, record.Escalations, 1)
	assert.Equal(t, contracts.ReviewRejected, record.Escalations[0].Outcome)
	assert.Equal(t, 1, record.Escalations[0].HumanRound)
	assert.True(t, record.Escalations[0].Edited)
	assert.Len(t, record.Rounds, 1)

	// The correction still reaches the miner before the session fails.
	patterns, err := h.learning.Patterns(context.Background())
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 1, patterns[0].SupportCount)
}

func TestRunRejectionWithReviewerEditConverges(t *testing.T) {
	profile := testProfile()
	profile.MaxIterations = 1
	profile.MaxHumanRounds = 2

	stubs := fourStubs(0.5, 0.9, 0.95, lowScoreIssues())
	for _, s := range stubs {
		s.scores = []float64{0.5, 0.95}
	}
	h := newHarness(t, profile, stubs)

	edited := testArtifact(2)
	h.orch.WithGateway(rejectGateway("rev-1", "fixed the chemistry myself", edited))

	record, err := h.orch.Run(context.Background(), testArtifact(1))
	require.NoError(t, err)

	assert.Equal(t, contracts.OutcomeApproved, record.Outcome)
	assert.Equal(t, 2, record.FinalVersion, "the reviewer's edit became the evaluated version")
	require.Len(t, record.Escalations, 1)
	assert.True(t, record.Escalations[0].Edited)
	assert.Len(t, record.Rounds, 2)
	assert.True(t, record.Rounds[1].Converged)
}

func TestRunConvergedValidationRoutesThroughGateway(t *testing.T) {
	profile := testProfile()
	profile.ValidateOnConvergence = true
	h := newHarness(t, profile, fourStubs(0.93, 0.9, 0.95, nil))
	h.orch.WithGateway(approveGateway("rev-1"))

	record, err := h.orch.Run(context.Background(), testArtifact(1))
	require.NoError(t, err)

	assert.Equal(t, contracts.OutcomeApproved, record.Outcome)
	require.Len(t, record.Escalations, 1)
	assert.Equal(t, contracts.EscalateOnConvergence, record.Escalations[0].Reason)
	assert.Equal(t, "rev-1", record.Escalations[0].ReviewerID)
}

func TestSupersedeDiscardsInFlightRound(t *testing.T) {
	stubs := fourStubs(0.93, 0.9, 0.95, nil)
	stubs[0].blockFirst = true
	stubs[0].started = make(chan struct{})
	h := newHarness(t, testProfile(), stubs)

	type result struct {
		record *contracts.SessionRecord
		err    error
	}
	done := make(chan result, 1)
	go func() {
		record, err := h.orch.Run(context.Background(), testArtifact(1))
		done <- result{record, err}
	}()

	<-stubs[0].started

	// The lineage is claimed while the session runs.
	_, busyErr := h.orch.Run(context.Background(), testArtifact(1))
	require.Error(t, busyErr)

	require.NoError(t, h.orch.Supersede(testArtifact(2)))

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, contracts.OutcomeApproved, res.record.Outcome)
	assert.Equal(t, 2, res.record.FinalVersion)
	require.Len(t, res.record.Rounds, 1, "the stale round was discarded, not recorded")
	assert.Equal(t, 2, res.record.Rounds[0].ArtifactVersion)
	assert.Len(t, res.record.Artifacts, 2, "both observed versions are on record")
}

func TestSupersedeRejectsStaleAndIdleLineages(t *testing.T) {
	h := newHarness(t, testProfile(), fourStubs(0.93, 0.9, 0.95, nil))

	err := h.orch.Supersede(testArtifact(2))
	require.Error(t, err, "no session is running for the lineage")

	_, err = h.orch.Run(context.Background(), testArtifact(1))
	require.NoError(t, err)
	require.Error(t, h.orch.Supersede(testArtifact(1)), "finished sessions release the lineage")
}

func TestRunPolicyRuleEffects(t *testing.T) {
	profile := testProfile()
	profile.Rules = []config.PolicyRule{
		{Name: "always-alert", Condition: "round >= 1", Effect: "alert", Message: "round observed"},
		{Name: "tight-consensus", Condition: "converged && agreement_index < 0.99", Effect: "require_review"},
	}
	h := newHarness(t, profile, fourStubs(0.93, 0.9, 0.95, nil))
	h.orch.WithGateway(approveGateway("rev-1"))
	h.orch.WithPolicy(mustEngine(t, profile.Rules))

	record, err := h.orch.Run(context.Background(), testArtifact(1))
	require.NoError(t, err)

	require.Len(t, record.Escalations, 1, "require_review sends a converged round to the gateway")
	assert.Equal(t, contracts.EscalateOnConvergence, record.Escalations[0].Reason)

	alerts := h.alerts.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, observability.AlertPolicyRule, alerts[0].Kind)
	assert.Equal(t, "always-alert", alerts[0].Detail["rule"])
}

func TestRunRejectsInvalidArtifact(t *testing.T) {
	h := newHarness(t, testProfile(), fourStubs(0.93, 0.9, 0.95, nil))

	_, err := h.orch.Run(context.Background(), &contracts.ContentArtifact{ArtifactID: "art-1"})
	require.Error(t, err)
}
