// Package session drives the consensus state machine over one artifact
// lineage: evaluate, cross-critique, score, and either converge or
// synthesize directives for another improvement round, bounded by
// max_iterations and max_human_rounds.
//
// One session runs per lineage at a time. Independent lineages share
// nothing but the learning store; all session state (artifact versions,
// round ledger, directive lists) is owned here and needs no locking
// beyond the supersede channel.
package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/accordhq/accord/pkg/config"
	"github.com/accordhq/accord/pkg/consensus"
	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/crypto"
	"github.com/accordhq/accord/pkg/evaluator"
	"github.com/accordhq/accord/pkg/improve"
	"github.com/accordhq/accord/pkg/learning"
	"github.com/accordhq/accord/pkg/observability"
	"github.com/accordhq/accord/pkg/policy"
	"github.com/accordhq/accord/pkg/review"
	"github.com/accordhq/accord/pkg/store"
)

// Orchestrator runs consensus sessions. Construct once, run many
// sessions; only the learning store is shared between them.
type Orchestrator struct {
	profile  *config.EngineProfile
	registry *evaluator.Registry
	scorer   *consensus.Scorer
	learning learning.Store

	gateway  review.Gateway
	improver improve.Improver
	records  store.SessionStore
	rules    *policy.Engine
	miner    *learning.Miner
	signer   crypto.Signer
	alerter  observability.Alerter
	obs      *observability.Provider

	logger *slog.Logger
	clock  func() time.Time
	newID  func() string

	mu     sync.Mutex
	active map[string]*running // lineage id -> in-flight session
}

// running tracks one in-flight session for supersede delivery.
type running struct {
	version   int
	supersede chan *contracts.ContentArtifact
}

// NewOrchestrator creates an orchestrator over the required
// collaborators. Optional collaborators (gateway, improver, record
// store, policy rules, miner, signer, telemetry) attach through the
// With* methods.
func NewOrchestrator(profile *config.EngineProfile, registry *evaluator.Registry, learningStore learning.Store) (*Orchestrator, error) {
	if profile == nil {
		profile = config.DefaultProfile()
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if registry == nil || registry.Len() == 0 {
		return nil, fmt.Errorf("session: no evaluators registered")
	}
	if learningStore == nil {
		return nil, fmt.Errorf("session: nil learning store")
	}

	return &Orchestrator{
		profile:  profile,
		registry: registry,
		scorer:   consensus.NewScorer(profile.ConsensusThreshold, profile.QualityThreshold, profile.Weights),
		learning: learningStore,
		alerter:  observability.NewSlogAlerter(nil),
		logger:   slog.Default().With("component", "orchestrator"),
		clock:    time.Now,
		newID:    func() string { return uuid.New().String() },
		active:   make(map[string]*running),
	}, nil
}

// WithGateway attaches the human validation gateway. Without one,
// escalations fail the session.
func (o *Orchestrator) WithGateway(g review.Gateway) *Orchestrator {
	o.gateway = g
	return o
}

// WithImprover attaches the content-improvement collaborator. Without
// one, a non-converged round escalates instead of iterating.
func (o *Orchestrator) WithImprover(i improve.Improver) *Orchestrator {
	o.improver = i
	return o
}

// WithRecordStore attaches the durable session-record store.
func (o *Orchestrator) WithRecordStore(s store.SessionStore) *Orchestrator {
	o.records = s
	return o
}

// WithPolicy attaches the round-statistics rule engine.
func (o *Orchestrator) WithPolicy(e *policy.Engine) *Orchestrator {
	o.rules = e
	return o
}

// WithMiner attaches the pattern miner fed on human corrections.
func (o *Orchestrator) WithMiner(m *learning.Miner) *Orchestrator {
	o.miner = m
	return o
}

// WithSigner attaches the session-record signer.
func (o *Orchestrator) WithSigner(s crypto.Signer) *Orchestrator {
	o.signer = s
	return o
}

// WithAlerter replaces the default slog alerter.
func (o *Orchestrator) WithAlerter(a observability.Alerter) *Orchestrator {
	if a != nil {
		o.alerter = a
	}
	return o
}

// WithObservability attaches the telemetry provider.
func (o *Orchestrator) WithObservability(p *observability.Provider) *Orchestrator {
	o.obs = p
	return o
}

// WithClock overrides the clock for deterministic testing.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// WithIDFunc overrides id generation. Test hook.
func (o *Orchestrator) WithIDFunc(fn func() string) *Orchestrator {
	o.newID = fn
	return o
}

// Supersede delivers a newer artifact version to the lineage's running
// session. In-flight evaluator calls for the stale version are cancelled
// and their results discarded; the session re-evaluates the new version.
// Fails when no session is running for the lineage or the version does
// not advance it.
func (o *Orchestrator) Supersede(artifact *contracts.ContentArtifact) error {
	if err := artifact.Validate(); err != nil {
		return fmt.Errorf("session: supersede: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	r, ok := o.active[artifact.LineageID]
	if !ok {
		return fmt.Errorf("session: no running session for lineage %s", artifact.LineageID)
	}
	if artifact.Version <= r.version {
		return fmt.Errorf("session: supersede version %d does not advance lineage %s (at %d)",
			artifact.Version, artifact.LineageID, r.version)
	}

	select {
	case r.supersede <- artifact:
		r.version = artifact.Version
		return nil
	default:
		return fmt.Errorf("session: lineage %s already has a pending supersede", artifact.LineageID)
	}
}

// register claims a lineage for one session.
func (o *Orchestrator) register(lineageID string, version int) (*running, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, busy := o.active[lineageID]; busy {
		return nil, fmt.Errorf("session: lineage %s already has a running session", lineageID)
	}
	r := &running{version: version, supersede: make(chan *contracts.ContentArtifact, 1)}
	o.active[lineageID] = r
	return r, nil
}

func (o *Orchestrator) release(lineageID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, lineageID)
}

// humanEvaluatorID names the pseudo-evaluator a rejection verdict is
// recorded under.
func humanEvaluatorID(reviewerID string) string {
	if reviewerID == "" {
		reviewerID = "anonymous"
	}
	return "human:" + reviewerID
}

// humanEvaluation turns a rejection into the highest-priority
// evaluation of the next synthesis round: full confidence, maximum
// severity on every facet the round flagged (or every facet of the
// artifact when none were).
func (o *Orchestrator) humanEvaluation(decision *contracts.ReviewDecision, artifact *contracts.ContentArtifact, lastEvals []*contracts.Evaluation, round int) *contracts.Evaluation {
	flagged := make(map[string]bool)
	for _, ev := range lastEvals {
		if ev == nil || ev.Degraded {
			continue
		}
		for _, issue := range ev.Issues {
			flagged[issue.TargetFacet] = true
		}
	}
	if len(flagged) == 0 {
		for name := range artifact.Facets {
			flagged[name] = true
		}
	}

	var issues []contracts.Issue
	for _, facet := range sortedKeys(flagged) {
		issues = append(issues, contracts.Issue{
			TargetFacet:     facet,
			Severity:        1,
			Category:        "human_rejection",
			Description:     decision.Rationale,
			SuggestedAction: contracts.ActionRewrite,
		})
	}

	return &contracts.Evaluation{
		EvaluationID:    o.newID(),
		EvaluatorID:     humanEvaluatorID(decision.ReviewerID),
		Dimension:       "human_review",
		ArtifactID:      artifact.ArtifactID,
		ArtifactVersion: artifact.Version,
		Round:           round,
		Score:           0,
		Confidence:      1,
		Issues:          issues,
		CreatedAt:       o.clock(),
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
