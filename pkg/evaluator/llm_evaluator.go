package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/llm"
)

const evaluatePromptFormat = `You are a strict %s reviewer on a multi-evaluator quality panel.
Judge the artifact in the input block on the %s dimension only.
Score 1.0 means flawless for this dimension; 0.0 means unusable.
Report every concrete problem as an issue naming the facet it concerns.
Respond with a single JSON object shaped as:
{"score": 0.0, "confidence": 0.0, "issues": [{"target_facet": "", "location": "", "severity": 0.0, "category": "", "description": "", "suggested_action": "REWRITE|ADJUST|REMOVE|ADD"}]}
No prose outside the JSON.`

const peerReviewPromptFormat = `You are the %s reviewer on a multi-evaluator quality panel.
The input block holds your own verdict on an artifact and the verdicts of your peers.
For each peer verdict, state how far you agree with it after reading their issues:
1.0 fully endorses the verdict, 0.0 rejects it. List specific rebuttals when you disagree.
Respond with a single JSON object shaped as:
{"reviews": [{"evaluator_id": "", "agreement": 0.0, "rebuttals": [""]}]}
Review every peer exactly once. No prose outside the JSON.`

// LLMConfig describes one LLM-backed judge.
type LLMConfig struct {
	// ID is the stable evaluator identifier.
	ID string

	// Dimension is the quality dimension this judge covers.
	Dimension string

	// Rubric is appended to the evaluation prompt; it carries the
	// dimension-specific judging criteria.
	Rubric string

	// Fingerprint identifies the exact model configuration for session
	// records.
	Fingerprint llm.ModelFingerprint
}

// LLMEvaluator judges one dimension by prompting a model and validating
// its reply against the verdict schema. Schema-invalid replies are
// permanent failures; the session records them as degraded rather than
// retrying.
type LLMEvaluator struct {
	id          string
	dimension   string
	rubric      string
	client      llm.Client
	fingerprint llm.ModelFingerprint

	evalSchema *jsonschema.Schema
	peerSchema *jsonschema.Schema

	clock func() time.Time
	newID func() string
}

// NewLLM builds an LLM-backed evaluator.
func NewLLM(client llm.Client, cfg LLMConfig) (*LLMEvaluator, error) {
	if client == nil {
		return nil, fmt.Errorf("llm evaluator: nil client")
	}
	if cfg.ID == "" || cfg.Dimension == "" {
		return nil, fmt.Errorf("llm evaluator: id and dimension are required")
	}
	evalSchema, err := CompileVerdictSchema()
	if err != nil {
		return nil, err
	}
	peerSchema, err := CompilePeerReviewSchema()
	if err != nil {
		return nil, err
	}
	return &LLMEvaluator{
		id:          cfg.ID,
		dimension:   cfg.Dimension,
		rubric:      cfg.Rubric,
		client:      client,
		fingerprint: cfg.Fingerprint,
		evalSchema:  evalSchema,
		peerSchema:  peerSchema,
		clock:       time.Now,
		newID:       newEvaluationID,
	}, nil
}

// WithClock replaces the time source. Test hook.
func (e *LLMEvaluator) WithClock(clock func() time.Time) *LLMEvaluator {
	e.clock = clock
	return e
}

// WithIDFunc replaces the id generator. Test hook.
func (e *LLMEvaluator) WithIDFunc(fn func() string) *LLMEvaluator {
	e.newID = fn
	return e
}

func (e *LLMEvaluator) ID() string        { return e.id }
func (e *LLMEvaluator) Dimension() string { return e.dimension }

// Fingerprint returns the model configuration this judge runs on.
func (e *LLMEvaluator) Fingerprint() llm.ModelFingerprint { return e.fingerprint }

type peerReviewInput struct {
	Own   VerdictView   `json:"own_verdict"`
	Peers []VerdictView `json:"peer_verdicts"`
}

// Evaluate prompts the model with the artifact view and maps the
// schema-validated reply onto an evaluation record.
func (e *LLMEvaluator) Evaluate(ctx context.Context, artifact *contracts.ContentArtifact, _ contracts.Strategy) (*contracts.Evaluation, error) {
	if artifact == nil {
		return nil, fmt.Errorf("llm evaluator %s: nil artifact", e.id)
	}

	prompt := fmt.Sprintf(evaluatePromptFormat, e.dimension, e.dimension)
	if e.rubric != "" {
		prompt += "\n\n[RUBRIC]\n" + e.rubric
	}

	raw, err := llm.GenerateJSON(ctx, e.client, prompt, View(artifact))
	if err != nil {
		return nil, fmt.Errorf("llm evaluator %s: %w", e.id, err)
	}
	verdict, err := DecodeVerdict(e.evalSchema, raw)
	if err != nil {
		return nil, llm.NewPermanentError(fmt.Errorf("llm evaluator %s: reply rejected: %w", e.id, err))
	}
	return MapVerdict(verdict, e.id, e.dimension, artifact, e.newID(), e.clock(), raw), nil
}

// EvaluatePeers prompts the model with the round's verdicts and returns
// one cross-evaluation per peer it reviewed.
func (e *LLMEvaluator) EvaluatePeers(ctx context.Context, artifact *contracts.ContentArtifact, own *contracts.Evaluation, others []*contracts.Evaluation) ([]*contracts.CrossEvaluation, error) {
	if own == nil {
		return nil, fmt.Errorf("llm evaluator %s: nil own verdict", e.id)
	}
	if len(others) == 0 {
		return nil, nil
	}

	input := peerReviewInput{Own: VerdictViewOf(own)}
	for _, other := range others {
		input.Peers = append(input.Peers, VerdictViewOf(other))
	}

	prompt := fmt.Sprintf(peerReviewPromptFormat, e.dimension)
	raw, err := llm.GenerateJSON(ctx, e.client, prompt, input)
	if err != nil {
		return nil, fmt.Errorf("llm evaluator %s: %w", e.id, err)
	}
	reviews, err := DecodePeerReviews(e.peerSchema, raw)
	if err != nil {
		return nil, llm.NewPermanentError(fmt.Errorf("llm evaluator %s: peer reviews rejected: %w", e.id, err))
	}

	out := MapPeerReviews(reviews, e.id, own, others, e.newID, e.clock())
	if len(out) == 0 {
		return nil, fmt.Errorf("llm evaluator %s: model reviewed no known peers", e.id)
	}
	return out, nil
}
