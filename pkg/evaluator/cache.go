package evaluator

import (
	"context"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/accordhq/accord/pkg/canonicalize"
	"github.com/accordhq/accord/pkg/contracts"
)

// Cached wraps an evaluator with an LRU over (artifact, strategy) pairs.
// Evaluate is a pure function of those two inputs, so an identical pair
// yields the cached verdict under a fresh evaluation id. Cross-critiques
// depend on the peers' verdicts of the current round and pass through
// uncached.
type Cached struct {
	next  Evaluator
	cache *lru.Cache[string, *contracts.Evaluation]
	clock func() time.Time
	newID func() string
}

// NewCached wraps next with a cache of at most size entries. A size of
// zero or less falls back to 256.
func NewCached(next Evaluator, size int) (*Cached, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, *contracts.Evaluation](size)
	if err != nil {
		return nil, err
	}
	return &Cached{
		next:  next,
		cache: cache,
		clock: time.Now,
		newID: newEvaluationID,
	}, nil
}

// WithClock replaces the time source. Test hook.
func (c *Cached) WithClock(clock func() time.Time) *Cached {
	c.clock = clock
	return c
}

// WithIDFunc replaces the evaluation id generator. Test hook.
func (c *Cached) WithIDFunc(fn func() string) *Cached {
	c.newID = fn
	return c
}

func (c *Cached) ID() string        { return c.next.ID() }
func (c *Cached) Dimension() string { return c.next.Dimension() }

// Evaluate returns the cached verdict for this exact artifact and
// strategy when one exists, otherwise delegates. Degraded verdicts are
// never cached; a transient failure must not pin itself.
func (c *Cached) Evaluate(ctx context.Context, artifact *contracts.ContentArtifact, strategy contracts.Strategy) (*contracts.Evaluation, error) {
	key, err := c.key(artifact, strategy)
	if err != nil {
		return c.next.Evaluate(ctx, artifact, strategy)
	}

	if hit, ok := c.cache.Get(key); ok {
		out := cloneEvaluation(hit)
		out.EvaluationID = c.newID()
		out.CreatedAt = c.clock()
		return out, nil
	}

	eval, err := c.next.Evaluate(ctx, artifact, strategy)
	if err != nil {
		return eval, err
	}
	if eval != nil && !eval.Degraded {
		c.cache.Add(key, cloneEvaluation(eval))
	}
	return eval, nil
}

// EvaluatePeers delegates without caching.
func (c *Cached) EvaluatePeers(ctx context.Context, artifact *contracts.ContentArtifact, own *contracts.Evaluation, others []*contracts.Evaluation) ([]*contracts.CrossEvaluation, error) {
	return c.next.EvaluatePeers(ctx, artifact, own, others)
}

// Purge empties the cache.
func (c *Cached) Purge() {
	c.cache.Purge()
}

func (c *Cached) key(artifact *contracts.ContentArtifact, strategy contracts.Strategy) (string, error) {
	artifactHash, err := canonicalize.Hash(artifact)
	if err != nil {
		return "", err
	}
	strategyHash, err := canonicalize.Hash(strategy)
	if err != nil {
		return "", err
	}
	return c.next.ID() + "|" + strategyHash + "|" + artifactHash, nil
}

// cloneEvaluation copies an evaluation so cache entries and returned
// values never share backing storage.
func cloneEvaluation(src *contracts.Evaluation) *contracts.Evaluation {
	out := *src
	if len(src.Issues) > 0 {
		out.Issues = append([]contracts.Issue(nil), src.Issues...)
	}
	if len(src.RawDetail) > 0 {
		out.RawDetail = append(json.RawMessage(nil), src.RawDetail...)
	}
	return &out
}
