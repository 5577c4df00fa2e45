package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/accordhq/accord/pkg/contracts"
)

// strategyCASScript swaps the strategy head atomically. Two sessions
// finishing near-simultaneously race on the same evaluator; the loser
// sees the moved head and retries from a fresh read.
// KEYS[1] = strategy head key
// ARGV[1] = expected current version
// ARGV[2] = new version
// ARGV[3] = new document JSON
var strategyCASScript = redis.NewScript(`
local key = KEYS[1]
local expected = tonumber(ARGV[1])
local version = tonumber(ARGV[2])

local head = redis.call("HGET", key, "version")
if head then
    head = tonumber(head)
else
    head = 0
end

if head ~= expected then
    return {0, head}
end

redis.call("HSET", key, "version", version, "document", ARGV[3])
return {1, version}
`)

// patternMergeScript merges a pattern under its signature, incrementing
// support by exactly one per call.
// KEYS[1] = pattern key
// ARGV[1] = incoming document JSON
// ARGV[2] = now (RFC 3339)
var patternMergeScript = redis.NewScript(`
local key = KEYS[1]
local incoming = cjson.decode(ARGV[1])
local now = ARGV[2]

local stored = redis.call("GET", key)
local doc
if stored then
    doc = cjson.decode(stored)
    doc.support_count = doc.support_count + 1
    doc.last_seen = now
    if incoming.observed_diff_summary and incoming.observed_diff_summary ~= "" then
        doc.observed_diff_summary = incoming.observed_diff_summary
    end
    if incoming.recommended_delta then
        doc.recommended_delta = incoming.recommended_delta
    end
else
    doc = incoming
    doc.support_count = 1
    doc.first_seen = now
    doc.last_seen = now
end

local encoded = cjson.encode(doc)
redis.call("SET", key, encoded)
return encoded
`)

// RedisStore is the shared Store for multi-node deployments.
type RedisStore struct {
	client *redis.Client
	prefix string
	clock  func() time.Time
}

// NewRedisStore connects to addr with the given key prefix ("accord"
// when empty).
func NewRedisStore(addr, password string, db int, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "accord"
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		prefix: prefix,
		clock:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *RedisStore) WithClock(clock func() time.Time) *RedisStore {
	s.clock = clock
	return s
}

func (s *RedisStore) strategyKey(evaluatorID string) string {
	return fmt.Sprintf("%s:strategy:%s", s.prefix, evaluatorID)
}

func (s *RedisStore) reliabilityKey(evaluatorID string) string {
	return fmt.Sprintf("%s:reliability:%s", s.prefix, evaluatorID)
}

func (s *RedisStore) patternKey(sig string) string {
	return fmt.Sprintf("%s:pattern:%s", s.prefix, sig)
}

func (s *RedisStore) patternIndexKey() string {
	return s.prefix + ":patterns"
}

// StrategyFor returns the head strategy, or a version-0 default.
func (s *RedisStore) StrategyFor(ctx context.Context, evaluatorID string) (contracts.Strategy, error) {
	doc, err := s.client.HGet(ctx, s.strategyKey(evaluatorID), "document").Result()
	if err == redis.Nil {
		return contracts.Strategy{EvaluatorID: evaluatorID}, nil
	}
	if err != nil {
		return contracts.Strategy{}, fmt.Errorf("learning: read strategy %s: %w", evaluatorID, err)
	}

	var st contracts.Strategy
	if err := json.Unmarshal([]byte(doc), &st); err != nil {
		return contracts.Strategy{}, fmt.Errorf("learning: decode strategy %s: %w", evaluatorID, err)
	}
	if err := CheckSchema(st); err != nil {
		return contracts.Strategy{}, err
	}
	return st, nil
}

// Snapshot reads the head strategy for each id.
func (s *RedisStore) Snapshot(ctx context.Context, evaluatorIDs []string) (map[string]contracts.Strategy, error) {
	out := make(map[string]contracts.Strategy, len(evaluatorIDs))
	for _, id := range evaluatorIDs {
		st, err := s.StrategyFor(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = st
	}
	return out, nil
}

// PutStrategy runs the compare-and-swap script.
func (s *RedisStore) PutStrategy(ctx context.Context, st contracts.Strategy) error {
	if st.EvaluatorID == "" {
		return fmt.Errorf("learning: strategy missing evaluator_id")
	}
	if err := CheckSchema(st); err != nil {
		return err
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.clock()
	}

	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("learning: encode strategy %s: %w", st.EvaluatorID, err)
	}

	res, err := strategyCASScript.Run(ctx, s.client,
		[]string{s.strategyKey(st.EvaluatorID)},
		st.Version-1, st.Version, string(doc)).Result()
	if err != nil {
		return fmt.Errorf("learning: strategy cas %s: %w", st.EvaluatorID, err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return fmt.Errorf("learning: strategy cas %s: malformed script reply", st.EvaluatorID)
	}
	swapped, _ := results[0].(int64)
	if swapped != 1 {
		head, _ := results[1].(int64)
		return fmt.Errorf("learning: strategy %s: write at version %d but head is %d: %w",
			st.EvaluatorID, st.Version, head, contracts.ErrLearningStoreConflict)
	}
	return nil
}

// Reliability returns the evaluator's recorded hit rate.
func (s *RedisStore) Reliability(ctx context.Context, evaluatorID string) (float64, error) {
	vals, err := s.client.HMGet(ctx, s.reliabilityKey(evaluatorID), "hits", "total").Result()
	if err != nil {
		return 0, fmt.Errorf("learning: read reliability %s: %w", evaluatorID, err)
	}
	hits := toInt64(vals[0])
	total := toInt64(vals[1])
	return reliabilityFrom(hits, total), nil
}

// ReliabilitySnapshot reads reliability for each id.
func (s *RedisStore) ReliabilitySnapshot(ctx context.Context, evaluatorIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(evaluatorIDs))
	for _, id := range evaluatorIDs {
		r, err := s.Reliability(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = r
	}
	return out, nil
}

// RecordOutcome folds one outcome into the tally.
func (s *RedisStore) RecordOutcome(ctx context.Context, evaluatorID string, hit bool) error {
	key := s.reliabilityKey(evaluatorID)
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "total", 1)
	if hit {
		pipe.HIncrBy(ctx, key, "hits", 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("learning: record outcome %s: %w", evaluatorID, err)
	}
	return nil
}

// UpsertPattern merges atomically inside the Lua script.
func (s *RedisStore) UpsertPattern(ctx context.Context, p contracts.Pattern) (contracts.Pattern, error) {
	if p.TriggerSignature == "" {
		return contracts.Pattern{}, fmt.Errorf("learning: pattern missing trigger_signature")
	}

	doc, err := json.Marshal(p)
	if err != nil {
		return contracts.Pattern{}, fmt.Errorf("learning: encode pattern %q: %w", p.TriggerSignature, err)
	}

	res, err := patternMergeScript.Run(ctx, s.client,
		[]string{s.patternKey(p.TriggerSignature)},
		string(doc), s.clock().UTC().Format(time.RFC3339Nano)).Result()
	if err != nil {
		return contracts.Pattern{}, fmt.Errorf("learning: pattern merge %q: %w", p.TriggerSignature, err)
	}
	if err := s.client.SAdd(ctx, s.patternIndexKey(), p.TriggerSignature).Err(); err != nil {
		return contracts.Pattern{}, fmt.Errorf("learning: index pattern %q: %w", p.TriggerSignature, err)
	}

	merged, ok := res.(string)
	if !ok {
		return contracts.Pattern{}, fmt.Errorf("learning: pattern merge %q: malformed script reply", p.TriggerSignature)
	}
	var out contracts.Pattern
	if err := json.Unmarshal([]byte(merged), &out); err != nil {
		return contracts.Pattern{}, fmt.Errorf("learning: decode merged pattern %q: %w", p.TriggerSignature, err)
	}
	return out, nil
}

// MarkPatternApplied records the accepted strategy version.
func (s *RedisStore) MarkPatternApplied(ctx context.Context, triggerSignature string, strategyVersion int64) error {
	p, ok, err := s.Pattern(ctx, triggerSignature)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("learning: pattern %q not found", triggerSignature)
	}
	p.AppliedStrategyVersion = strategyVersion
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("learning: encode pattern %q: %w", triggerSignature, err)
	}
	return s.client.Set(ctx, s.patternKey(triggerSignature), string(doc), 0).Err()
}

// Pattern returns one pattern by signature.
func (s *RedisStore) Pattern(ctx context.Context, triggerSignature string) (contracts.Pattern, bool, error) {
	doc, err := s.client.Get(ctx, s.patternKey(triggerSignature)).Result()
	if err == redis.Nil {
		return contracts.Pattern{}, false, nil
	}
	if err != nil {
		return contracts.Pattern{}, false, fmt.Errorf("learning: read pattern %q: %w", triggerSignature, err)
	}
	var p contracts.Pattern
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return contracts.Pattern{}, false, fmt.Errorf("learning: decode pattern %q: %w", triggerSignature, err)
	}
	return p, true, nil
}

// Patterns returns every pattern, ordered by signature.
func (s *RedisStore) Patterns(ctx context.Context) ([]contracts.Pattern, error) {
	sigs, err := s.client.SMembers(ctx, s.patternIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("learning: list patterns: %w", err)
	}
	sort.Strings(sigs)

	out := make([]contracts.Pattern, 0, len(sigs))
	for _, sig := range sigs {
		p, ok, err := s.Pattern(ctx, sig)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Close closes the client connection.
func (s *RedisStore) Close() error { return s.client.Close() }

func toInt64(v any) int64 {
	switch x := v.(type) {
	case string:
		var n int64
		_, _ = fmt.Sscan(x, &n)
		return n
	case int64:
		return x
	}
	return 0
}

var _ Store = (*RedisStore)(nil)
