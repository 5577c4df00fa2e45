// Package policy evaluates CEL rules against per-round statistics. Rules
// decide two things the engine cannot hardcode: whether a converged
// session still needs human review, and whether a round's shape warrants
// an operator alert. Rules run in declaration order and see a fixed,
// typed variable set, so evaluation is deterministic for identical stats.
package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/accordhq/accord/pkg/config"
)

// Effects a rule may carry.
const (
	EffectRequireReview = "require_review"
	EffectAlert         = "alert"
)

// RoundStats is the variable set a rule condition sees.
type RoundStats struct {
	Round          int
	WeightedScore  float64
	AgreementIndex float64
	Converged      bool
	Inconclusive   bool
	ActiveCount    int
	DegradedCount  int
	HumanRound     int
	MaxIterations  int
}

func (s RoundStats) activation() map[string]any {
	return map[string]any{
		"round":           s.Round,
		"weighted_score":  s.WeightedScore,
		"agreement_index": s.AgreementIndex,
		"converged":       s.Converged,
		"inconclusive":    s.Inconclusive,
		"active_count":    s.ActiveCount,
		"degraded_count":  s.DegradedCount,
		"human_round":     s.HumanRound,
		"max_iterations":  s.MaxIterations,
	}
}

// Match is one rule whose condition held.
type Match struct {
	Name    string
	Effect  string
	Message string
}

// Matches is the ordered result of one evaluation pass.
type Matches []Match

// RequireReview reports whether any matched rule demands human review.
func (m Matches) RequireReview() bool {
	for _, match := range m {
		if match.Effect == EffectRequireReview {
			return true
		}
	}
	return false
}

// Alerts returns the matched alert rules in order.
func (m Matches) Alerts() []Match {
	var out []Match
	for _, match := range m {
		if match.Effect == EffectAlert {
			out = append(out, match)
		}
	}
	return out
}

type compiledRule struct {
	rule config.PolicyRule
	prog cel.Program
}

// Engine holds the compiled rule set.
type Engine struct {
	rules []compiledRule
}

// NewEngine validates and compiles the rules. Every condition must be a
// boolean expression over the RoundStats variables; anything else is a
// configuration error surfaced here, not at round time.
func NewEngine(rules []config.PolicyRule) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("round", cel.IntType),
		cel.Variable("weighted_score", cel.DoubleType),
		cel.Variable("agreement_index", cel.DoubleType),
		cel.Variable("converged", cel.BoolType),
		cel.Variable("inconclusive", cel.BoolType),
		cel.Variable("active_count", cel.IntType),
		cel.Variable("degraded_count", cel.IntType),
		cel.Variable("human_round", cel.IntType),
		cel.Variable("max_iterations", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: create env: %w", err)
	}

	e := &Engine{rules: make([]compiledRule, 0, len(rules))}
	for _, rule := range rules {
		if rule.Effect != EffectRequireReview && rule.Effect != EffectAlert {
			return nil, fmt.Errorf("policy: rule %q has unknown effect %q", rule.Name, rule.Effect)
		}
		if err := CheckDeterministic(env, rule.Condition); err != nil {
			return nil, fmt.Errorf("policy: rule %q: %w", rule.Name, err)
		}

		ast, issues := env.Compile(rule.Condition)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("policy: rule %q: compile: %w", rule.Name, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("policy: rule %q: condition is %s, want bool", rule.Name, ast.OutputType())
		}

		prog, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("policy: rule %q: program: %w", rule.Name, err)
		}
		e.rules = append(e.rules, compiledRule{rule: rule, prog: prog})
	}
	return e, nil
}

// Evaluate runs every rule against the stats and returns the matches in
// declaration order.
func (e *Engine) Evaluate(stats RoundStats) (Matches, error) {
	if e == nil {
		return nil, nil
	}
	activation := stats.activation()

	var matches Matches
	for _, cr := range e.rules {
		val, _, err := cr.prog.Eval(activation)
		if err != nil {
			return nil, fmt.Errorf("policy: rule %q: eval: %w", cr.rule.Name, err)
		}
		hit, ok := val.Value().(bool)
		if !ok {
			return nil, fmt.Errorf("policy: rule %q: condition returned %T", cr.rule.Name, val.Value())
		}
		if hit {
			matches = append(matches, Match{
				Name:    cr.rule.Name,
				Effect:  cr.rule.Effect,
				Message: cr.rule.Message,
			})
		}
	}
	return matches, nil
}

// Len returns the number of compiled rules.
func (e *Engine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}
