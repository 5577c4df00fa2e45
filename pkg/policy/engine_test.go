package policy

import (
	"testing"

	"github.com/accordhq/accord/pkg/config"
)

func testRules() []config.PolicyRule {
	return []config.PolicyRule{
		{
			Name:      "review-borderline-convergence",
			Condition: "converged && weighted_score < 0.9",
			Effect:    EffectRequireReview,
			Message:   "converged but close to threshold",
		},
		{
			Name:      "alert-persistent-disagreement",
			Condition: "agreement_index < 0.5 && round >= 3",
			Effect:    EffectAlert,
			Message:   "evaluators keep disagreeing",
		},
		{
			Name:      "alert-degraded-majority-near",
			Condition: "degraded_count * 2 == active_count + degraded_count",
			Effect:    EffectAlert,
		},
	}
}

func TestEngineEvaluate(t *testing.T) {
	engine, err := NewEngine(testRules())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if engine.Len() != 3 {
		t.Fatalf("Len = %d, want 3", engine.Len())
	}

	matches, err := engine.Evaluate(RoundStats{
		Round:          1,
		WeightedScore:  0.87,
		AgreementIndex: 0.92,
		Converged:      true,
		ActiveCount:    4,
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(matches) != 1 || matches[0].Name != "review-borderline-convergence" {
		t.Fatalf("matches = %+v", matches)
	}
	if !matches.RequireReview() {
		t.Fatal("RequireReview should be true")
	}
	if len(matches.Alerts()) != 0 {
		t.Fatal("no alerts expected")
	}
}

func TestEngineAlertRules(t *testing.T) {
	engine, err := NewEngine(testRules())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	matches, err := engine.Evaluate(RoundStats{
		Round:          3,
		WeightedScore:  0.6,
		AgreementIndex: 0.4,
		ActiveCount:    2,
		DegradedCount:  2,
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	alerts := matches.Alerts()
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %+v", matches)
	}
	if matches.RequireReview() {
		t.Fatal("no review rule should match")
	}
}

func TestEngineDeterministicOrder(t *testing.T) {
	engine, err := NewEngine(testRules())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	stats := RoundStats{Round: 3, AgreementIndex: 0.1, ActiveCount: 1, DegradedCount: 1, Converged: true, WeightedScore: 0.5}
	first, err := engine.Evaluate(stats)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := engine.Evaluate(stats)
		if err != nil {
			t.Fatalf("Evaluate pass %d: %v", i, err)
		}
		if len(again) != len(first) {
			t.Fatalf("match count changed between passes")
		}
		for j := range again {
			if again[j] != first[j] {
				t.Fatalf("match order changed: %+v vs %+v", again, first)
			}
		}
	}
}

func TestNewEngineRejectsBadRules(t *testing.T) {
	cases := []config.PolicyRule{
		{Name: "non-bool", Condition: "round + 1", Effect: EffectAlert},
		{Name: "bad-effect", Condition: "true", Effect: "launch"},
		{Name: "unknown-var", Condition: "sentiment > 0.5", Effect: EffectAlert},
		{Name: "wall-clock", Condition: "now() != null", Effect: EffectAlert},
	}
	for _, rule := range cases {
		if _, err := NewEngine([]config.PolicyRule{rule}); err == nil {
			t.Fatalf("rule %q should be rejected", rule.Name)
		}
	}
}

func TestEngineNilSafe(t *testing.T) {
	var engine *Engine
	matches, err := engine.Evaluate(RoundStats{})
	if err != nil || matches != nil {
		t.Fatalf("nil engine should evaluate to nothing: %v, %v", matches, err)
	}
}
