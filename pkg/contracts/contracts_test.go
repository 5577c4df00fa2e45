package contracts

import (
	"errors"
	"testing"
	"time"
)

func validArtifact() *ContentArtifact {
	return &ContentArtifact{
		ArtifactID: "art-1",
		LineageID:  "lin-1",
		Version:    1,
		Facets: map[string]Facet{
			"narration": {ContentType: "text/plain", Content: []byte("hello")},
		},
		CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestArtifactValidate(t *testing.T) {
	if err := validArtifact().Validate(); err != nil {
		t.Fatalf("valid artifact rejected: %v", err)
	}

	a := validArtifact()
	a.Version = 0
	if err := a.Validate(); err == nil {
		t.Fatal("expected version < 1 to fail")
	}

	a = validArtifact()
	a.PrevArtifactID = "art-0"
	if err := a.Validate(); err == nil {
		t.Fatal("expected v1 with predecessor to fail")
	}

	a = validArtifact()
	a.Version = 2
	if err := a.Validate(); err == nil {
		t.Fatal("expected v2 without predecessor to fail")
	}

	a = validArtifact()
	a.Facets = nil
	if err := a.Validate(); err == nil {
		t.Fatal("expected facet-less artifact to fail")
	}
}

func TestArtifactFacetNamesSorted(t *testing.T) {
	a := validArtifact()
	a.Facets["diagram"] = Facet{ContentType: "image/svg+xml"}
	a.Facets["structure"] = Facet{ContentType: "application/json"}

	names := a.FacetNames()
	want := []string{"diagram", "narration", "structure"}
	if len(names) != len(want) {
		t.Fatalf("expected %d names, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestArtifactSupersedes(t *testing.T) {
	v1 := validArtifact()
	v2 := validArtifact()
	v2.ArtifactID = "art-2"
	v2.Version = 2
	v2.PrevArtifactID = "art-1"

	if !v2.Supersedes(v1) {
		t.Fatal("v2 should supersede v1")
	}
	if v1.Supersedes(v2) {
		t.Fatal("v1 should not supersede v2")
	}
	other := validArtifact()
	other.LineageID = "lin-2"
	other.Version = 5
	if other.Supersedes(v1) {
		t.Fatal("different lineage must never supersede")
	}
}

func TestEvaluationValidate(t *testing.T) {
	e := &Evaluation{
		EvaluationID: "ev-1",
		EvaluatorID:  "technical",
		Dimension:    "technical_accuracy",
		Score:        0.8,
		Confidence:   0.9,
		Issues: []Issue{
			{TargetFacet: "narration", Severity: 0.4, Category: "factual-error", Description: "wrong port"},
		},
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("valid evaluation rejected: %v", err)
	}

	e.Score = 1.2
	if err := e.Validate(); err == nil {
		t.Fatal("expected out-of-range score to fail")
	}
	e.Score = 0.8
	e.Issues[0].Severity = -0.1
	if err := e.Validate(); err == nil {
		t.Fatal("expected out-of-range severity to fail")
	}
}

func TestCrossEvaluationValidate(t *testing.T) {
	c := &CrossEvaluation{
		ReviewID:   "cr-1",
		ReviewerID: "ev-1",
		ReviewedID: "ev-2",
		Agreement:  0.75,
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("valid cross-evaluation rejected: %v", err)
	}

	c.ReviewedID = "ev-1"
	if err := c.Validate(); err == nil {
		t.Fatal("expected self-review to fail")
	}
}

func TestActionKindValid(t *testing.T) {
	for _, k := range []ActionKind{ActionRewrite, ActionAdjust, ActionRemove, ActionAdd} {
		if !k.Valid() {
			t.Fatalf("%s should be valid", k)
		}
	}
	if ActionKind("DESTROY").Valid() {
		t.Fatal("unknown kind should be invalid")
	}
}

func TestStrategyEffectiveWeight(t *testing.T) {
	s := Strategy{}
	if got := s.EffectiveWeight("visual_quality", 0.25); got != 0.25 {
		t.Fatalf("unset weight should fall back to default, got %v", got)
	}

	s = Strategy{Weight: 0.4, WeightAdjustments: map[string]float64{"visual_quality": -0.1}}
	if got := s.EffectiveWeight("visual_quality", 0.25); got != 0.4-0.1 {
		t.Fatalf("expected 0.3, got %v", got)
	}

	s = Strategy{Weight: 0.1, WeightAdjustments: map[string]float64{"visual_quality": -0.5}}
	if got := s.EffectiveWeight("visual_quality", 0.25); got != 0 {
		t.Fatalf("weight must floor at zero, got %v", got)
	}
}

func TestStrategyTrustedConfidence(t *testing.T) {
	s := Strategy{}
	if got := s.TrustedConfidence(0.8); got != 0.8 {
		t.Fatalf("unset trust should be identity, got %v", got)
	}
	s = Strategy{ConfidenceTrust: 0.5}
	if got := s.TrustedConfidence(0.8); got != 0.4 {
		t.Fatalf("expected 0.4, got %v", got)
	}
	s = Strategy{ConfidenceTrust: 2}
	if got := s.TrustedConfidence(0.8); got != 1 {
		t.Fatalf("trusted confidence must clamp to 1, got %v", got)
	}
}

func TestStrategyThreshold(t *testing.T) {
	s := Strategy{ThresholdOverrides: map[string]float64{"confidence_floor": 0.2}}
	if got := s.Threshold("confidence_floor", 0.3); got != 0.2 {
		t.Fatalf("expected override 0.2, got %v", got)
	}
	if got := s.Threshold("other", 0.3); got != 0.3 {
		t.Fatalf("expected default 0.3, got %v", got)
	}
}

func TestSessionStateTerminal(t *testing.T) {
	for _, s := range []SessionState{StateApproved, StateFailed} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []SessionState{StateEvaluating, StateEscalating, StateRejected, StateConverged} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestEvaluatorErrorMatchesSentinel(t *testing.T) {
	cause := errors.New("connection refused")
	err := &EvaluatorError{EvaluatorID: "visual", Kind: FailureTimeout, Err: cause}

	if !errors.Is(err, ErrEvaluatorFailure) {
		t.Fatal("EvaluatorError must match ErrEvaluatorFailure")
	}
	if !errors.Is(err, cause) {
		t.Fatal("EvaluatorError must retain its cause")
	}
}

func TestStrategyDeltaZero(t *testing.T) {
	if !(StrategyDelta{}).Zero() {
		t.Fatal("empty delta should be zero")
	}
	d := StrategyDelta{WeightAdjustments: map[string]float64{"visual_quality": 0.05}}
	if d.Zero() {
		t.Fatal("delta with adjustments should not be zero")
	}
}
