package ledger

import (
	"strings"
	"testing"
	"time"

	"github.com/accordhq/accord/pkg/contracts"
)

func testClock() func() time.Time {
	t := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func roundResult(round int, score float64) contracts.ConsensusResult {
	return contracts.ConsensusResult{
		Round:          round,
		WeightedScore:  score,
		AgreementIndex: 0.9,
		PerDimension:   map[string]float64{"technical_accuracy": score},
		ArtifactID:     "art-1",
		ArtifactVersion: round,
	}
}

func TestAppendRoundChains(t *testing.T) {
	l := New("sess-1").WithClock(testClock())

	if l.Head() != "genesis" {
		t.Fatalf("empty ledger head = %s, want genesis", l.Head())
	}

	seq1, err := l.AppendRound(roundResult(1, 0.7))
	if err != nil {
		t.Fatalf("append round 1: %v", err)
	}
	seq2, err := l.AppendRound(roundResult(2, 0.85))
	if err != nil {
		t.Fatalf("append round 2: %v", err)
	}
	if seq1 != 1 || seq2 != 2 {
		t.Fatalf("sequences = %d, %d; want 1, 2", seq1, seq2)
	}

	e2, err := l.Get(2)
	if err != nil {
		t.Fatalf("get entry 2: %v", err)
	}
	e1, err := l.Get(1)
	if err != nil {
		t.Fatalf("get entry 1: %v", err)
	}
	if e2.PrevHash != e1.ContentHash {
		t.Fatal("entry 2 not chained to entry 1")
	}
	if l.Head() != e2.ContentHash {
		t.Fatal("head does not track the last entry")
	}
	if !strings.HasPrefix(l.Head(), "sha256:") {
		t.Fatalf("head hash missing prefix: %s", l.Head())
	}
}

func TestRoundWriteOnce(t *testing.T) {
	l := New("sess-1").WithClock(testClock())

	if _, err := l.AppendRound(roundResult(1, 0.7)); err != nil {
		t.Fatalf("append round 1: %v", err)
	}
	if _, err := l.AppendRound(roundResult(1, 0.9)); err == nil {
		t.Fatal("rewriting round 1 must fail")
	}
	if _, err := l.AppendRound(roundResult(3, 0.9)); err == nil {
		t.Fatal("skipping round 2 must fail")
	}
	if _, err := l.AppendRound(roundResult(2, 0.9)); err != nil {
		t.Fatalf("append round 2: %v", err)
	}
}

func TestRoundsDecode(t *testing.T) {
	l := New("sess-1").WithClock(testClock())
	for i := 1; i <= 3; i++ {
		if _, err := l.AppendRound(roundResult(i, 0.5+float64(i)/10)); err != nil {
			t.Fatalf("append round %d: %v", i, err)
		}
	}
	if _, err := l.Append(EntryDirectives, "", []contracts.ImprovementDirective{{TargetFacet: "narration", ActionKind: contracts.ActionAdjust}}); err != nil {
		t.Fatalf("append directives: %v", err)
	}

	rounds, err := l.Rounds()
	if err != nil {
		t.Fatalf("rounds: %v", err)
	}
	if len(rounds) != 3 {
		t.Fatalf("expected 3 rounds, got %d", len(rounds))
	}
	for i, r := range rounds {
		if r.Round != i+1 {
			t.Fatalf("rounds[%d].Round = %d", i, r.Round)
		}
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	l := New("sess-1").WithClock(testClock())
	for i := 1; i <= 3; i++ {
		if _, err := l.AppendRound(roundResult(i, 0.6)); err != nil {
			t.Fatalf("append round %d: %v", i, err)
		}
	}

	if ok, msg := l.Verify(); !ok {
		t.Fatalf("untampered chain failed verification: %s", msg)
	}

	entries := l.Entries()
	entries[1].Data = []byte(`{"round":2,"weighted_score":0.99}`)
	if ok, _ := VerifyEntries(entries); ok {
		t.Fatal("tampered data must fail verification")
	}

	entries = l.Entries()
	entries[1].PrevHash = "sha256:deadbeef"
	if ok, _ := VerifyEntries(entries); ok {
		t.Fatal("broken chain must fail verification")
	}
}

func TestVerifyEmptyChain(t *testing.T) {
	if ok, _ := VerifyEntries(nil); !ok {
		t.Fatal("empty chain should verify")
	}
}
