// Package builtin provides the deterministic lexical judges that ship
// with the engine. They score artifacts by scanning facet text for
// mechanical defects, with no model calls; a fixed artifact always
// yields the same verdict.
package builtin

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/evaluator"
)

// base carries the identity and record plumbing shared by the built-in
// judges. Concrete judges embed it and implement Evaluate.
type base struct {
	id        string
	dimension string
	clock     func() time.Time
	newID     func() string
}

func newBase(id, dimension string) base {
	return base{
		id:        id,
		dimension: dimension,
		clock:     time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

func (b *base) ID() string        { return b.id }
func (b *base) Dimension() string { return b.dimension }

// verdict assembles the evaluation record: issues sorted most severe
// first, score derived from the issue penalties, detail marshaled into
// RawDetail for audit.
func (b *base) verdict(artifact *contracts.ContentArtifact, issues []contracts.Issue, confidence float64, detail any) *contracts.Evaluation {
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Severity > issues[j].Severity
	})
	eval := &contracts.Evaluation{
		EvaluationID:    b.newID(),
		EvaluatorID:     b.id,
		Dimension:       b.dimension,
		ArtifactID:      artifact.ArtifactID,
		ArtifactVersion: artifact.Version,
		Score:           scoreFromIssues(issues),
		Confidence:      confidence,
		Issues:          issues,
		CreatedAt:       b.clock(),
	}
	if detail != nil {
		if raw, err := json.Marshal(detail); err == nil {
			eval.RawDetail = raw
		}
	}
	return eval
}

// RegisterDefaults registers the four built-in judges in their
// canonical order.
func RegisterDefaults(reg *evaluator.Registry) error {
	for _, e := range []evaluator.Evaluator{
		NewTechnical(),
		NewVisual(),
		NewPedagogical(),
		NewAlignment(),
	} {
		if err := reg.Register(e); err != nil {
			return err
		}
	}
	return nil
}
