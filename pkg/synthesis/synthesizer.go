// Package synthesis merges a non-converged round's evaluations into one
// ordered, conflict-free list of improvement directives.
//
// Conflicts (two evaluators proposing different actions on the same
// facet) are resolved inside this package and never surface to the
// caller: the action backed by the higher historical reliability wins,
// and the surviving directive carries an auditable resolution note.
package synthesis

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/accordhq/accord/pkg/canonicalize"
	"github.com/accordhq/accord/pkg/contracts"
)

// DefaultReliability is the neutral prior for evaluators with no
// recorded history.
const DefaultReliability = 0.5

// Synthesizer builds directive lists from round feedback. strategies is
// the session-start snapshot; reliability is the evaluator reliability
// snapshot taken at the same instant.
type Synthesizer struct {
	strategies  map[string]contracts.Strategy
	reliability map[string]float64
	newID       func() string
}

// NewSynthesizer creates a synthesizer over frozen session snapshots.
// Either map may be nil.
func NewSynthesizer(strategies map[string]contracts.Strategy, reliability map[string]float64) *Synthesizer {
	return &Synthesizer{
		strategies:  strategies,
		reliability: reliability,
		newID:       func() string { return uuid.New().String() },
	}
}

// WithIDFunc overrides directive id generation. Tests use it for stable
// output.
func (s *Synthesizer) WithIDFunc(fn func() string) *Synthesizer {
	s.newID = fn
	return s
}

// candidate is one issue lifted out of an evaluation, carrying enough
// context to rank and to explain conflict resolutions.
type candidate struct {
	evaluatorID string
	issue       contracts.Issue
	rank        float64
	reliability float64
}

// Synthesize turns one round's evaluations and critiques into an ordered
// directive list. Degraded evaluations contribute nothing. The returned
// list never holds two directives with the same target facet and
// different action kinds.
func (s *Synthesizer) Synthesize(
	round int,
	evaluations []*contracts.Evaluation,
	critiques []*contracts.CrossEvaluation,
) ([]contracts.ImprovementDirective, error) {
	if len(evaluations) == 0 {
		return nil, errors.New("synthesis: no evaluations")
	}

	groups := make(map[string][]candidate)
	for _, ev := range evaluations {
		if ev == nil {
			return nil, errors.New("synthesis: nil evaluation")
		}
		if ev.Degraded {
			continue
		}
		trusted := s.strategies[ev.EvaluatorID].TrustedConfidence(ev.Confidence)
		for _, issue := range ev.Issues {
			if issue.TargetFacet == "" || !issue.SuggestedAction.Valid() {
				return nil, fmt.Errorf("synthesis: evaluator %s: malformed issue for facet %q", ev.EvaluatorID, issue.TargetFacet)
			}
			groups[issue.TargetFacet] = append(groups[issue.TargetFacet], candidate{
				evaluatorID: ev.EvaluatorID,
				issue:       issue,
				rank:        issue.Severity * trusted,
				reliability: s.reliabilityOf(ev.EvaluatorID),
			})
		}
	}

	var out []contracts.ImprovementDirective
	facets := make([]string, 0, len(groups))
	for facet := range groups {
		facets = append(facets, facet)
	}
	sort.Strings(facets)

	for _, facet := range facets {
		directives := s.synthesizeFacet(round, facet, groups[facet], critiques)
		out = append(out, directives...)
	}

	// Highest priority first across all facets; facet then rationale
	// break ties so the order is reproducible.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if out[i].TargetFacet != out[j].TargetFacet {
			return out[i].TargetFacet < out[j].TargetFacet
		}
		return out[i].Rationale < out[j].Rationale
	})
	return out, nil
}

func (s *Synthesizer) reliabilityOf(evaluatorID string) float64 {
	if r, ok := s.reliability[evaluatorID]; ok {
		return r
	}
	return DefaultReliability
}

// synthesizeFacet resolves one facet group down to directives sharing a
// single action kind.
func (s *Synthesizer) synthesizeFacet(round int, facet string, group []candidate, critiques []*contracts.CrossEvaluation) []contracts.ImprovementDirective {
	sortCandidates(group)

	winner, note := s.resolveAction(round, facet, group, critiques)

	// Drop candidates proposing the losing actions, then collapse
	// duplicates by normalized rationale.
	type merged struct {
		issue   contracts.Issue
		rank    float64
		sources []string
		seen    map[string]bool
	}
	var kept []*merged
	byRationale := make(map[string]*merged)
	for _, c := range group {
		if c.issue.SuggestedAction != winner {
			continue
		}
		key := canonicalize.NormalizeText(c.issue.Description)
		if m, ok := byRationale[key]; ok {
			// Group is rank-sorted, so the merged entry already carries
			// the best wording and priority; only record the extra source.
			if !m.seen[c.evaluatorID] {
				m.sources = append(m.sources, c.evaluatorID)
				m.seen[c.evaluatorID] = true
			}
			continue
		}
		m := &merged{
			issue:   c.issue,
			rank:    c.rank,
			sources: []string{c.evaluatorID},
			seen:    map[string]bool{c.evaluatorID: true},
		}
		byRationale[key] = m
		kept = append(kept, m)
	}

	out := make([]contracts.ImprovementDirective, 0, len(kept))
	for i, m := range kept {
		d := contracts.ImprovementDirective{
			DirectiveID:      s.newID(),
			TargetFacet:      facet,
			ActionKind:       winner,
			Rationale:        m.issue.Description,
			Priority:         m.rank,
			SourceEvaluators: m.sources,
		}
		if i == 0 && note != "" {
			d.ResolutionNote = note
		}
		out = append(out, d)
	}
	return out
}

// resolveAction picks the facet's single action kind. With one distinct
// action there is nothing to resolve. Otherwise the best candidate per
// action competes on evaluator reliability, and the loser's peer
// agreement (when a critique between the two exists) goes into the
// audit note.
func (s *Synthesizer) resolveAction(round int, facet string, group []candidate, critiques []*contracts.CrossEvaluation) (contracts.ActionKind, string) {
	best := make(map[contracts.ActionKind]candidate)
	var actions []contracts.ActionKind
	for _, c := range group {
		if _, ok := best[c.issue.SuggestedAction]; !ok {
			best[c.issue.SuggestedAction] = c
			actions = append(actions, c.issue.SuggestedAction)
		}
	}
	if len(actions) == 1 {
		return actions[0], ""
	}

	contenders := make([]candidate, 0, len(actions))
	for _, a := range actions {
		contenders = append(contenders, best[a])
	}
	sort.Slice(contenders, func(i, j int) bool {
		if contenders[i].reliability != contenders[j].reliability {
			return contenders[i].reliability > contenders[j].reliability
		}
		if contenders[i].rank != contenders[j].rank {
			return contenders[i].rank > contenders[j].rank
		}
		return contenders[i].evaluatorID < contenders[j].evaluatorID
	})

	win, lose := contenders[0], contenders[1]
	note := fmt.Sprintf("conflict on facet %q: %s (from %s, reliability %.2f) preferred over %s (from %s, reliability %.2f)",
		facet, win.issue.SuggestedAction, win.evaluatorID, win.reliability,
		lose.issue.SuggestedAction, lose.evaluatorID, lose.reliability)
	if agreement, ok := pairAgreement(critiques, win.evaluatorID, lose.evaluatorID); ok {
		note += fmt.Sprintf("; peer agreement between them was %.2f", agreement)
	}

	slog.Warn("synthesis: resolved directive conflict",
		"round", round,
		"facet", facet,
		"winner", win.evaluatorID,
		"action", string(win.issue.SuggestedAction),
		"loser", lose.evaluatorID,
		"rejected_action", string(lose.issue.SuggestedAction))
	return win.issue.SuggestedAction, note
}

// sortCandidates orders a facet group by rank, then reliability, then
// evaluator id.
func sortCandidates(group []candidate) {
	sort.Slice(group, func(i, j int) bool {
		if group[i].rank != group[j].rank {
			return group[i].rank > group[j].rank
		}
		if group[i].reliability != group[j].reliability {
			return group[i].reliability > group[j].reliability
		}
		return group[i].evaluatorID < group[j].evaluatorID
	})
}

// pairAgreement looks up the recorded critique agreement between two
// evaluators, in either direction.
func pairAgreement(critiques []*contracts.CrossEvaluation, a, b string) (float64, bool) {
	var sum float64
	var n int
	for _, c := range critiques {
		if c == nil {
			continue
		}
		if (c.ReviewerEvaluatorID == a && c.ReviewedEvaluatorID == b) ||
			(c.ReviewerEvaluatorID == b && c.ReviewedEvaluatorID == a) {
			sum += c.Agreement
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
