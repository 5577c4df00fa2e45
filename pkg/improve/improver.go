// Package improve defines the content-improvement collaborator boundary.
// The engine only produces directives; applying them is this
// collaborator's job, and the real generator lives outside the engine.
// FacetPatcher is the in-process reference implementation used by the
// CLI and tests.
package improve

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/accordhq/accord/pkg/contracts"
)

// Improver applies a directive list to an artifact and returns the next
// version: incremented, lineage-linked, never an in-place edit of its
// input.
type Improver interface {
	Improve(ctx context.Context, artifact *contracts.ContentArtifact, directives []contracts.ImprovementDirective) (*contracts.ContentArtifact, error)
}

// ImproverFunc adapts a function to the Improver interface.
type ImproverFunc func(ctx context.Context, artifact *contracts.ContentArtifact, directives []contracts.ImprovementDirective) (*contracts.ContentArtifact, error)

// Improve calls f.
func (f ImproverFunc) Improve(ctx context.Context, artifact *contracts.ContentArtifact, directives []contracts.ImprovementDirective) (*contracts.ContentArtifact, error) {
	return f(ctx, artifact, directives)
}

// NextVersion copies an artifact into its successor: version
// incremented, lineage preserved, predecessor referenced, facets
// deep-copied so the old version stays immutable.
func NextVersion(artifact *contracts.ContentArtifact, source string, at time.Time) *contracts.ContentArtifact {
	next := &contracts.ContentArtifact{
		ArtifactID:     uuid.New().String(),
		LineageID:      artifact.LineageID,
		Version:        artifact.Version + 1,
		PrevArtifactID: artifact.ArtifactID,
		Facets:         make(map[string]contracts.Facet, len(artifact.Facets)),
		Source:         source,
		CreatedAt:      at,
	}
	for name, f := range artifact.Facets {
		copied := f
		if len(f.Content) > 0 {
			copied.Content = append([]byte(nil), f.Content...)
		}
		if len(f.Metadata) > 0 {
			copied.Metadata = make(map[string]string, len(f.Metadata))
			for k, v := range f.Metadata {
				copied.Metadata[k] = v
			}
		}
		next.Facets[name] = copied
	}
	return next
}

// FacetPatcher is the reference Improver. It edits facets mechanically:
// REMOVE drops the facet, ADD creates a stub carrying the rationale,
// REWRITE replaces the content with a revision marker, ADJUST annotates
// it. Real deployments replace this with the generation service; the
// patcher exists so the loop closes without one.
type FacetPatcher struct {
	clock func() time.Time
}

// NewFacetPatcher creates the reference improver.
func NewFacetPatcher() *FacetPatcher {
	return &FacetPatcher{clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (p *FacetPatcher) WithClock(clock func() time.Time) *FacetPatcher {
	p.clock = clock
	return p
}

// Improve applies each directive in order to a fresh version.
func (p *FacetPatcher) Improve(_ context.Context, artifact *contracts.ContentArtifact, directives []contracts.ImprovementDirective) (*contracts.ContentArtifact, error) {
	if artifact == nil {
		return nil, fmt.Errorf("improve: nil artifact")
	}
	if len(directives) == 0 {
		return nil, fmt.Errorf("improve: empty directive list for artifact %s", artifact.ArtifactID)
	}

	next := NextVersion(artifact, "facet-patcher", p.clock())
	for _, d := range directives {
		if !d.ActionKind.Valid() {
			return nil, fmt.Errorf("improve: directive %s has unknown action %q", d.DirectiveID, d.ActionKind)
		}

		switch d.ActionKind {
		case contracts.ActionRemove:
			delete(next.Facets, d.TargetFacet)
		case contracts.ActionAdd:
			if _, exists := next.Facets[d.TargetFacet]; !exists {
				next.Facets[d.TargetFacet] = contracts.Facet{
					ContentType: "text/plain",
					Content:     []byte(fmt.Sprintf("[added per directive %s] %s", d.DirectiveID, d.Rationale)),
				}
			}
		case contracts.ActionRewrite:
			f, exists := next.Facets[d.TargetFacet]
			if !exists {
				continue
			}
			f.Content = []byte(fmt.Sprintf("[rewritten per directive %s] %s", d.DirectiveID, d.Rationale))
			f.PayloadRef = ""
			next.Facets[d.TargetFacet] = f
		case contracts.ActionAdjust:
			f, exists := next.Facets[d.TargetFacet]
			if !exists {
				continue
			}
			f.Content = append(f.Content, []byte(fmt.Sprintf("\n[adjusted per directive %s] %s", d.DirectiveID, d.Rationale))...)
			next.Facets[d.TargetFacet] = f
		}
	}

	if len(next.Facets) == 0 {
		// A directive list that removes everything would produce an
		// invalid artifact; keep a placeholder so the next round has
		// something to judge.
		next.Facets["placeholder"] = contracts.Facet{
			ContentType: "text/plain",
			Content:     []byte("content removed pending regeneration"),
		}
	}
	return next, nil
}

var _ Improver = (*FacetPatcher)(nil)
