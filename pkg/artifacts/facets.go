package artifacts

import (
	"context"
	"fmt"

	"github.com/accordhq/accord/pkg/contracts"
)

// InlineLimit is the facet payload size, in bytes, above which
// Externalize moves content out of the artifact and into the store.
const InlineLimit = 16 * 1024

// ResolveFacet returns a facet's payload bytes: inline content when
// present, otherwise the bytes behind its PayloadRef. Evaluators read
// facet content exclusively through this.
func ResolveFacet(ctx context.Context, store Store, facet contracts.Facet) ([]byte, error) {
	if len(facet.Content) > 0 {
		return facet.Content, nil
	}
	if facet.PayloadRef == "" {
		return nil, nil
	}
	if store == nil {
		return nil, fmt.Errorf("facet references %s but no payload store configured", facet.PayloadRef)
	}
	data, err := store.Get(ctx, facet.PayloadRef)
	if err != nil {
		return nil, fmt.Errorf("resolve facet payload: %w", err)
	}
	return data, nil
}

// Externalize returns a copy of the artifact in which every facet payload
// larger than InlineLimit is moved into the store and replaced by its
// reference. Facets already carrying a reference are left alone.
func Externalize(ctx context.Context, store Store, artifact *contracts.ContentArtifact) (*contracts.ContentArtifact, error) {
	if artifact == nil {
		return nil, fmt.Errorf("nil artifact")
	}
	out := *artifact
	out.Facets = make(map[string]contracts.Facet, len(artifact.Facets))

	for _, name := range artifact.FacetNames() {
		facet := artifact.Facets[name]
		if len(facet.Content) > InlineLimit {
			ref, err := store.Put(ctx, facet.Content)
			if err != nil {
				return nil, fmt.Errorf("externalize facet %s: %w", name, err)
			}
			facet.PayloadRef = ref
			facet.Content = nil
		}
		out.Facets[name] = facet
	}
	return &out, nil
}

// Pin verifies that every referenced payload exists, reporting the first
// missing reference. Sessions call it before fan-out so an artifact with
// unreachable payloads is refused up front instead of degrading every
// evaluator mid-round.
func Pin(ctx context.Context, store Store, artifact *contracts.ContentArtifact) error {
	for _, name := range artifact.FacetNames() {
		facet := artifact.Facets[name]
		if facet.PayloadRef == "" {
			continue
		}
		ok, err := store.Exists(ctx, facet.PayloadRef)
		if err != nil {
			return fmt.Errorf("check facet %s: %w", name, err)
		}
		if !ok {
			return fmt.Errorf("facet %s payload missing: %s", name, facet.PayloadRef)
		}
	}
	return nil
}
