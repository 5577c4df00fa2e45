// Package contracts defines the shared data model of the consensus engine:
// artifacts under evaluation, evaluator verdicts, consensus results,
// improvement directives, learned strategies, and session records.
//
// Everything in this package is plain data. Components exchange these
// types as immutable values or snapshots; nothing here holds locks or
// talks to storage.
package contracts

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ContentArtifact is one versioned unit of generated content under
// evaluation. Artifacts are immutable: an improvement round produces a
// new artifact with an incremented Version and a PrevArtifactID
// back-reference, never an in-place edit.
type ContentArtifact struct {
	// ArtifactID uniquely identifies this version.
	ArtifactID string `json:"artifact_id"`

	// LineageID is stable across every version of one piece of content.
	// Sessions, audit records, and supersede notifications key on it.
	LineageID string `json:"lineage_id"`

	// Version increases strictly within a lineage.
	Version int `json:"version"`

	// PrevArtifactID references the superseded version. Relation only:
	// the predecessor is never loaded or owned through this field.
	PrevArtifactID string `json:"prev_artifact_id,omitempty"`

	// Facets are the named views evaluators inspect, keyed by facet name
	// (e.g. "narration", "diagram", "structure").
	Facets map[string]Facet `json:"facets"`

	// Source names the collaborator that produced this version.
	Source string `json:"source,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Facet is one named view of an artifact. Small payloads ride inline in
// Content; larger ones live in the payload store and are addressed by
// PayloadRef ("sha256:..." digest).
type Facet struct {
	ContentType string            `json:"content_type"`
	Content     []byte            `json:"content,omitempty"`
	PayloadRef  string            `json:"payload_ref,omitempty"`
	Summary     string            `json:"summary,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Facet returns the named facet.
func (a *ContentArtifact) Facet(name string) (Facet, bool) {
	f, ok := a.Facets[name]
	return f, ok
}

// FacetNames returns the facet names in lexical order. Callers that
// iterate facets must use this instead of ranging the map so that
// downstream output stays deterministic.
func (a *ContentArtifact) FacetNames() []string {
	names := make([]string, 0, len(a.Facets))
	for name := range a.Facets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the structural invariants of an artifact.
func (a *ContentArtifact) Validate() error {
	if a == nil {
		return errors.New("nil artifact")
	}
	if a.ArtifactID == "" {
		return errors.New("missing artifact_id")
	}
	if a.LineageID == "" {
		return errors.New("missing lineage_id")
	}
	if a.Version < 1 {
		return fmt.Errorf("artifact %s: version %d < 1", a.ArtifactID, a.Version)
	}
	if a.Version == 1 && a.PrevArtifactID != "" {
		return fmt.Errorf("artifact %s: first version cannot reference a predecessor", a.ArtifactID)
	}
	if a.Version > 1 && a.PrevArtifactID == "" {
		return fmt.Errorf("artifact %s: version %d missing prev_artifact_id", a.ArtifactID, a.Version)
	}
	if len(a.Facets) == 0 {
		return fmt.Errorf("artifact %s: no facets", a.ArtifactID)
	}
	return nil
}

// Supersedes reports whether a replaces prev within the same lineage.
func (a *ContentArtifact) Supersedes(prev *ContentArtifact) bool {
	if a == nil || prev == nil {
		return false
	}
	return a.LineageID == prev.LineageID && a.Version > prev.Version
}

// ArtifactRef is a lightweight pointer to one artifact version inside a
// session record.
type ArtifactRef struct {
	ArtifactID  string `json:"artifact_id"`
	Version     int    `json:"version"`
	ContentHash string `json:"content_hash,omitempty"`
}
