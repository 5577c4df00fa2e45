package artifacts

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/accordhq/accord/pkg/contracts"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	payload := []byte("a narration track")
	ref, err := store.Put(ctx, payload)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(ref, "sha256:") {
		t.Fatalf("ref missing prefix: %s", ref)
	}

	again, err := store.Put(ctx, payload)
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if again != ref {
		t.Fatalf("idempotent Put returned different ref: %s vs %s", again, ref)
	}

	got, err := store.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("payload mismatch")
	}

	ok, err := store.Exists(ctx, ref)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}

	if err := store.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, err = store.Exists(ctx, ref)
	if err != nil || ok {
		t.Fatalf("payload still present after delete: %v, %v", ok, err)
	}
	if err := store.Delete(ctx, ref); err != nil {
		t.Fatalf("deleting absent payload should succeed: %v", err)
	}
}

func TestFileStoreRejectsBadRefs(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	for _, ref := range []string{"", "md5:abc", "sha256:zzzz", "sha256:"} {
		if _, err := store.Get(ctx, ref); err == nil {
			t.Fatalf("Get(%q) should fail", ref)
		}
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ref, err := store.Put(ctx, []byte("diagram bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got[0] = 'X' // caller mutation must not reach the store
	fresh, err := store.Get(ctx, ref)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if fresh[0] == 'X' {
		t.Fatal("store returned aliased buffer")
	}
}

func testArtifact(facets map[string]contracts.Facet) *contracts.ContentArtifact {
	return &contracts.ContentArtifact{
		ArtifactID: "art-1",
		LineageID:  "lin-1",
		Version:    1,
		Facets:     facets,
		CreatedAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestResolveFacet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	inline := contracts.Facet{ContentType: "text/plain", Content: []byte("inline")}
	got, err := ResolveFacet(ctx, store, inline)
	if err != nil || string(got) != "inline" {
		t.Fatalf("inline resolve = %q, %v", got, err)
	}

	ref, err := store.Put(ctx, []byte("external"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	external := contracts.Facet{ContentType: "text/plain", PayloadRef: ref}
	got, err = ResolveFacet(ctx, store, external)
	if err != nil || string(got) != "external" {
		t.Fatalf("external resolve = %q, %v", got, err)
	}

	empty := contracts.Facet{ContentType: "text/plain"}
	got, err = ResolveFacet(ctx, store, empty)
	if err != nil || got != nil {
		t.Fatalf("empty facet resolve = %q, %v", got, err)
	}

	if _, err := ResolveFacet(ctx, nil, external); err == nil {
		t.Fatal("resolve with nil store must fail for referenced payloads")
	}
}

func TestExternalizeMovesLargeFacets(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	big := bytes.Repeat([]byte("x"), InlineLimit+1)
	art := testArtifact(map[string]contracts.Facet{
		"narration": {ContentType: "text/plain", Content: []byte("small")},
		"video":     {ContentType: "video/mp4", Content: big},
	})

	out, err := Externalize(ctx, store, art)
	if err != nil {
		t.Fatalf("Externalize: %v", err)
	}

	if string(out.Facets["narration"].Content) != "small" {
		t.Fatal("small facet should stay inline")
	}
	video := out.Facets["video"]
	if video.Content != nil || video.PayloadRef == "" {
		t.Fatal("large facet should move to the store")
	}
	data, err := store.Get(ctx, video.PayloadRef)
	if err != nil || !bytes.Equal(data, big) {
		t.Fatalf("stored payload mismatch: %v", err)
	}

	// original untouched
	if art.Facets["video"].PayloadRef != "" {
		t.Fatal("Externalize must not mutate its input")
	}
}

func TestPin(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ref, err := store.Put(ctx, []byte("present"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	art := testArtifact(map[string]contracts.Facet{
		"a": {ContentType: "text/plain", PayloadRef: ref},
		"b": {ContentType: "text/plain", Content: []byte("inline")},
	})
	if err := Pin(ctx, store, art); err != nil {
		t.Fatalf("Pin with reachable payloads: %v", err)
	}

	art.Facets["c"] = contracts.Facet{ContentType: "text/plain", PayloadRef: "sha256:" + strings.Repeat("ab", 32)}
	if err := Pin(ctx, store, art); err == nil {
		t.Fatal("Pin must fail on missing payloads")
	}
}
