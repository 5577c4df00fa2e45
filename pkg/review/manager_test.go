package review

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accordhq/accord/pkg/contracts"
)

func pendingRequest(id string, expiresIn time.Duration) *contracts.ReviewRequest {
	now := time.Now()
	return &contracts.ReviewRequest{
		RequestID: id,
		SessionID: "sess-1",
		LineageID: "lin-1",
		Reason:    contracts.EscalateIterationBound,
		Artifact: &contracts.ContentArtifact{
			ArtifactID: "art-1",
			LineageID:  "lin-1",
			Version:    1,
			Facets:     map[string]contracts.Facet{"body": {ContentType: "text/plain", Content: []byte("x")}},
		},
		Round:      3,
		HumanRound: 1,
		CreatedAt:  now,
		ExpiresAt:  now.Add(expiresIn),
	}
}

func TestValidateResolvesOnApproval(t *testing.T) {
	m := NewManager()
	req := pendingRequest("req-1", time.Minute)

	type result struct {
		decision *contracts.ReviewDecision
		err      error
	}
	done := make(chan result, 1)
	go func() {
		d, err := m.Validate(context.Background(), req)
		done <- result{d, err}
	}()

	// Wait until the request is visible to the reviewer surface.
	require.Eventually(t, func() bool { return m.PendingCount() == 1 }, time.Second, time.Millisecond)

	decision, err := m.Approve("req-1", "rev-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ReviewApproved, decision.Outcome)
	assert.False(t, decision.DecidedAt.IsZero())

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, contracts.ReviewApproved, res.decision.Outcome)
	assert.Equal(t, "rev-1", res.decision.ReviewerID)

	receipts := m.Receipts()
	require.Len(t, receipts, 1)
	assert.Equal(t, "req-1", receipts[0].RequestID)
	assert.False(t, receipts[0].TimedOut)
	assert.Contains(t, receipts[0].ContentHash, "sha256:")
}

func TestValidateResolvesOnRejection(t *testing.T) {
	m := NewManager()
	req := pendingRequest("req-1", time.Minute)

	done := make(chan *contracts.ReviewDecision, 1)
	go func() {
		d, err := m.Validate(context.Background(), req)
		require.NoError(t, err)
		done <- d
	}()
	require.Eventually(t, func() bool { return m.PendingCount() == 1 }, time.Second, time.Millisecond)

	_, err := m.Reject("req-1", "rev-1", "", nil)
	require.Error(t, err, "rejections need a rationale")

	edited := &contracts.ContentArtifact{
		ArtifactID:     "art-2",
		LineageID:      "lin-1",
		Version:        2,
		PrevArtifactID: "art-1",
		Facets:         map[string]contracts.Facet{"body": {ContentType: "text/plain", Content: []byte("y")}},
	}
	_, err = m.Reject("req-1", "rev-1", "needs a sharper intro", edited)
	require.NoError(t, err)

	d := <-done
	assert.Equal(t, contracts.ReviewRejected, d.Outcome)
	assert.Equal(t, "needs a sharper intro", d.Rationale)
	require.NotNil(t, d.EditedArtifact)
	assert.Equal(t, 2, d.EditedArtifact.Version)
}

func TestValidateExpiresOnArrival(t *testing.T) {
	m := NewManager()
	req := pendingRequest("req-1", -time.Second)

	_, err := m.Validate(context.Background(), req)
	require.ErrorIs(t, err, contracts.ErrEscalationTimeout)

	receipts := m.Receipts()
	require.Len(t, receipts, 1)
	assert.True(t, receipts[0].TimedOut)

	got, err := m.Get("req-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ReviewExpired, got.Status)
}

func TestValidateExpiryFollowsInjectedClock(t *testing.T) {
	// The injected clock sits two hours past the wall clock, so a request
	// expiring in one wall-clock hour is already stale.
	m := NewManager().WithClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	req := pendingRequest("req-1", time.Hour)

	_, err := m.Validate(context.Background(), req)
	require.ErrorIs(t, err, contracts.ErrEscalationTimeout)

	got, err := m.Get("req-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.ReviewExpired, got.Status)
}

func TestValidateTimesOut(t *testing.T) {
	m := NewManager()
	req := pendingRequest("req-1", 20*time.Millisecond)

	_, err := m.Validate(context.Background(), req)
	require.ErrorIs(t, err, contracts.ErrEscalationTimeout)

	// A late decision finds nothing pending.
	_, err = m.Approve("req-1", "rev-1")
	require.Error(t, err)
}

func TestValidateAbandonedContext(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := m.Validate(ctx, pendingRequest("req-1", time.Hour))
	require.ErrorIs(t, err, contracts.ErrEscalationTimeout)
}

func TestCheckTimeoutsSweepsExpired(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager().WithClock(func() time.Time { return now })

	// Registered directly, as an async dashboard would, without a blocked
	// Validate call.
	fresh := pendingRequest("req-fresh", 0)
	fresh.Status = contracts.ReviewPending
	fresh.ExpiresAt = now.Add(time.Hour)
	stale := pendingRequest("req-stale", 0)
	stale.Status = contracts.ReviewPending
	stale.ExpiresAt = now.Add(-time.Minute)
	m.requests["req-fresh"] = fresh
	m.requests["req-stale"] = stale

	receipts := m.CheckTimeouts()
	require.Len(t, receipts, 1)
	assert.Equal(t, "req-stale", receipts[0].RequestID)
	assert.True(t, receipts[0].TimedOut)

	assert.Equal(t, contracts.ReviewExpired, stale.Status)
	assert.Equal(t, contracts.ReviewPending, fresh.Status)
	assert.Equal(t, 1, m.PendingCount())
}

func TestDuplicateRequestIDRejected(t *testing.T) {
	m := NewManager()

	go func() {
		_, _ = m.Validate(context.Background(), pendingRequest("req-1", time.Minute))
	}()
	require.Eventually(t, func() bool { return m.PendingCount() == 1 }, time.Second, time.Millisecond)

	_, err := m.Validate(context.Background(), pendingRequest("req-1", time.Minute))
	require.Error(t, err)

	_, err = m.Approve("req-1", "rev-1")
	require.NoError(t, err)
}

func TestReceiptsAccumulateInOrder(t *testing.T) {
	m := NewManager()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("req-%d", i)
		go func() {
			_, _ = m.Validate(context.Background(), pendingRequest(id, time.Minute))
		}()
		require.Eventually(t, func() bool { return m.PendingCount() == 1 }, time.Second, time.Millisecond)
		_, err := m.Approve(id, "rev-1")
		require.NoError(t, err)
		require.Eventually(t, func() bool { return m.PendingCount() == 0 }, time.Second, time.Millisecond)
	}

	receipts := m.Receipts()
	require.Len(t, receipts, 3)
	for i, r := range receipts {
		assert.Equal(t, fmt.Sprintf("req-%d", i), r.RequestID)
	}
}
