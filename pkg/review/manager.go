// Package review provides the human validation gateway: the one
// externally-blocking step of a consensus session. The orchestrator
// suspends on a ReviewRequest with an explicit deadline; a reviewer
// approves or rejects through the Manager, and every terminal request
// produces an immutable receipt.
package review

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/accordhq/accord/pkg/canonicalize"
	"github.com/accordhq/accord/pkg/contracts"
)

// Gateway is the boundary the orchestrator blocks on. Validate returns
// the reviewer's decision, or an error wrapping
// contracts.ErrEscalationTimeout when no decision arrives before the
// request expires.
type Gateway interface {
	Validate(ctx context.Context, req *contracts.ReviewRequest) (*contracts.ReviewDecision, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, req *contracts.ReviewRequest) (*contracts.ReviewDecision, error)

// Validate calls f.
func (f GatewayFunc) Validate(ctx context.Context, req *contracts.ReviewRequest) (*contracts.ReviewDecision, error) {
	return f(ctx, req)
}

// Manager tracks pending review requests and resolves them into
// decisions and receipts. It is the in-process Gateway implementation:
// embedding programs (dashboards, CLIs) call Approve and Reject while
// sessions block inside Validate.
type Manager struct {
	mu       sync.Mutex
	requests map[string]*contracts.ReviewRequest
	waiters  map[string]chan *contracts.ReviewDecision
	receipts []*contracts.ReviewReceipt
	clock    func() time.Time
	newID    func() string
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		requests: make(map[string]*contracts.ReviewRequest),
		waiters:  make(map[string]chan *contracts.ReviewDecision),
		clock:    time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// WithIDFunc overrides id generation. Test hook.
func (m *Manager) WithIDFunc(fn func() string) *Manager {
	m.newID = fn
	return m
}

// Validate registers the request and blocks until a decision arrives,
// the request expires, or ctx is done. Expiry and ctx cancellation both
// count as an unresponsive gateway: the request is closed with a
// timed-out receipt and the error wraps contracts.ErrEscalationTimeout.
func (m *Manager) Validate(ctx context.Context, req *contracts.ReviewRequest) (*contracts.ReviewDecision, error) {
	if req == nil {
		return nil, fmt.Errorf("review: nil request")
	}

	m.mu.Lock()
	if _, exists := m.requests[req.RequestID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("review: request %q already pending", req.RequestID)
	}
	req.Status = contracts.ReviewPending
	ch := make(chan *contracts.ReviewDecision, 1)
	m.requests[req.RequestID] = req
	m.waiters[req.RequestID] = ch
	m.mu.Unlock()

	wait := req.ExpiresAt.Sub(m.clock())
	if wait <= 0 {
		m.expire(req.RequestID)
		return nil, fmt.Errorf("review: request %s expired on arrival: %w", req.RequestID, contracts.ErrEscalationTimeout)
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case decision := <-ch:
		return decision, nil
	case <-timer.C:
		m.expire(req.RequestID)
		return nil, fmt.Errorf("review: request %s expired after %s: %w", req.RequestID, wait.Round(time.Second), contracts.ErrEscalationTimeout)
	case <-ctx.Done():
		m.expire(req.RequestID)
		return nil, fmt.Errorf("review: request %s abandoned: %w", req.RequestID, contracts.ErrEscalationTimeout)
	}
}

// Approve resolves a pending request in favor of the artifact.
func (m *Manager) Approve(requestID, reviewerID string) (*contracts.ReviewDecision, error) {
	return m.decide(requestID, &contracts.ReviewDecision{
		RequestID:  requestID,
		Outcome:    contracts.ReviewApproved,
		ReviewerID: reviewerID,
	})
}

// Reject resolves a pending request against the artifact. rationale is
// required: it seeds the next synthesis round and pattern mining. edited
// optionally carries the reviewer's directly corrected artifact.
func (m *Manager) Reject(requestID, reviewerID, rationale string, edited *contracts.ContentArtifact) (*contracts.ReviewDecision, error) {
	if rationale == "" {
		return nil, fmt.Errorf("review: rejection of %s needs a rationale", requestID)
	}
	return m.decide(requestID, &contracts.ReviewDecision{
		RequestID:      requestID,
		Outcome:        contracts.ReviewRejected,
		Rationale:      rationale,
		EditedArtifact: edited,
		ReviewerID:     reviewerID,
	})
}

func (m *Manager) decide(requestID string, decision *contracts.ReviewDecision) (*contracts.ReviewDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("review: request %q not found", requestID)
	}
	if req.Status != contracts.ReviewPending {
		return nil, fmt.Errorf("review: request %q is not pending (status=%s)", requestID, req.Status)
	}

	now := m.clock()
	if now.After(req.ExpiresAt) {
		req.Status = contracts.ReviewExpired
		m.receipts = append(m.receipts, m.receipt(req, nil, now))
		return nil, fmt.Errorf("review: request %q expired before the decision: %w", requestID, contracts.ErrEscalationTimeout)
	}

	decision.DecidedAt = now
	req.Status = contracts.ReviewDecided
	m.receipts = append(m.receipts, m.receipt(req, decision, now))

	if ch, ok := m.waiters[requestID]; ok {
		ch <- decision
		delete(m.waiters, requestID)
	}
	return decision, nil
}

// expire closes a request that outlived its deadline.
func (m *Manager) expire(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok || req.Status != contracts.ReviewPending {
		return
	}
	req.Status = contracts.ReviewExpired
	m.receipts = append(m.receipts, m.receipt(req, nil, m.clock()))
	delete(m.waiters, requestID)
}

// CheckTimeouts scans pending requests and closes any past their
// deadline, returning the new receipts. Deployments without a blocked
// Validate call (e.g. an async dashboard) run this periodically.
func (m *Manager) CheckTimeouts() []*contracts.ReviewReceipt {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	var out []*contracts.ReviewReceipt
	for id, req := range m.requests {
		if req.Status != contracts.ReviewPending || !now.After(req.ExpiresAt) {
			continue
		}
		req.Status = contracts.ReviewExpired
		r := m.receipt(req, nil, now)
		m.receipts = append(m.receipts, r)
		out = append(out, r)
		delete(m.waiters, id)
	}
	return out
}

// Pending returns the pending requests, for reviewer UIs.
func (m *Manager) Pending() []*contracts.ReviewRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*contracts.ReviewRequest
	for _, req := range m.requests {
		if req.Status == contracts.ReviewPending {
			out = append(out, req)
		}
	}
	return out
}

// PendingCount returns the number of requests awaiting a decision.
func (m *Manager) PendingCount() int {
	return len(m.Pending())
}

// Get returns a request by id.
func (m *Manager) Get(requestID string) (*contracts.ReviewRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("review: request %q not found", requestID)
	}
	return req, nil
}

// Receipts returns every receipt issued so far, in issue order.
func (m *Manager) Receipts() []*contracts.ReviewReceipt {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*contracts.ReviewReceipt, len(m.receipts))
	copy(out, m.receipts)
	return out
}

// receipt builds the immutable proof that a request concluded. The
// content hash covers the canonical (request id, outcome, reviewer)
// triple so a receipt can be checked against a stored decision.
func (m *Manager) receipt(req *contracts.ReviewRequest, decision *contracts.ReviewDecision, at time.Time) *contracts.ReviewReceipt {
	r := &contracts.ReviewReceipt{
		ReceiptID: m.newID(),
		RequestID: req.RequestID,
		SessionID: req.SessionID,
		TimedOut:  decision == nil,
		CreatedAt: at,
	}
	if decision != nil {
		r.Outcome = decision.Outcome
		r.ReviewerID = decision.ReviewerID
	}

	hashable := struct {
		RequestID string                 `json:"request_id"`
		Outcome   contracts.ReviewOutcome `json:"outcome,omitempty"`
		Reviewer  string                 `json:"reviewer,omitempty"`
		TimedOut  bool                   `json:"timed_out,omitempty"`
	}{req.RequestID, r.Outcome, r.ReviewerID, r.TimedOut}
	if h, err := canonicalize.Hash(hashable); err == nil {
		r.ContentHash = h
	}
	return r
}
