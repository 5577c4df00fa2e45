package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Alert kinds raised by the engine.
const (
	AlertEscalationTimeout = "ESCALATION_TIMEOUT"
	AlertSystemicPattern   = "SYSTEMIC_PATTERN"
	AlertPolicyRule        = "POLICY_RULE"
)

// Alert is one operator notification. Alerts flag conditions the
// per-artifact loop cannot fix by itself: unresponsive reviewers,
// recurring correction patterns no strategy update has addressed, and
// profile-defined rule hits.
type Alert struct {
	Kind      string            `json:"kind"`
	SessionID string            `json:"session_id,omitempty"`
	LineageID string            `json:"lineage_id,omitempty"`
	Message   string            `json:"message"`
	Detail    map[string]string `json:"detail,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Alerter is the alerting collaborator boundary. Implementations fan the
// alert out to whatever channel the deployment uses; Notify must not
// block the calling session.
type Alerter interface {
	Notify(ctx context.Context, alert Alert)
}

// SlogAlerter logs alerts as warnings. The default when no external
// channel is wired.
type SlogAlerter struct {
	logger *slog.Logger
}

// NewSlogAlerter creates an alerter over the given logger (default
// logger when nil).
func NewSlogAlerter(logger *slog.Logger) *SlogAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAlerter{logger: logger.With("component", "alerter")}
}

// Notify logs the alert.
func (a *SlogAlerter) Notify(ctx context.Context, alert Alert) {
	a.logger.WarnContext(ctx, "operator alert",
		"kind", alert.Kind,
		"session_id", alert.SessionID,
		"lineage_id", alert.LineageID,
		"message", alert.Message,
	)
}

// Fanout delivers each alert to every wired alerter.
type Fanout struct {
	alerters []Alerter
}

// NewFanout combines alerters.
func NewFanout(alerters ...Alerter) *Fanout {
	return &Fanout{alerters: alerters}
}

// Notify forwards to every alerter in order.
func (f *Fanout) Notify(ctx context.Context, alert Alert) {
	for _, a := range f.alerters {
		a.Notify(ctx, alert)
	}
}

// Recorder captures alerts for inspection. Test double.
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Notify appends the alert.
func (r *Recorder) Notify(_ context.Context, alert Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
}

// Alerts returns the captured alerts in arrival order.
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}
