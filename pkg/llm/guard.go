package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// GuardConfig configures the output guard and circuit breaker.
type GuardConfig struct {
	// MaxOutputLength caps response size; longer replies are truncated.
	MaxOutputLength int
	// CircuitBreakerThreshold is the consecutive failure count that
	// opens the circuit.
	CircuitBreakerThreshold int
	// CircuitBreakerTimeout is how long the circuit stays open before a
	// probe call is allowed through.
	CircuitBreakerTimeout time.Duration
	// EnableAnomalyDetection flags degenerate model output.
	EnableAnomalyDetection bool
}

// DefaultGuardConfig returns sensible defaults.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxOutputLength:         100000, // 100KB
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
		EnableAnomalyDetection:  true,
	}
}

// Guard wraps a Client with a circuit breaker and output sanity checks.
// A provider outage then fails each evaluator fast instead of burning
// the whole round's phase deadline call by call.
type Guard struct {
	next   Client
	config GuardConfig

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	open        bool

	anomalies int64
}

// NewGuard creates a guard around next.
func NewGuard(next Client, config GuardConfig) *Guard {
	return &Guard{next: next, config: config}
}

// ErrCircuitOpen is returned while the breaker is open.
var ErrCircuitOpen = fmt.Errorf("llm: circuit breaker open")

func (g *Guard) Chat(ctx context.Context, msgs []Message, options *SamplingOptions) (*Response, error) {
	if g.circuitOpen(ctx) {
		return nil, ErrCircuitOpen
	}

	resp, err := g.next.Chat(ctx, msgs, options)
	if err != nil {
		g.recordFailure(ctx)
		return nil, err
	}
	g.recordSuccess()

	if g.config.MaxOutputLength > 0 && len(resp.Content) > g.config.MaxOutputLength {
		slog.WarnContext(ctx, "llm: truncating model output",
			"original_length", len(resp.Content),
			"max_length", g.config.MaxOutputLength)
		resp.Content = resp.Content[:g.config.MaxOutputLength]
	}

	if g.config.EnableAnomalyDetection {
		if anomaly := detectAnomaly(resp.Content); anomaly != "" {
			g.mu.Lock()
			g.anomalies++
			g.mu.Unlock()
			slog.WarnContext(ctx, "llm: anomaly detected in model output",
				"anomaly", anomaly)
		}
	}

	return resp, nil
}

// Anomalies reports how many degenerate outputs the guard has seen.
func (g *Guard) Anomalies() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.anomalies
}

func (g *Guard) circuitOpen(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.open {
		return false
	}
	if time.Since(g.lastFailure) > g.config.CircuitBreakerTimeout {
		g.open = false
		g.failures = 0
		slog.InfoContext(ctx, "llm: circuit breaker reset")
		return false
	}
	return true
}

func (g *Guard) recordFailure(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failures++
	g.lastFailure = time.Now()
	if g.failures >= g.config.CircuitBreakerThreshold {
		g.open = true
		slog.WarnContext(ctx, "llm: circuit breaker opened",
			"failure_count", g.failures)
	}
}

func (g *Guard) recordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = 0
}

// detectAnomaly flags degenerate model output: empty replies, runaway
// repetition, or injection echoes that indicate the model followed the
// artifact instead of the evaluation prompt.
func detectAnomaly(output string) string {
	if len(output) == 0 {
		return "empty_output"
	}
	if maxRepeatingRun(output) > 10 {
		return "excessive_repetition"
	}
	if containsInjectionEcho(output) {
		return "injection_echo"
	}
	return ""
}

// maxRepeatingRun returns the longest run of one repeated byte.
func maxRepeatingRun(s string) int {
	if len(s) < 2 {
		return 0
	}
	maxRun, run := 1, 1
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1] {
			run++
			if run > maxRun {
				maxRun = run
			}
		} else {
			run = 1
		}
	}
	return maxRun
}

// containsInjectionEcho checks for prompt-injection phrases leaking into
// the reply. Artifacts under review are untrusted text.
func containsInjectionEcho(s string) bool {
	phrases := []string{
		"ignore previous instructions",
		"disregard all prior",
		"you are now",
		"pretend you are",
		"act as if",
	}
	lower := strings.ToLower(s)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
