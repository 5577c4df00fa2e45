// Package wasm runs judges compiled to WebAssembly under a
// deny-by-default sandbox: no filesystem, no network, no environment,
// no clock, no randomness. A module reads one request JSON from stdin
// and writes its reply JSON to stdout, which keeps sandboxed judges as
// deterministic as the built-ins.
package wasm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/evaluator"
)

const (
	opEvaluate      = "evaluate"
	opEvaluatePeers = "evaluate_peers"

	defaultMemoryLimit = 16 * 1024 * 1024
	defaultTimeout     = 5 * time.Second
)

// Config describes one sandboxed judge.
type Config struct {
	// ID is the stable evaluator identifier.
	ID string

	// Dimension is the quality dimension the module judges.
	Dimension string

	// Module is the compiled WebAssembly binary.
	Module []byte

	// MemoryLimitBytes caps the module's linear memory. Zero means 16 MB.
	MemoryLimitBytes int64

	// Timeout bounds one invocation. Zero means 5 seconds.
	Timeout time.Duration
}

// request is the envelope a module reads from stdin. One module serves
// both operations, switching on Op.
type request struct {
	Op       string                  `json:"op"`
	Artifact evaluator.ArtifactView  `json:"artifact"`
	Strategy *contracts.Strategy     `json:"strategy,omitempty"`
	Own      *evaluator.VerdictView  `json:"own_verdict,omitempty"`
	Peers    []evaluator.VerdictView `json:"peer_verdicts,omitempty"`
}

// Host runs one WebAssembly judge. The module is compiled once at
// construction; every invocation instantiates a fresh anonymous
// instance with its own stdin and stdout.
type Host struct {
	id        string
	dimension string

	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	modCfg   wazero.ModuleConfig
	timeout  time.Duration

	evalSchema *jsonschema.Schema
	peerSchema *jsonschema.Schema

	clock func() time.Time
	newID func() string
}

var _ evaluator.Evaluator = (*Host)(nil)

// NewHost compiles cfg.Module into a reusable sandboxed judge.
func NewHost(ctx context.Context, cfg Config) (*Host, error) {
	if cfg.ID == "" || cfg.Dimension == "" {
		return nil, errors.New("wasm judge: id and dimension are required")
	}
	if len(cfg.Module) == 0 {
		return nil, errors.New("wasm judge: empty module")
	}

	memLimit := cfg.MemoryLimitBytes
	if memLimit <= 0 {
		memLimit = defaultMemoryLimit
	}
	// wazero measures memory in 64 KB pages.
	pages := uint32(memLimit / (64 * 1024))
	if pages == 0 {
		pages = 1
	}
	// Close-on-done turns the invocation deadline into a hard CPU bound.
	runtimeCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(pages).
		WithCloseOnContextDone(true)

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	compiled, err := r.CompileModule(ctx, cfg.Module)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("wasm judge %s: compile failed: %w", cfg.ID, err)
	}

	evalSchema, err := evaluator.CompileVerdictSchema()
	if err != nil {
		_ = r.Close(ctx)
		return nil, err
	}
	peerSchema, err := evaluator.CompilePeerReviewSchema()
	if err != nil {
		_ = r.Close(ctx)
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Host{
		id:         cfg.ID,
		dimension:  cfg.Dimension,
		runtime:    r,
		compiled:   compiled,
		modCfg:     wazero.NewModuleConfig().WithStartFunctions("_start"),
		timeout:    timeout,
		evalSchema: evalSchema,
		peerSchema: peerSchema,
		clock:      time.Now,
		newID:      func() string { return uuid.New().String() },
	}, nil
}

func (h *Host) ID() string        { return h.id }
func (h *Host) Dimension() string { return h.dimension }

// Evaluate runs the module over the artifact view and maps the
// schema-validated reply onto an evaluation record.
func (h *Host) Evaluate(ctx context.Context, artifact *contracts.ContentArtifact, strategy contracts.Strategy) (*contracts.Evaluation, error) {
	if artifact == nil {
		return nil, fmt.Errorf("wasm judge %s: nil artifact", h.id)
	}

	out, err := h.run(ctx, request{
		Op:       opEvaluate,
		Artifact: evaluator.View(artifact),
		Strategy: &strategy,
	})
	if err != nil {
		return nil, err
	}
	verdict, err := evaluator.DecodeVerdict(h.evalSchema, out)
	if err != nil {
		return nil, fmt.Errorf("wasm judge %s: reply rejected: %w", h.id, err)
	}
	return evaluator.MapVerdict(verdict, h.id, h.dimension, artifact, h.newID(), h.clock(), out), nil
}

// EvaluatePeers runs the module over the round's verdicts and returns
// one cross-evaluation per peer it reviewed.
func (h *Host) EvaluatePeers(ctx context.Context, artifact *contracts.ContentArtifact, own *contracts.Evaluation, others []*contracts.Evaluation) ([]*contracts.CrossEvaluation, error) {
	if own == nil {
		return nil, fmt.Errorf("wasm judge %s: nil own verdict", h.id)
	}
	if len(others) == 0 {
		return nil, nil
	}

	ownView := evaluator.VerdictViewOf(own)
	req := request{
		Op:  opEvaluatePeers,
		Own: &ownView,
	}
	if artifact != nil {
		req.Artifact = evaluator.View(artifact)
	}
	for _, other := range others {
		req.Peers = append(req.Peers, evaluator.VerdictViewOf(other))
	}

	out, err := h.run(ctx, req)
	if err != nil {
		return nil, err
	}
	reviews, err := evaluator.DecodePeerReviews(h.peerSchema, out)
	if err != nil {
		return nil, fmt.Errorf("wasm judge %s: peer reviews rejected: %w", h.id, err)
	}

	mapped := evaluator.MapPeerReviews(reviews, h.id, own, others, h.newID, h.clock())
	if len(mapped) == 0 {
		return nil, fmt.Errorf("wasm judge %s: module reviewed no known peers", h.id)
	}
	return mapped, nil
}

// run instantiates the compiled module with req on stdin and returns
// whatever it wrote to stdout.
func (h *Host) run(ctx context.Context, req request) ([]byte, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	modCfg := h.modCfg.
		WithName(h.id + "-" + h.newID()).
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	mod, err := h.runtime.InstantiateModule(ctx, h.compiled, modCfg)
	if mod != nil {
		defer func() { _ = mod.Close(ctx) }()
	}
	if err != nil {
		var exitErr *sys.ExitError
		switch {
		case errors.As(err, &exitErr) && exitErr.ExitCode() == 0:
			// proc_exit(0) is a normal WASI command exit.
		case ctx.Err() != nil:
			return nil, fmt.Errorf("wasm judge %s: execution timed out after %v: %w", h.id, h.timeout, context.DeadlineExceeded)
		default:
			if stderr.Len() > 0 {
				return nil, fmt.Errorf("wasm judge %s: %w: %s", h.id, err, stderr.String())
			}
			return nil, fmt.Errorf("wasm judge %s: %w", h.id, err)
		}
	}
	return stdout.Bytes(), nil
}

// Close shuts down the runtime, freeing the compiled module.
func (h *Host) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.runtime.Close(ctx)
}
