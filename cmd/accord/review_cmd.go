package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/accordhq/accord/pkg/artifacts"
	"github.com/accordhq/accord/pkg/config"
	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/crypto"
	"github.com/accordhq/accord/pkg/evaluator"
	"github.com/accordhq/accord/pkg/evaluator/builtin"
	"github.com/accordhq/accord/pkg/evaluator/wasm"
	"github.com/accordhq/accord/pkg/improve"
	"github.com/accordhq/accord/pkg/learning"
	"github.com/accordhq/accord/pkg/llm"
	"github.com/accordhq/accord/pkg/observability"
	"github.com/accordhq/accord/pkg/policy"
	"github.com/accordhq/accord/pkg/review"
	"github.com/accordhq/accord/pkg/session"
)

// runReviewCmd runs one consensus session over an artifact file.
//
// Exit codes:
//
//	0 = session approved
//	1 = session failed
//	2 = runtime error
func runReviewCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("review", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		artifactPath string
		profileName  string
		profilesDir  string
		auto         string
		reviewer     string
		rationale    string
		useLLM       bool
		wasmJudges   string
		jsonOutput   bool
		outFile      string
	)

	cmd.StringVar(&artifactPath, "artifact", "", "Path to artifact JSON file (REQUIRED)")
	cmd.StringVar(&profileName, "profile", "", "Tuning profile name (default from ACCORD_PROFILE)")
	cmd.StringVar(&profilesDir, "profiles", "", "Profiles directory (default from ACCORD_PROFILES_DIR)")
	cmd.StringVar(&auto, "auto", "approve", "Escalation handling: approve, reject, or none")
	cmd.StringVar(&reviewer, "reviewer", "cli-operator", "Reviewer id recorded on auto decisions")
	cmd.StringVar(&rationale, "rationale", "did not meet the editorial bar", "Rationale recorded on auto rejections")
	cmd.BoolVar(&useLLM, "llm", false, "Use LLM judges instead of the built-in heuristics")
	cmd.StringVar(&wasmJudges, "wasm", "", "Extra sandboxed judges as comma-separated dimension=module.wasm pairs")
	cmd.BoolVar(&jsonOutput, "json", false, "Print the session record as JSON to stdout")
	cmd.StringVar(&outFile, "out", "", "Write the session record JSON to a file")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if artifactPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -artifact is required")
		return 2
	}

	cfg := config.Load()
	logger := newLogger(stderr, cfg.LogLevel)
	if profileName == "" {
		profileName = cfg.Profile
	}
	if profilesDir == "" {
		profilesDir = cfg.ProfilesDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	profile, err := config.LoadProfile(profilesDir, profileName)
	if err != nil {
		if profileName == "default" && errors.Is(err, os.ErrNotExist) {
			profile = config.DefaultProfile()
		} else {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	artifact, err := loadArtifact(ctx, artifactPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	learningStore, closeLearning, err := openLearningStore(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open learning store: %v\n", err)
		return 2
	}
	defer func() { _ = closeLearning() }()

	records, closeRecords, err := openSessionStore(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: open session store: %v\n", err)
		return 2
	}
	defer func() { _ = closeRecords() }()

	registry, err := buildRegistry(ctx, cfg, useLLM)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if wasmJudges != "" {
		hosts, err := registerWasmJudges(ctx, registry, wasmJudges)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		defer func() {
			for _, h := range hosts {
				_ = h.Close()
			}
		}()
	}

	signer, err := crypto.NewEd25519Signer("accord-cli")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	alerter := observability.NewSlogAlerter(logger)
	miner := learning.NewMiner(learningStore, profile.ProposalSupportThreshold, profile.SystemicSupportThreshold, alerter)

	orch, err := session.NewOrchestrator(profile, registry, learningStore)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	orch.WithRecordStore(records).
		WithImprover(improve.NewFacetPatcher()).
		WithMiner(miner).
		WithSigner(signer).
		WithAlerter(alerter)

	if len(profile.Rules) > 0 {
		engine, err := policy.NewEngine(profile.Rules)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		orch.WithPolicy(engine)
	}

	if gw := buildGateway(auto, reviewer, rationale); gw != nil {
		orch.WithGateway(gw)
	}

	if cfg.OTLPEndpoint != "" {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		obsCfg.ServiceVersion = version
		obsCfg.Insecure = true
		provider, err := observability.New(ctx, obsCfg)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: telemetry: %v\n", err)
			return 2
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = provider.Shutdown(shutdownCtx)
		}()
		orch.WithObservability(provider)
	}

	record, runErr := orch.Run(ctx, artifact)
	if record == nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", runErr)
		return 2
	}

	printSummary(stdout, record)
	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(record); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}
	if outFile != "" {
		data, err := json.MarshalIndent(record, "", "  ")
		if err == nil {
			err = os.WriteFile(outFile, data, 0o644)
		}
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: write record: %v\n", err)
			return 2
		}
		fmt.Fprintf(stdout, "record written to %s\n", outFile)
	}

	if record.Outcome != contracts.OutcomeApproved {
		if runErr != nil {
			_, _ = fmt.Fprintf(stderr, "%v\n", runErr)
		}
		return 1
	}
	return 0
}

// loadArtifact reads the artifact file and hydrates any facets that carry
// a payload reference without inline content.
func loadArtifact(ctx context.Context, path string) (*contracts.ContentArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var artifact contracts.ContentArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("parse artifact: %w", err)
	}

	var payloads artifacts.Store
	for name, facet := range artifact.Facets {
		if len(facet.Content) > 0 || facet.PayloadRef == "" {
			continue
		}
		if payloads == nil {
			payloads, err = artifacts.NewStoreFromEnv(ctx)
			if err != nil {
				return nil, fmt.Errorf("open payload store: %w", err)
			}
		}
		blob, err := payloads.Get(ctx, facet.PayloadRef)
		if err != nil {
			return nil, fmt.Errorf("resolve facet %s payload: %w", name, err)
		}
		facet.Content = blob
		artifact.Facets[name] = facet
	}

	if err := artifact.Validate(); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// buildRegistry assembles the evaluator set: the built-in heuristics by
// default, LLM judges over the configured provider with -llm.
func buildRegistry(ctx context.Context, cfg *config.Config, useLLM bool) (*evaluator.Registry, error) {
	registry := evaluator.NewRegistry()

	if !useLLM {
		for _, e := range []evaluator.Evaluator{
			builtin.NewTechnical(),
			builtin.NewVisual(),
			builtin.NewPedagogical(),
			builtin.NewAlignment(),
		} {
			if err := registry.Register(e); err != nil {
				return nil, err
			}
		}
		return registry, nil
	}

	client, fingerprint, err := buildLLMClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// One shared client behind the output guard and a rate limiter
	// keeps four concurrent judges under provider quotas.
	guarded := llm.NewGuard(client, llm.DefaultGuardConfig())
	limited := llm.NewRateLimited(guarded, rate.Limit(2), 4)

	judges := []struct {
		id        string
		dimension string
		rubric    string
	}{
		{"llm-technical", evaluator.DimensionTechnicalAccuracy,
			"Judge factual and mechanical correctness: claims, code, formulas, and internal consistency."},
		{"llm-visual", evaluator.DimensionVisualQuality,
			"Judge visual and structural quality: layout, formatting, diagram legibility, and scannability."},
		{"llm-pedagogical", evaluator.DimensionPedagogicalEffectiveness,
			"Judge how well the content teaches: sequencing, pacing, examples, and cognitive load."},
		{"llm-alignment", evaluator.DimensionObjectiveAlignment,
			"Judge fit to the stated objective: coverage, scope discipline, and audience match."},
	}
	for _, j := range judges {
		judge, err := evaluator.NewLLM(limited, evaluator.LLMConfig{
			ID:          j.id,
			Dimension:   j.dimension,
			Rubric:      j.rubric,
			Fingerprint: fingerprint,
		})
		if err != nil {
			return nil, err
		}
		cached, err := evaluator.NewCached(judge, 128)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(cached); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func buildLLMClient(ctx context.Context, cfg *config.Config) (llm.Client, llm.ModelFingerprint, error) {
	if cfg.GeminiAPIKey != "" {
		model := os.Getenv("ACCORD_GEMINI_MODEL")
		if model == "" {
			model = "gemini-2.0-flash"
		}
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, model)
		if err != nil {
			return nil, llm.ModelFingerprint{}, err
		}
		return client, llm.ModelFingerprint{ProviderID: "gemini", ModelID: model}, nil
	}

	model := os.Getenv("ACCORD_LLM_MODEL")
	if model == "" {
		model = "local"
	}
	client := llm.NewOpenAIClient(cfg.LLMServiceURL, cfg.LLMAPIKey, model)
	return client, llm.ModelFingerprint{ProviderID: "openai-compatible", ModelID: model}, nil
}

// registerWasmJudges compiles and registers sandboxed judges declared as
// dimension=module.wasm pairs. The evaluator id is derived from the
// module file name.
func registerWasmJudges(ctx context.Context, registry *evaluator.Registry, spec string) ([]*wasm.Host, error) {
	var hosts []*wasm.Host
	for _, pair := range strings.Split(spec, ",") {
		dim, path, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || dim == "" || path == "" {
			return hosts, fmt.Errorf("invalid -wasm entry %q, want dimension=module.wasm", pair)
		}
		module, err := os.ReadFile(path)
		if err != nil {
			return hosts, fmt.Errorf("read wasm judge: %w", err)
		}
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		host, err := wasm.NewHost(ctx, wasm.Config{
			ID:        "wasm-" + base,
			Dimension: dim,
			Module:    module,
		})
		if err != nil {
			return hosts, err
		}
		hosts = append(hosts, host)
		if err := registry.Register(host); err != nil {
			return hosts, err
		}
	}
	return hosts, nil
}

// buildGateway maps the -auto flag to an escalation gateway. "none"
// leaves escalations unhandled, so escalating sessions fail closed.
func buildGateway(auto, reviewer, rationale string) review.Gateway {
	switch auto {
	case "approve":
		return review.GatewayFunc(func(_ context.Context, req *contracts.ReviewRequest) (*contracts.ReviewDecision, error) {
			return &contracts.ReviewDecision{
				RequestID:  req.RequestID,
				Outcome:    contracts.ReviewApproved,
				ReviewerID: reviewer,
				DecidedAt:  time.Now().UTC(),
			}, nil
		})
	case "reject":
		return review.GatewayFunc(func(_ context.Context, req *contracts.ReviewRequest) (*contracts.ReviewDecision, error) {
			return &contracts.ReviewDecision{
				RequestID:  req.RequestID,
				Outcome:    contracts.ReviewRejected,
				Rationale:  rationale,
				ReviewerID: reviewer,
				DecidedAt:  time.Now().UTC(),
			}, nil
		})
	default:
		return nil
	}
}

func printSummary(w io.Writer, record *contracts.SessionRecord) {
	fmt.Fprintf(w, "session   %s\n", record.SessionID)
	fmt.Fprintf(w, "lineage   %s\n", record.LineageID)
	fmt.Fprintf(w, "outcome   %s\n", record.Outcome)
	fmt.Fprintf(w, "score     %.3f\n", record.FinalScore)
	fmt.Fprintf(w, "version   v%d after %d round(s)\n", record.FinalVersion, len(record.Rounds))
	for _, esc := range record.Escalations {
		status := string(esc.Outcome)
		if esc.TimedOut {
			status = "TIMED_OUT"
		}
		fmt.Fprintf(w, "escalated round %d (%s): %s\n", esc.Round, esc.Reason, status)
	}
	if record.FailureReason != "" {
		fmt.Fprintf(w, "failure   %s\n", record.FailureReason)
	}
	if record.ChainHead != "" {
		fmt.Fprintf(w, "chain     %s\n", record.ChainHead)
	}
}
