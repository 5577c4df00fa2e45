package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/accordhq/accord/pkg/config"
	"github.com/accordhq/accord/pkg/contracts"
)

type strategyRow struct {
	EvaluatorID string             `json:"evaluator_id"`
	Strategy    contracts.Strategy `json:"strategy"`
	Reliability float64            `json:"reliability"`
}

// runStrategiesCmd prints the stored strategy and reliability for each
// evaluator.
//
// Exit codes:
//
//	0 = listed
//	2 = runtime error
func runStrategiesCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("strategies", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		evaluators string
		jsonOutput bool
	)
	cmd.StringVar(&evaluators, "evaluators", "", "Comma-separated evaluator ids (default: the built-in set)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ids := []string{"builtin-technical", "builtin-visual", "builtin-pedagogical", "builtin-alignment"}
	if evaluators != "" {
		ids = nil
		for _, id := range strings.Split(evaluators, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}

	cfg := config.Load()
	ctx := context.Background()

	store, closeStore, err := openLearningStore(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = closeStore() }()

	rows := make([]strategyRow, 0, len(ids))
	for _, id := range ids {
		st, err := store.StrategyFor(ctx, id)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		rel, err := store.Reliability(ctx, id)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		rows = append(rows, strategyRow{EvaluatorID: id, Strategy: st, Reliability: rel})
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		return 0
	}

	for _, row := range rows {
		fmt.Fprintf(stdout, "%s\n", row.EvaluatorID)
		fmt.Fprintf(stdout, "  version      %d\n", row.Strategy.Version)
		fmt.Fprintf(stdout, "  reliability  %.3f\n", row.Reliability)
		if row.Strategy.ConfidenceTrust != 0 {
			fmt.Fprintf(stdout, "  trust        %.3f\n", row.Strategy.ConfidenceTrust)
		}
		for dim, adj := range row.Strategy.WeightAdjustments {
			fmt.Fprintf(stdout, "  weight       %s %+.3f\n", dim, adj)
		}
		if row.Strategy.Provenance != "" {
			fmt.Fprintf(stdout, "  provenance   %s\n", row.Strategy.Provenance)
		}
	}
	return 0
}
