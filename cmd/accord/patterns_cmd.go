package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/accordhq/accord/pkg/config"
)

// runPatternsCmd lists mined correction patterns, heaviest support first.
//
// Exit codes:
//
//	0 = listed
//	2 = runtime error
func runPatternsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("patterns", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	ctx := context.Background()

	store, closeStore, err := openLearningStore(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = closeStore() }()

	patterns, err := store.Patterns(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].SupportCount != patterns[j].SupportCount {
			return patterns[i].SupportCount > patterns[j].SupportCount
		}
		return patterns[i].TriggerSignature < patterns[j].TriggerSignature
	})

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(patterns); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		return 0
	}

	if len(patterns) == 0 {
		fmt.Fprintln(stdout, "no patterns mined yet")
		return 0
	}
	for _, p := range patterns {
		applied := "pending"
		if p.AppliedStrategyVersion > 0 {
			applied = fmt.Sprintf("applied@v%d", p.AppliedStrategyVersion)
		}
		fmt.Fprintf(stdout, "%s support=%d %s\n", p.TriggerSignature, p.SupportCount, applied)
		if p.ObservedDiffSummary != "" {
			fmt.Fprintf(stdout, "  %s\n", p.ObservedDiffSummary)
		}
	}
	return 0
}
