package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/accordhq/accord/pkg/config"
	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/ledger"
)

// auditBundle is the self-contained export an auditor verifies offline:
// the signed record plus the full ledger chain it commits to.
type auditBundle struct {
	ExportedAt time.Time                  `json:"exported_at"`
	Record     *contracts.SessionRecord   `json:"record"`
	Chain      []ledger.Entry             `json:"chain"`
	History    []*contracts.SessionRecord `json:"history,omitempty"`
}

// runExportCmd writes a session audit bundle to a file.
//
// Exit codes:
//
//	0 = export completed
//	2 = runtime error
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sessionID   string
		outFile     string
		withHistory bool
	)
	cmd.StringVar(&sessionID, "session", "", "Session id to export (REQUIRED)")
	cmd.StringVar(&outFile, "out", "", "Output file (default <session>.bundle.json)")
	cmd.BoolVar(&withHistory, "history", false, "Include every session record for the lineage")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if sessionID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -session is required")
		return 2
	}
	if outFile == "" {
		outFile = sessionID + ".bundle.json"
	}

	cfg := config.Load()
	ctx := context.Background()

	records, closeRecords, err := openSessionStore(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = closeRecords() }()

	record, err := records.Get(ctx, sessionID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	chain, err := records.Chain(ctx, sessionID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	bundle := auditBundle{
		ExportedAt: time.Now().UTC(),
		Record:     record,
		Chain:      chain,
	}
	if withHistory {
		history, err := records.ByLineage(ctx, record.LineageID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		bundle.History = history
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := os.WriteFile(outFile, data, 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	fmt.Fprintf(stdout, "exported %s (%d chain entries) to %s\n", sessionID, len(chain), outFile)
	return 0
}
