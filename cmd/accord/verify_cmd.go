package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/accordhq/accord/pkg/config"
	"github.com/accordhq/accord/pkg/crypto"
	"github.com/accordhq/accord/pkg/ledger"
)

type verifyReport struct {
	SessionID     string `json:"session_id"`
	Entries       int    `json:"entries"`
	ChainOK       bool   `json:"chain_ok"`
	ChainDetail   string `json:"chain_detail,omitempty"`
	HeadOK        bool   `json:"head_ok"`
	SignatureOK   *bool  `json:"signature_ok,omitempty"`
	Verified      bool   `json:"verified"`
	FailureDetail string `json:"failure_detail,omitempty"`
}

// runVerifyCmd checks a stored session against its hash-chained ledger
// and, when a public key is supplied, the record signature.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sessionID  string
		pubKey     string
		jsonOutput bool
	)
	cmd.StringVar(&sessionID, "session", "", "Session id to verify (REQUIRED)")
	cmd.StringVar(&pubKey, "pubkey", "", "Hex ed25519 public key for signature verification")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the report as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if sessionID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -session is required")
		return 2
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

	report := verifyReport{SessionID: sessionID, Entries: len(chain)}
	report.ChainOK, report.ChainDetail = ledger.VerifyEntries(chain)

	report.HeadOK = len(chain) > 0 && record.ChainHead == chain[len(chain)-1].ContentHash
	if !report.HeadOK {
		report.FailureDetail = "record chain head does not match the stored chain"
	}

	if pubKey != "" {
		ok, err := crypto.VerifyRecordWithKey(pubKey, record)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		report.SignatureOK = &ok
	}

	report.Verified = report.ChainOK && report.HeadOK && (report.SignatureOK == nil || *report.SignatureOK)

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	} else {
		fmt.Fprintf(stdout, "session   %s\n", sessionID)
		fmt.Fprintf(stdout, "entries   %d\n", report.Entries)
		fmt.Fprintf(stdout, "chain     %s\n", passFail(report.ChainOK, report.ChainDetail))
		fmt.Fprintf(stdout, "head      %s\n", passFail(report.HeadOK, report.FailureDetail))
		if report.SignatureOK != nil {
			fmt.Fprintf(stdout, "signature %s\n", passFail(*report.SignatureOK, ""))
		}
		if report.Verified {
			fmt.Fprintln(stdout, "VERIFIED")
		} else {
			fmt.Fprintln(stdout, "VERIFICATION FAILED")
		}
	}

	if !report.Verified {
		return 1
	}
	return 0
}

func passFail(ok bool, detail string) string {
	if ok {
		return "ok"
	}
	if detail != "" {
		return "FAIL (" + detail + ")"
	}
	return "FAIL"
}
