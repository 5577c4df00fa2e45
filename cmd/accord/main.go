package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/accordhq/accord/pkg/config"
	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/learning"
	"github.com/accordhq/accord/pkg/store"
)

const version = "1.0.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	_ = godotenv.Load()

	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "review":
		return runReviewCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "strategies":
		return runStrategiesCmd(args[2:], stdout, stderr)
	case "patterns":
		return runPatternsCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "version", "--version":
		fmt.Fprintf(stdout, "accord %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "accord %s\n", version)
	fmt.Fprintln(w, "Multi-agent quality consensus over content artifacts.")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  accord <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "SESSIONS:")
	printCommand(w, "review", "Run a consensus session over an artifact JSON file")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "AUDIT:")
	printCommand(w, "verify", "Verify a session's ledger chain and signature (-session, -pubkey)")
	printCommand(w, "export", "Export a session audit bundle (-session, -out)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "LEARNING:")
	printCommand(w, "strategies", "Inspect evaluator strategies and reliability")
	printCommand(w, "patterns", "List mined correction patterns")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "UTILITIES:")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %-12s %s\n", name, desc)
}

// newLogger builds the process logger. All diagnostics go to stderr so
// stdout stays clean for machine-readable output.
func newLogger(stderr io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: lvl}))
}

// patternLister extends the learning store with the pattern listing both
// durable backends support.
type patternLister interface {
	learning.Store
	Patterns(ctx context.Context) ([]contracts.Pattern, error)
}

// openLearningStore picks the learning backend: Redis when configured,
// embedded SQLite otherwise. The caller owns the returned closer.
func openLearningStore(cfg *config.Config) (patternLister, func() error, error) {
	if cfg.RedisAddr != "" {
		s := learning.NewRedisStore(cfg.RedisAddr, os.Getenv("ACCORD_REDIS_PASSWORD"), 0, "accord")
		return s, s.Close, nil
	}
	s, err := learning.OpenSQLiteStore(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

// openSessionStore picks the session record backend: Postgres when a DSN
// is configured, embedded SQLite otherwise.
func openSessionStore(cfg *config.Config) (store.SessionStore, func() error, error) {
	if cfg.DatabaseURL != "" {
		s, err := store.OpenPostgresSessionStore(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	s, err := store.OpenSQLiteSessionStore(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}
