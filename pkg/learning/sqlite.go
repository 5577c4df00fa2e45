package learning

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/accordhq/accord/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded durable Store. Strategy writes ride inside
// a transaction that re-reads the head version, so the compare-and-swap
// holds under concurrent sessions sharing one file.
type SQLiteStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLiteStore wraps an open database handle and runs migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, clock: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("learning: open sqlite %s: %w", path, err)
	}
	return NewSQLiteStore(db)
}

// WithClock overrides the clock for deterministic testing.
func (s *SQLiteStore) WithClock(clock func() time.Time) *SQLiteStore {
	s.clock = clock
	return s
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS strategies (
		evaluator_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		document JSON NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (evaluator_id, version)
	);
	CREATE TABLE IF NOT EXISTS reliability (
		evaluator_id TEXT PRIMARY KEY,
		hits INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS patterns (
		trigger_signature TEXT PRIMARY KEY,
		document JSON NOT NULL,
		support_count INTEGER NOT NULL,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// StrategyFor returns the highest stored version, or a version-0
// default.
func (s *SQLiteStore) StrategyFor(ctx context.Context, evaluatorID string) (contracts.Strategy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT document FROM strategies WHERE evaluator_id = ? ORDER BY version DESC LIMIT 1`,
		evaluatorID)

	var doc string
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Strategy{EvaluatorID: evaluatorID}, nil
		}
		return contracts.Strategy{}, fmt.Errorf("learning: read strategy %s: %w", evaluatorID, err)
	}

	var st contracts.Strategy
	if err := json.Unmarshal([]byte(doc), &st); err != nil {
		return contracts.Strategy{}, fmt.Errorf("learning: decode strategy %s: %w", evaluatorID, err)
	}
	if err := CheckSchema(st); err != nil {
		return contracts.Strategy{}, err
	}
	return st, nil
}

// Snapshot reads the latest strategy for each id.
func (s *SQLiteStore) Snapshot(ctx context.Context, evaluatorIDs []string) (map[string]contracts.Strategy, error) {
	out := make(map[string]contracts.Strategy, len(evaluatorIDs))
	for _, id := range evaluatorIDs {
		st, err := s.StrategyFor(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = st
	}
	return out, nil
}

// PutStrategy appends a new version when st.Version is exactly one past
// the stored head.
func (s *SQLiteStore) PutStrategy(ctx context.Context, st contracts.Strategy) error {
	if st.EvaluatorID == "" {
		return fmt.Errorf("learning: strategy missing evaluator_id")
	}
	if err := CheckSchema(st); err != nil {
		return err
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.clock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("learning: begin strategy write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var head int64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM strategies WHERE evaluator_id = ?`, st.EvaluatorID)
	if err := row.Scan(&head); err != nil {
		return fmt.Errorf("learning: read strategy head %s: %w", st.EvaluatorID, err)
	}
	if st.Version != head+1 {
		return fmt.Errorf("learning: strategy %s: write at version %d but head is %d: %w",
			st.EvaluatorID, st.Version, head, contracts.ErrLearningStoreConflict)
	}

	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("learning: encode strategy %s: %w", st.EvaluatorID, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO strategies (evaluator_id, version, document, updated_at) VALUES (?, ?, ?, ?)`,
		st.EvaluatorID, st.Version, string(doc), st.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("learning: insert strategy %s v%d: %w", st.EvaluatorID, st.Version, err)
	}
	return tx.Commit()
}

// Reliability returns the evaluator's recorded hit rate.
func (s *SQLiteStore) Reliability(ctx context.Context, evaluatorID string) (float64, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT hits, total FROM reliability WHERE evaluator_id = ?`, evaluatorID)

	var hits, total int64
	if err := row.Scan(&hits, &total); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DefaultReliability, nil
		}
		return 0, fmt.Errorf("learning: read reliability %s: %w", evaluatorID, err)
	}
	return reliabilityFrom(hits, total), nil
}

// ReliabilitySnapshot reads reliability for each id.
func (s *SQLiteStore) ReliabilitySnapshot(ctx context.Context, evaluatorIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(evaluatorIDs))
	for _, id := range evaluatorIDs {
		r, err := s.Reliability(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = r
	}
	return out, nil
}

// RecordOutcome folds one outcome into the tally.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, evaluatorID string, hit bool) error {
	h := 0
	if hit {
		h = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reliability (evaluator_id, hits, total) VALUES (?, ?, 1)
		ON CONFLICT (evaluator_id) DO UPDATE SET hits = hits + ?, total = total + 1`,
		evaluatorID, h, h)
	if err != nil {
		return fmt.Errorf("learning: record outcome %s: %w", evaluatorID, err)
	}
	return nil
}

// UpsertPattern merges by trigger signature inside a transaction.
func (s *SQLiteStore) UpsertPattern(ctx context.Context, p contracts.Pattern) (contracts.Pattern, error) {
	if p.TriggerSignature == "" {
		return contracts.Pattern{}, fmt.Errorf("learning: pattern missing trigger_signature")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return contracts.Pattern{}, fmt.Errorf("learning: begin pattern merge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.clock()
	stored, ok, err := s.patternTx(ctx, tx, p.TriggerSignature)
	if err != nil {
		return contracts.Pattern{}, err
	}
	if !ok {
		p.SupportCount = 1
		p.FirstSeen = now
		p.LastSeen = now
		stored = p
	} else {
		stored.SupportCount++
		stored.LastSeen = now
		if p.ObservedDiffSummary != "" {
			stored.ObservedDiffSummary = p.ObservedDiffSummary
		}
		if !p.RecommendedDelta.Zero() {
			stored.RecommendedDelta = p.RecommendedDelta
		}
	}

	if err := s.writePatternTx(ctx, tx, stored); err != nil {
		return contracts.Pattern{}, err
	}
	if err := tx.Commit(); err != nil {
		return contracts.Pattern{}, err
	}
	return stored, nil
}

// MarkPatternApplied records the accepted strategy version.
func (s *SQLiteStore) MarkPatternApplied(ctx context.Context, triggerSignature string, strategyVersion int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("learning: begin pattern update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	p, ok, err := s.patternTx(ctx, tx, triggerSignature)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("learning: pattern %q not found", triggerSignature)
	}
	p.AppliedStrategyVersion = strategyVersion
	if err := s.writePatternTx(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

// Pattern returns one pattern by signature.
func (s *SQLiteStore) Pattern(ctx context.Context, triggerSignature string) (contracts.Pattern, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT document FROM patterns WHERE trigger_signature = ?`, triggerSignature)

	var doc string
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Pattern{}, false, nil
		}
		return contracts.Pattern{}, false, fmt.Errorf("learning: read pattern %q: %w", triggerSignature, err)
	}
	var p contracts.Pattern
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return contracts.Pattern{}, false, fmt.Errorf("learning: decode pattern %q: %w", triggerSignature, err)
	}
	return p, true, nil
}

// Patterns returns every pattern, ordered by signature.
func (s *SQLiteStore) Patterns(ctx context.Context) ([]contracts.Pattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM patterns ORDER BY trigger_signature`)
	if err != nil {
		return nil, fmt.Errorf("learning: list patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.Pattern
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var p contracts.Pattern
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, fmt.Errorf("learning: decode pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) patternTx(ctx context.Context, tx *sql.Tx, sig string) (contracts.Pattern, bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT document FROM patterns WHERE trigger_signature = ?`, sig)
	var doc string
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.Pattern{}, false, nil
		}
		return contracts.Pattern{}, false, fmt.Errorf("learning: read pattern %q: %w", sig, err)
	}
	var p contracts.Pattern
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return contracts.Pattern{}, false, fmt.Errorf("learning: decode pattern %q: %w", sig, err)
	}
	return p, true, nil
}

func (s *SQLiteStore) writePatternTx(ctx context.Context, tx *sql.Tx, p contracts.Pattern) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("learning: encode pattern %q: %w", p.TriggerSignature, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO patterns (trigger_signature, document, support_count, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (trigger_signature) DO UPDATE SET
			document = excluded.document,
			support_count = excluded.support_count,
			last_seen = excluded.last_seen`,
		p.TriggerSignature, string(doc), p.SupportCount,
		p.FirstSeen.UTC().Format(time.RFC3339Nano), p.LastSeen.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("learning: write pattern %q: %w", p.TriggerSignature, err)
	}
	return nil
}

// Close closes the underlying handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ Store = (*SQLiteStore)(nil)
