package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/ledger"

	_ "modernc.org/sqlite"
)

// SQLiteSessionStore is the embedded durable SessionStore.
type SQLiteSessionStore struct {
	db *sql.DB
}

// NewSQLiteSessionStore wraps an open handle and runs migrations.
func NewSQLiteSessionStore(db *sql.DB) (*SQLiteSessionStore, error) {
	s := &SQLiteSessionStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteSessionStore opens (or creates) the database at path.
func OpenSQLiteSessionStore(path string) (*SQLiteSessionStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", path, err)
	}
	return NewSQLiteSessionStore(db)
}

func (s *SQLiteSessionStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS session_records (
		session_id TEXT PRIMARY KEY,
		lineage_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		started_at TEXT NOT NULL,
		document JSON NOT NULL,
		chain JSON NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_records_lineage
		ON session_records (lineage_id, started_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Append writes one record; the primary key enforces write-once.
func (s *SQLiteSessionStore) Append(ctx context.Context, record *contracts.SessionRecord, chain []ledger.Entry) error {
	if record == nil || record.SessionID == "" {
		return fmt.Errorf("store: record missing session_id")
	}

	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("store: encode record %s: %w", record.SessionID, err)
	}
	chainDoc, err := json.Marshal(chain)
	if err != nil {
		return fmt.Errorf("store: encode chain %s: %w", record.SessionID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_records (session_id, lineage_id, outcome, started_at, document, chain)
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.SessionID, record.LineageID, string(record.Outcome),
		record.StartedAt.UTC().Format(time.RFC3339Nano), string(doc), string(chainDoc))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store: session %s: %w", record.SessionID, ErrDuplicateSession)
		}
		return fmt.Errorf("store: insert record %s: %w", record.SessionID, err)
	}
	return nil
}

// Get returns one record by session id.
func (s *SQLiteSessionStore) Get(ctx context.Context, sessionID string) (*contracts.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT document FROM session_records WHERE session_id = ?`, sessionID)
	return scanRecord(row, sessionID)
}

// ByLineage returns every record for a lineage, oldest first.
func (s *SQLiteSessionStore) ByLineage(ctx context.Context, lineageID string) ([]*contracts.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM session_records WHERE lineage_id = ? ORDER BY started_at`, lineageID)
	if err != nil {
		return nil, fmt.Errorf("store: query lineage %s: %w", lineageID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.SessionRecord
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var r contracts.SessionRecord
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			return nil, fmt.Errorf("store: decode record: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// Chain returns the stored ledger entries.
func (s *SQLiteSessionStore) Chain(ctx context.Context, sessionID string) ([]ledger.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chain FROM session_records WHERE session_id = ?`, sessionID)

	var doc string
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("store: read chain %s: %w", sessionID, err)
	}
	var chain []ledger.Entry
	if err := json.Unmarshal([]byte(doc), &chain); err != nil {
		return nil, fmt.Errorf("store: decode chain %s: %w", sessionID, err)
	}
	return chain, nil
}

// Close closes the underlying handle.
func (s *SQLiteSessionStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, sessionID string) (*contracts.SessionRecord, error) {
	var doc string
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("store: read record %s: %w", sessionID, err)
	}
	var r contracts.SessionRecord
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("store: decode record %s: %w", sessionID, err)
	}
	return &r, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc sqlite surfaces constraint failures in the message; lib/pq
	// uses code 23505, handled in the postgres store.
	return strings.Contains(err.Error(), "constraint failed")
}

var _ SessionStore = (*SQLiteSessionStore)(nil)
