package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/accordhq/accord/pkg/contracts"
	"github.com/accordhq/accord/pkg/ledger"
)

// PostgresSessionStore is the server-deployment SessionStore.
type PostgresSessionStore struct {
	db *sql.DB
}

// NewPostgresSessionStore wraps an open handle and runs migrations.
func NewPostgresSessionStore(db *sql.DB) (*PostgresSessionStore, error) {
	s := &PostgresSessionStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenPostgresSessionStore connects with the given DSN.
func OpenPostgresSessionStore(dsn string) (*PostgresSessionStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	return NewPostgresSessionStore(db)
}

func (s *PostgresSessionStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS session_records (
		session_id TEXT PRIMARY KEY,
		lineage_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		document JSONB NOT NULL,
		chain JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_records_lineage
		ON session_records (lineage_id, started_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Append writes one record; the primary key enforces write-once.
func (s *PostgresSessionStore) Append(ctx context.Context, record *contracts.SessionRecord, chain []ledger.Entry) error {
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
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.SessionID, record.LineageID, string(record.Outcome),
		record.StartedAt.UTC().Format(time.RFC3339Nano), string(doc), string(chainDoc))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("store: session %s: %w", record.SessionID, ErrDuplicateSession)
		}
		return fmt.Errorf("store: insert record %s: %w", record.SessionID, err)
	}
	return nil
}

// Get returns one record by session id.
func (s *PostgresSessionStore) Get(ctx context.Context, sessionID string) (*contracts.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT document FROM session_records WHERE session_id = $1`, sessionID)
	return scanRecord(row, sessionID)
}

// ByLineage returns every record for a lineage, oldest first.
func (s *PostgresSessionStore) ByLineage(ctx context.Context, lineageID string) ([]*contracts.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM session_records WHERE lineage_id = $1 ORDER BY started_at`, lineageID)
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
func (s *PostgresSessionStore) Chain(ctx context.Context, sessionID string) ([]ledger.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chain FROM session_records WHERE session_id = $1`, sessionID)

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
func (s *PostgresSessionStore) Close() error { return s.db.Close() }

var _ SessionStore = (*PostgresSessionStore)(nil)
