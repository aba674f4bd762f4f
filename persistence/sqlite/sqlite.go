// Package sqlite provides a durable orchestrator.Store backed by
// modernc.org/sqlite, a pure-Go sqlite driver that needs no cgo toolchain.
// Grounded on the teacher's backend/sqlite/sqlite.go: a schema applied on
// open, a history table keyed by (instance, sequence), and a separate
// table for the latest snapshot per instance. The teacher embeds its
// schema from a schema.sql file; this package inlines the same shape as a
// Go string constant instead, since there is no build-time embed step to
// keep in sync here.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kortschak/orkestra/orchestrator"
)

const schema = `
CREATE TABLE IF NOT EXISTS orchestrator_events (
	orchestrator_id TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	kind            INTEGER NOT NULL,
	payload         BLOB NOT NULL,
	written_at      INTEGER NOT NULL,
	PRIMARY KEY (orchestrator_id, seq)
);

CREATE TABLE IF NOT EXISTS orchestrator_snapshots (
	orchestrator_id TEXT PRIMARY KEY,
	snapshot_seq    INTEGER NOT NULL,
	payload         BLOB NOT NULL,
	written_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS orchestrator_events_written_at ON orchestrator_events (written_at);
`

// Store is a sqlite-backed orchestrator.Store.
type Store struct {
	db *sql.DB
}

// Open creates or reuses the sqlite database at dsn (e.g. "orkestra.db" or
// "file:orkestra.db?_pragma=busy_timeout(5000)") and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway; avoid SQLITE_BUSY churn
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Append(ctx context.Context, orchestratorID string, seq uint64, event orchestrator.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orchestrator_events (orchestrator_id, seq, kind, payload, written_at) VALUES (?, ?, ?, ?, ?)`,
		orchestratorID, seq, int(event.Kind), payload, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("append event %d for %q: %w", seq, orchestratorID, err)
	}
	return nil
}

func (s *Store) SaveSnapshot(ctx context.Context, orchestratorID string, snapshotSeq uint64, snapshot []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orchestrator_snapshots (orchestrator_id, snapshot_seq, payload, written_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(orchestrator_id) DO UPDATE SET snapshot_seq = excluded.snapshot_seq, payload = excluded.payload, written_at = excluded.written_at`,
		orchestratorID, snapshotSeq, snapshot, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot for %q: %w", orchestratorID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM orchestrator_events WHERE orchestrator_id = ? AND seq <= ?`,
		orchestratorID, snapshotSeq,
	); err != nil {
		return fmt.Errorf("compact events for %q: %w", orchestratorID, err)
	}
	return tx.Commit()
}

func (s *Store) Load(ctx context.Context, orchestratorID string) ([]byte, uint64, []orchestrator.Event, error) {
	var snapshot []byte
	var snapshotSeq uint64
	row := s.db.QueryRowContext(ctx,
		`SELECT snapshot_seq, payload FROM orchestrator_snapshots WHERE orchestrator_id = ?`, orchestratorID)
	switch err := row.Scan(&snapshotSeq, &snapshot); {
	case err == sql.ErrNoRows:
		// No snapshot yet; fall through with a zero snapshotSeq.
	case err != nil:
		return nil, 0, nil, fmt.Errorf("load snapshot for %q: %w", orchestratorID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM orchestrator_events WHERE orchestrator_id = ? AND seq > ? ORDER BY seq ASC`,
		orchestratorID, snapshotSeq,
	)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("load events for %q: %w", orchestratorID, err)
	}
	defer rows.Close()

	var events []orchestrator.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, 0, nil, fmt.Errorf("scan event for %q: %w", orchestratorID, err)
		}
		var ev orchestrator.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, 0, nil, fmt.Errorf("decode event for %q: %w", orchestratorID, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, nil, fmt.Errorf("iterate events for %q: %w", orchestratorID, err)
	}
	return snapshot, snapshotSeq, events, nil
}
