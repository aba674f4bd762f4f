package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_RetentionRemovesOnlyStaleRows(t *testing.T) {
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	now := time.Now()
	old := now.Add(-48 * time.Hour).Unix()
	recent := now.Unix()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orchestrator_events (orchestrator_id, seq, kind, payload, written_at) VALUES (?, ?, ?, ?, ?)`,
		"stale-run", 1, 0, []byte(`{}`), old)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orchestrator_snapshots (orchestrator_id, snapshot_seq, payload, written_at) VALUES (?, ?, ?, ?)`,
		"stale-run", 1, []byte(`{}`), old)
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orchestrator_events (orchestrator_id, seq, kind, payload, written_at) VALUES (?, ?, ?, ?, ?)`,
		"live-run", 1, 0, []byte(`{}`), recent)
	require.NoError(t, err)

	r := NewRetention(s, 24*time.Hour, nil)
	r.runOnce()

	_, _, events, err := s.Load(ctx, "stale-run")
	require.NoError(t, err)
	assert.Empty(t, events)
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orchestrator_snapshots WHERE orchestrator_id = ?`, "stale-run")
	var n int
	require.NoError(t, row.Scan(&n))
	assert.Zero(t, n, "stale snapshot should be removed once its events are gone")

	_, _, events, err = s.Load(ctx, "live-run")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func Test_RetentionKeepsSnapshotWhileEventsStillPresent(t *testing.T) {
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour).Unix()
	recent := time.Now().Unix()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orchestrator_snapshots (orchestrator_id, snapshot_seq, payload, written_at) VALUES (?, ?, ?, ?)`,
		"run", 1, []byte(`{}`), old)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orchestrator_events (orchestrator_id, seq, kind, payload, written_at) VALUES (?, ?, ?, ?, ?)`,
		"run", 2, 0, []byte(`{}`), recent)
	require.NoError(t, err)

	r := NewRetention(s, 24*time.Hour, nil)
	r.runOnce()

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orchestrator_snapshots WHERE orchestrator_id = ?`, "run")
	var n int
	require.NoError(t, row.Scan(&n))
	assert.Equal(t, 1, n, "snapshot must survive while its orchestrator still has recent events")
}
