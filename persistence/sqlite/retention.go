package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kortschak/orkestra/orchestrator"
)

// Retention periodically deletes event rows and snapshots for
// orchestrators whose most recent activity is older than Window. It never
// touches an orchestrator with events newer than Window, even if that
// orchestrator's own SaveSnapshot cadence has left old rows compacted
// away already. Grounded on the go-command example's cron.go
// (rcron.New(...).AddFunc(spec, fn)) wiring a scheduled job onto
// robfig/cron.
type Retention struct {
	store  *Store
	window time.Duration
	logger orchestrator.Logger
	c      *cron.Cron
}

// NewRetention builds a Retention job against store. window is how long an
// orchestrator's history is kept after its last write (whether the
// orchestrator has completed is not checked); it is
// unrelated to Settings.SaveSnapshotRoughlyEveryXMessages, which governs
// snapshot cadence rather than deletion.
func NewRetention(store *Store, window time.Duration, logger orchestrator.Logger) *Retention {
	if logger == nil {
		logger = orchestrator.DefaultLogger()
	}
	return &Retention{store: store, window: window, logger: logger, c: cron.New()}
}

// Start schedules the compaction job on spec (standard 5-field cron
// syntax) and begins running it in the background.
func (r *Retention) Start(spec string) error {
	_, err := r.c.AddFunc(spec, r.runOnce)
	if err != nil {
		return fmt.Errorf("schedule retention job %q: %w", spec, err)
	}
	r.c.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (r *Retention) Stop() {
	<-r.c.Stop().Done()
}

func (r *Retention) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-r.window).Unix()

	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		r.reportErr(fmt.Errorf("begin retention sweep: %w", err))
		return
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM orchestrator_events WHERE orchestrator_id IN (
			SELECT orchestrator_id FROM orchestrator_events
			GROUP BY orchestrator_id HAVING MAX(written_at) < ?
		)`, cutoff,
	); err != nil {
		r.reportErr(fmt.Errorf("compact stale events: %w", err))
		return
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM orchestrator_snapshots WHERE written_at < ? AND orchestrator_id NOT IN (
			SELECT DISTINCT orchestrator_id FROM orchestrator_events
		)`, cutoff,
	); err != nil {
		r.reportErr(fmt.Errorf("compact stale snapshots: %w", err))
		return
	}
	if err := tx.Commit(); err != nil {
		r.reportErr(fmt.Errorf("commit retention sweep: %w", err))
	}
}

func (r *Retention) reportErr(err error) {
	if r.logger != nil {
		r.logger.Errorf("%v", err)
	}
}
