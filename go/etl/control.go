package etl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Control statuses. RUNNING rows left behind by a crash require an
// operator reset before the process can run again.
const (
	StatusIdle    = "IDLE"
	StatusRunning = "RUNNING"
	StatusFailed  = "FAILED"
)

// ControlState is the persisted cursor for one process name.
type ControlState struct {
	ProcessName      string
	Status           string
	LastOffset       int
	LastRunTimestamp *time.Time
	UpdatedAt        time.Time
}

// ControlTracker manages the etl_control rows that make extraction
// resumable and guard against overlapping runs.
type ControlTracker struct {
	db *sql.DB
}

// NewControlTracker creates a tracker over the control table.
func NewControlTracker(db *sql.DB) *ControlTracker {
	return &ControlTracker{db: db}
}

// EnsureProcess creates the IDLE control row for a process if missing.
func (t *ControlTracker) EnsureProcess(ctx context.Context, process string) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO etl_control (process_name, status, last_offset, updated_at)
		VALUES ($1, $2, 0, NOW())
		ON CONFLICT (process_name) DO NOTHING`,
		process, StatusIdle,
	)
	if err != nil {
		return fmt.Errorf("ensure control row %s: %w", process, err)
	}
	return nil
}

// Acquire reads the control row and transitions it to RUNNING in its
// own committed transaction, so a crash mid-run is visible to the next
// invocation. A row already RUNNING is refused with
// StaleControlStateError.
func (t *ControlTracker) Acquire(ctx context.Context, process string) (*ControlState, error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin control tx: %w", err)
	}
	defer tx.Rollback()

	state := &ControlState{ProcessName: process}
	var lastRun sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT status, last_offset, last_run_timestamp, updated_at
		FROM etl_control
		WHERE process_name = $1
		FOR UPDATE`,
		process,
	).Scan(&state.Status, &state.LastOffset, &lastRun, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("control row missing for %s", process)
	}
	if err != nil {
		return nil, fmt.Errorf("read control row %s: %w", process, err)
	}
	if lastRun.Valid {
		ts := lastRun.Time
		state.LastRunTimestamp = &ts
	}

	if state.Status == StatusRunning {
		return nil, &StaleControlStateError{Process: process, LastRun: state.UpdatedAt}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE etl_control SET status = $2, updated_at = NOW()
		WHERE process_name = $1`,
		process, StatusRunning,
	); err != nil {
		return nil, fmt.Errorf("mark %s running: %w", process, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit control acquire %s: %w", process, err)
	}
	state.Status = StatusRunning
	return state, nil
}

// Complete advances the cursor and returns the row to IDLE inside the
// caller's batch transaction, so the cursor only moves when the batch
// lands.
func (t *ControlTracker) Complete(ctx context.Context, tx dbtx, process string, lastOffset, recordsProcessed int, runTimestamp time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE etl_control
		SET status = $2, last_offset = $3, records_processed = $4,
		    last_run_timestamp = $5, updated_at = NOW()
		WHERE process_name = $1`,
		process, StatusIdle, lastOffset, recordsProcessed, runTimestamp,
	)
	if err != nil {
		return fmt.Errorf("complete control %s: %w", process, err)
	}
	return nil
}

// Fail marks the row FAILED in its own commit, after the batch
// transaction has rolled back. The cursor does not advance.
func (t *ControlTracker) Fail(ctx context.Context, process string) error {
	_, err := t.db.ExecContext(ctx, `
		UPDATE etl_control SET status = $2, updated_at = NOW()
		WHERE process_name = $1`,
		process, StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("mark %s failed: %w", process, err)
	}
	return nil
}

// Reset forces a row back to IDLE. Operator action for rows stuck
// RUNNING after a crash.
func (t *ControlTracker) Reset(ctx context.Context, process string) error {
	_, err := t.db.ExecContext(ctx, `
		UPDATE etl_control SET status = $2, updated_at = NOW()
		WHERE process_name = $1`,
		process, StatusIdle,
	)
	if err != nil {
		return fmt.Errorf("reset control %s: %w", process, err)
	}
	return nil
}

// RecordRun writes the per-run audit row inside the batch transaction
// (or a standalone statement for failed runs).
func (t *ControlTracker) RecordRun(ctx context.Context, tx dbtx, s *RunSummary) error {
	var errText any
	if s.Err != nil {
		errText = s.Err.Error()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO etl_run_history (
			run_id, process_name, started_at, finished_at,
			records_fetched, records_new, records_changed, records_unchanged,
			records_skipped, status, error_text
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.RunID, s.Process, s.StartedAt, s.FinishedAt,
		s.Fetched, s.New, s.Changed, s.Unchanged,
		s.Skipped, s.Status, errText,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", s.RunID, err)
	}
	return nil
}
