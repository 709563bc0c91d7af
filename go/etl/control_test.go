package etl

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestAcquireRefusesRunningRow(t *testing.T) {
	fake := &fakeDB{}
	db := fake.open()
	defer db.Close()

	fake.respondRows("FROM etl_control",
		[]string{"status", "last_offset", "last_run_timestamp", "updated_at"},
		[]driver.Value{StatusRunning, int64(75), nil, time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)},
	)

	tracker := NewControlTracker(db)
	_, err := tracker.Acquire(context.Background(), ProcessDeclarations)

	var stale *StaleControlStateError
	if !errors.As(err, &stale) {
		t.Fatalf("Acquire on a RUNNING row returned %v, want StaleControlStateError", err)
	}
	if updates := fake.callsMatching("UPDATE etl_control"); len(updates) != 0 {
		t.Errorf("a RUNNING row must not be touched, saw %d updates", len(updates))
	}
	if !fake.sawEvent("rollback") {
		t.Error("refused acquisition must roll its transaction back")
	}
	if fake.sawEvent("commit") {
		t.Error("refused acquisition must not commit")
	}
}

func TestAcquireMarksRowRunning(t *testing.T) {
	fake := &fakeDB{}
	db := fake.open()
	defer db.Close()

	lastRun := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	fake.respondRows("FROM etl_control",
		[]string{"status", "last_offset", "last_run_timestamp", "updated_at"},
		[]driver.Value{StatusIdle, int64(3000), lastRun, lastRun},
	)

	tracker := NewControlTracker(db)
	state, err := tracker.Acquire(context.Background(), ProcessProjects)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if state.Status != StatusRunning {
		t.Errorf("status = %s, want %s", state.Status, StatusRunning)
	}
	if state.LastOffset != 3000 {
		t.Errorf("last offset = %d, want 3000", state.LastOffset)
	}
	if state.LastRunTimestamp == nil || !state.LastRunTimestamp.Equal(lastRun) {
		t.Errorf("last run timestamp = %v, want %v", state.LastRunTimestamp, lastRun)
	}

	updates := fake.callsMatching("UPDATE etl_control")
	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(updates))
	}
	if got := updates[0].args[1]; got != StatusRunning {
		t.Errorf("update status arg = %v, want %s", got, StatusRunning)
	}
	if !fake.sawEvent("commit") {
		t.Error("acquisition must commit in its own transaction")
	}
}

func TestFailLeavesCursorColumnsAlone(t *testing.T) {
	fake := &fakeDB{}
	db := fake.open()
	defer db.Close()

	tracker := NewControlTracker(db)
	if err := tracker.Fail(context.Background(), ProcessDeclarations); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	updates := fake.callsMatching("UPDATE etl_control")
	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(updates))
	}
	for _, column := range []string{"last_offset", "last_run_timestamp", "records_processed"} {
		if strings.Contains(updates[0].query, column) {
			t.Errorf("Fail must not touch %s, got %q", column, updates[0].query)
		}
	}
	if got := updates[0].args[1]; got != StatusFailed {
		t.Errorf("update status arg = %v, want %s", got, StatusFailed)
	}
	if fake.sawEvent("begin") {
		t.Error("Fail must commit standalone, not inside a transaction")
	}
}
