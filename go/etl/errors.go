package etl

import (
	"fmt"
	"time"
)

// SourceUnavailableError indicates the source feed could not be reached
// after exhausting page-level retries. The batch is aborted without
// advancing the extraction offset.
type SourceUnavailableError struct {
	Dataset  string
	Offset   int
	Attempts int
	Err      error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source unavailable for %s at offset %d after %d attempts: %v",
		e.Dataset, e.Offset, e.Attempts, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// MalformedRecordError indicates a source record that cannot be
// canonicalized (missing or invalid natural key). Non-fatal: the record
// is skipped and counted in the run summary.
type MalformedRecordError struct {
	Dataset string
	Reason  string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s record: %s", e.Dataset, e.Reason)
}

// DimensionOutOfRangeError indicates a date outside the pre-materialized
// calendar dimension. Fatal for the batch: the calendar is a capacity
// precondition and must be extended before load.
type DimensionOutOfRangeError struct {
	Date       time.Time
	RangeStart time.Time
	RangeEnd   time.Time
}

func (e *DimensionOutOfRangeError) Error() string {
	return fmt.Sprintf("date %s outside materialized calendar range [%s, %s]",
		e.Date.Format("2006-01-02"),
		e.RangeStart.Format("2006-01-02"),
		e.RangeEnd.Format("2006-01-02"))
}

// StaleControlStateError indicates a process whose control row was found
// in RUNNING at startup: a prior run did not complete cleanly. The engine
// refuses to start until an operator resets the control row.
type StaleControlStateError struct {
	Process string
	LastRun time.Time
}

func (e *StaleControlStateError) Error() string {
	if e.LastRun.IsZero() {
		return fmt.Sprintf("process %q is marked RUNNING from an unclean prior run; reset required", e.Process)
	}
	return fmt.Sprintf("process %q is marked RUNNING since %s from an unclean prior run; reset required",
		e.Process, e.LastRun.Format(time.RFC3339))
}
