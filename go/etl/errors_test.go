package etl

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestSourceUnavailableErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("fetch failed: %w", &SourceUnavailableError{
		Dataset:  DatasetProjects,
		Offset:   3000,
		Attempts: 5,
		Err:      cause,
	})

	var source *SourceUnavailableError
	if !errors.As(err, &source) {
		t.Fatal("SourceUnavailableError not found in chain")
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable through Unwrap")
	}
	if !strings.Contains(source.Error(), "offset 3000") {
		t.Errorf("error message missing offset: %s", source.Error())
	}
}

func TestDimensionOutOfRangeErrorMessage(t *testing.T) {
	err := &DimensionOutOfRangeError{
		Date:       time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC),
		RangeStart: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2027, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	msg := err.Error()
	for _, part := range []string{"1999-12-31", "2000-01-01", "2027-12-31"} {
		if !strings.Contains(msg, part) {
			t.Errorf("message %q missing %q", msg, part)
		}
	}
}

func TestStaleControlStateErrorMessage(t *testing.T) {
	err := &StaleControlStateError{Process: ProcessDeclarations}
	if !strings.Contains(err.Error(), "RUNNING") {
		t.Errorf("message should name the stale status: %s", err.Error())
	}

	withTime := &StaleControlStateError{
		Process: ProcessDeclarations,
		LastRun: time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC),
	}
	if !strings.Contains(withTime.Error(), "2024-03-01") {
		t.Errorf("message should carry the last-run time: %s", withTime.Error())
	}
}
