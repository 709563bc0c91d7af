package etl

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/fema-disaster-etl/go/logging"
)

// Orchestrator sequences one incremental batch per process name:
// acquire the control row, stream pages inside a single transaction,
// classify and stage changed records, resolve dimensions, rebuild the
// affected fact groupings, advance the cursor, commit.
type Orchestrator struct {
	db         *sql.DB
	client     *Client
	detector   *ChangeDetector
	staging    *StagingLoader
	resolver   *DimensionResolver
	control    *ControlTracker
	thresholds SizeThresholds
	metrics    *Metrics
	log        *logging.ComponentLogger
}

// NewOrchestrator wires the pipeline components together.
func NewOrchestrator(db *sql.DB, client *Client, resolver *DimensionResolver, metrics *Metrics, log *logging.ComponentLogger) *Orchestrator {
	return &Orchestrator{
		db:         db,
		client:     client,
		detector:   NewChangeDetector(),
		staging:    NewStagingLoader(),
		resolver:   resolver,
		control:    NewControlTracker(db),
		thresholds: DefaultSizeThresholds(),
		metrics:    metrics,
		log:        log,
	}
}

// Control exposes the tracker for init and operator resets.
func (o *Orchestrator) Control() *ControlTracker {
	return o.control
}

// extractionWindow decides how a run resumes. A prior successful run
// yields a lastRefresh filter window starting from its timestamp and an
// offset of zero; otherwise extraction restarts at the recorded offset
// with no window.
func extractionWindow(state *ControlState) (startOffset int, since time.Time) {
	if state.LastRunTimestamp != nil {
		return 0, *state.LastRunTimestamp
	}
	return state.LastOffset, time.Time{}
}

// datasetFor maps a process name to its source dataset.
func datasetFor(process string) (string, error) {
	switch process {
	case ProcessDeclarations:
		return DatasetDeclarations, nil
	case ProcessProjects:
		return DatasetProjects, nil
	default:
		return "", fmt.Errorf("unknown process %q", process)
	}
}

// Run executes one batch for the named process and returns its summary.
// The summary is returned even on failure so callers can log it.
func (o *Orchestrator) Run(ctx context.Context, process string) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     uuid.New().String(),
		Process:   process,
		StartedAt: time.Now().UTC(),
	}

	dataset, err := datasetFor(process)
	if err != nil {
		summary.Status = StatusFailed
		summary.Err = err
		return summary, err
	}

	state, err := o.control.Acquire(ctx, process)
	if err != nil {
		summary.Status = StatusFailed
		summary.Err = err
		return summary, err
	}

	startOffset, since := extractionWindow(state)
	o.log.LogRunStart(process, summary.RunID, startOffset, since)

	runErr := o.runBatch(ctx, summary, dataset, startOffset, since)
	summary.FinishedAt = time.Now().UTC()

	if runErr != nil {
		summary.Status = StatusFailed
		summary.Err = runErr
		if failErr := o.control.Fail(ctx, process); failErr != nil {
			o.log.Error().Err(failErr).Str("process", process).Msg("could not mark control row failed")
		}
		if histErr := o.control.RecordRun(ctx, o.db, summary); histErr != nil {
			o.log.Error().Err(histErr).Str("process", process).Msg("could not record failed run")
		}
		o.metrics.ObserveRun(summary)
		return summary, runErr
	}

	summary.Status = StatusIdle
	o.metrics.ObserveRun(summary)
	o.log.Info().
		Str("process", process).
		Str("run_id", summary.RunID).
		Int("fetched", summary.Fetched).
		Int("new", summary.New).
		Int("changed", summary.Changed).
		Int("unchanged", summary.Unchanged).
		Int("skipped", summary.Skipped).
		Dur("duration", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("Run complete")
	return summary, nil
}

// runBatch is the single-transaction body of a run. Any error rolls the
// whole batch back, leaving staging, dimensions, facts and the cursor
// exactly as the previous run committed them.
func (o *Orchestrator) runBatch(ctx context.Context, summary *RunSummary, dataset string, startOffset int, since time.Time) error {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback()

	facts := NewFactBuilder(o.resolver, o.thresholds)

	lastOffset, err := o.client.FetchPages(ctx, dataset, startOffset, since, func(page FeedPage) error {
		return o.processPage(ctx, tx, summary, facts, page)
	})
	if err != nil {
		return err
	}
	summary.LastOffset = lastOffset

	if _, err := facts.RebuildMetrics(ctx, tx); err != nil {
		return err
	}

	runTimestamp := summary.StartedAt
	if err := o.control.Complete(ctx, tx, summary.Process, lastOffset, summary.Processed(), runTimestamp); err != nil {
		return err
	}
	summary.FinishedAt = time.Now().UTC()
	summary.Status = StatusIdle
	if err := o.control.RecordRun(ctx, tx, summary); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (o *Orchestrator) processPage(ctx context.Context, tx *sql.Tx, summary *RunSummary, facts *FactBuilder, page FeedPage) error {
	for _, raw := range page.Records {
		summary.Fetched++
		switch summary.Process {
		case ProcessDeclarations:
			if err := o.processDeclaration(ctx, tx, summary, raw); err != nil {
				return err
			}
		case ProcessProjects:
			if err := o.processProject(ctx, tx, summary, facts, raw); err != nil {
				return err
			}
		}
	}
	o.metrics.ObservePage(summary.Process, len(page.Records))
	return nil
}

func (o *Orchestrator) processDeclaration(ctx context.Context, tx *sql.Tx, summary *RunSummary, raw RawRecord) error {
	dec, err := ParseDeclaration(raw)
	if err != nil {
		summary.Skipped++
		o.log.Warn().Err(err).Str("process", summary.Process).Msg("Skipping malformed record")
		return nil
	}

	kind, err := o.detector.ClassifyDeclaration(ctx, tx, dec)
	if err != nil {
		return err
	}
	switch kind {
	case ChangeUnchanged:
		summary.Unchanged++
		return nil
	case ChangeNew:
		summary.New++
	case ChangeChanged:
		summary.Changed++
	}

	if err := o.staging.UpsertDeclaration(ctx, tx, dec); err != nil {
		return err
	}
	if _, err := o.resolver.ResolveDisaster(ctx, tx, dec); err != nil {
		return err
	}
	if dec.State != "" {
		if _, err := o.resolver.ResolveLocation(ctx, tx, dec.State); err != nil {
			return err
		}
	}
	if dec.DeclarationDate != nil {
		if _, err := o.resolver.ResolveDate(ctx, tx, *dec.DeclarationDate); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) processProject(ctx context.Context, tx *sql.Tx, summary *RunSummary, facts *FactBuilder, raw RawRecord) error {
	p, err := ParseProject(raw)
	if err != nil {
		summary.Skipped++
		o.log.Warn().Err(err).Str("process", summary.Process).Msg("Skipping malformed record")
		return nil
	}

	kind, err := o.detector.ClassifyProject(ctx, tx, p)
	if err != nil {
		return err
	}
	switch kind {
	case ChangeUnchanged:
		summary.Unchanged++
		return nil
	case ChangeNew:
		summary.New++
	case ChangeChanged:
		summary.Changed++
	}

	if err := o.staging.UpsertProject(ctx, tx, p); err != nil {
		return err
	}
	if err := facts.UpsertSample(ctx, tx, p); err != nil {
		return err
	}
	facts.Touch(p)
	return nil
}
