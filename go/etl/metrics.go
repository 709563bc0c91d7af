package etl

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/withObsrvr/fema-disaster-etl/go/logging"
)

// Metrics holds the pipeline's Prometheus instruments. Instruments are
// labeled by process name so the two feeds can be observed separately.
type Metrics struct {
	recordsFetchedTotal   *prometheus.CounterVec
	recordsNewTotal       *prometheus.CounterVec
	recordsChangedTotal   *prometheus.CounterVec
	recordsUnchangedTotal *prometheus.CounterVec
	recordsSkippedTotal   *prometheus.CounterVec
	runsTotal             *prometheus.CounterVec
	runDuration           *prometheus.HistogramVec
	pageSizeHistogram     *prometheus.HistogramVec

	startTime time.Time
}

// NewMetrics creates and registers the pipeline instruments.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		recordsFetchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fema_etl_records_fetched_total",
			Help: "Total number of records fetched from the source feed",
		}, []string{"process"}),
		recordsNewTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fema_etl_records_new_total",
			Help: "Total number of records classified NEW",
		}, []string{"process"}),
		recordsChangedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fema_etl_records_changed_total",
			Help: "Total number of records classified CHANGED",
		}, []string{"process"}),
		recordsUnchangedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fema_etl_records_unchanged_total",
			Help: "Total number of records classified UNCHANGED",
		}, []string{"process"}),
		recordsSkippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fema_etl_records_skipped_total",
			Help: "Total number of malformed records skipped",
		}, []string{"process"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fema_etl_runs_total",
			Help: "Total number of ETL runs by outcome",
		}, []string{"process", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fema_etl_run_duration_seconds",
			Help:    "Time taken by a complete ETL run",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"process"}),
		pageSizeHistogram: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fema_etl_page_records",
			Help:    "Number of records per fetched page",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"process"}),
		startTime: time.Now(),
	}

	reg.MustRegister(
		m.recordsFetchedTotal,
		m.recordsNewTotal,
		m.recordsChangedTotal,
		m.recordsUnchangedTotal,
		m.recordsSkippedTotal,
		m.runsTotal,
		m.runDuration,
		m.pageSizeHistogram,
	)
	return m
}

// ObservePage records one fetched page.
func (m *Metrics) ObservePage(process string, records int) {
	m.pageSizeHistogram.WithLabelValues(process).Observe(float64(records))
}

// ObserveRun records a finished run's counters and duration.
func (m *Metrics) ObserveRun(s *RunSummary) {
	m.recordsFetchedTotal.WithLabelValues(s.Process).Add(float64(s.Fetched))
	m.recordsNewTotal.WithLabelValues(s.Process).Add(float64(s.New))
	m.recordsChangedTotal.WithLabelValues(s.Process).Add(float64(s.Changed))
	m.recordsUnchangedTotal.WithLabelValues(s.Process).Add(float64(s.Unchanged))
	m.recordsSkippedTotal.WithLabelValues(s.Process).Add(float64(s.Skipped))
	m.runsTotal.WithLabelValues(s.Process, s.Status).Inc()
	m.runDuration.WithLabelValues(s.Process).Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
}

// MetricsServer serves /metrics, /health and /stats for the pipeline.
type MetricsServer struct {
	db      *sql.DB
	metrics *Metrics
	log     *logging.ComponentLogger
	server  *http.Server
}

// NewMetricsServer builds the HTTP surface on the given port.
func NewMetricsServer(port int, db *sql.DB, metrics *Metrics, log *logging.ComponentLogger) *MetricsServer {
	s := &MetricsServer{db: db, metrics: metrics, log: log}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/stats", s.statsHandler)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *MetricsServer) Run(ctx context.Context) {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.log.Error().Err(err).Msg("Failed to shutdown metrics server")
	}
}

func (s *MetricsServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.db.PingContext(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "healthy",
		"service": "fema-disaster-etl",
		"uptime":  time.Since(s.metrics.startTime).Seconds(),
	})
}

func (s *MetricsServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(), `
		SELECT process_name, status, last_offset, records_processed,
		       last_run_timestamp, updated_at
		FROM etl_control
		ORDER BY process_name`)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
		return
	}
	defer rows.Close()

	type controlRow struct {
		Process          string     `json:"process"`
		Status           string     `json:"status"`
		LastOffset       int        `json:"last_offset"`
		RecordsProcessed int        `json:"records_processed"`
		LastRunTimestamp *time.Time `json:"last_run_timestamp,omitempty"`
		UpdatedAt        time.Time  `json:"updated_at"`
	}

	var out []controlRow
	for rows.Next() {
		var row controlRow
		var lastRun sql.NullTime
		if err := rows.Scan(&row.Process, &row.Status, &row.LastOffset,
			&row.RecordsProcessed, &lastRun, &row.UpdatedAt); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
			return
		}
		if lastRun.Valid {
			ts := lastRun.Time
			row.LastRunTimestamp = &ts
		}
		out = append(out, row)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"processes": out})
}
