package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/withObsrvr/fema-disaster-etl/go/etl"
	"github.com/withObsrvr/fema-disaster-etl/go/logging"
	"github.com/withObsrvr/fema-disaster-etl/go/resilience"
)

const serviceVersion = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	process := flag.String("process", "", "Run a single process (declarations or public_assistance_projects)")
	resetControl := flag.Bool("reset-control", false, "Reset stuck RUNNING control rows to IDLE and exit")
	flag.Parse()

	config, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.SetLevel(config.Logging.Level)
	logger := logging.NewComponentLogger(config.Service.Name, serviceVersion)

	if err := run(config, logger, *process, *resetControl); err != nil {
		logger.Error().Err(err).Msg("Run failed")
		os.Exit(1)
	}
}

func run(config *Config, logger *logging.ComponentLogger, selectedProcess string, resetControl bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := connectWithRetry(ctx, config, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if resetControl {
		return resetControlRows(ctx, db, logger, selectedProcess)
	}

	if err := etl.InitSchema(ctx, db); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	logger.Info().Msg("Database schema ready")

	rangeStart, rangeEnd := config.CalendarRange(time.Now())
	resolver := etl.NewDimensionResolver(rangeStart, rangeEnd)

	if n, err := resolver.SeedLocations(ctx, db); err != nil {
		return fmt.Errorf("seed locations: %w", err)
	} else if n > 0 {
		logger.Info().Int("inserted", n).Msg("Seeded location dimension")
	}
	if n, err := resolver.SeedCalendar(ctx, db); err != nil {
		return fmt.Errorf("seed calendar: %w", err)
	} else if n > 0 {
		logger.Info().Int("inserted", n).Msg("Seeded calendar dimension")
	}

	policy := resilience.DefaultRetryPolicy()
	policy.MaxAttempts = config.Retry.MaxAttempts
	policy.InitialDelay = time.Duration(config.Retry.InitialDelaySeconds * float64(time.Second))
	policy.MaxDelay = time.Duration(config.Retry.MaxDelaySeconds * float64(time.Second))
	policy.BackoffFactor = config.Retry.BackoffFactor

	client := etl.NewClient(etl.ClientOptions{
		BaseURL:  config.Source.BaseURL,
		PageSize: config.Source.PageSize,
		MaxPages: config.Source.MaxPages,
		Timeout:  time.Duration(config.Source.TimeoutSeconds) * time.Second,
	}, policy, logger)

	metrics := etl.NewMetrics(prometheus.DefaultRegisterer)
	orchestrator := etl.NewOrchestrator(db, client, resolver, metrics, logger)

	metricsServer := etl.NewMetricsServer(config.Service.MetricsPort, db, metrics, logger)
	serverCtx, stopServer := context.WithCancel(ctx)
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		metricsServer.Run(serverCtx)
	}()

	processes := []string{etl.ProcessDeclarations, etl.ProcessProjects}
	if selectedProcess != "" {
		processes = []string{selectedProcess}
	}

	var runErr error
	for _, process := range processes {
		if err := orchestrator.Control().EnsureProcess(ctx, process); err != nil {
			runErr = err
			break
		}
		if _, err := orchestrator.Run(ctx, process); err != nil {
			runErr = fmt.Errorf("process %s: %w", process, err)
			break
		}
	}

	stopServer()
	<-serverDone
	return runErr
}

// connectWithRetry opens the database and pings it with backoff, since
// the pipeline often starts before its database in container setups.
func connectWithRetry(ctx context.Context, config *Config, logger *logging.ComponentLogger) (*sql.DB, error) {
	db, err := sql.Open("pgx", config.GetPostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	const maxAttempts = 10
	delay := time.Second
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			logger.Info().
				Str("host", config.Postgres.Host).
				Str("database", config.Postgres.Database).
				Msg("Connected to database")
			return db, nil
		}
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Msg("Database not ready, retrying")

		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < 10*time.Second {
			delay *= 2
		}
	}

	db.Close()
	return nil, fmt.Errorf("ping database after %d attempts: %w", maxAttempts, err)
}

func resetControlRows(ctx context.Context, db *sql.DB, logger *logging.ComponentLogger, selectedProcess string) error {
	tracker := etl.NewControlTracker(db)
	processes := []string{etl.ProcessDeclarations, etl.ProcessProjects}
	if selectedProcess != "" {
		processes = []string{selectedProcess}
	}
	for _, process := range processes {
		if err := tracker.Reset(ctx, process); err != nil {
			return err
		}
		logger.Info().Str("process", process).Msg("Control row reset to IDLE")
	}
	return nil
}
