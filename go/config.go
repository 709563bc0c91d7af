package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Service struct {
		Name        string `yaml:"name"`
		MetricsPort int    `yaml:"metrics_port"`
	} `yaml:"service"`

	Source struct {
		BaseURL        string `yaml:"base_url"`
		PageSize       int    `yaml:"page_size"`
		MaxPages       int    `yaml:"max_pages"` // 0 = fetch until exhausted
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"source"`

	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Database string `yaml:"database"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"postgres"`

	Retry struct {
		MaxAttempts         int     `yaml:"max_attempts"`
		InitialDelaySeconds float64 `yaml:"initial_delay_seconds"`
		MaxDelaySeconds     float64 `yaml:"max_delay_seconds"`
		BackoffFactor       float64 `yaml:"backoff_factor"`
	} `yaml:"retry"`

	Calendar struct {
		RangeStart     string `yaml:"range_start"`      // YYYY-MM-DD
		YearsPastToday int    `yaml:"years_past_today"` // range end = today + N years
	} `yaml:"calendar"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "fema-disaster-etl"
	}
	if c.Service.MetricsPort == 0 {
		c.Service.MetricsPort = 8088
	}
	if c.Source.BaseURL == "" {
		c.Source.BaseURL = "https://www.fema.gov/api/open"
	}
	if c.Source.PageSize == 0 {
		c.Source.PageSize = 1000
	}
	if c.Source.TimeoutSeconds == 0 {
		c.Source.TimeoutSeconds = 30
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.InitialDelaySeconds == 0 {
		c.Retry.InitialDelaySeconds = 0.5
	}
	if c.Retry.MaxDelaySeconds == 0 {
		c.Retry.MaxDelaySeconds = 30
	}
	if c.Retry.BackoffFactor == 0 {
		c.Retry.BackoffFactor = 2.0
	}
	if c.Calendar.RangeStart == "" {
		c.Calendar.RangeStart = "2000-01-01"
	}
	if c.Calendar.YearsPastToday == 0 {
		c.Calendar.YearsPastToday = 2
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	if c.Postgres.Host == "" {
		return fmt.Errorf("postgres.host is required")
	}
	if c.Postgres.Database == "" {
		return fmt.Errorf("postgres.database is required")
	}
	if c.Postgres.User == "" {
		return fmt.Errorf("postgres.user is required")
	}
	if c.Source.PageSize < 1 || c.Source.PageSize > 10000 {
		return fmt.Errorf("source.page_size must be between 1 and 10000, got %d", c.Source.PageSize)
	}
	if c.Source.MaxPages < 0 {
		return fmt.Errorf("source.max_pages must not be negative, got %d", c.Source.MaxPages)
	}
	if _, err := time.Parse("2006-01-02", c.Calendar.RangeStart); err != nil {
		return fmt.Errorf("calendar.range_start must be YYYY-MM-DD: %w", err)
	}
	return nil
}

// GetPostgresConnectionString returns a connection string for PostgreSQL
func (c *Config) GetPostgresConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Database,
		c.Postgres.SSLMode,
	)
}

// CalendarRange resolves the configured calendar bounds.
func (c *Config) CalendarRange(now time.Time) (time.Time, time.Time) {
	start, _ := time.Parse("2006-01-02", c.Calendar.RangeStart)
	end := now.UTC().AddDate(c.Calendar.YearsPastToday, 0, 0)
	return start, end
}
