package loadtest

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/studiowebux/kohaload/internal/check"
	"github.com/studiowebux/kohaload/internal/metrics"
)

// Run status values
const (
	StatusRunning          = "running"
	StatusCompleted        = "completed"
	StatusCancelled        = "cancelled"
	StatusCancelledTimeout = "cancelled (timeout)"
	StatusFailed           = "failed"
)

const (
	MaxVUs        = 1000
	MaxIterations = 1000000

	DefaultIterationTimeout = 5 * time.Minute
)

// Config represents a load test configuration
type Config struct {
	ID                  int64     `json:"id" yaml:"id"`
	Name                string    `json:"name" yaml:"name"`
	StaffURL            string    `json:"staff_url" yaml:"staff_url"`
	OPACURL             string    `json:"opac_url" yaml:"opac_url"`
	VUs                 int       `json:"vus" yaml:"vus"`
	Iterations          int       `json:"iterations" yaml:"iterations"`
	RampUpDurationSec   int       `json:"ramp_up_duration_sec" yaml:"ramp_up_duration_sec"`
	MaxDurationSec      int       `json:"max_duration_sec" yaml:"max_duration_sec"`
	IterationTimeoutSec int       `json:"iteration_timeout_sec" yaml:"iteration_timeout_sec"` // default: 5m
	IterationsPerSecond float64   `json:"iterations_per_second" yaml:"iterations_per_second"` // 0 = unlimited
	Thresholds          []string  `json:"thresholds" yaml:"thresholds"`
	CreatedAt           time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" yaml:"updated_at"`
}

// Run represents a load test run record
type Run struct {
	ID                       int64      `json:"id" yaml:"id"`
	ConfigID                 *int64     `json:"config_id,omitempty" yaml:"config_id,omitempty"`
	ConfigName               string     `json:"config_name" yaml:"config_name"`
	StaffURL                 string     `json:"staff_url" yaml:"staff_url"`
	VUs                      int        `json:"vus" yaml:"vus"`
	StartedAt                time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt              *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Status                   string     `json:"status" yaml:"status"`
	TotalIterationsSent      int        `json:"total_iterations_sent" yaml:"total_iterations_sent"`
	TotalIterationsCompleted int        `json:"total_iterations_completed" yaml:"total_iterations_completed"`
	TotalFailures            int        `json:"total_failures" yaml:"total_failures"`
	AvgDurationMs            float64    `json:"avg_duration_ms" yaml:"avg_duration_ms"`
	MinDurationMs            int64      `json:"min_duration_ms" yaml:"min_duration_ms"`
	MaxDurationMs            int64      `json:"max_duration_ms" yaml:"max_duration_ms"`
	P50DurationMs            int64      `json:"p50_duration_ms" yaml:"p50_duration_ms"`
	P95DurationMs            int64      `json:"p95_duration_ms" yaml:"p95_duration_ms"`
	P99DurationMs            int64      `json:"p99_duration_ms" yaml:"p99_duration_ms"`
	ChecksPassed             int        `json:"checks_passed" yaml:"checks_passed"`
	ChecksFailed             int        `json:"checks_failed" yaml:"checks_failed"`
	ChecksRate               float64    `json:"checks_rate" yaml:"checks_rate"`
	ThresholdsPassed         bool       `json:"thresholds_passed" yaml:"thresholds_passed"`
	FailedThresholds         []string   `json:"failed_thresholds,omitempty" yaml:"failed_thresholds,omitempty"`
}

// IterationMetric represents a single finished iteration
type IterationMetric struct {
	ID           int64
	RunID        int64
	VU           int
	Iteration    int
	Timestamp    time.Time
	ElapsedMs    int64
	DurationMs   int64
	ErrorMessage string
}

// ExecutionConfig contains the runtime configuration for executing a load test
type ExecutionConfig struct {
	Config  *Config
	Iterate IterationFunc
	Checks  *check.Recorder
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Validate validates the load test configuration
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config name is required")
	}
	if c.StaffURL == "" {
		return fmt.Errorf("staff URL is required")
	}
	if c.VUs <= 0 {
		return fmt.Errorf("VUs must be greater than 0")
	}
	if c.VUs > MaxVUs {
		return fmt.Errorf("VUs cannot exceed %d", MaxVUs)
	}
	if c.Iterations <= 0 {
		return fmt.Errorf("iterations must be greater than 0")
	}
	if c.Iterations > MaxIterations {
		return fmt.Errorf("iterations cannot exceed 1,000,000")
	}
	if c.RampUpDurationSec < 0 {
		return fmt.Errorf("ramp-up duration cannot be negative")
	}
	if c.MaxDurationSec < 0 {
		return fmt.Errorf("max duration cannot be negative")
	}
	if c.IterationTimeoutSec < 0 {
		return fmt.Errorf("iteration timeout cannot be negative")
	}
	if c.IterationsPerSecond < 0 {
		return fmt.Errorf("iterations per second cannot be negative")
	}
	if _, err := check.ParseThresholds(c.Thresholds); err != nil {
		return err
	}
	return nil
}

// GetRampUpDuration returns the ramp-up duration as time.Duration
func (c *Config) GetRampUpDuration() time.Duration {
	return time.Duration(c.RampUpDurationSec) * time.Second
}

// GetMaxDuration returns the max test duration; 0 means unlimited
func (c *Config) GetMaxDuration() time.Duration {
	return time.Duration(c.MaxDurationSec) * time.Second
}

// GetIterationTimeout returns the per-iteration timeout
func (c *Config) GetIterationTimeout() time.Duration {
	if c.IterationTimeoutSec == 0 {
		return DefaultIterationTimeout
	}
	return time.Duration(c.IterationTimeoutSec) * time.Second
}

// IsRunning returns true if the run is currently in progress
func (r *Run) IsRunning() bool {
	return r.Status == StatusRunning
}

// IsCompleted returns true if the run has finished
func (r *Run) IsCompleted() bool {
	return r.Status == StatusCompleted || r.Status == StatusCancelled ||
		r.Status == StatusCancelledTimeout || r.Status == StatusFailed
}

func joinThresholds(t []string) string {
	return strings.Join(t, ",")
}

func splitThresholds(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
