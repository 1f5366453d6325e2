package loadtest

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/studiowebux/kohaload/internal/check"
	"github.com/studiowebux/kohaload/internal/migrations"
)

// Manager handles load test data persistence
type Manager struct {
	db *sql.DB
}

// NewManager opens (or creates) the sqlite database at dbPath
func NewManager(dbPath string) (*Manager, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows a single writer; this also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)

	m := &Manager{db: db}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return m, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}

const configColumns = `id, name, staff_url, opac_url, vus, iterations, ramp_up_duration_sec,
	max_duration_sec, iteration_timeout_sec, iterations_per_second, thresholds, created_at, updated_at`

func scanConfig(row interface{ Scan(...any) error }) (*Config, error) {
	config := &Config{}
	var thresholds string
	err := row.Scan(&config.ID, &config.Name, &config.StaffURL, &config.OPACURL, &config.VUs,
		&config.Iterations, &config.RampUpDurationSec, &config.MaxDurationSec,
		&config.IterationTimeoutSec, &config.IterationsPerSecond, &thresholds,
		&config.CreatedAt, &config.UpdatedAt)
	if err != nil {
		return nil, err
	}
	config.Thresholds = splitThresholds(thresholds)
	return config, nil
}

// SaveConfig saves or updates a load test configuration
func (m *Manager) SaveConfig(config *Config) error {
	if err := config.Validate(); err != nil {
		return err
	}

	if config.ID == 0 {
		result, err := m.db.Exec(`
			INSERT INTO load_test_configs
			(name, staff_url, opac_url, vus, iterations, ramp_up_duration_sec, max_duration_sec,
			 iteration_timeout_sec, iterations_per_second, thresholds)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, config.Name, config.StaffURL, config.OPACURL, config.VUs, config.Iterations,
			config.RampUpDurationSec, config.MaxDurationSec, config.IterationTimeoutSec,
			config.IterationsPerSecond, joinThresholds(config.Thresholds))
		if err != nil {
			return fmt.Errorf("failed to insert config: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		config.ID = id
		return nil
	}

	_, err := m.db.Exec(`
		UPDATE load_test_configs
		SET name = ?, staff_url = ?, opac_url = ?, vus = ?, iterations = ?, ramp_up_duration_sec = ?,
		    max_duration_sec = ?, iteration_timeout_sec = ?, iterations_per_second = ?, thresholds = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, config.Name, config.StaffURL, config.OPACURL, config.VUs, config.Iterations,
		config.RampUpDurationSec, config.MaxDurationSec, config.IterationTimeoutSec,
		config.IterationsPerSecond, joinThresholds(config.Thresholds), config.ID)
	if err != nil {
		return fmt.Errorf("failed to update config: %w", err)
	}
	return nil
}

// GetConfig retrieves a config by ID
func (m *Manager) GetConfig(id int64) (*Config, error) {
	return scanConfig(m.db.QueryRow(`SELECT `+configColumns+` FROM load_test_configs WHERE id = ?`, id))
}

// GetConfigByName retrieves a config by its unique name
func (m *Manager) GetConfigByName(name string) (*Config, error) {
	return scanConfig(m.db.QueryRow(`SELECT `+configColumns+` FROM load_test_configs WHERE name = ?`, name))
}

// ListConfigs returns all saved configurations, most recently updated first
func (m *Manager) ListConfigs() ([]*Config, error) {
	rows, err := m.db.Query(`SELECT ` + configColumns + ` FROM load_test_configs ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*Config
	for rows.Next() {
		config, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, config)
	}
	return configs, rows.Err()
}

// DeleteConfig deletes a configuration; its runs are kept
func (m *Manager) DeleteConfig(id int64) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE load_test_runs SET config_id = NULL WHERE config_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM load_test_configs WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateRun creates a new load test run record
func (m *Manager) CreateRun(run *Run) error {
	result, err := m.db.Exec(`
		INSERT INTO load_test_runs
		(config_id, config_name, staff_url, vus, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ConfigID, run.ConfigName, run.StaffURL, run.VUs, run.StartedAt, run.Status)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// UpdateRun updates a load test run record
func (m *Manager) UpdateRun(run *Run) error {
	_, err := m.db.Exec(`
		UPDATE load_test_runs
		SET completed_at = ?, status = ?, total_iterations_sent = ?, total_iterations_completed = ?,
		    total_failures = ?, avg_duration_ms = ?, min_duration_ms = ?, max_duration_ms = ?,
		    p50_duration_ms = ?, p95_duration_ms = ?, p99_duration_ms = ?,
		    checks_passed = ?, checks_failed = ?, checks_rate = ?, thresholds_passed = ?, failed_thresholds = ?
		WHERE id = ?
	`, run.CompletedAt, run.Status, run.TotalIterationsSent, run.TotalIterationsCompleted,
		run.TotalFailures, run.AvgDurationMs, run.MinDurationMs, run.MaxDurationMs,
		run.P50DurationMs, run.P95DurationMs, run.P99DurationMs,
		run.ChecksPassed, run.ChecksFailed, run.ChecksRate, run.ThresholdsPassed,
		joinThresholds(run.FailedThresholds), run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

const runColumns = `id, config_id, config_name, staff_url, vus, started_at, completed_at, status,
	total_iterations_sent, total_iterations_completed, total_failures,
	COALESCE(avg_duration_ms, 0), COALESCE(min_duration_ms, 0), COALESCE(max_duration_ms, 0),
	COALESCE(p50_duration_ms, 0), COALESCE(p95_duration_ms, 0), COALESCE(p99_duration_ms, 0),
	checks_passed, checks_failed, checks_rate, thresholds_passed, COALESCE(failed_thresholds, '')`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	run := &Run{}
	var configID sql.NullInt64
	var completedAt sql.NullTime
	var failedThresholds string

	err := row.Scan(&run.ID, &configID, &run.ConfigName, &run.StaffURL, &run.VUs,
		&run.StartedAt, &completedAt, &run.Status, &run.TotalIterationsSent,
		&run.TotalIterationsCompleted, &run.TotalFailures, &run.AvgDurationMs, &run.MinDurationMs,
		&run.MaxDurationMs, &run.P50DurationMs, &run.P95DurationMs, &run.P99DurationMs,
		&run.ChecksPassed, &run.ChecksFailed, &run.ChecksRate, &run.ThresholdsPassed, &failedThresholds)
	if err != nil {
		return nil, err
	}

	if configID.Valid {
		run.ConfigID = &configID.Int64
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	run.FailedThresholds = splitThresholds(failedThresholds)
	return run, nil
}

// GetRun retrieves a run by ID
func (m *Manager) GetRun(id int64) (*Run, error) {
	return scanRun(m.db.QueryRow(`SELECT `+runColumns+` FROM load_test_runs WHERE id = ?`, id))
}

// ListRuns returns load test runs, newest first. limit <= 0 returns all.
func (m *Manager) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM load_test_runs ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := m.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun deletes a load test run with its iterations and checks
func (m *Manager) DeleteRun(id int64) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM load_test_iterations WHERE run_id = ?",
		"DELETE FROM load_test_checks WHERE run_id = ?",
		"DELETE FROM load_test_runs WHERE id = ?",
	} {
		if _, err := tx.Exec(stmt, id); err != nil {
			return fmt.Errorf("failed to delete run %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// SaveIterationMetricsBatch saves multiple iteration metrics in a single transaction
func (m *Manager) SaveIterationMetricsBatch(metrics []*IterationMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO load_test_iterations
		(run_id, vu, iteration, timestamp, elapsed_ms, duration_ms, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, metric := range metrics {
		_, err := stmt.Exec(metric.RunID, metric.VU, metric.Iteration, metric.Timestamp,
			metric.ElapsedMs, metric.DurationMs, metric.ErrorMessage)
		if err != nil {
			return fmt.Errorf("failed to insert iteration metric: %w", err)
		}
	}

	return tx.Commit()
}

// GetIterationMetrics retrieves all iteration metrics for a run
func (m *Manager) GetIterationMetrics(runID int64) ([]*IterationMetric, error) {
	rows, err := m.db.Query(`
		SELECT id, run_id, vu, iteration, timestamp, elapsed_ms, duration_ms, COALESCE(error_message, '')
		FROM load_test_iterations
		WHERE run_id = ?
		ORDER BY elapsed_ms, id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []*IterationMetric
	for rows.Next() {
		metric := &IterationMetric{}
		err := rows.Scan(&metric.ID, &metric.RunID, &metric.VU, &metric.Iteration, &metric.Timestamp,
			&metric.ElapsedMs, &metric.DurationMs, &metric.ErrorMessage)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, metric)
	}
	return metrics, rows.Err()
}

// SaveCheckResults replaces the check tallies stored for a run
func (m *Manager) SaveCheckResults(runID int64, results []check.Result) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM load_test_checks WHERE run_id = ?", runID); err != nil {
		return fmt.Errorf("failed to clear checks: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO load_test_checks (run_id, position, name, passes, fails)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, res := range results {
		if _, err := stmt.Exec(runID, i, res.Name, res.Passes, res.Fails); err != nil {
			return fmt.Errorf("failed to insert check %q: %w", res.Name, err)
		}
	}

	return tx.Commit()
}

// GetCheckResults returns the check tallies of a run in recorded order
func (m *Manager) GetCheckResults(runID int64) ([]check.Result, error) {
	rows, err := m.db.Query(`
		SELECT name, passes, fails FROM load_test_checks WHERE run_id = ? ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []check.Result
	for rows.Next() {
		var res check.Result
		if err := rows.Scan(&res.Name, &res.Passes, &res.Fails); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}
