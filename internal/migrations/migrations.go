package migrations

import (
	"database/sql"
	"fmt"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "Add run lookup indices",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_load_runs_started_at ON load_test_runs(started_at DESC);
			CREATE INDEX IF NOT EXISTS idx_load_runs_status ON load_test_runs(status);
			CREATE INDEX IF NOT EXISTS idx_load_runs_config_id ON load_test_runs(config_id);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_load_runs_started_at;
			DROP INDEX IF EXISTS idx_load_runs_status;
			DROP INDEX IF EXISTS idx_load_runs_config_id;
		`,
	},
	{
		Version: 2,
		Name:    "Add per-VU iteration index",
		Up: `
			-- Speeds up per-VU breakdowns in reports
			CREATE INDEX IF NOT EXISTS idx_load_iterations_vu ON load_test_iterations(run_id, vu);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_load_iterations_vu;
		`,
	},
}

// InitSchema creates all tables required across all modules
// This must be called before running migrations to ensure all tables exist
func InitSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS load_test_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		staff_url TEXT NOT NULL,
		opac_url TEXT NOT NULL,
		vus INTEGER NOT NULL DEFAULT 5,
		iterations INTEGER NOT NULL DEFAULT 10,
		ramp_up_duration_sec INTEGER DEFAULT 0,
		max_duration_sec INTEGER DEFAULT 0,
		iteration_timeout_sec INTEGER DEFAULT 0,
		iterations_per_second REAL DEFAULT 0,
		thresholds TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS load_test_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		config_id INTEGER,
		config_name TEXT NOT NULL,
		staff_url TEXT NOT NULL,
		vus INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		status TEXT NOT NULL,
		total_iterations_sent INTEGER DEFAULT 0,
		total_iterations_completed INTEGER DEFAULT 0,
		total_failures INTEGER DEFAULT 0,
		avg_duration_ms REAL DEFAULT 0,
		min_duration_ms INTEGER DEFAULT 0,
		max_duration_ms INTEGER DEFAULT 0,
		p50_duration_ms INTEGER DEFAULT 0,
		p95_duration_ms INTEGER DEFAULT 0,
		p99_duration_ms INTEGER DEFAULT 0,
		checks_passed INTEGER DEFAULT 0,
		checks_failed INTEGER DEFAULT 0,
		checks_rate REAL DEFAULT 1,
		thresholds_passed INTEGER DEFAULT 1,
		failed_thresholds TEXT DEFAULT '',
		FOREIGN KEY (config_id) REFERENCES load_test_configs(id) ON DELETE SET NULL
	);

	CREATE TABLE IF NOT EXISTS load_test_iterations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		vu INTEGER NOT NULL,
		iteration INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		error_message TEXT,
		FOREIGN KEY (run_id) REFERENCES load_test_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_load_iterations_run_id ON load_test_iterations(run_id);
	CREATE INDEX IF NOT EXISTS idx_load_iterations_elapsed ON load_test_iterations(run_id, elapsed_ms);

	CREATE TABLE IF NOT EXISTS load_test_checks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		passes INTEGER NOT NULL DEFAULT 0,
		fails INTEGER NOT NULL DEFAULT 0,
		UNIQUE (run_id, name),
		FOREIGN KEY (run_id) REFERENCES load_test_runs(id) ON DELETE CASCADE
	);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Run executes all pending migrations on the database
func Run(db *sql.DB) error {
	// Initialize schema first to ensure all tables exist
	if err := InitSchema(db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Create migrations tracking table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := GetCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	// Apply pending migrations
	for _, migration := range AllMigrations {
		if migration.Version <= currentVersion {
			continue
		}

		if _, err := db.Exec(migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
		}

		_, err = db.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version,
			migration.Name,
		)
		if err != nil {
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// GetCurrentVersion returns the current database schema version
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_migrations
	`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return version, nil
}
