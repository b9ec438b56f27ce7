package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"eve-foreman/internal/logger"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database holding projects, planned jobs, the
// detection log and ESI credentials.
type DB struct {
	sql *sql.DB
}

func dbPath(dataDir string) string {
	if dataDir != "" {
		return filepath.Join(dataDir, "foreman.db")
	}
	// Prefer working directory so the DB is stable across go run / go build.
	// Fall back to executable directory for deployed builds.
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, "foreman.db")
	}
	exe, _ := os.Executable()
	return filepath.Join(filepath.Dir(exe), "foreman.db")
}

// Open opens (or creates) the SQLite database and runs migrations.
func Open(dataDir string) (*DB, error) {
	path := dbPath(dataDir)
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Success("DB", fmt.Sprintf("Opened %s", path))
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate() error {
	version := 0
	// Try to read current version
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS projects (
				id             TEXT PRIMARY KEY,
				owner_id       INTEGER NOT NULL,
				corporation_id INTEGER NOT NULL DEFAULT 0,
				name           TEXT NOT NULL,
				status         TEXT NOT NULL DEFAULT 'preparing',
				created_at     TEXT NOT NULL,
				updated_at     TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);

			CREATE TABLE IF NOT EXISTS project_targets (
				project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
				type_id    INTEGER NOT NULL,
				quantity   INTEGER NOT NULL,
				PRIMARY KEY (project_id, type_id)
			);

			CREATE TABLE IF NOT EXISTS project_stock (
				project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
				type_id    INTEGER NOT NULL,
				quantity   INTEGER NOT NULL,
				PRIMARY KEY (project_id, type_id)
			);

			CREATE TABLE IF NOT EXISTS project_misc (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
				description TEXT NOT NULL,
				quantity    INTEGER NOT NULL DEFAULT 1,
				cost_isk    REAL NOT NULL DEFAULT 0
			);

			CREATE TABLE IF NOT EXISTS planned_jobs (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				project_id      TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
				product_type_id INTEGER NOT NULL,
				runs            INTEGER NOT NULL,
				activity        TEXT NOT NULL DEFAULT 'manufacturing',
				structure_id    INTEGER,
				status          TEXT NOT NULL DEFAULT 'waiting',
				external_job_id INTEGER,
				cost_isk        REAL,
				facility_id     INTEGER,
				end_date        TEXT,
				created_at      TEXT NOT NULL,
				updated_at      TEXT NOT NULL
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_planned_external
				ON planned_jobs(external_job_id) WHERE external_job_id IS NOT NULL;
			CREATE INDEX IF NOT EXISTS idx_planned_match
				ON planned_jobs(product_type_id, runs, status);
			CREATE INDEX IF NOT EXISTS idx_planned_project
				ON planned_jobs(project_id);

			CREATE TABLE IF NOT EXISTS detection_log (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				external_job_id INTEGER NOT NULL,
				project_id      TEXT,
				planned_job_id  INTEGER,
				decision        TEXT NOT NULL,
				reason          TEXT,
				observed_at     TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_detection_external ON detection_log(external_job_id);

			CREATE TABLE IF NOT EXISTS ignored_jobs (
				external_job_id INTEGER PRIMARY KEY,
				added_at        TEXT NOT NULL
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("DB", "Applied migration v1")
	}

	if version < 2 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS esi_credentials (
				scope_key      TEXT PRIMARY KEY,
				character_id   INTEGER NOT NULL,
				character_name TEXT NOT NULL,
				corporation_id INTEGER NOT NULL DEFAULT 0,
				access_token   TEXT NOT NULL,
				refresh_token  TEXT NOT NULL,
				expires_at     INTEGER NOT NULL
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (2);
		`)
		if err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
		logger.Info("DB", "Applied migration v2 (credentials)")
	}

	return nil
}

// SqlDB returns the underlying *sql.DB for use by other packages (e.g. auth store).
func (d *DB) SqlDB() *sql.DB {
	return d.sql
}
