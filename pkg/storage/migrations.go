package storage

import (
	"database/sql"
	"fmt"
)

var migrations = []string{
	// Migration 1: Initial schema
	`CREATE TABLE IF NOT EXISTS planned_resources (
		id               TEXT PRIMARY KEY,
		project_id       TEXT NOT NULL,
		phase_id         TEXT NOT NULL,
		resource_type_id TEXT NOT NULL,
		name             TEXT NOT NULL DEFAULT '',
		unit             TEXT NOT NULL DEFAULT '',
		planned_quantity REAL NOT NULL,
		unit_cost        REAL NOT NULL DEFAULT 0.0,
		start_date       DATETIME,
		end_date         DATETIME,
		created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_resources_project ON planned_resources(project_id);
	CREATE INDEX IF NOT EXISTS idx_resources_type ON planned_resources(resource_type_id);

	CREATE TABLE IF NOT EXISTS consumption_records (
		id                  TEXT PRIMARY KEY,
		planned_resource_id TEXT NOT NULL REFERENCES planned_resources(id),
		quantity            REAL NOT NULL,
		consumed_on         DATETIME NOT NULL,
		note                TEXT NOT NULL DEFAULT '',
		recorded_by         TEXT NOT NULL DEFAULT '',
		created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_consumption_resource ON consumption_records(planned_resource_id);
	CREATE INDEX IF NOT EXISTS idx_consumption_date ON consumption_records(consumed_on);

	CREATE TABLE IF NOT EXISTS thresholds (
		id               TEXT PRIMARY KEY,
		resource_type_id TEXT NOT NULL DEFAULT '',
		project_id       TEXT NOT NULL DEFAULT '',
		kind             TEXT NOT NULL CHECK(kind IN ('agotamiento', 'sobrecosto', 'retraso', 'reasignacion')),
		percent          REAL NOT NULL DEFAULT 0.0,
		days             INTEGER NOT NULL DEFAULT 0,
		min_quantity     REAL NOT NULL DEFAULT 0.0,
		severity         TEXT NOT NULL DEFAULT '',
		created_by       TEXT NOT NULL DEFAULT '',
		active           INTEGER NOT NULL DEFAULT 1,
		created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(resource_type_id, project_id, kind)
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id                  TEXT PRIMARY KEY,
		project_id          TEXT NOT NULL,
		planned_resource_id TEXT NOT NULL DEFAULT '',
		kind                TEXT NOT NULL,
		severity            TEXT NOT NULL,
		message             TEXT NOT NULL DEFAULT '',
		context             TEXT NOT NULL DEFAULT '{}',
		state               TEXT NOT NULL DEFAULT 'activa' CHECK(state IN ('activa', 'leida', 'resuelta', 'ignorada')),
		note                TEXT NOT NULL DEFAULT '',
		generated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		resolved_at         DATETIME,
		resolved_by         TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_project ON alerts(project_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_state ON alerts(state);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_active_unique
		ON alerts(project_id, planned_resource_id, kind) WHERE state = 'activa';

	CREATE TABLE IF NOT EXISTS notification_preferences (
		user_id          TEXT PRIMARY KEY,
		platform_alerts  INTEGER NOT NULL DEFAULT 1,
		email_alerts     INTEGER NOT NULL DEFAULT 0,
		digest_frequency TEXT NOT NULL DEFAULT 'semanal' CHECK(digest_frequency IN ('nunca', 'diario', 'semanal')),
		kinds            TEXT NOT NULL DEFAULT '[]',
		preferred_time   TEXT NOT NULL DEFAULT '09:00:00',
		updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
}

// runMigrations applies pending schema migrations.
func runMigrations(db *sql.DB) error {
	// Ensure migration tracking table exists
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
