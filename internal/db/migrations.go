package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS vehicles (
		id              BIGSERIAL PRIMARY KEY,
		plate           TEXT NOT NULL,
		owner_name      TEXT NOT NULL,
		image_key       TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_vehicles_plate ON vehicles(plate);`,
	`CREATE TABLE IF NOT EXISTS access_events (
		id              BIGSERIAL PRIMARY KEY,
		session_id      UUID NOT NULL,
		flow            TEXT NOT NULL,
		phase           TEXT NOT NULL,
		decision        TEXT,
		plate           TEXT,
		granted         BOOLEAN NOT NULL DEFAULT false,
		matched_key     TEXT,
		matched_corpus  TEXT,
		score           DOUBLE PRECISION,
		message         TEXT NOT NULL,
		image_key       TEXT,
		details         JSONB,
		started_at      TIMESTAMPTZ NOT NULL,
		finished_at     TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_access_events_plate ON access_events(plate);`,
	`CREATE INDEX IF NOT EXISTS idx_access_events_finished_at ON access_events(finished_at);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_access_events_session ON access_events(session_id);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
