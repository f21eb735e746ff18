package database

import (
	"context"
	"fmt"
)

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
	`CREATE TABLE IF NOT EXISTS land_plots (
		id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		cadastral_number  TEXT NOT NULL UNIQUE,
		title             TEXT NOT NULL DEFAULT '',
		description       TEXT NOT NULL DEFAULT '',
		district          TEXT NOT NULL DEFAULT '',
		settlement        TEXT NOT NULL DEFAULT '',
		land_status       TEXT NOT NULL DEFAULT '',
		ownership_type    TEXT NOT NULL DEFAULT 'ownership',
		area_sotok        DOUBLE PRECISION NOT NULL DEFAULT 0,
		price             BIGINT NOT NULL DEFAULT 0,
		lease_from        TEXT,
		lease_to          TEXT,
		center_lat        DOUBLE PRECISION,
		center_lon        DOUBLE PRECISION,
		geometry          JSONB,
		has_coordinates   BOOLEAN NOT NULL DEFAULT FALSE,
		bundle_id         UUID,
		bundle_title      TEXT,
		is_bundle_primary BOOLEAN NOT NULL DEFAULT FALSE,
		is_reserved       BOOLEAN NOT NULL DEFAULT FALSE,
		has_gas           BOOLEAN NOT NULL DEFAULT FALSE,
		has_electricity   BOOLEAN NOT NULL DEFAULT FALSE,
		has_water         BOOLEAN NOT NULL DEFAULT FALSE,
		has_installment   BOOLEAN NOT NULL DEFAULT FALSE,
		is_active         BOOLEAN NOT NULL DEFAULT TRUE,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_land_plots_settlement ON land_plots (settlement)`,
	`CREATE INDEX IF NOT EXISTS idx_land_plots_bundle_id ON land_plots (bundle_id) WHERE bundle_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS import_logs (
		id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		scope          TEXT NOT NULL,
		file_name      TEXT NOT NULL DEFAULT '',
		file_type      TEXT NOT NULL DEFAULT '',
		added_count    INTEGER NOT NULL DEFAULT 0,
		updated_count  INTEGER NOT NULL DEFAULT 0,
		archived_count INTEGER NOT NULL DEFAULT 0,
		error_count    INTEGER NOT NULL DEFAULT 0,
		details        JSONB NOT NULL DEFAULT '[]'::jsonb,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_import_logs_created_at ON import_logs (created_at DESC)`,
}

// Migrate creates the catalog and import log tables if they do not exist.
func (db *Database) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
