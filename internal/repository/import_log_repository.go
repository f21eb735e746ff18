package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stwalsh4118/plotsync/internal/database"
	"github.com/stwalsh4118/plotsync/internal/models"
)

// DefaultLogLimit caps List when no limit is given.
const DefaultLogLimit = 50

// ImportLogRepository persists the audit record of each commit.
type ImportLogRepository struct {
	db *database.Database
}

// NewImportLogRepository creates an ImportLogRepository.
func NewImportLogRepository(db *database.Database) *ImportLogRepository {
	return &ImportLogRepository{db: db}
}

// Create stores the log and fills in its ID and CreatedAt.
func (r *ImportLogRepository) Create(ctx context.Context, log *models.ImportLog) error {
	details := log.Details
	if details == nil {
		details = []models.ImportLogDetail{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode import log details: %w", err)
	}

	query := `
		INSERT INTO import_logs (
			scope, file_name, file_type, added_count, updated_count,
			archived_count, error_count, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		RETURNING id::text, created_at`

	err = r.db.Pool.QueryRow(ctx, query,
		log.Scope, log.FileName, log.FileType, log.AddedCount, log.UpdatedCount,
		log.ArchivedCount, log.ErrorCount, string(payload),
	).Scan(&log.ID, &log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert import log for scope %s: %w", log.Scope, err)
	}
	return nil
}

// List returns the most recent logs, newest first.
func (r *ImportLogRepository) List(ctx context.Context, limit int) ([]models.ImportLog, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}

	query := `
		SELECT id::text, scope, file_name, file_type, added_count, updated_count,
			archived_count, error_count, details, created_at
		FROM import_logs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query import logs: %w", err)
	}
	defer rows.Close()

	logs := []models.ImportLog{}
	for rows.Next() {
		var l models.ImportLog
		var details []byte
		if err := rows.Scan(
			&l.ID, &l.Scope, &l.FileName, &l.FileType, &l.AddedCount, &l.UpdatedCount,
			&l.ArchivedCount, &l.ErrorCount, &details, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan import log row: %w", err)
		}
		if err := json.Unmarshal(details, &l.Details); err != nil {
			return nil, fmt.Errorf("failed to decode details of import log %s: %w", l.ID, err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating import log rows: %w", err)
	}
	return logs, nil
}
