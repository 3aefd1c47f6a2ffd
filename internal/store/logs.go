package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/models"
)

// CreateLog persists a log record. The insert is idempotent on the log ID
// so bus redeliveries do not duplicate rows.
func (s *Store) CreateLog(ctx context.Context, log *models.Log) error {
	stackJSON, err := json.Marshal(log.StackTrace)
	if err != nil {
		return fmt.Errorf("marshal stack trace: %w", err)
	}
	detailsJSON, err := json.Marshal(log.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO logs (id, project_id, project_object_id, level, environment,
			category, log_type, hostname, message, stack_trace, details,
			detail_string, timestamp_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (id) DO NOTHING`,
		log.ID, log.ProjectID, log.ProjectObjectID, log.Level, log.Environment,
		log.Category, string(log.LogType), log.Hostname, log.Message,
		stackJSON, detailsJSON, log.DetailString, log.TimestampMS)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// FindLogByID fetches one log, scoped to the project so callers cannot read
// across tenants.
func (s *Store) FindLogByID(ctx context.Context, projectID, logID string) (*models.Log, error) {
	var l models.Log
	var stackJSON, detailsJSON []byte
	var detailString sql.NullString
	var logType string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, project_object_id, level, environment, category,
			log_type, hostname, message, stack_trace, details, detail_string,
			timestamp_ms, created_at
		FROM logs WHERE project_id = $1 AND id = $2`,
		projectID, logID).Scan(
		&l.ID, &l.ProjectID, &l.ProjectObjectID, &l.Level, &l.Environment,
		&l.Category, &logType, &l.Hostname, &l.Message, &stackJSON,
		&detailsJSON, &detailString, &l.TimestampMS, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find log: %w", err)
	}

	l.LogType = models.LogType(logType)
	if detailString.Valid {
		l.DetailString = &detailString.String
	}
	if len(stackJSON) > 0 {
		if err := json.Unmarshal(stackJSON, &l.StackTrace); err != nil {
			return nil, fmt.Errorf("parse stack trace: %w", err)
		}
	}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &l.Details); err != nil {
			return nil, fmt.Errorf("parse details: %w", err)
		}
	}
	return &l, nil
}

// DeleteLogsByIDs removes the identified logs when they belong to the
// project, returning the number actually deleted.
func (s *Store) DeleteLogsByIDs(ctx context.Context, projectID string, ids []string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM logs WHERE project_id = $1 AND id = ANY($2)`,
		projectID, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("delete logs by ids: %w", err)
	}
	return res.RowsAffected()
}

// PurgeFilter bounds a filtered purge.
type PurgeFilter struct {
	MinTimestampMS int64
	MaxTimestampMS int64
	Environment    string
	Level          string
}

// DeleteLogsByFilter removes logs in the filter's time range, optionally
// narrowed by environment and level.
func (s *Store) DeleteLogsByFilter(ctx context.Context, projectID string, f PurgeFilter) (int64, error) {
	query := `DELETE FROM logs WHERE project_id = $1 AND timestamp_ms >= $2 AND timestamp_ms <= $3`
	args := []interface{}{projectID, f.MinTimestampMS, f.MaxTimestampMS}

	if f.Environment != "" {
		args = append(args, f.Environment)
		query += fmt.Sprintf(" AND environment = $%d", len(args))
	}
	if f.Level != "" {
		args = append(args, f.Level)
		query += fmt.Sprintf(" AND level = $%d", len(args))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete logs by filter: %w", err)
	}
	return res.RowsAffected()
}
