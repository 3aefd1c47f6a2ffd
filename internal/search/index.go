// Package search mirrors logs into ClickHouse and serves queries, facets,
// and index-side deletes.
package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/query"
	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/store"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/api/keepwatch"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/logging"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/models"
)

// Facet fields exposed by the index.
const (
	FacetEnvironments = "environment"
	FacetCategories   = "category"
	FacetHostnames    = "hostname"
)

// Index wraps the ClickHouse connection.
type Index struct {
	conn   *sql.DB
	logger logging.Logger
}

// New creates an index around an open ClickHouse connection.
func New(conn *sql.DB, logger logging.Logger) *Index {
	return &Index{conn: conn, logger: logger}
}

// Conn exposes the underlying connection for health checks.
func (i *Index) Conn() *sql.DB {
	return i.conn
}

// IndexLog mirrors one log into the index. The table is a
// ReplacingMergeTree keyed on the log ID, so redelivered events collapse
// into a single document.
func (i *Index) IndexLog(ctx context.Context, log *models.Log) error {
	detailString := ""
	if log.DetailString != nil {
		detailString = *log.DetailString
	}

	_, err := i.conn.ExecContext(ctx, `
		INSERT INTO logs (id, project_id, project_object_id, level, environment,
			category, log_type, hostname, message, raw_stack_trace,
			detail_string, timestamp_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.ProjectID, log.ProjectObjectID, log.Level, log.Environment,
		log.Category, string(log.LogType), log.Hostname, log.Message,
		log.RawStackTrace(), detailString, log.TimestampMS)
	if err != nil {
		return fmt.Errorf("index log: %w", err)
	}
	return nil
}

// Search runs a compiled plan and assembles one result page.
func (i *Index) Search(ctx context.Context, plan *query.Plan) (*keepwatch.SearchResponse, error) {
	var total int64
	if err := i.conn.QueryRowContext(ctx, plan.CountQuery, plan.CountArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count logs: %w", err)
	}

	rows, err := i.conn.QueryContext(ctx, plan.Query, plan.Args...)
	if err != nil {
		return nil, fmt.Errorf("search logs: %w", err)
	}
	defer rows.Close()

	logs := make([]models.Log, 0, plan.PageSize)
	for rows.Next() {
		var l models.Log
		var logType, rawStack, detailString string

		if err := rows.Scan(&l.ID, &l.ProjectID, &l.ProjectObjectID, &l.Level,
			&l.Environment, &l.Category, &logType, &l.Hostname, &l.Message,
			&rawStack, &detailString, &l.TimestampMS, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}

		l.LogType = models.LogType(logType)
		if rawStack != "" {
			if err := json.Unmarshal([]byte(rawStack), &l.StackTrace); err != nil {
				i.logger.WithError(err).WithField("log_id", l.ID).
					Warn("Unparsable stack trace in index")
			}
		}
		if detailString != "" {
			l.DetailString = &detailString
			if err := json.Unmarshal([]byte(detailString), &l.Details); err != nil {
				i.logger.WithError(err).WithField("log_id", l.ID).
					Warn("Unparsable detail string in index")
			}
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log rows: %w", err)
	}

	return &keepwatch.SearchResponse{
		Logs: logs,
		Pagination: keepwatch.Pagination{
			Page:       plan.Page,
			PageSize:   plan.PageSize,
			Total:      total,
			TotalPages: int64(math.Ceil(float64(total) / float64(plan.PageSize))),
		},
	}, nil
}

// Facet enumerates distinct values with counts for one facet field within
// (projectID, logType).
func (i *Index) Facet(ctx context.Context, projectID string, logType models.LogType, field string) ([]keepwatch.FacetValue, error) {
	switch field {
	case FacetEnvironments, FacetCategories, FacetHostnames:
	default:
		return nil, fmt.Errorf("unsupported facet field %q", field)
	}

	rows, err := i.conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, count() FROM logs
		WHERE project_id = ? AND log_type = ? AND %s != ''
		GROUP BY %s ORDER BY count() DESC`, field, field, field),
		projectID, string(logType))
	if err != nil {
		return nil, fmt.Errorf("facet %s: %w", field, err)
	}
	defer rows.Close()

	values := []keepwatch.FacetValue{}
	for rows.Next() {
		var v keepwatch.FacetValue
		if err := rows.Scan(&v.Value, &v.Count); err != nil {
			return nil, fmt.Errorf("scan facet row: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// DeleteByIDs removes the identified documents from the index.
func (i *Index) DeleteByIDs(ctx context.Context, projectID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, projectID)
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := i.conn.ExecContext(ctx, fmt.Sprintf(
		`ALTER TABLE logs DELETE WHERE project_id = ? AND id IN (%s)`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("delete indexed logs by ids: %w", err)
	}
	return nil
}

// DeleteByFilter removes documents in the filter's time range, optionally
// narrowed by environment and level.
func (i *Index) DeleteByFilter(ctx context.Context, projectID string, f store.PurgeFilter) error {
	clause := `ALTER TABLE logs DELETE WHERE project_id = ? AND timestamp_ms >= ? AND timestamp_ms <= ?`
	args := []interface{}{projectID, f.MinTimestampMS, f.MaxTimestampMS}

	if f.Environment != "" {
		clause += " AND environment = ?"
		args = append(args, f.Environment)
	}
	if f.Level != "" {
		clause += " AND level = ?"
		args = append(args, f.Level)
	}

	if _, err := i.conn.ExecContext(ctx, clause, args...); err != nil {
		return fmt.Errorf("delete indexed logs by filter: %w", err)
	}
	return nil
}
