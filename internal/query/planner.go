// Package query validates search requests and compiles them into
// parameterized ClickHouse queries.
package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/api/keepwatch"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 1000
	maxArrayValues  = 10
)

// ErrValidation wraps all request shape errors so handlers can map them to
// a 400 uniformly.
var ErrValidation = errors.New("invalid search request")

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// Plan is a compiled search: one data query and one count query over the
// same predicate.
type Plan struct {
	Query      string
	Args       []interface{}
	CountQuery string
	CountArgs  []interface{}
	Page       int
	PageSize   int
	// DocFilterApplied reports that per-field filters were superseded.
	DocFilterApplied bool
}

// Compile validates the request and builds the ClickHouse queries for the
// project's logs.
func Compile(projectID string, req keepwatch.SearchRequest) (*Plan, error) {
	page := req.Page
	if page == 0 {
		page = 1
	}
	if page < 1 {
		return nil, validationError("page must be at least 1")
	}

	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return nil, validationError("pageSize must be between 1 and 1000")
	}

	sortOrder := strings.ToUpper(req.SortOrder)
	switch sortOrder {
	case "":
		sortOrder = "DESC"
	case "ASC", "DESC":
	default:
		return nil, validationError("sortOrder must be asc or desc")
	}

	if req.LogType != "" && !models.LogType(req.LogType).Valid() {
		return nil, validationError("logType must be application or system")
	}

	if req.StartTime != nil && req.EndTime != nil && *req.StartTime > *req.EndTime {
		return nil, validationError("startTime must not be after endTime")
	}

	where := []string{"project_id = ?"}
	args := []interface{}{projectID}

	if req.LogType != "" {
		where = append(where, "log_type = ?")
		args = append(args, req.LogType)
	}

	scalars := []struct {
		field  string
		column string
		values keepwatch.StringList
	}{
		{"level", "level", req.Level},
		{"environment", "environment", req.Environment},
		{"category", "category", req.Category},
		{"hostname", "hostname", req.Hostname},
	}
	for _, s := range scalars {
		if s.values == nil {
			continue
		}
		clause, clauseArgs, err := scalarClause(s.field, s.column, s.values)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
		args = append(args, clauseArgs...)
	}

	if req.StartTime != nil {
		where = append(where, "timestamp_ms >= ?")
		args = append(args, *req.StartTime)
	}
	if req.EndTime != nil {
		where = append(where, "timestamp_ms <= ?")
		args = append(args, *req.EndTime)
	}

	textClause, textArgs, docApplied, err := textPredicate(req)
	if err != nil {
		return nil, err
	}
	if textClause != "" {
		where = append(where, textClause)
		args = append(args, textArgs...)
	}

	predicate := strings.Join(where, " AND ")

	query := fmt.Sprintf(`SELECT id, project_id, project_object_id, level, environment, category, log_type, hostname, message, raw_stack_trace, detail_string, timestamp_ms, created_at FROM logs WHERE %s ORDER BY timestamp_ms %s LIMIT ? OFFSET ?`,
		predicate, sortOrder)
	queryArgs := append(append([]interface{}{}, args...), pageSize, (page-1)*pageSize)

	countQuery := fmt.Sprintf(`SELECT count() FROM logs WHERE %s`, predicate)

	return &Plan{
		Query:            query,
		Args:             queryArgs,
		CountQuery:       countQuery,
		CountArgs:        args,
		Page:             page,
		PageSize:         pageSize,
		DocFilterApplied: docApplied,
	}, nil
}

func scalarClause(field, column string, values keepwatch.StringList) (string, []interface{}, error) {
	if len(values) == 0 {
		return "", nil, validationError(field + " must not be empty")
	}
	if len(values) > maxArrayValues {
		return "", nil, validationError(field + " accepts at most 10 values")
	}
	args := make([]interface{}, 0, len(values))
	placeholders := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return "", nil, validationError(field + " values must not be blank")
		}
		placeholders = append(placeholders, "?")
		args = append(args, v)
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")), args, nil
}

// textPredicate builds the textual part of the query. A docFilter wins over
// the per-field compound filters.
func textPredicate(req keepwatch.SearchRequest) (string, []interface{}, bool, error) {
	if req.DocFilter != nil {
		if strings.TrimSpace(req.DocFilter.Phrase) == "" {
			return "", nil, false, validationError("docFilter.phrase must not be blank")
		}
		if !req.DocFilter.MatchType.Valid() {
			return "", nil, false, validationError("docFilter.matchType must be contains, startsWith, or endsWith")
		}
		pattern := likePattern(req.DocFilter.Phrase, req.DocFilter.MatchType)
		clause := "(message ILIKE ? OR raw_stack_trace ILIKE ? OR detail_string ILIKE ?)"
		return clause, []interface{}{pattern, pattern, pattern}, true, nil
	}

	fields := []struct {
		name   string
		column string
		filter *keepwatch.FieldFilter
	}{
		{"message", "message", req.Message},
		{"stackTrace", "raw_stack_trace", req.StackTrace},
		{"details", "detail_string", req.Details},
	}

	var clauses []string
	var args []interface{}
	for _, f := range fields {
		if f.filter == nil {
			continue
		}
		clause, clauseArgs, err := fieldClause(f.name, f.column, f.filter)
		if err != nil {
			return "", nil, false, err
		}
		clauses = append(clauses, clause)
		args = append(args, clauseArgs...)
	}

	if len(clauses) == 0 {
		return "", nil, false, nil
	}
	return strings.Join(clauses, " AND "), args, false, nil
}

func fieldClause(name, column string, filter *keepwatch.FieldFilter) (string, []interface{}, error) {
	op := strings.ToUpper(filter.Operator)
	if op != "AND" && op != "OR" {
		return "", nil, validationError(name + ".operator must be AND or OR")
	}
	if len(filter.Conditions) == 0 {
		return "", nil, validationError(name + ".conditions must not be empty")
	}

	parts := make([]string, 0, len(filter.Conditions))
	args := make([]interface{}, 0, len(filter.Conditions))
	for _, cond := range filter.Conditions {
		if strings.TrimSpace(cond.Phrase) == "" {
			return "", nil, validationError(name + " condition phrases must not be blank")
		}
		if !cond.MatchType.Valid() {
			return "", nil, validationError(name + " conditions need a matchType of contains, startsWith, or endsWith")
		}
		parts = append(parts, column+" ILIKE ?")
		args = append(args, likePattern(cond.Phrase, cond.MatchType))
	}

	return "(" + strings.Join(parts, " "+op+" ") + ")", args, nil
}

// likePattern escapes LIKE metacharacters in the phrase and anchors it per
// match type. ILIKE keeps matching case-insensitive.
func likePattern(phrase string, matchType keepwatch.MatchType) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(phrase)
	switch matchType {
	case keepwatch.MatchStartsWith:
		return escaped + "%"
	case keepwatch.MatchEndsWith:
		return "%" + escaped
	default:
		return "%" + escaped + "%"
	}
}
