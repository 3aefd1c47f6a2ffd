// Package keepwatch holds the request and response shapes of the public
// log ingestion and query API.
package keepwatch

import (
	"encoding/json"
	"time"

	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/models"
)

// IngestRequest is a producer log submission.
type IngestRequest struct {
	Level       string         `json:"level"`
	Environment string         `json:"environment"`
	ProjectID   string         `json:"projectId"`
	Message     string         `json:"message"`
	LogType     string         `json:"logType"`
	Category    string         `json:"category,omitempty"`
	Hostname    string         `json:"hostname,omitempty"`
	StackTrace  []models.JSONB `json:"stackTrace,omitempty"`
	Details     models.JSONB   `json:"details,omitempty"`
	TimestampMS int64          `json:"timestampMS,omitempty"`
}

// IngestAccepted is returned once a submission has been acknowledged by the
// message bus.
type IngestAccepted struct {
	Message     string `json:"message"`
	MessageID   string `json:"messageId"`
	LogLevel    string `json:"logLevel"`
	LogMessage  string `json:"logMessage"`
	Category    string `json:"category"`
	Environment string `json:"environment"`
	Hostname    string `json:"hostname,omitempty"`
}

// ConstraintDenied is returned when an API key constraint rejects a
// submission. Constraint names the first failing predicate.
type ConstraintDenied struct {
	Error      string `json:"error"`
	Constraint string `json:"constraint"`
}

// QuotaExceeded is the 429 payload; it always carries the billing window.
type QuotaExceeded struct {
	Error       string    `json:"error"`
	Limit       int64     `json:"limit"`
	Current     int64     `json:"current"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
}

// MatchType selects how a text phrase is applied.
type MatchType string

const (
	MatchContains   MatchType = "contains"
	MatchStartsWith MatchType = "startsWith"
	MatchEndsWith   MatchType = "endsWith"
)

// Valid reports whether m is a supported match type.
func (m MatchType) Valid() bool {
	return m == MatchContains || m == MatchStartsWith || m == MatchEndsWith
}

// Condition is a single phrase predicate.
type Condition struct {
	Phrase    string    `json:"phrase"`
	MatchType MatchType `json:"matchType"`
}

// FieldFilter is a compound predicate over one text field.
type FieldFilter struct {
	Operator   string      `json:"operator"` // AND or OR
	Conditions []Condition `json:"conditions"`
}

// DocFilter is a document-wide predicate across message, stack trace, and
// detail string. When present it supersedes the per-field filters.
type DocFilter struct {
	Phrase    string    `json:"phrase"`
	MatchType MatchType `json:"matchType"`
}

// StringList accepts either a single JSON string or an array of strings.
type StringList []string

// UnmarshalJSON implements the scalar-or-array convention used by the
// multi-valued filter fields.
func (s *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = StringList(many)
	return nil
}

// SearchRequest is the log query shape.
type SearchRequest struct {
	Page        int          `json:"page,omitempty"`
	PageSize    int          `json:"pageSize,omitempty"`
	Level       StringList   `json:"level,omitempty"`
	Environment StringList   `json:"environment,omitempty"`
	Category    StringList   `json:"category,omitempty"`
	Hostname    StringList   `json:"hostname,omitempty"`
	LogType     string       `json:"logType,omitempty"`
	StartTime   *int64       `json:"startTime,omitempty"`
	EndTime     *int64       `json:"endTime,omitempty"`
	SortOrder   string       `json:"sortOrder,omitempty"`
	DocFilter   *DocFilter   `json:"docFilter,omitempty"`
	Message     *FieldFilter `json:"message,omitempty"`
	StackTrace  *FieldFilter `json:"stackTrace,omitempty"`
	Details     *FieldFilter `json:"details,omitempty"`
}

// Pagination describes one result page.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
}

// SearchResponse is a page of matching logs.
type SearchResponse struct {
	Logs       []models.Log `json:"logs"`
	Pagination Pagination   `json:"pagination"`
}

// FacetValue is one distinct value with its document count.
type FacetValue struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// FacetResponse enumerates the distinct values of one facet field.
type FacetResponse struct {
	Field  string       `json:"field"`
	Values []FacetValue `json:"values"`
}

// PurgeRequest deletes logs by explicit ID list.
type PurgeRequest struct {
	LogIDs []string `json:"logIds"`
}

// PurgeResponse reports the store-side deletion count.
type PurgeResponse struct {
	DeletedCount int64 `json:"deletedCount"`
}

// QuotaResponse reports the caller's current usage window.
type QuotaResponse struct {
	Limit       *int64    `json:"limit"`
	Current     int64     `json:"current"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
}

// CreateAPIKeyRequest configures a new producer key.
type CreateAPIKeyRequest struct {
	Constraints models.KeyConstraints `json:"constraints"`
}

// APIKeyResponse is returned from key creation and listing.
type APIKeyResponse struct {
	ID          string                `json:"id"`
	Key         string                `json:"key"`
	CreatedAt   time.Time             `json:"createdAt"`
	Constraints models.KeyConstraints `json:"constraints"`
}

// UpdateRoleRequest changes a member's project role.
type UpdateRoleRequest struct {
	Role models.Role `json:"role"`
}
