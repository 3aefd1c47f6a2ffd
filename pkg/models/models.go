package models

import (
	"encoding/json"
	"time"
)

// JSONB is a generic JSON object stored in a jsonb column.
type JSONB map[string]interface{}

// LogType discriminates application logs from system logs.
type LogType string

const (
	LogTypeApplication LogType = "application"
	LogTypeSystem      LogType = "system"
)

// Valid reports whether t is one of the two supported log types.
func (t LogType) Valid() bool {
	return t == LogTypeApplication || t == LogTypeSystem
}

// Role is a project membership role.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleViewer || r == RoleEditor || r == RoleAdmin
}

// ProjectUser is a project membership entry.
type ProjectUser struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// IPRestrictions limits callers to literal addresses or CIDR blocks.
type IPRestrictions struct {
	AllowedIPs []string `json:"allowedIps"`
}

// RefererRestrictions limits callers by Referer header glob patterns.
type RefererRestrictions struct {
	AllowedReferers []string `json:"allowedReferers"`
}

// OriginRestrictions limits callers by Origin header glob patterns.
type OriginRestrictions struct {
	AllowedOrigins []string `json:"allowedOrigins"`
}

// UserAgentRestrictions limits callers by User-Agent regular expressions.
type UserAgentRestrictions struct {
	AllowedPatterns []string `json:"allowedPatterns"`
}

// KeyConstraints is the sum of optional predicates attached to an API key.
// An absent predicate passes vacuously; present predicates are ANDed, the
// entries inside each predicate are ORed.
type KeyConstraints struct {
	IPRestrictions        *IPRestrictions        `json:"ipRestrictions,omitempty"`
	RefererRestrictions   *RefererRestrictions   `json:"refererRestrictions,omitempty"`
	OriginRestrictions    *OriginRestrictions    `json:"originRestrictions,omitempty"`
	UserAgentRestrictions *UserAgentRestrictions `json:"userAgentRestrictions,omitempty"`
	AllowedEnvironments   []string               `json:"allowedEnvironments,omitempty"`
	ExpirationDate        *time.Time             `json:"expirationDate,omitempty"`

	// Accepted in the constraint shape but not enforced by this service.
	RequestsPerMinute int `json:"requestsPerMinute,omitempty"`
	RequestsPerHour   int `json:"requestsPerHour,omitempty"`
	RequestsPerDay    int `json:"requestsPerDay,omitempty"`
}

// APIKey is a producer credential scoped to one project.
type APIKey struct {
	ID          string         `json:"id"`
	Key         string         `json:"key"`
	CreatedAt   time.Time      `json:"createdAt"`
	Constraints KeyConstraints `json:"constraints"`
}

// ProjectAlarm describes a log-matching rule with delivery methods.
type ProjectAlarm struct {
	ID              string           `json:"id"`
	LogType         LogType          `json:"logType"`
	Message         string           `json:"message,omitempty"`
	Levels          []string         `json:"levels"`
	Environment     string           `json:"environment"`
	Categories      []string         `json:"categories,omitempty"`
	DeliveryMethods []DeliveryMethod `json:"deliveryMethods"`
}

// DeliveryMethod is a tagged alarm sink configuration.
type DeliveryMethod struct {
	Type       string   `json:"type"` // email, slack, webhook
	Addresses  []string `json:"addresses,omitempty"`
	WebhookURL string   `json:"webhookUrl,omitempty"`
}

// Project is the owning aggregate for API keys, members, and alarms.
type Project struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"projectId"`
	OwnerID   string         `json:"ownerId"`
	Users     []ProjectUser  `json:"users"`
	APIKeys   []APIKey       `json:"apiKeys"`
	Alarms    []ProjectAlarm `json:"alarms,omitempty"`
	Version   int            `json:"-"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// RoleOf returns the role of userID in the project, or "" for non-members.
func (p *Project) RoleOf(userID string) Role {
	for _, u := range p.Users {
		if u.ID == userID {
			return u.Role
		}
	}
	return ""
}

// FindAPIKey returns the API key matching the literal key value.
func (p *Project) FindAPIKey(key string) (*APIKey, bool) {
	for i := range p.APIKeys {
		if p.APIKeys[i].Key == key {
			return &p.APIKeys[i], true
		}
	}
	return nil, false
}

// Log is a stored log record.
type Log struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"projectId"`
	ProjectObjectID string    `json:"projectObjectId"`
	Level           string    `json:"level"`
	Environment     string    `json:"environment"`
	Category        string    `json:"category"`
	LogType         LogType   `json:"logType"`
	Hostname        string    `json:"hostname,omitempty"`
	Message         string    `json:"message"`
	StackTrace      []JSONB   `json:"stackTrace,omitempty"`
	Details         JSONB     `json:"details,omitempty"`
	DetailString    *string   `json:"detailString"`
	TimestampMS     int64     `json:"timestampMS"`
	CreatedAt       time.Time `json:"createdAt"`
}

// RawStackTrace returns the serialized stack trace used for text search,
// or "" when the trace is empty.
func (l *Log) RawStackTrace() string {
	if len(l.StackTrace) == 0 {
		return ""
	}
	b, err := json.Marshal(l.StackTrace)
	if err != nil {
		return ""
	}
	return string(b)
}

// ComputeDetailString derives DetailString from Details: nil when Details
// is empty, the JSON serialization otherwise.
func (l *Log) ComputeDetailString() {
	if len(l.Details) == 0 {
		l.DetailString = nil
		return
	}
	b, err := json.Marshal(l.Details)
	if err != nil {
		l.DetailString = nil
		return
	}
	s := string(b)
	l.DetailString = &s
}

// User is the narrow read model for an operator or project owner.
type User struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// SubscriptionPlan is the narrow read model for plan limits. A nil LogLimit
// means unlimited.
type SubscriptionPlan struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	LogLimit     *int64 `json:"logLimit"`
	ProjectLimit int    `json:"projectLimit"`
}

// UsageMetadata is the cached join of user, enrollment, and plan that the
// ingestion pipeline consults for quota decisions.
type UsageMetadata struct {
	OwnerID            string    `json:"ownerId"`
	Email              string    `json:"email"`
	UserCreatedAt      time.Time `json:"userCreatedAt"`
	SubscriptionPlanID string    `json:"subscriptionPlanId"`
	LogLimit           *int64    `json:"logLimit"`
	ProjectLimit       int       `json:"projectLimit"`
}
