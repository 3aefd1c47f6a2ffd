package handlers

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/constraints"
	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/store"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/api/keepwatch"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/kafka"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/models"
)

const defaultCategory = "default"

// IngestLog is the producer submission pipeline: API key resolution,
// payload validation, constraint gate, quota reservation, and publication.
func (s *Services) IngestLog(c *gin.Context) {
	ctx := c.Request.Context()

	apiKey := c.GetHeader("X-API-Key")
	if apiKey == "" {
		s.Metrics.countIngest("unauthenticated")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "API key required"})
		return
	}

	project, err := s.resolveProjectByKey(ctx, apiKey)
	if err != nil && err != store.ErrNotFound {
		s.Logger.WithError(err).Error("Failed to resolve API key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if project == nil {
		s.Metrics.countIngest("unauthenticated")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
		return
	}

	var req keepwatch.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.Metrics.countIngest("invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if msg, ok := validateIngest(&req); !ok {
		s.Metrics.countIngest("invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	if req.ProjectID != project.ProjectID {
		s.Metrics.countIngest("forbidden")
		c.JSON(http.StatusForbidden, gin.H{"error": "Log projectId does not match the API key's project"})
		return
	}

	key, ok := project.FindAPIKey(apiKey)
	if !ok {
		// Cached project predates a key deletion.
		s.invalidateAPIKey(apiKey)
		s.Metrics.countIngest("unauthenticated")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
		return
	}

	envelope := constraints.Envelope{
		ClientIP:    clientIP(c),
		Referer:     c.GetHeader("Referer"),
		Origin:      c.GetHeader("Origin"),
		UserAgent:   c.GetHeader("User-Agent"),
		Environment: req.Environment,
	}
	if name, allowed := s.Evaluator.Evaluate(key, envelope, time.Now().UTC()); !allowed {
		s.Metrics.countIngest("constraint_denied")
		c.JSON(http.StatusForbidden, keepwatch.ConstraintDenied{
			Error:      "Request rejected by API key constraints",
			Constraint: name,
		})
		return
	}

	usage, err := s.usageMetadata(ctx, project.OwnerID)
	if err != nil {
		s.Logger.WithError(err).WithField("owner_id", project.OwnerID).
			Error("Failed to resolve usage metadata")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	decision := s.Quota.CheckAndIncrement(ctx, usage.OwnerID, usage.UserCreatedAt, 1, usage.LogLimit)
	if !decision.Allowed {
		s.Notifier.NotifyLimitReached(ctx, usage.OwnerID, usage.Email, limitOrZero(usage.LogLimit), decision.Window)
		s.Metrics.countIngest("quota_exceeded")
		c.JSON(http.StatusTooManyRequests, keepwatch.QuotaExceeded{
			Error:       "Monthly log limit exceeded",
			Limit:       limitOrZero(usage.LogLimit),
			Current:     decision.Current,
			PeriodStart: decision.Window.Start,
			PeriodEnd:   decision.Window.End,
		})
		return
	}

	messageID := uuid.NewString()
	log := buildLog(messageID, project, &req)

	event := kafka.IngestionEvent{
		MessageID:  messageID,
		Log:        *log,
		ReceivedAt: time.Now().UTC(),
	}
	if err := s.Bus.PublishIngestionEvent(event); err != nil {
		s.Logger.WithError(err).Error("Failed to publish ingestion event")
		s.Metrics.countIngest("bus_error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue log"})
		return
	}

	s.Metrics.countIngest("accepted")
	c.JSON(http.StatusAccepted, keepwatch.IngestAccepted{
		Message:     "Log accepted",
		MessageID:   messageID,
		LogLevel:    log.Level,
		LogMessage:  log.Message,
		Category:    log.Category,
		Environment: log.Environment,
		Hostname:    log.Hostname,
	})
}

// validateIngest checks the required fields and returns a stable message
// naming the first offending one.
func validateIngest(req *keepwatch.IngestRequest) (string, bool) {
	switch {
	case strings.TrimSpace(req.Level) == "":
		return "level is required", false
	case strings.TrimSpace(req.Environment) == "":
		return "environment is required", false
	case strings.TrimSpace(req.ProjectID) == "":
		return "projectId is required", false
	case strings.TrimSpace(req.Message) == "":
		return "message is required", false
	case strings.TrimSpace(req.LogType) == "":
		return "logType is required", false
	case !models.LogType(req.LogType).Valid():
		return "logType must be application or system", false
	}
	return "", true
}

// buildLog normalizes the submission into the stored shape. The message ID
// becomes the log ID so downstream persistence is idempotent.
func buildLog(messageID string, project *models.Project, req *keepwatch.IngestRequest) *models.Log {
	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = defaultCategory
	}
	timestamp := req.TimestampMS
	if timestamp == 0 {
		timestamp = time.Now().UTC().UnixMilli()
	}

	log := &models.Log{
		ID:              messageID,
		ProjectID:       project.ProjectID,
		ProjectObjectID: project.ID,
		Level:           req.Level,
		Environment:     req.Environment,
		Category:        category,
		LogType:         models.LogType(req.LogType),
		Hostname:        req.Hostname,
		Message:         req.Message,
		StackTrace:      req.StackTrace,
		Details:         req.Details,
		TimestampMS:     timestamp,
	}
	log.ComputeDetailString()
	return log
}

// clientIP prefers the first hop of X-Forwarded-For, falling back to the
// socket peer.
func clientIP(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}

func limitOrZero(limit *int64) int64 {
	if limit == nil {
		return 0
	}
	return *limit
}
