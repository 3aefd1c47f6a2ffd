package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/guard"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/api/keepwatch"
)

// GetQuota reports the caller's current billing window and usage.
func (s *Services) GetQuota(c *gin.Context) {
	user := guard.CurrentUser(c)
	ctx := c.Request.Context()

	usage, err := s.usageMetadata(ctx, user.UserID)
	if err != nil {
		s.Logger.WithError(err).WithField("user_id", user.UserID).
			Error("Failed to resolve usage metadata")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	current, window, err := s.Quota.CurrentUsage(ctx, usage.OwnerID, usage.UserCreatedAt)
	if err != nil {
		s.Logger.WithError(err).WithField("user_id", user.UserID).
			Error("Failed to read usage counter")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, keepwatch.QuotaResponse{
		Limit:       usage.LogLimit,
		Current:     current,
		PeriodStart: window.Start,
		PeriodEnd:   window.End,
	})
}
