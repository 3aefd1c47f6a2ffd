package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/guard"
	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/purge"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/api/keepwatch"
)

// PurgeLogs deletes logs either by an explicit ID list in the body or by a
// time filter in the query params. The store count is authoritative; index
// deletion failures are logged, not surfaced.
func (s *Services) PurgeLogs(c *gin.Context) {
	project := guard.CurrentProject(c)
	ctx := c.Request.Context()

	if c.Request.ContentLength > 0 {
		var req keepwatch.PurgeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := purge.ValidateIDs(req.LogIDs); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		count, err := s.Store.DeleteLogsByIDs(ctx, project.ProjectID, req.LogIDs)
		if err != nil {
			s.Logger.WithError(err).WithField("project_id", project.ProjectID).
				Error("Failed to purge logs by ids")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Purge failed"})
			return
		}

		if err := s.Index.DeleteByIDs(ctx, project.ProjectID, req.LogIDs); err != nil {
			s.Logger.WithError(err).WithField("project_id", project.ProjectID).
				Error("Index delete failed after store purge")
		}

		c.JSON(http.StatusOK, keepwatch.PurgeResponse{DeletedCount: count})
		return
	}

	filter, err := purge.ParseFilter(
		c.Query("lookbackTime"), c.Query("timeRange"),
		c.Query("env"), c.Query("level"), time.Now().UTC())
	if err != nil {
		if errors.Is(err, purge.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	count, err := s.Store.DeleteLogsByFilter(ctx, project.ProjectID, filter)
	if err != nil {
		s.Logger.WithError(err).WithField("project_id", project.ProjectID).
			Error("Failed to purge logs by filter")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Purge failed"})
		return
	}

	if err := s.Index.DeleteByFilter(ctx, project.ProjectID, filter); err != nil {
		s.Logger.WithError(err).WithField("project_id", project.ProjectID).
			Error("Index delete failed after store purge")
	}

	c.JSON(http.StatusOK, keepwatch.PurgeResponse{DeletedCount: count})
}
