package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/guard"
	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/query"
	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/search"
	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/store"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/api/keepwatch"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/models"
)

// SearchLogs compiles the request into an index query and returns one page.
func (s *Services) SearchLogs(c *gin.Context) {
	project := guard.CurrentProject(c)

	var req keepwatch.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	plan, err := query.Compile(project.ProjectID, req)
	if err != nil {
		if errors.Is(err, query.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.Logger.WithError(err).Error("Failed to compile search")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if plan.DocFilterApplied && (req.Message != nil || req.StackTrace != nil || req.Details != nil) {
		s.Logger.WithField("project_id", project.ProjectID).
			Warn("docFilter present, ignoring per-field filters")
	}

	resp, err := s.Index.Search(c.Request.Context(), plan)
	if err != nil {
		s.Logger.WithError(err).WithField("project_id", project.ProjectID).
			Error("Search failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetLog fetches one log from the document store.
func (s *Services) GetLog(c *gin.Context) {
	project := guard.CurrentProject(c)
	logID := c.Param("logId")

	log, err := s.Store.FindLogByID(c.Request.Context(), project.ProjectID, logID)
	if err == store.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "Log not found"})
		return
	}
	if err != nil {
		s.Logger.WithError(err).WithField("log_id", logID).Error("Failed to fetch log")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, log)
}

// facetHandler enumerates distinct values of one facet field for
// (projectId, logType). The route wildcard is shared with the single-log
// fetch; here it carries the log type.
func (s *Services) facetHandler(column, publicField string) gin.HandlerFunc {
	return func(c *gin.Context) {
		project := guard.CurrentProject(c)

		logType := models.LogType(c.Param("logId"))
		if !logType.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "logType must be application or system"})
			return
		}

		values, err := s.Index.Facet(c.Request.Context(), project.ProjectID, logType, column)
		if err != nil {
			s.Logger.WithError(err).WithField("facet", publicField).Error("Facet query failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		c.JSON(http.StatusOK, keepwatch.FacetResponse{Field: publicField, Values: values})
	}
}

// FacetEnvironments lists distinct environments with counts.
func (s *Services) FacetEnvironments() gin.HandlerFunc {
	return s.facetHandler(search.FacetEnvironments, "environments")
}

// FacetCategories lists distinct categories with counts.
func (s *Services) FacetCategories() gin.HandlerFunc {
	return s.facetHandler(search.FacetCategories, "categories")
}

// FacetHostnames lists distinct hostnames with counts.
func (s *Services) FacetHostnames() gin.HandlerFunc {
	return s.facetHandler(search.FacetHostnames, "hostnames")
}
