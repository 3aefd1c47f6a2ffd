package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/guard"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/models"
)

// RegisterRoutes mounts the public API surface under /api/v1.
//
// The producer submission endpoint authenticates with X-API-Key only; every
// other route requires a bearer token, and the project-scoped ones layer a
// membership check on top.
func RegisterRoutes(router *gin.Engine, s *Services, g *guard.Guard) {
	v1 := router.Group("/api/v1")

	v1.POST("/logs", s.IngestLog)

	v1.GET("/usage/quota", g.Bearer(), s.GetQuota)

	logs := v1.Group("/logs/:projectId", g.Bearer())
	{
		logs.POST("/search", g.RequireRole(), s.SearchLogs)
		logs.GET("/:logId", g.RequireRole(), s.GetLog)
		logs.GET("/:logId/environments", g.RequireRole(), s.FacetEnvironments())
		logs.GET("/:logId/categories", g.RequireRole(), s.FacetCategories())
		logs.GET("/:logId/hostnames", g.RequireRole(), s.FacetHostnames())
		logs.DELETE("", g.RequireRole(models.RoleAdmin), s.PurgeLogs)
	}

	projects := v1.Group("/projects/:projectId", g.Bearer())
	{
		keys := projects.Group("/api-keys", g.RequireRole(models.RoleAdmin, models.RoleEditor))
		{
			keys.POST("", s.CreateAPIKey)
			keys.GET("", s.ListAPIKeys)
			keys.DELETE("/:keyId", s.DeleteAPIKey)
		}

		projects.PUT("/users/:userId/role", g.RequireRole(models.RoleAdmin), s.UpdateUserRole)
	}
}
