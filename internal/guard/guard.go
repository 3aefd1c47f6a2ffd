// Package guard authenticates operator requests and enforces project
// membership roles.
package guard

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/store"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/api/common"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/auth"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/logging"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/models"
)

const (
	ctxUserKey    = "currentUser"
	ctxProjectKey = "currentProject"
	ctxRoleKey    = "currentRole"
)

// Guard resolves bearer tokens to users and project memberships.
type Guard struct {
	secret []byte
	store  *store.Store
	logger logging.Logger
}

// New creates a guard.
func New(secret []byte, st *store.Store, logger logging.Logger) *Guard {
	return &Guard{secret: secret, store: st, logger: logger}
}

// Bearer verifies the Authorization header and resolves the caller to a
// stored user.
func (g *Guard) Bearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, common.ErrorResponse{Error: "No authorization header"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, common.ErrorResponse{Error: "Invalid authorization header"})
			return
		}

		claims, err := auth.ValidateJWT(parts[1], g.secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, common.ErrorResponse{Error: "Invalid token"})
			return
		}

		user, err := g.store.FindUserByUserID(c.Request.Context(), claims.UserID)
		if err == store.ErrNotFound {
			c.AbortWithStatusJSON(http.StatusUnauthorized, common.ErrorResponse{Error: "Unknown user"})
			return
		}
		if err != nil {
			g.logger.WithError(err).Error("Failed to resolve bearer user")
			c.AbortWithStatusJSON(http.StatusInternalServerError, common.ErrorResponse{Error: "Internal server error"})
			return
		}

		c.Set(ctxUserKey, user)
		c.Next()
	}
}

// RequireRole loads the project from the :projectId route param and checks
// the caller's membership. With no roles listed, any membership passes.
func (g *Guard) RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, common.ErrorResponse{Error: "Authentication required"})
			return
		}

		projectID := c.Param("projectId")
		project, err := g.store.FindProjectByProjectID(c.Request.Context(), projectID)
		if err == store.ErrNotFound {
			c.AbortWithStatusJSON(http.StatusNotFound, common.ErrorResponse{Error: "Project not found"})
			return
		}
		if err != nil {
			g.logger.WithError(err).WithField("project_id", projectID).Error("Failed to load project")
			c.AbortWithStatusJSON(http.StatusInternalServerError, common.ErrorResponse{Error: "Internal server error"})
			return
		}

		role := project.RoleOf(user.UserID)
		if role == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, common.ErrorResponse{Error: "Not a member of this project"})
			return
		}

		if len(roles) > 0 {
			permitted := false
			for _, r := range roles {
				if role == r {
					permitted = true
					break
				}
			}
			if !permitted {
				c.AbortWithStatusJSON(http.StatusForbidden, common.ErrorResponse{Error: "Insufficient role"})
				return
			}
		}

		c.Set(ctxProjectKey, project)
		c.Set(ctxRoleKey, role)
		c.Next()
	}
}

// CurrentUser returns the authenticated user set by Bearer.
func CurrentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(ctxUserKey); ok {
		if user, ok := v.(*models.User); ok {
			return user
		}
	}
	return nil
}

// CurrentProject returns the project resolved by RequireRole.
func CurrentProject(c *gin.Context) *models.Project {
	if v, ok := c.Get(ctxProjectKey); ok {
		if project, ok := v.(*models.Project); ok {
			return project
		}
	}
	return nil
}

// CurrentRole returns the caller's role in the resolved project.
func CurrentRole(c *gin.Context) models.Role {
	if v, ok := c.Get(ctxRoleKey); ok {
		if role, ok := v.(models.Role); ok {
			return role
		}
	}
	return ""
}
