package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/guard"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/api/keepwatch"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/models"
)

var (
	errKeyNotFound  = errors.New("api key not found")
	errNotMember    = errors.New("user is not a project member")
	errSelfDemotion = errors.New("cannot remove own admin role")
	errLastAdmin    = errors.New("project must retain at least one admin")
)

// generateAPIKey returns a 40-character base64url token from 30 bytes of
// cryptographic randomness.
func generateAPIKey() (string, error) {
	raw := make([]byte, 30)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// CreateAPIKey mints a new producer key for the project.
func (s *Services) CreateAPIKey(c *gin.Context) {
	project := guard.CurrentProject(c)

	var req keepwatch.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	keyValue, err := generateAPIKey()
	if err != nil {
		s.Logger.WithError(err).Error("Failed to generate API key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	key := models.APIKey{
		ID:          uuid.NewString(),
		Key:         keyValue,
		CreatedAt:   time.Now().UTC(),
		Constraints: req.Constraints,
	}

	_, err = s.updateProjectWithRetry(c.Request.Context(), project.ProjectID, func(p *models.Project) error {
		p.APIKeys = append(p.APIKeys, key)
		return nil
	})
	if err != nil {
		s.Logger.WithError(err).WithField("project_id", project.ProjectID).
			Error("Failed to store API key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create API key"})
		return
	}

	c.JSON(http.StatusCreated, keepwatch.APIKeyResponse{
		ID:          key.ID,
		Key:         key.Key,
		CreatedAt:   key.CreatedAt,
		Constraints: key.Constraints,
	})
}

// ListAPIKeys returns the project's keys.
func (s *Services) ListAPIKeys(c *gin.Context) {
	project := guard.CurrentProject(c)

	keys := make([]keepwatch.APIKeyResponse, 0, len(project.APIKeys))
	for _, k := range project.APIKeys {
		keys = append(keys, keepwatch.APIKeyResponse{
			ID:          k.ID,
			Key:         k.Key,
			CreatedAt:   k.CreatedAt,
			Constraints: k.Constraints,
		})
	}

	c.JSON(http.StatusOK, gin.H{"apiKeys": keys})
}

// DeleteAPIKey removes one key and drops it from the resolution cache.
func (s *Services) DeleteAPIKey(c *gin.Context) {
	project := guard.CurrentProject(c)
	keyID := c.Param("keyId")

	var removedKey string
	_, err := s.updateProjectWithRetry(c.Request.Context(), project.ProjectID, func(p *models.Project) error {
		for i, k := range p.APIKeys {
			if k.ID == keyID {
				removedKey = k.Key
				p.APIKeys = append(p.APIKeys[:i], p.APIKeys[i+1:]...)
				return nil
			}
		}
		return errKeyNotFound
	})
	if err == errKeyNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
		return
	}
	if err != nil {
		s.Logger.WithError(err).WithField("project_id", project.ProjectID).
			Error("Failed to delete API key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete API key"})
		return
	}

	s.invalidateAPIKey(removedKey)
	c.JSON(http.StatusOK, gin.H{"message": "API key deleted"})
}

// UpdateUserRole changes a member's project role. A caller can never move
// their own role away from admin, and a project always keeps at least one
// admin.
func (s *Services) UpdateUserRole(c *gin.Context) {
	project := guard.CurrentProject(c)
	caller := guard.CurrentUser(c)
	targetID := c.Param("userId")

	var req keepwatch.UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if !req.Role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be viewer, editor, or admin"})
		return
	}

	_, err := s.updateProjectWithRetry(c.Request.Context(), project.ProjectID, func(p *models.Project) error {
		idx := -1
		for i, u := range p.Users {
			if u.ID == targetID {
				idx = i
				break
			}
		}
		if idx == -1 {
			return errNotMember
		}

		current := p.Users[idx].Role
		if req.Role == current {
			return nil
		}
		if targetID == caller.UserID && current == models.RoleAdmin && req.Role != models.RoleAdmin {
			return errSelfDemotion
		}
		if current == models.RoleAdmin && req.Role != models.RoleAdmin && countAdmins(p.Users) == 1 {
			return errLastAdmin
		}

		p.Users[idx].Role = req.Role
		return nil
	})

	switch {
	case err == errNotMember:
		c.JSON(http.StatusNotFound, gin.H{"error": "User is not a project member"})
	case err == errSelfDemotion:
		c.JSON(http.StatusForbidden, gin.H{"error": "Cannot remove your own admin role"})
	case err == errLastAdmin:
		c.JSON(http.StatusForbidden, gin.H{"error": "Project must retain at least one admin"})
	case err != nil:
		s.Logger.WithError(err).WithField("project_id", project.ProjectID).
			Error("Failed to update role")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update role"})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Role updated"})
	}
}

func countAdmins(users []models.ProjectUser) int {
	admins := 0
	for _, u := range users {
		if u.Role == models.RoleAdmin {
			admins++
		}
	}
	return admins
}
