package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/auth"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/models"
)

func (h *harness) bearerRequest(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	token, err := auth.GenerateJWT(userID, userID+"@example.com", testSecret)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func userRows(userID string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "email", "created_at"}).
		AddRow("u-"+userID, userID, userID+"@example.com", time.Now())
}

// expectBearerAndProject queues the user lookup from the bearer middleware
// and the project lookup from the role check.
func (h *harness) expectBearerAndProject(t *testing.T, userID string, p models.Project) {
	t.Helper()
	h.mock.ExpectQuery("SELECT id, user_id, email, created_at FROM users").
		WithArgs(userID).
		WillReturnRows(userRows(userID))
	h.mock.ExpectQuery("SELECT .+ FROM projects WHERE project_id").
		WithArgs(p.ProjectID).
		WillReturnRows(projectRows(t, p))
}

func TestCreateAPIKey(t *testing.T) {
	h := newHarness(t)
	p := testProject()

	h.expectBearerAndProject(t, "owner-1", p)
	// Read-modify-write re-reads the project before the versioned update.
	h.mock.ExpectQuery("SELECT .+ FROM projects WHERE project_id").
		WillReturnRows(projectRows(t, p))
	h.mock.ExpectExec("UPDATE projects").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := h.bearerRequest(t, http.MethodPost, "/api/v1/projects/acme-prod/api-keys",
		"owner-1", map[string]interface{}{"constraints": map[string]interface{}{}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decodeJSON(t, w)
	key, _ := resp["key"].(string)
	assert.Len(t, key, 40)
	assert.NotEmpty(t, resp["id"])
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestCreateAPIKey_ViewerForbidden(t *testing.T) {
	h := newHarness(t)
	p := testProject()
	p.Users = []models.ProjectUser{{ID: "viewer-1", Role: models.RoleViewer}}

	h.expectBearerAndProject(t, "viewer-1", p)

	w := h.bearerRequest(t, http.MethodPost, "/api/v1/projects/acme-prod/api-keys",
		"viewer-1", map[string]interface{}{"constraints": map[string]interface{}{}})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestListAPIKeys(t *testing.T) {
	h := newHarness(t)
	p := testProject(
		models.APIKey{ID: "key-1", Key: "aaaa", CreatedAt: time.Now()},
		models.APIKey{ID: "key-2", Key: "bbbb", CreatedAt: time.Now()},
	)

	h.expectBearerAndProject(t, "owner-1", p)

	w := h.bearerRequest(t, http.MethodGet, "/api/v1/projects/acme-prod/api-keys", "owner-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		APIKeys []struct {
			ID string `json:"id"`
		} `json:"apiKeys"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.APIKeys, 2)
	assert.Equal(t, "key-1", resp.APIKeys[0].ID)
}

func TestDeleteAPIKey_NotFound(t *testing.T) {
	h := newHarness(t)
	p := testProject(models.APIKey{ID: "key-1", Key: "secret"})

	h.expectBearerAndProject(t, "owner-1", p)
	h.mock.ExpectQuery("SELECT .+ FROM projects WHERE project_id").
		WillReturnRows(projectRows(t, p))

	w := h.bearerRequest(t, http.MethodDelete, "/api/v1/projects/acme-prod/api-keys/ghost", "owner-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteAPIKey(t *testing.T) {
	h := newHarness(t)
	p := testProject(models.APIKey{ID: "key-1", Key: "secret"})

	h.expectBearerAndProject(t, "owner-1", p)
	h.mock.ExpectQuery("SELECT .+ FROM projects WHERE project_id").
		WillReturnRows(projectRows(t, p))
	h.mock.ExpectExec("UPDATE projects").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := h.bearerRequest(t, http.MethodDelete, "/api/v1/projects/acme-prod/api-keys/key-1", "owner-1", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestUpdateUserRole(t *testing.T) {
	h := newHarness(t)
	p := testProject()
	p.Users = []models.ProjectUser{
		{ID: "owner-1", Role: models.RoleAdmin},
		{ID: "member-2", Role: models.RoleViewer},
	}

	h.expectBearerAndProject(t, "owner-1", p)
	h.mock.ExpectQuery("SELECT .+ FROM projects WHERE project_id").
		WillReturnRows(projectRows(t, p))
	h.mock.ExpectExec("UPDATE projects").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := h.bearerRequest(t, http.MethodPut, "/api/v1/projects/acme-prod/users/member-2/role",
		"owner-1", map[string]interface{}{"role": "editor"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestUpdateUserRole_SelfDemotionForbidden(t *testing.T) {
	h := newHarness(t)
	p := testProject()
	p.Users = []models.ProjectUser{
		{ID: "owner-1", Role: models.RoleAdmin},
		{ID: "admin-2", Role: models.RoleAdmin},
	}

	h.expectBearerAndProject(t, "owner-1", p)
	h.mock.ExpectQuery("SELECT .+ FROM projects WHERE project_id").
		WillReturnRows(projectRows(t, p))

	// Even with another admin present, a caller cannot demote themselves.
	w := h.bearerRequest(t, http.MethodPut, "/api/v1/projects/acme-prod/users/owner-1/role",
		"owner-1", map[string]interface{}{"role": "viewer"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUpdateUserRole_TargetNotMember(t *testing.T) {
	h := newHarness(t)
	p := testProject()

	h.expectBearerAndProject(t, "owner-1", p)
	h.mock.ExpectQuery("SELECT .+ FROM projects WHERE project_id").
		WillReturnRows(projectRows(t, p))

	w := h.bearerRequest(t, http.MethodPut, "/api/v1/projects/acme-prod/users/stranger/role",
		"owner-1", map[string]interface{}{"role": "editor"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateUserRole_InvalidRole(t *testing.T) {
	h := newHarness(t)
	p := testProject()

	h.expectBearerAndProject(t, "owner-1", p)

	w := h.bearerRequest(t, http.MethodPut, "/api/v1/projects/acme-prod/users/owner-1/role",
		"owner-1", map[string]interface{}{"role": "superuser"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateUserRole_RequiresAdmin(t *testing.T) {
	h := newHarness(t)
	p := testProject()
	p.Users = []models.ProjectUser{
		{ID: "owner-1", Role: models.RoleAdmin},
		{ID: "editor-1", Role: models.RoleEditor},
	}

	h.expectBearerAndProject(t, "editor-1", p)

	w := h.bearerRequest(t, http.MethodPut, "/api/v1/projects/acme-prod/users/owner-1/role",
		"editor-1", map[string]interface{}{"role": "viewer"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}
