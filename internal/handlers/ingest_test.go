package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/billing"
	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/guard"
	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/search"
	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/store"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/kafka"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/models"
)

var testSecret = []byte("handlers-test-secret")

type fakeBus struct {
	mu     sync.Mutex
	events []kafka.IngestionEvent
	err    error
}

func (b *fakeBus) PublishIngestionEvent(event kafka.IngestionEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, event)
	return nil
}

func (b *fakeBus) published() []kafka.IngestionEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]kafka.IngestionEvent(nil), b.events...)
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
}

func (m *fakeMailer) SendMail(ctx context.Context, to, subject, htmlBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to)
	return nil
}

type harness struct {
	services *Services
	router   *gin.Engine
	mock     sqlmock.Sqlmock
	redis    *miniredis.Miniredis
	bus      *fakeBus
	mailer   *fakeMailer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	st := store.New(db, logger)
	bus := &fakeBus{}
	mailer := &fakeMailer{}

	s := NewServices(st, search.New(db, logger), bus,
		billing.NewQuotaCounter(rdb, logger, nil),
		billing.NewNotifier(rdb, mailer, logger),
		logger, nil)

	router := gin.New()
	RegisterRoutes(router, s, guard.New(testSecret, st, logger))

	return &harness{services: s, router: router, mock: mock, redis: mr, bus: bus, mailer: mailer}
}

func projectRows(t *testing.T, p models.Project) *sqlmock.Rows {
	t.Helper()
	usersJSON, err := json.Marshal(p.Users)
	require.NoError(t, err)
	keysJSON, err := json.Marshal(p.APIKeys)
	require.NoError(t, err)
	alarmsJSON, err := json.Marshal(p.Alarms)
	require.NoError(t, err)

	return sqlmock.NewRows([]string{"id", "project_id", "owner_id", "users",
		"api_keys", "alarms", "version", "created_at", "updated_at"}).
		AddRow(p.ID, p.ProjectID, p.OwnerID, usersJSON, keysJSON, alarmsJSON,
			p.Version, p.CreatedAt, p.UpdatedAt)
}

func usageRows(created time.Time, logLimit interface{}) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"user_id", "email", "created_at",
		"id", "log_limit", "project_limit"}).
		AddRow("owner-1", "owner@example.com", created, "plan-1", logLimit, 5)
}

func testProject(keys ...models.APIKey) models.Project {
	return models.Project{
		ID:        "11111111-1111-1111-1111-111111111111",
		ProjectID: "acme-prod",
		OwnerID:   "owner-1",
		Users:     []models.ProjectUser{{ID: "owner-1", Role: models.RoleAdmin}},
		APIKeys:   keys,
		Version:   1,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func validBody() map[string]interface{} {
	return map[string]interface{}{
		"level":       "error",
		"environment": "production",
		"projectId":   "acme-prod",
		"message":     "boom",
		"logType":     "application",
	}
}

func (h *harness) ingest(t *testing.T, apiKey string, body map[string]interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/logs", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestIngest_MissingAPIKey(t *testing.T) {
	h := newHarness(t)

	w := h.ingest(t, "", validBody(), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, h.bus.published())
}

func TestIngest_UnknownAPIKey(t *testing.T) {
	h := newHarness(t)

	h.mock.ExpectQuery("SELECT .+ FROM projects WHERE api_keys").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w := h.ingest(t, "nope", validBody(), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, h.bus.published())
}

func TestIngest_Accepted(t *testing.T) {
	h := newHarness(t)

	h.mock.ExpectQuery("SELECT .+ FROM projects WHERE api_keys").
		WillReturnRows(projectRows(t, testProject(models.APIKey{ID: "key-1", Key: "secret"})))
	h.mock.ExpectQuery("SELECT u.user_id").
		WillReturnRows(usageRows(time.Date(2023, time.March, 15, 0, 0, 0, 0, time.UTC), int64(100)))

	w := h.ingest(t, "secret", validBody(), nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	resp := decodeJSON(t, w)
	events := h.bus.published()
	require.Len(t, events, 1)
	assert.Equal(t, resp["messageId"], events[0].MessageID)
	assert.Equal(t, events[0].MessageID, events[0].Log.ID, "message id doubles as the log id")
	assert.Equal(t, "default", events[0].Log.Category)
	assert.NotZero(t, events[0].Log.TimestampMS)
	assert.NoError(t, h.mock.ExpectationsWereMet())
}

func TestIngest_ValidationErrors(t *testing.T) {
	h := newHarness(t)

	h.mock.ExpectQuery("SELECT .+ FROM projects WHERE api_keys").
		WillReturnRows(projectRows(t, testProject(models.APIKey{ID: "key-1", Key: "secret"})))

	body := validBody()
	delete(body, "level")

	w := h.ingest(t, "secret", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "level is required", decodeJSON(t, w)["error"])

	// The project is cached, so the bad log type check needs no new query.
	body = validBody()
	body["logType"] = "audit"
	w = h.ingest(t, "secret", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "logType must be application or system", decodeJSON(t, w)["error"])
	assert.Empty(t, h.bus.published())
}

func TestIngest_ProjectMismatch(t *testing.T) {
	h := newHarness(t)

	h.mock.ExpectQuery("SELECT .+ FROM projects WHERE api_keys").
		WillReturnRows(projectRows(t, testProject(models.APIKey{ID: "key-1", Key: "secret"})))

	body := validBody()
	body["projectId"] = "someone-else"

	w := h.ingest(t, "secret", body, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, h.bus.published())
}

func TestIngest_IPRestrictions(t *testing.T) {
	h := newHarness(t)

	key := models.APIKey{ID: "key-1", Key: "secret", Constraints: models.KeyConstraints{
		IPRestrictions: &models.IPRestrictions{AllowedIPs: []string{"192.168.1.0/24"}},
	}}
	h.mock.ExpectQuery("SELECT .+ FROM projects WHERE api_keys").
		WillReturnRows(projectRows(t, testProject(key)))

	w := h.ingest(t, "secret", validBody(), map[string]string{"X-Forwarded-For": "10.0.0.1"})
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "ipRestrictions", decodeJSON(t, w)["constraint"])

	h.mock.ExpectQuery("SELECT u.user_id").
		WillReturnRows(usageRows(time.Date(2023, time.March, 15, 0, 0, 0, 0, time.UTC), int64(100)))

	w = h.ingest(t, "secret", validBody(), map[string]string{"X-Forwarded-For": "192.168.1.50"})
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Len(t, h.bus.published(), 1)
}

func TestIngest_ExpiredKey(t *testing.T) {
	h := newHarness(t)

	past := time.Now().UTC().Add(-time.Hour)
	key := models.APIKey{ID: "key-1", Key: "secret", Constraints: models.KeyConstraints{
		ExpirationDate: &past,
	}}
	h.mock.ExpectQuery("SELECT .+ FROM projects WHERE api_keys").
		WillReturnRows(projectRows(t, testProject(key)))

	w := h.ingest(t, "secret", validBody(), nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "expirationDate", decodeJSON(t, w)["constraint"])
}

func TestIngest_EnvironmentCheckedBeforeIP(t *testing.T) {
	h := newHarness(t)

	key := models.APIKey{ID: "key-1", Key: "secret", Constraints: models.KeyConstraints{
		AllowedEnvironments: []string{"production"},
		IPRestrictions:      &models.IPRestrictions{AllowedIPs: []string{"10.0.0.0/8"}},
	}}
	h.mock.ExpectQuery("SELECT .+ FROM projects WHERE api_keys").
		WillReturnRows(projectRows(t, testProject(key)))

	body := validBody()
	body["environment"] = "staging"

	// Both predicates fail; the response names the one evaluated first.
	w := h.ingest(t, "secret", body, map[string]string{"X-Forwarded-For": "203.0.113.9"})
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "allowedEnvironments", decodeJSON(t, w)["constraint"])
}

func TestIngest_QuotaExceeded(t *testing.T) {
	h := newHarness(t)

	h.mock.ExpectQuery("SELECT .+ FROM projects WHERE api_keys").
		WillReturnRows(projectRows(t, testProject(models.APIKey{ID: "key-1", Key: "secret"})))
	h.mock.ExpectQuery("SELECT u.user_id").
		WillReturnRows(usageRows(time.Date(2023, time.March, 15, 0, 0, 0, 0, time.UTC), int64(1)))

	w := h.ingest(t, "secret", validBody(), nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = h.ingest(t, "secret", validBody(), nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	resp := decodeJSON(t, w)
	assert.Equal(t, float64(1), resp["limit"])
	assert.Equal(t, float64(1), resp["current"])
	assert.NotEmpty(t, resp["periodStart"])
	assert.NotEmpty(t, resp["periodEnd"])

	assert.Len(t, h.bus.published(), 1, "the denied submission must not publish")

	h.mailer.mu.Lock()
	defer h.mailer.mu.Unlock()
	assert.Equal(t, []string{"owner@example.com"}, h.mailer.sent)
}

func TestIngest_UnlimitedPlanSkipsCounter(t *testing.T) {
	h := newHarness(t)

	h.mock.ExpectQuery("SELECT .+ FROM projects WHERE api_keys").
		WillReturnRows(projectRows(t, testProject(models.APIKey{ID: "key-1", Key: "secret"})))
	h.mock.ExpectQuery("SELECT u.user_id").
		WillReturnRows(usageRows(time.Date(2023, time.March, 15, 0, 0, 0, 0, time.UTC), nil))

	w := h.ingest(t, "secret", validBody(), nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Empty(t, h.redis.Keys(), "unlimited plans never touch the counter")
}

func TestIngest_BusFailure(t *testing.T) {
	h := newHarness(t)
	h.bus.err = assert.AnError

	h.mock.ExpectQuery("SELECT .+ FROM projects WHERE api_keys").
		WillReturnRows(projectRows(t, testProject(models.APIKey{ID: "key-1", Key: "secret"})))
	h.mock.ExpectQuery("SELECT u.user_id").
		WillReturnRows(usageRows(time.Date(2023, time.March, 15, 0, 0, 0, 0, time.UTC), int64(100)))

	w := h.ingest(t, "secret", validBody(), nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
