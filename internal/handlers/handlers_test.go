package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/execution"
	"github.com/Ramsey-B/fern/pkg/importer"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/repositories"
)

var tenantID = uuid.MustParse("7f1c1c36-5d0e-4a43-9d55-2f0c7e3b8a10")

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type registrar interface {
	RegisterRoutes(g *echo.Group)
}

func newServer(handlers ...registrar) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(testLogger())
	e.Use(middleware.Context(), middleware.HeaderAuth())
	api := e.Group("/api/v1")
	for _, h := range handlers {
		h.RegisterRoutes(api)
	}
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set(middleware.HeaderTenantID, tenantID.String())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type memoryIntegrations struct {
	items map[uuid.UUID]*models.Integration
}

func newMemoryIntegrations(items ...*models.Integration) *memoryIntegrations {
	m := &memoryIntegrations{items: map[uuid.UUID]*models.Integration{}}
	for _, item := range items {
		m.items[item.ID] = item
	}
	return m
}

func (m *memoryIntegrations) Create(_ context.Context, integration *models.Integration) error {
	integration.TenantID = tenantID
	m.items[integration.ID] = integration
	return nil
}

func (m *memoryIntegrations) GetByID(_ context.Context, id uuid.UUID) (*models.Integration, error) {
	integration, ok := m.items[id]
	if !ok {
		return nil, repositories.NotFound("integration %s does not exist", id)
	}
	return integration, nil
}

func (m *memoryIntegrations) List(context.Context) ([]models.Integration, error) {
	var out []models.Integration
	for _, item := range m.items {
		out = append(out, *item)
	}
	return out, nil
}

func (m *memoryIntegrations) Update(_ context.Context, integration *models.Integration) error {
	m.items[integration.ID] = integration
	return nil
}

func (m *memoryIntegrations) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.items[id]; !ok {
		return repositories.NotFound("integration %s does not exist", id)
	}
	delete(m.items, id)
	return nil
}

func slackIntegration() *models.Integration {
	return &models.Integration{
		ID:       uuid.New(),
		TenantID: tenantID,
		Name:     "Slack",
		Manifest: database.NewJSONB(models.Manifest{
			Execute: []models.Step{{URL: "https://slack.example.com/invite"}},
		}),
		ExtraArgs: database.NewJSONB(map[string]any{"TOKEN": "xoxb-secret"}),
		Active:    true,
	}
}

func TestIntegrationHandler_Create(t *testing.T) {
	store := newMemoryIntegrations()
	e := newServer(NewIntegrationHandler(store))

	rec := do(e, http.MethodPost, "/api/v1/integrations",
		`{"name":"Slack","manifest":{"execute":[{"url":"https://slack.example.com"}]},"extra_args":{"TOKEN":"secret"}}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Slack", resp["name"])
	assert.Equal(t, []any{"TOKEN"}, resp["arg_keys"])
	assert.Equal(t, true, resp["active"])
	require.Len(t, store.items, 1)
}

func TestIntegrationHandler_CreateValidation(t *testing.T) {
	e := newServer(NewIntegrationHandler(newMemoryIntegrations()))

	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"manifest":{}}`},
		{"bad field id", `{"name":"x","manifest":{"initial_data_form":[{"id":"lower"}]}}`},
		{"malformed", `{"name":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodPost, "/api/v1/integrations", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestIntegrationHandler_UpdateMergesArgs(t *testing.T) {
	integration := slackIntegration()
	integration.ExtraArgs.Data["OLD"] = "gone"
	store := newMemoryIntegrations(integration)
	e := newServer(NewIntegrationHandler(store))

	rec := do(e, http.MethodPut, "/api/v1/integrations/"+integration.ID.String(),
		`{"name":"Slack EU","active":false,"extra_args":{"REGION":"eu","OLD":null}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	stored := store.items[integration.ID]
	assert.Equal(t, "Slack EU", stored.Name)
	assert.False(t, stored.Active)
	assert.Equal(t, map[string]any{"TOKEN": "xoxb-secret", "REGION": "eu"}, stored.Args())
}

func TestIntegrationHandler_GetAndDelete(t *testing.T) {
	integration := slackIntegration()
	e := newServer(NewIntegrationHandler(newMemoryIntegrations(integration)))

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/v1/integrations/"+integration.ID.String(), "").Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/api/v1/integrations/not-a-uuid", "").Code)
	assert.Equal(t, http.StatusNoContent, do(e, http.MethodDelete, "/api/v1/integrations/"+integration.ID.String(), "").Code)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/api/v1/integrations/"+integration.ID.String(), "").Code)
}

type memoryUsers map[uuid.UUID]*models.User

func (m memoryUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	user, ok := m[id]
	if !ok {
		return nil, repositories.NotFound("user %s does not exist", id)
	}
	return user, nil
}

type recordingRunner struct {
	opts   execution.RunOptions
	result *execution.RunResult
	exists *execution.ExistsResult
	err    error
}

func (r *recordingRunner) Run(_ context.Context, _ *models.Integration, _ *models.User, opts execution.RunOptions) (*execution.RunResult, error) {
	r.opts = opts
	return r.result, r.err
}

func (r *recordingRunner) Revoke(_ context.Context, _ *models.Integration, _ *models.User, opts execution.RunOptions) (*execution.RunResult, error) {
	r.opts = opts
	return r.result, r.err
}

func (r *recordingRunner) UserExists(context.Context, *models.Integration, *models.User, execution.RunOptions) (*execution.ExistsResult, error) {
	return r.exists, r.err
}

func TestExecutionHandler(t *testing.T) {
	integration := slackIntegration()
	user := &models.User{ID: uuid.New(), TenantID: tenantID, Email: "ada@example.com"}
	runner := &recordingRunner{
		result: &execution.RunResult{Outcome: execution.OutcomeFailed, Error: "The request timed out", StepIndex: 0, RetryScheduled: true},
		exists: &execution.ExistsResult{Exists: true},
	}
	e := newServer(NewExecutionHandler(newMemoryIntegrations(integration), memoryUsers{user.ID: user}, runner, testLogger()))
	base := "/api/v1/integrations/" + integration.ID.String() + "/users/" + user.ID.String()

	rec := do(e, http.MethodPost, base+"/execute?retry_on_failure=true", `{"params":{"TEAM":"eng"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, runner.opts.RetryOnFailure)
	assert.Equal(t, map[string]any{"TEAM": "eng"}, runner.opts.Params)

	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "failed", result["outcome"])
	assert.Equal(t, true, result["retry_scheduled"])

	rec = do(e, http.MethodPost, base+"/revoke", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, runner.opts.RetryOnFailure)

	rec = do(e, http.MethodGet, base+"/exists", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"exists":true}`, rec.Body.String())

	missing := "/api/v1/integrations/" + integration.ID.String() + "/users/" + uuid.NewString() + "/execute"
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodPost, missing, "").Code)
}

func TestExecutionHandler_NotConfigured(t *testing.T) {
	integration := slackIntegration()
	user := &models.User{ID: uuid.New(), TenantID: tenantID}
	runner := &recordingRunner{err: &execution.NotConfiguredError{IntegrationID: integration.ID, Reason: "integration is inactive"}}
	e := newServer(NewExecutionHandler(newMemoryIntegrations(integration), memoryUsers{user.ID: user}, runner, testLogger()))

	rec := do(e, http.MethodPost, "/api/v1/integrations/"+integration.ID.String()+"/users/"+user.ID.String()+"/execute", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "integration is inactive")
}

type fakeImport struct {
	records []importer.Record
	result  *importer.SyncResult
	err     error
}

func (f *fakeImport) ListUsers(context.Context, *models.Integration) ([]importer.Record, error) {
	return f.records, f.err
}

func (f *fakeImport) Sync(context.Context, *models.Integration) (*importer.SyncResult, error) {
	return f.result, f.err
}

type recordingJobs struct {
	published []*redis.JobMessage
}

func (r *recordingJobs) Publish(_ context.Context, _ string, job *redis.JobMessage) (string, error) {
	r.published = append(r.published, job)
	return "1-0", nil
}

func TestImportHandler(t *testing.T) {
	integration := slackIntegration()
	fake := &fakeImport{
		records: []importer.Record{{"email": "ada@example.com"}, {"email": "alan@example.com"}},
		result:  &importer.SyncResult{Action: models.SyncActionCreate, Listed: 2, Created: 2},
	}
	jobs := &recordingJobs{}
	e := newServer(NewImportHandler(newMemoryIntegrations(integration), fake, fake, jobs, "fern:jobs"))
	base := "/api/v1/integrations/" + integration.ID.String() + "/import"

	rec := do(e, http.MethodGet, base+"/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed ImportUsersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, 2, listed.Count)

	rec = do(e, http.MethodPost, base+"/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"action":"create","listed":2,"created":2,"updated":0,"skipped":0}`, rec.Body.String())

	rec = do(e, http.MethodPost, base+"/sync?async=true", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, jobs.published, 1)
	assert.Equal(t, redis.JobTypeIntegrationSync, jobs.published[0].Type)
	assert.Equal(t, integration.ID.String(), jobs.published[0].IntegrationID)

	fake.err = &importer.FailedPaginatedResponseError{Text: "Paginated URL fetch: The request timed out"}
	rec = do(e, http.MethodGet, base+"/users", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Paginated URL fetch")
}

type fakeFlow struct {
	code string
	err  error
}

func (f *fakeFlow) AuthorizeURL(*models.Integration) (string, error) {
	return "https://provider.example.com/authorize?client_id=abc", f.err
}

func (f *fakeFlow) Exchange(_ context.Context, integration *models.Integration, code string) error {
	if f.err != nil {
		return f.err
	}
	f.code = code
	integration.EnabledOAuth = true
	return nil
}

func TestOAuthHandler(t *testing.T) {
	integration := slackIntegration()
	flow := &fakeFlow{}
	e := newServer(NewOAuthHandler(newMemoryIntegrations(integration), flow))
	base := "/api/v1/integrations/" + integration.ID.String() + "/oauth"

	rec := do(e, http.MethodGet, base, "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://provider.example.com/authorize?client_id=abc", rec.Header().Get(echo.HeaderLocation))

	rec = do(e, http.MethodGet, base+"/callback?code=xyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "xyz", flow.code)
	assert.Contains(t, rec.Body.String(), `"enabled_oauth":true`)

	rec = do(e, http.MethodGet, base+"/callback?error=access_denied", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type memoryTrackers struct {
	tracker *models.Tracker
	steps   []models.TrackerStep
	limit   int
}

func (m *memoryTrackers) GetTracker(_ context.Context, id uuid.UUID) (*models.Tracker, error) {
	if m.tracker == nil || m.tracker.ID != id {
		return nil, repositories.NotFound("tracker %s does not exist", id)
	}
	return m.tracker, nil
}

func (m *memoryTrackers) ListByIntegration(_ context.Context, _ uuid.UUID, limit int) ([]models.Tracker, error) {
	m.limit = limit
	return []models.Tracker{*m.tracker}, nil
}

func (m *memoryTrackers) ListSteps(context.Context, uuid.UUID) ([]models.TrackerStep, error) {
	return m.steps, nil
}

func TestTrackerHandler(t *testing.T) {
	tracker := &models.Tracker{ID: uuid.New(), TenantID: tenantID, IntegrationID: uuid.New(), Category: models.TrackerCategoryExecute}
	trackers := &memoryTrackers{
		tracker: tracker,
		steps:   []models.TrackerStep{{ID: uuid.New(), TrackerID: tracker.ID, StatusCode: 200, URL: "https://x", Method: "POST"}},
	}
	e := newServer(NewTrackerHandler(trackers))

	rec := do(e, http.MethodGet, "/api/v1/integrations/"+tracker.IntegrationID.String()+"/trackers?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, trackers.limit)

	rec = do(e, http.MethodGet, "/api/v1/trackers/"+tracker.ID.String()+"/steps", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp TrackerStepsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Steps, 1)
	assert.Equal(t, 200, resp.Steps[0].StatusCode)

	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/api/v1/trackers/"+uuid.NewString()+"/steps", "").Code)
}

type memoryNotifications struct {
	limit int
}

func (m *memoryNotifications) List(_ context.Context, limit int) ([]models.Notification, error) {
	m.limit = limit
	return nil, nil
}

func TestNotificationHandler(t *testing.T) {
	notifications := &memoryNotifications{}
	e := newServer(NewNotificationHandler(notifications))

	rec := do(e, http.MethodGet, "/api/v1/notifications?limit=abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, defaultNotificationLimit, notifications.limit)
}

type memoryDLQ struct {
	entries map[string]redis.DLQEntry
	retried []string
}

func (m *memoryDLQ) ListByTenant(_ context.Context, tenant string, _ int64) ([]redis.DLQEntry, error) {
	var out []redis.DLQEntry
	for _, entry := range m.entries {
		if entry.TenantID == tenant {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (m *memoryDLQ) Get(_ context.Context, tenant, id string) (*redis.DLQEntry, error) {
	entry, ok := m.entries[id]
	if !ok || entry.TenantID != tenant {
		return nil, repositories.NotFound("DLQ entry not found: %s", id)
	}
	return &entry, nil
}

func (m *memoryDLQ) Delete(ctx context.Context, tenant, id string) error {
	if _, err := m.Get(ctx, tenant, id); err != nil {
		return err
	}
	delete(m.entries, id)
	return nil
}

func (m *memoryDLQ) Retry(ctx context.Context, tenant, id string, _ *redis.Streams, _ string) error {
	if _, err := m.Get(ctx, tenant, id); err != nil {
		return err
	}
	m.retried = append(m.retried, id)
	return nil
}

func TestDLQHandler(t *testing.T) {
	dlq := &memoryDLQ{entries: map[string]redis.DLQEntry{
		"1-0": {ID: "1-0", TenantID: tenantID.String(), Reason: models.DLQReasonMaxRetries},
		"2-0": {ID: "2-0", TenantID: uuid.NewString(), Reason: models.DLQReasonNotFound},
	}}
	e := newServer(NewDLQHandler(dlq, nil, "fern:jobs", testLogger()))

	rec := do(e, http.MethodGet, "/api/v1/dlq", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed DLQListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, 1, listed.Count)

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/v1/dlq/1-0", "").Code)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/api/v1/dlq/2-0", "").Code)

	assert.Equal(t, http.StatusAccepted, do(e, http.MethodPost, "/api/v1/dlq/1-0/retry", "").Code)
	assert.Equal(t, []string{"1-0"}, dlq.retried)

	assert.Equal(t, http.StatusNoContent, do(e, http.MethodDelete, "/api/v1/dlq/1-0", "").Code)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodDelete, "/api/v1/dlq/2-0", "").Code)
}

func TestGetTenantID_Missing(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	_, err := GetTenantID(c)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, httperror.GetStatusCode(err))
}
