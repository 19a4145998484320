package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/execution"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/placeholders"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type memoryTraces struct {
	steps   []*models.TrackerStep
	updated []*models.TrackerStep
}

func (m *memoryTraces) CreateTracker(context.Context, *models.Tracker) error { return nil }

func (m *memoryTraces) AddStep(_ context.Context, step *models.TrackerStep) error {
	copied := *step
	m.steps = append(m.steps, &copied)
	return nil
}

func (m *memoryTraces) UpdateStep(_ context.Context, step *models.TrackerStep) error {
	copied := *step
	m.updated = append(m.updated, &copied)
	return nil
}

type memoryIntegrations struct {
	saved []*models.Integration
}

func (m *memoryIntegrations) UpdateCredentials(_ context.Context, integration *models.Integration) error {
	m.saved = append(m.saved, integration)
	return nil
}

type memoryNotifier struct {
	notifications []*models.Notification
}

func (m *memoryNotifier) Notify(_ context.Context, n *models.Notification) error {
	m.notifications = append(m.notifications, n)
	return nil
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func oauthIntegration(serverURL string, expiring *time.Time) *models.Integration {
	return &models.Integration{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Name:     "Google",
		Manifest: database.NewJSONB(models.Manifest{
			OAuth: &models.OAuthSpec{
				AuthenticateURL: "https://accounts.example.com/auth?client_id={{CLIENT_ID}}&redirect_uri={{redirect_url}}",
				AccessToken: models.Step{
					URL:  serverURL + "/token",
					Data: map[string]any{"code": "{{code}}", "client_secret": "{{CLIENT_SECRET}}"},
				},
				Refresh: &models.Step{
					URL:  serverURL + "/token",
					Data: map[string]any{"refresh_token": "{{oauth.refresh_token}}"},
				},
			},
		}),
		ExtraArgs: database.NewJSONB(map[string]any{
			"CLIENT_ID":     "client-1",
			"CLIENT_SECRET": "very-secret",
			"oauth":         map[string]any{"access_token": "old-token", "refresh_token": "refresh-1", "expires_in": 3600},
		}),
		Active:       true,
		EnabledOAuth: true,
		Expiring:     expiring,
	}
}

func newGuard(traces *memoryTraces, integrations *memoryIntegrations, notifier *memoryNotifier) *Guard {
	executor := execution.NewStepExecutor(httpclient.NewClient(httpclient.DefaultConfig(), testLogger()), traces, testLogger())
	guard := NewGuard(executor, integrations, notifier, testLogger())
	guard.now = func() time.Time { return fixedNow }
	return guard
}

func tracedContext(t *testing.T, integration *models.Integration) *execution.ExecutionContext {
	t.Helper()
	ns, err := placeholders.ForRun(integration, nil, "https://fern.example.com")
	require.NoError(t, err)
	return execution.NewExecutionContext(integration, nil, ns).WithTracker(&models.Tracker{ID: uuid.New()})
}

func TestGuard_SkipsFreshToken(t *testing.T) {
	future := fixedNow.Add(time.Minute)
	integrations := &memoryIntegrations{}
	guard := newGuard(&memoryTraces{}, integrations, &memoryNotifier{})

	integration := oauthIntegration("http://127.0.0.1:1", &future)
	require.NoError(t, guard.EnsureFresh(context.Background(), tracedContext(t, integration)))
	assert.Empty(t, integrations.saved)
}

func TestGuard_SkipsTokensWithoutExpiry(t *testing.T) {
	guard := newGuard(&memoryTraces{}, &memoryIntegrations{}, &memoryNotifier{})

	integration := oauthIntegration("http://127.0.0.1:1", nil)
	delete(integration.OAuthValues(), "expires_in")

	assert.False(t, guard.NeedsRefresh(integration))
}

func TestGuard_RefreshesExpiredToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token": "new-token-abc", "expires_in": 7200}`))
	}))
	defer server.Close()

	past := fixedNow.Add(-time.Minute)
	traces := &memoryTraces{}
	integrations := &memoryIntegrations{}
	guard := newGuard(traces, integrations, &memoryNotifier{})
	integration := oauthIntegration(server.URL, &past)
	ec := tracedContext(t, integration)

	require.NoError(t, guard.EnsureFresh(context.Background(), ec))

	require.Len(t, integrations.saved, 1)
	oauth := integration.OAuthValues()
	assert.Equal(t, "new-token-abc", oauth["access_token"])
	assert.Equal(t, "refresh-1", oauth["refresh_token"])
	require.NotNil(t, integration.Expiring)
	assert.Equal(t, fixedNow.Add(2*time.Hour), *integration.Expiring)

	// the stored step predates the new token, the rewrite does not
	require.Len(t, traces.steps, 1)
	assert.Contains(t, fmtJSON(t, traces.steps[0]), "new-token-abc")
	require.Len(t, traces.updated, 1)
	assert.NotContains(t, fmtJSON(t, traces.updated[0]), "new-token-abc")
	assert.Equal(t, "new-token-abc", mustGet(t, ec.Namespace, "oauth").(map[string]any)["access_token"])
}

func TestGuard_RefreshFailureNotifies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`invalid_grant`))
	}))
	defer server.Close()

	past := fixedNow.Add(-time.Minute)
	notifier := &memoryNotifier{}
	integrations := &memoryIntegrations{}
	guard := newGuard(&memoryTraces{}, integrations, notifier)
	integration := oauthIntegration(server.URL, &past)
	integration.Manifest.Data.OAuth.Refresh.StatusCode = models.StatusCodes{200}

	err := guard.EnsureFresh(context.Background(), tracedContext(t, integration))

	var refreshErr *execution.RefreshError
	require.True(t, errors.As(err, &refreshErr))
	assert.Equal(t, "Refresh url: Incorrect status code (400): invalid_grant", err.Error())
	assert.Empty(t, integrations.saved)
	require.Len(t, notifier.notifications, 1)
	assert.Equal(t, models.NotificationFailedIntegration, notifier.notifications[0].Type)
	assert.Equal(t, err.Error(), notifier.notifications[0].Description)
}

func TestExchanger_AuthorizeURL(t *testing.T) {
	exchanger := NewExchanger(nil, &memoryTraces{}, &memoryIntegrations{}, "https://fern.example.com", testLogger())
	integration := oauthIntegration("http://127.0.0.1:1", nil)

	got, err := exchanger.AuthorizeURL(integration)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, "https://accounts.example.com/auth?client_id=client-1&redirect_uri=https://fern.example.com/api/v1/integrations/"))
	_, err = url.Parse(got)
	assert.NoError(t, err)
}

func TestExchanger_Exchange(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = w.Write([]byte(`{"access_token": "first-token", "refresh_token": "r2", "expires_in": "60"}`))
	}))
	defer server.Close()

	traces := &memoryTraces{}
	integrations := &memoryIntegrations{}
	executor := execution.NewStepExecutor(httpclient.NewClient(httpclient.DefaultConfig(), testLogger()), traces, testLogger())
	exchanger := NewExchanger(executor, traces, integrations, "https://fern.example.com", testLogger())
	exchanger.now = func() time.Time { return fixedNow }

	integration := oauthIntegration(server.URL, nil)
	integration.EnabledOAuth = false
	integration.ExtraArgs.Data["oauth"] = nil

	require.NoError(t, exchanger.Exchange(context.Background(), integration, "auth-code-9"))

	assert.Contains(t, gotBody, "auth-code-9")
	assert.True(t, integration.EnabledOAuth)
	assert.Equal(t, "first-token", integration.OAuthValues()["access_token"])
	assert.Equal(t, fixedNow.Add(time.Minute), *integration.Expiring)
	require.Len(t, integrations.saved, 1)
	require.Len(t, traces.updated, 1)
	assert.NotContains(t, fmtJSON(t, traces.updated[0]), "first-token")
	assert.NotContains(t, fmtJSON(t, traces.updated[0]), "very-secret")
}

func TestExchanger_RequiresCode(t *testing.T) {
	exchanger := NewExchanger(nil, &memoryTraces{}, &memoryIntegrations{}, "", testLogger())
	err := exchanger.Exchange(context.Background(), oauthIntegration("http://127.0.0.1:1", nil), "")
	assert.Error(t, err)
}

func fmtJSON(t *testing.T, step *models.TrackerStep) string {
	t.Helper()
	b, err := json.Marshal(step)
	require.NoError(t, err)
	return string(b)
}

func mustGet(t *testing.T, ns *placeholders.Namespace, key string) any {
	t.Helper()
	v, ok := ns.Get(key)
	require.True(t, ok)
	return v
}
