package repositories_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getTestDB connects to a migrated database described by TEST_DB_* variables
func getTestDB(t *testing.T) database.DB {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		envOr("TEST_DB_HOST", "localhost"),
		envOr("TEST_DB_PORT", "5432"),
		envOr("TEST_DB_USER", "user"),
		envOr("TEST_DB_PASSWORD", "password"),
		envOr("TEST_DB_NAME", "fern"),
	)
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Skipf("test database unavailable: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return database.NewDatabaseInstance(db, getTestLogger())
}

func getTestContext(tenantID uuid.UUID) context.Context {
	return appctx.SetTenantID(context.Background(), tenantID.String())
}

func assertStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, status, httperror.GetStatusCode(err))
}

func testManifest() models.Manifest {
	return models.Manifest{
		Execute: []models.Step{{
			URL:    "https://api.example.com/users",
			Method: "POST",
			Data:   map[string]any{"email": "{{ email }}"},
		}},
	}
}

func TestIntegrationRepository_CRUD(t *testing.T) {
	db := getTestDB(t)
	repo := repositories.NewIntegrationRepository(db, getTestLogger())

	tenantID := uuid.New()
	ctx := getTestContext(tenantID)

	integration := &models.Integration{
		Name:      "Slack",
		Manifest:  database.NewJSONB(testManifest()),
		ExtraArgs: database.NewJSONB(map[string]any{"TOKEN": "xoxb"}),
		Active:    true,
	}
	require.NoError(t, repo.Create(ctx, integration))
	assert.NotEqual(t, uuid.Nil, integration.ID)
	assert.Equal(t, tenantID, integration.TenantID)
	assert.False(t, integration.CreatedAt.IsZero())

	fetched, err := repo.GetByID(ctx, integration.ID)
	require.NoError(t, err)
	assert.Equal(t, "Slack", fetched.Name)
	assert.Equal(t, "xoxb", fetched.Args()["TOKEN"])
	require.Len(t, fetched.Manifest.Data.Execute, 1)
	assert.Equal(t, "https://api.example.com/users", fetched.Manifest.Data.Execute[0].URL)

	integrations, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, integrations, 1)

	integration.Name = "Slack (EU)"
	require.NoError(t, repo.Update(ctx, integration))

	expiring := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	integration.EnabledOAuth = true
	integration.Expiring = &expiring
	integration.ExtraArgs.Data["oauth"] = map[string]any{"access_token": "a", "expires_in": float64(3600)}
	require.NoError(t, repo.UpdateCredentials(ctx, integration))

	updated, err := repo.GetByID(ctx, integration.ID)
	require.NoError(t, err)
	assert.Equal(t, "Slack (EU)", updated.Name)
	assert.True(t, updated.EnabledOAuth)
	require.NotNil(t, updated.Expiring)
	assert.True(t, expiring.Equal(*updated.Expiring))
	assert.Equal(t, "a", updated.OAuthValues()["access_token"])

	_, err = repo.GetByID(getTestContext(uuid.New()), integration.ID)
	assertStatus(t, err, http.StatusNotFound)

	require.NoError(t, repo.Delete(ctx, integration.ID))
	_, err = repo.GetByID(ctx, integration.ID)
	assertStatus(t, err, http.StatusNotFound)
	assertStatus(t, repo.Delete(ctx, integration.ID), http.StatusNotFound)
}

func TestIntegrationRepository_TenantRequired(t *testing.T) {
	db := getTestDB(t)
	repo := repositories.NewIntegrationRepository(db, getTestLogger())

	err := repo.Create(context.Background(), &models.Integration{Name: "Should Fail"})
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestUserAndTraceRepositories(t *testing.T) {
	db := getTestDB(t)
	logger := getTestLogger()
	ctx := getTestContext(uuid.New())

	integrations := repositories.NewIntegrationRepository(db, logger)
	users := repositories.NewUserRepository(db, logger)
	trackers := repositories.NewTrackerRepository(db, logger)
	notifications := repositories.NewNotificationRepository(db, logger)
	retries := repositories.NewRetryRepository(db, logger)
	organizations := repositories.NewOrganizationRepository(db, logger)

	integration := &models.Integration{Name: "Asana", Manifest: database.NewJSONB(testManifest()), Active: true}
	require.NoError(t, integrations.Create(ctx, integration))
	t.Cleanup(func() { _ = integrations.Delete(ctx, integration.ID) })

	user := &models.User{Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace"}
	require.NoError(t, users.Create(ctx, user))
	require.NoError(t, users.UpdateExtraFields(ctx, user.ID, map[string]any{"ASANA_ID": "42"}))

	fetched, err := users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "42", fetched.Fields()["ASANA_ID"])

	listed, err := users.List(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	tracker := &models.Tracker{IntegrationID: integration.ID, ForUserID: &user.ID, Category: models.TrackerCategoryExecute}
	require.NoError(t, trackers.CreateTracker(ctx, tracker))

	step := &models.TrackerStep{
		TrackerID:    tracker.ID,
		StatusCode:   201,
		URL:          "https://api.example.com/users",
		Method:       "POST",
		PostData:     `{"token":"***Secret value for TOKEN***"}`,
		JSONResponse: database.NewJSONB[any](map[string]any{"id": "42"}),
	}
	require.NoError(t, trackers.AddStep(ctx, step))
	step.TextResponse = "rewritten"
	require.NoError(t, trackers.UpdateStep(ctx, step))

	steps, err := trackers.ListSteps(ctx, tracker.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "rewritten", steps[0].TextResponse)
	assert.Equal(t, step.PostData, steps[0].PostData)

	byIntegration, err := trackers.ListByIntegration(ctx, integration.ID, 10)
	require.NoError(t, err)
	assert.Len(t, byIntegration, 1)

	require.NoError(t, notifications.Create(ctx, &models.Notification{
		Type:          models.NotificationFailedIntegration,
		IntegrationID: integration.ID,
		ExtraText:     integration.Name,
		Description:   "Execute url (https://api.example.com/users): The request timed out",
		CreatedForID:  &user.ID,
	}))
	stored, err := notifications.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.NotificationFailedIntegration, stored[0].Type)

	require.NoError(t, retries.ScheduleRetry(ctx, &models.ScheduledRetry{
		IntegrationID: integration.ID,
		UserID:        user.ID,
		RunAt:         time.Now().Add(time.Hour),
	}))

	organization, err := organizations.GetOrganization(ctx)
	require.NoError(t, err)
	assert.Empty(t, organization.IgnoredUserEmails.Data)

	require.NoError(t, organizations.SetIgnoredEmails(ctx, []string{"ceo@example.com"}))
	organization, err = organizations.GetOrganization(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ceo@example.com"}, organization.IgnoredUserEmails.Data)

	rolledBack := &models.User{Email: "rollback@example.com"}
	err = users.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, users.Create(ctx, rolledBack))
		return errors.New("abort sync")
	})
	assert.EqualError(t, err, "abort sync")
	_, err = users.GetByID(ctx, rolledBack.ID)
	assert.Error(t, err)
}
