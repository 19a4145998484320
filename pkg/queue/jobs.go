package queue

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/execution"
	"github.com/Ramsey-B/fern/pkg/importer"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
)

// IntegrationGetter loads an integration for the tenant in ctx
type IntegrationGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Integration, error)
}

// UserGetter loads a user for the tenant in ctx
type UserGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Runner runs an integration's execute sequence
type Runner interface {
	Run(ctx context.Context, integration *models.Integration, user *models.User, opts execution.RunOptions) (*execution.RunResult, error)
}

// Importer synchronizes users from an integration
type Importer interface {
	Sync(ctx context.Context, integration *models.Integration) (*importer.SyncResult, error)
}

// NewRetryHandler re-runs the execute sequence a failed run scheduled.
// The re-run never schedules another retry, and a failed or blocked outcome
// is not a job error: it has already been traced and notified.
func NewRetryHandler(integrations IntegrationGetter, users UserGetter, runner Runner, logger ectologger.Logger) Handler {
	return func(ctx context.Context, job *redis.JobMessage) error {
		integrationID, err := parseID("integration_id", job.IntegrationID)
		if err != nil {
			return err
		}
		userID, err := parseID("user_id", job.UserID)
		if err != nil {
			return err
		}

		integration, err := integrations.GetByID(ctx, integrationID)
		if err != nil {
			return err
		}
		user, err := users.GetByID(ctx, userID)
		if err != nil {
			return err
		}

		result, err := runner.Run(ctx, integration, user, execution.RunOptions{
			RetryOnFailure: false,
			Params:         job.Params,
		})
		if err != nil {
			return err
		}

		logger.WithContext(ctx).Infof("Retry of %s for user %s ended %s", integration.Name, user.ID, result.Outcome)
		return nil
	}
}

// NewSyncHandler imports users from the integration's list endpoint
func NewSyncHandler(integrations IntegrationGetter, syncer Importer, logger ectologger.Logger) Handler {
	return func(ctx context.Context, job *redis.JobMessage) error {
		integrationID, err := parseID("integration_id", job.IntegrationID)
		if err != nil {
			return err
		}

		integration, err := integrations.GetByID(ctx, integrationID)
		if err != nil {
			return err
		}

		result, err := syncer.Sync(ctx, integration)
		if err != nil {
			return err
		}

		logger.WithContext(ctx).Infof("Sync of %s listed %d users: %d created, %d updated, %d skipped",
			integration.Name, result.Listed, result.Created, result.Updated, result.Skipped)
		return nil
	}
}

// NewRetryJob builds the job for a due scheduled retry
func NewRetryJob(retry *models.ScheduledRetry) *redis.JobMessage {
	return &redis.JobMessage{
		ID:            uuid.NewString(),
		Type:          redis.JobTypeIntegrationRetry,
		TenantID:      retry.TenantID.String(),
		IntegrationID: retry.IntegrationID.String(),
		UserID:        retry.UserID.String(),
		RetryID:       retry.ID.String(),
		Params:        retry.Params.Data,
		CreatedAt:     time.Now().UTC(),
	}
}

// NewSyncJob builds an import job for an integration
func NewSyncJob(tenantID, integrationID uuid.UUID) *redis.JobMessage {
	return &redis.JobMessage{
		ID:            uuid.NewString(),
		Type:          redis.JobTypeIntegrationSync,
		TenantID:      tenantID.String(),
		IntegrationID: integrationID.String(),
		CreatedAt:     time.Now().UTC(),
	}
}

func parseID(field, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s: %v", field, err))
	}
	return id, nil
}
