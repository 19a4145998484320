package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const scheduledRetriesTable = "scheduled_retries"

// RetryRepository stores deferred re-runs. It implements execution.RetryScheduler.
type RetryRepository struct {
	*Repository
}

// NewRetryRepository creates a new retry repository
func NewRetryRepository(db database.DB, logger ectologger.Logger) *RetryRepository {
	return &RetryRepository{
		Repository: NewRepository(db, logger),
	}
}

// ScheduleRetry inserts a retry for the current tenant
func (r *RetryRepository) ScheduleRetry(ctx context.Context, retry *models.ScheduledRetry) error {
	ctx, span := tracing.StartSpan(ctx, "RetryRepository.ScheduleRetry")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	retry.TenantID = tenantID
	if retry.ID == uuid.Nil {
		retry.ID = uuid.New()
	}
	if retry.Params.Data == nil {
		retry.Params = database.NewJSONB(map[string]any{})
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(scheduledRetriesTable).
		Cols("id", "tenant_id", "integration_id", "user_id", "params", "run_at", "created_at").
		Values(retry.ID, retry.TenantID, retry.IntegrationID, retry.UserID, retry.Params, retry.RunAt, database.Now()).
		Returning("created_at")

	query, args := ib.Build()
	if err := r.exec(ctx).QueryRowxContext(ctx, query, args...).Scan(&retry.CreatedAt); err != nil {
		return r.internal(ctx, err, map[string]any{"integration_id": retry.IntegrationID, "user_id": retry.UserID}, "failed to schedule retry")
	}

	r.logger.WithContext(ctx).Infof("Scheduled retry of integration %s for user %s at %s", retry.IntegrationID, retry.UserID, retry.RunAt)
	return nil
}
