package scheduler

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const scheduledRetriesTable = "scheduled_retries"

var scheduledRetryStruct = database.NewStruct(new(models.ScheduledRetry))

// RetryRepository reads scheduled retries across every tenant.
// It is a system-level repository: the scheduler runs outside any request.
type RetryRepository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRetryRepository creates a new cross-tenant retry repository
func NewRetryRepository(db database.DB, logger ectologger.Logger) *RetryRepository {
	return &RetryRepository{
		db:     db,
		logger: logger,
	}
}

// ListDue returns undispatched retries whose run_at has passed, oldest first
func (r *RetryRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledRetry, error) {
	ctx, span := tracing.StartSpan(ctx, "RetryRepository.ListDue")
	defer span.End()

	sb := scheduledRetryStruct.SelectFrom(scheduledRetriesTable)
	sb.Where(sb.IsNull("dispatched_at"), sb.LessEqualThan("run_at", now))
	sb.OrderBy("run_at").Asc()
	sb.Limit(limit)

	query, args := sb.Build()
	var retries []models.ScheduledRetry
	if err := r.db.SelectContext(ctx, &retries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to query due retries")
		return nil, err
	}

	r.logger.WithContext(ctx).Debugf("Found %d due retries", len(retries))
	return retries, nil
}

// MarkDispatched stamps a retry so it is not published again.
// It reports false when another scheduler got there first.
func (r *RetryRepository) MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "RetryRepository.MarkDispatched")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(scheduledRetriesTable).
		Set(ub.Assign("dispatched_at", at)).
		Where(ub.Equal("id", id), ub.IsNull("dispatched_at"))

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Errorf("Failed to mark retry %s dispatched", id)
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}
