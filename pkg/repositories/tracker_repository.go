package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	trackersTable     = "trackers"
	trackerStepsTable = "tracker_steps"
)

var (
	trackerStruct     = database.NewStruct(new(models.Tracker))
	trackerStepStruct = database.NewStruct(new(models.TrackerStep))
)

// TrackerRepository stores run traces. It implements execution.TraceStore.
type TrackerRepository struct {
	*Repository
}

// NewTrackerRepository creates a new tracker repository
func NewTrackerRepository(db database.DB, logger ectologger.Logger) *TrackerRepository {
	return &TrackerRepository{
		Repository: NewRepository(db, logger),
	}
}

// CreateTracker inserts the header row of a run trace
func (r *TrackerRepository) CreateTracker(ctx context.Context, tracker *models.Tracker) error {
	ctx, span := tracing.StartSpan(ctx, "TrackerRepository.CreateTracker")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	tracker.TenantID = tenantID
	if tracker.ID == uuid.Nil {
		tracker.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(trackersTable).
		Cols("id", "tenant_id", "integration_id", "for_user_id", "category", "created_at").
		Values(tracker.ID, tracker.TenantID, tracker.IntegrationID, tracker.ForUserID, tracker.Category, database.Now()).
		Returning("created_at")

	query, args := ib.Build()
	if err := r.exec(ctx).QueryRowxContext(ctx, query, args...).Scan(&tracker.CreatedAt); err != nil {
		return r.internal(ctx, err, map[string]any{"integration_id": tracker.IntegrationID}, "failed to create tracker")
	}
	return nil
}

// AddStep appends a sanitized step to a tracker
func (r *TrackerRepository) AddStep(ctx context.Context, step *models.TrackerStep) error {
	ctx, span := tracing.StartSpan(ctx, "TrackerRepository.AddStep")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	step.TenantID = tenantID
	if step.ID == uuid.Nil {
		step.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(trackerStepsTable).
		Cols("id", "tenant_id", "tracker_id", "position", "status_code", "url", "method", "post_data", "headers",
			"json_response", "text_response", "error", "created_at").
		Values(step.ID, step.TenantID, step.TrackerID, step.Position, step.StatusCode, step.URL, step.Method, step.PostData,
			step.Headers, step.JSONResponse, step.TextResponse, step.Error, database.Now()).
		Returning("created_at")

	query, args := ib.Build()
	if err := r.exec(ctx).QueryRowxContext(ctx, query, args...).Scan(&step.CreatedAt); err != nil {
		return r.internal(ctx, err, map[string]any{"tracker_id": step.TrackerID}, "failed to add tracker step")
	}
	return nil
}

// UpdateStep rewrites a step's recorded request and response, used after re-sanitizing it
func (r *TrackerRepository) UpdateStep(ctx context.Context, step *models.TrackerStep) error {
	ctx, span := tracing.StartSpan(ctx, "TrackerRepository.UpdateStep")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(trackerStepsTable).
		Set(
			ub.Assign("url", step.URL),
			ub.Assign("post_data", step.PostData),
			ub.Assign("headers", step.Headers),
			ub.Assign("json_response", step.JSONResponse),
			ub.Assign("text_response", step.TextResponse),
			ub.Assign("error", step.Error),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", step.ID))

	query, args := ub.Build()
	result, err := r.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return r.internal(ctx, err, map[string]any{"step_id": step.ID}, "failed to update tracker step")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return NotFound("tracker step %s does not exist", step.ID)
	}
	return nil
}

// GetTracker retrieves a tracker by ID (tenant-scoped)
func (r *TrackerRepository) GetTracker(ctx context.Context, id uuid.UUID) (*models.Tracker, error) {
	ctx, span := tracing.StartSpan(ctx, "TrackerRepository.GetTracker")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := trackerStruct.SelectFrom(trackersTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var tracker models.Tracker
	err = r.exec(ctx).GetContext(ctx, &tracker, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("tracker %s does not exist", id)
	}
	if err != nil {
		return nil, r.internal(ctx, err, map[string]any{"tracker_id": id}, "failed to get tracker")
	}
	return &tracker, nil
}

// ListByIntegration returns the newest trackers of an integration
func (r *TrackerRepository) ListByIntegration(ctx context.Context, integrationID uuid.UUID, limit int) ([]models.Tracker, error) {
	ctx, span := tracing.StartSpan(ctx, "TrackerRepository.ListByIntegration")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := trackerStruct.SelectFrom(trackersTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("integration_id", integrationID))
	sb.OrderBy("created_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	trackers := []models.Tracker{}
	if err := r.exec(ctx).SelectContext(ctx, &trackers, query, args...); err != nil {
		return nil, r.internal(ctx, err, map[string]any{"integration_id": integrationID}, "failed to list trackers")
	}
	return trackers, nil
}

// ListSteps returns a tracker's steps in the order they ran
func (r *TrackerRepository) ListSteps(ctx context.Context, trackerID uuid.UUID) ([]models.TrackerStep, error) {
	ctx, span := tracing.StartSpan(ctx, "TrackerRepository.ListSteps")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := trackerStepStruct.SelectFrom(trackerStepsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("tracker_id", trackerID))
	sb.OrderBy("position").Asc()

	query, args := sb.Build()
	steps := []models.TrackerStep{}
	if err := r.exec(ctx).SelectContext(ctx, &steps, query, args...); err != nil {
		return nil, r.internal(ctx, err, map[string]any{"tracker_id": trackerID}, "failed to list tracker steps")
	}
	return steps, nil
}
