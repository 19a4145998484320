package execution

import (
	"context"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

// TraceStore persists run traces. Steps are append-only except for UpdateStep,
// used to re-sanitize the last step after secrets rotate.
type TraceStore interface {
	CreateTracker(ctx context.Context, tracker *models.Tracker) error
	AddStep(ctx context.Context, step *models.TrackerStep) error
	UpdateStep(ctx context.Context, step *models.TrackerStep) error
}

// UserStore writes a user's extra fields back in full.
type UserStore interface {
	UpdateExtraFields(ctx context.Context, userID uuid.UUID, fields map[string]any) error
}

// Notifier delivers notifications about runs that did not complete.
type Notifier interface {
	Notify(ctx context.Context, notification *models.Notification) error
}

// RetryScheduler stores a deferred re-run.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, retry *models.ScheduledRetry) error
}

// TokenRefresher makes sure the integration's OAuth token is valid before a run.
// A *RefreshError means the remote rejected the refresh; any other error is infrastructure.
type TokenRefresher interface {
	EnsureFresh(ctx context.Context, ec *ExecutionContext) error
}
