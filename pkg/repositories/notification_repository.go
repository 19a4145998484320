package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const notificationsTable = "notifications"

var notificationStruct = database.NewStruct(new(models.Notification))

// NotificationRepository handles database operations for notifications
type NotificationRepository struct {
	*Repository
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db database.DB, logger ectologger.Logger) *NotificationRepository {
	return &NotificationRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create stores a notification for the current tenant
func (r *NotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	notification.TenantID = tenantID
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(notificationsTable).
		Cols("id", "tenant_id", "notification_type", "integration_id", "extra_text", "description", "created_for_id", "created_at").
		Values(notification.ID, notification.TenantID, notification.Type, notification.IntegrationID, notification.ExtraText,
			notification.Description, notification.CreatedForID, database.Now()).
		Returning("created_at")

	query, args := ib.Build()
	if err := r.exec(ctx).QueryRowxContext(ctx, query, args...).Scan(&notification.CreatedAt); err != nil {
		return r.internal(ctx, err, map[string]any{"integration_id": notification.IntegrationID}, "failed to create notification")
	}
	return nil
}

// List returns the newest notifications of the current tenant
func (r *NotificationRepository) List(ctx context.Context, limit int) ([]models.Notification, error) {
	ctx, span := tracing.StartSpan(ctx, "NotificationRepository.List")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := notificationStruct.SelectFrom(notificationsTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("created_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	notifications := []models.Notification{}
	if err := r.exec(ctx).SelectContext(ctx, &notifications, query, args...); err != nil {
		return nil, r.internal(ctx, err, map[string]any{"tenant_id": tenantID}, "failed to list notifications")
	}
	return notifications, nil
}
