package models

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationFailedIntegration  NotificationType = "failed_integration"
	NotificationBlockedIntegration NotificationType = "blocked_integration"
)

// Notification tells admins a run did not complete.
type Notification struct {
	ID            uuid.UUID        `db:"id" json:"id"`
	TenantID      uuid.UUID        `db:"tenant_id" json:"tenant_id"`
	Type          NotificationType `db:"notification_type" json:"notification_type"`
	IntegrationID uuid.UUID        `db:"integration_id" json:"integration_id"`
	// ExtraText is the integration name
	ExtraText    string     `db:"extra_text" json:"extra_text"`
	Description  string     `db:"description" json:"description"`
	CreatedForID *uuid.UUID `db:"created_for_id" json:"created_for_id,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (Notification) TableName() string {
	return "notifications"
}
