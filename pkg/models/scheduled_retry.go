package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
)

// ScheduledRetry is a deferred re-run of a failed execute sequence.
type ScheduledRetry struct {
	ID            uuid.UUID                      `db:"id" json:"id"`
	TenantID      uuid.UUID                      `db:"tenant_id" json:"tenant_id"`
	IntegrationID uuid.UUID                      `db:"integration_id" json:"integration_id"`
	UserID        uuid.UUID                      `db:"user_id" json:"user_id"`
	Params        database.JSONB[map[string]any] `db:"params" json:"params,omitempty"`
	RunAt         time.Time                      `db:"run_at" json:"run_at"`
	DispatchedAt  *time.Time                     `db:"dispatched_at" json:"dispatched_at,omitempty"`
	CreatedAt     time.Time                      `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (ScheduledRetry) TableName() string {
	return "scheduled_retries"
}
