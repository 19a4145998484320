package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
)

// TrackerCategory names what a traced run was doing
type TrackerCategory string

const (
	TrackerCategoryExecute TrackerCategory = "execute"
	TrackerCategoryRevoke  TrackerCategory = "revoke"
	TrackerCategoryExists  TrackerCategory = "exists"
	TrackerCategoryImport  TrackerCategory = "import"
	TrackerCategoryOAuth   TrackerCategory = "oauth"
)

// Tracker is the audit trace of one run.
type Tracker struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	TenantID      uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	IntegrationID uuid.UUID       `db:"integration_id" json:"integration_id"`
	ForUserID     *uuid.UUID      `db:"for_user_id" json:"for_user_id,omitempty"`
	Category      TrackerCategory `db:"category" json:"category"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (Tracker) TableName() string {
	return "trackers"
}

// TrackerStep records one HTTP attempt. Every field is sanitized before it is stored.
type TrackerStep struct {
	ID           uuid.UUID           `db:"id" json:"id"`
	TenantID     uuid.UUID           `db:"tenant_id" json:"tenant_id"`
	TrackerID    uuid.UUID           `db:"tracker_id" json:"tracker_id"`
	Position     int                 `db:"position" json:"position"`
	StatusCode   int                 `db:"status_code" json:"status_code"`
	URL          string              `db:"url" json:"url"`
	Method       string              `db:"method" json:"method"`
	PostData     string              `db:"post_data" json:"post_data"`
	Headers      string              `db:"headers" json:"headers"`
	JSONResponse database.JSONB[any] `db:"json_response" json:"json_response"`
	TextResponse string              `db:"text_response" json:"text_response"`
	Error        string              `db:"error" json:"error"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (TrackerStep) TableName() string {
	return "tracker_steps"
}
