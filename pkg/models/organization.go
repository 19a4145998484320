package models

import (
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
)

// Organization holds tenant-wide import settings.
type Organization struct {
	TenantID          uuid.UUID                `db:"tenant_id" json:"tenant_id"`
	IgnoredUserEmails database.JSONB[[]string] `db:"ignored_user_emails" json:"ignored_user_emails"`
}

// TableName returns the database table name
func (Organization) TableName() string {
	return "organizations"
}
