package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
)

// Integration binds a manifest to account-level secrets.
type Integration struct {
	ID           uuid.UUID                      `db:"id" json:"id"`
	TenantID     uuid.UUID                      `db:"tenant_id" json:"tenant_id"`
	Name         string                         `db:"name" json:"name"`
	Manifest     database.JSONB[Manifest]       `db:"manifest" json:"manifest"`
	ExtraArgs    database.JSONB[map[string]any] `db:"extra_args" json:"-"`
	Active       bool                           `db:"active" json:"active"`
	EnabledOAuth bool                           `db:"enabled_oauth" json:"enabled_oauth"`
	// Expiring is when the stored OAuth access token expires
	Expiring  *time.Time `db:"expiring" json:"expiring,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Integration) TableName() string {
	return "integrations"
}

func (i *Integration) HasOAuth() bool {
	return i.Manifest.Data.OAuth != nil
}

// Args returns the extra args, never nil.
func (i *Integration) Args() map[string]any {
	if i.ExtraArgs.Data == nil {
		i.ExtraArgs.Data = map[string]any{}
	}
	return i.ExtraArgs.Data
}

// OAuthValues returns extra_args["oauth"] when it is an object.
func (i *Integration) OAuthValues() map[string]any {
	values, _ := i.Args()["oauth"].(map[string]any)
	return values
}
