package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
)

// User is a new hire an integration provisions access for.
type User struct {
	ID          uuid.UUID                      `db:"id" json:"id"`
	TenantID    uuid.UUID                      `db:"tenant_id" json:"tenant_id"`
	Email       string                         `db:"email" json:"email"`
	FirstName   string                         `db:"first_name" json:"first_name"`
	LastName    string                         `db:"last_name" json:"last_name"`
	IsActive    bool                           `db:"is_active" json:"is_active"`
	ExtraFields database.JSONB[map[string]any] `db:"extra_fields" json:"extra_fields"`
	CreatedAt   time.Time                      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time                      `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (User) TableName() string {
	return "users"
}

func (u *User) Fields() map[string]any {
	if u.ExtraFields.Data == nil {
		u.ExtraFields.Data = map[string]any{}
	}
	return u.ExtraFields.Data
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Personalization returns the built-in fields every manifest may reference.
func (u *User) Personalization() map[string]any {
	return map[string]any{
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"full_name":  u.FullName(),
		"email":      u.Email,
	}
}
