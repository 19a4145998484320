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

const usersTable = "users"

var userStruct = database.NewStruct(new(models.User))

// UserRepository handles database operations for provisioned users
type UserRepository struct {
	*Repository
}

// NewUserRepository creates a new user repository
func NewUserRepository(db database.DB, logger ectologger.Logger) *UserRepository {
	return &UserRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create inserts a user for the current tenant
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	ctx, span := tracing.StartSpan(ctx, "UserRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	user.TenantID = tenantID

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.Fields()

	ib := database.NewInsertBuilder()
	ib.InsertInto(usersTable).
		Cols("id", "tenant_id", "email", "first_name", "last_name", "is_active", "extra_fields", "created_at", "updated_at").
		Values(user.ID, user.TenantID, user.Email, user.FirstName, user.LastName, user.IsActive, user.ExtraFields,
			database.Now(), database.Now()).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	if err := r.exec(ctx).QueryRowxContext(ctx, query, args...).Scan(&user.CreatedAt, &user.UpdatedAt); err != nil {
		return r.internal(ctx, err, map[string]any{"user_id": user.ID}, "failed to create user")
	}
	return nil
}

// GetByID retrieves a user by ID (tenant-scoped)
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	ctx, span := tracing.StartSpan(ctx, "UserRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := userStruct.SelectFrom(usersTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var user models.User
	err = r.exec(ctx).GetContext(ctx, &user, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("user %s does not exist", id)
	}
	if err != nil {
		return nil, r.internal(ctx, err, map[string]any{"user_id": id}, "failed to get user by ID")
	}
	return &user, nil
}

// List returns every user of the current tenant
func (r *UserRepository) List(ctx context.Context) ([]models.User, error) {
	ctx, span := tracing.StartSpan(ctx, "UserRepository.List")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := userStruct.SelectFrom(usersTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("email")

	query, args := sb.Build()
	users := []models.User{}
	if err := r.exec(ctx).SelectContext(ctx, &users, query, args...); err != nil {
		return nil, r.internal(ctx, err, map[string]any{"tenant_id": tenantID}, "failed to list users")
	}
	return users, nil
}

// UpdateExtraFields replaces a user's extra fields
func (r *UserRepository) UpdateExtraFields(ctx context.Context, userID uuid.UUID, fields map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "UserRepository.UpdateExtraFields")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(usersTable).
		Set(
			ub.Assign("extra_fields", database.NewJSONB(fields)),
			ub.Assign("updated_at", database.Now()),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", userID))

	query, args := ub.Build()
	result, err := r.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return r.internal(ctx, err, map[string]any{"user_id": userID}, "failed to update user extra fields")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return NotFound("user %s does not exist", userID)
	}
	return nil
}
