package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const organizationsTable = "organizations"

var organizationStruct = database.NewStruct(new(models.Organization))

// OrganizationRepository reads tenant-wide settings
type OrganizationRepository struct {
	*Repository
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db database.DB, logger ectologger.Logger) *OrganizationRepository {
	return &OrganizationRepository{
		Repository: NewRepository(db, logger),
	}
}

// GetOrganization returns the current tenant's settings, or empty settings when none are stored
func (r *OrganizationRepository) GetOrganization(ctx context.Context) (*models.Organization, error) {
	ctx, span := tracing.StartSpan(ctx, "OrganizationRepository.GetOrganization")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := organizationStruct.SelectFrom(organizationsTable)
	sb.Where(sb.Equal("tenant_id", tenantID))

	query, args := sb.Build()
	var organization models.Organization
	err = r.exec(ctx).GetContext(ctx, &organization, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Organization{TenantID: tenantID, IgnoredUserEmails: database.NewJSONB([]string{})}, nil
	}
	if err != nil {
		return nil, r.internal(ctx, err, map[string]any{"tenant_id": tenantID}, "failed to get organization")
	}
	return &organization, nil
}

// SetIgnoredEmails replaces the emails a user sync never creates
func (r *OrganizationRepository) SetIgnoredEmails(ctx context.Context, emails []string) error {
	ctx, span := tracing.StartSpan(ctx, "OrganizationRepository.SetIgnoredEmails")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(organizationsTable).
		Cols("tenant_id", "ignored_user_emails").
		Values(tenantID, database.NewJSONB(emails))
	ub := ib.OnConflict("tenant_id")
	ub.Set(ub.Assign("ignored_user_emails", database.Excluded("ignored_user_emails")))

	query, args := ib.Build()
	if _, err := r.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		return r.internal(ctx, err, map[string]any{"tenant_id": tenantID}, "failed to set ignored emails")
	}
	return nil
}
