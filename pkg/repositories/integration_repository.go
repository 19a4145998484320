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

const integrationsTable = "integrations"

var integrationStruct = database.NewStruct(new(models.Integration))

// IntegrationRepository handles database operations for integrations
type IntegrationRepository struct {
	*Repository
}

// NewIntegrationRepository creates a new integration repository
func NewIntegrationRepository(db database.DB, logger ectologger.Logger) *IntegrationRepository {
	return &IntegrationRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create creates a new integration
func (r *IntegrationRepository) Create(ctx context.Context, integration *models.Integration) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.Create")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}
	integration.TenantID = tenantID

	if integration.ID == uuid.Nil {
		integration.ID = uuid.New()
	}
	if integration.ExtraArgs.Data == nil {
		integration.ExtraArgs = database.NewJSONB(map[string]any{})
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(integrationsTable).
		Cols("id", "tenant_id", "name", "manifest", "extra_args", "active", "enabled_oauth", "expiring", "created_at", "updated_at").
		Values(integration.ID, integration.TenantID, integration.Name, integration.Manifest, integration.ExtraArgs,
			integration.Active, integration.EnabledOAuth, integration.Expiring, database.Now(), database.Now()).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err = r.exec(ctx).QueryRowxContext(ctx, query, args...).Scan(&integration.CreatedAt, &integration.UpdatedAt)
	if err != nil {
		return r.internal(ctx, err, map[string]any{"integration_id": integration.ID}, "failed to create integration")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": integration.ID,
	}).Debugf("Created %s", integrationsTable)
	return nil
}

// GetByID retrieves an integration by ID (tenant-scoped)
func (r *IntegrationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.GetByID")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := integrationStruct.SelectFrom(integrationsTable)
	sb.Where(sb.Equal("tenant_id", tenantID), sb.Equal("id", id))

	query, args := sb.Build()
	var integration models.Integration
	err = r.exec(ctx).GetContext(ctx, &integration, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("integration %s does not exist", id)
	}
	if err != nil {
		return nil, r.internal(ctx, err, map[string]any{"integration_id": id}, "failed to get integration by ID")
	}

	return &integration, nil
}

// List retrieves all integrations for the current tenant
func (r *IntegrationRepository) List(ctx context.Context) ([]models.Integration, error) {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.List")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return nil, err
	}

	sb := integrationStruct.SelectFrom(integrationsTable)
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("name")

	query, args := sb.Build()
	integrations := []models.Integration{}
	if err := r.exec(ctx).SelectContext(ctx, &integrations, query, args...); err != nil {
		return nil, r.internal(ctx, err, map[string]any{"tenant_id": tenantID}, "failed to list integrations")
	}

	return integrations, nil
}

// Update replaces an integration's name, manifest, arguments and active flag
func (r *IntegrationRepository) Update(ctx context.Context, integration *models.Integration) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.Update")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(integrationsTable).
		Set(
			ub.Assign("name", integration.Name),
			ub.Assign("manifest", integration.Manifest),
			ub.Assign("extra_args", integration.ExtraArgs),
			ub.Assign("active", integration.Active),
			ub.Assign("updated_at", database.Now()),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", integration.ID))
	ub.SQL("RETURNING updated_at")

	return r.scanUpdate(ctx, ub, integration, "failed to update integration")
}

// UpdateCredentials stores OAuth state after an exchange or refresh
func (r *IntegrationRepository) UpdateCredentials(ctx context.Context, integration *models.Integration) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.UpdateCredentials")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(integrationsTable).
		Set(
			ub.Assign("extra_args", integration.ExtraArgs),
			ub.Assign("enabled_oauth", integration.EnabledOAuth),
			ub.Assign("expiring", integration.Expiring),
			ub.Assign("updated_at", database.Now()),
		).
		Where(ub.Equal("tenant_id", tenantID), ub.Equal("id", integration.ID))
	ub.SQL("RETURNING updated_at")

	return r.scanUpdate(ctx, ub, integration, "failed to update integration credentials")
}

func (r *IntegrationRepository) scanUpdate(ctx context.Context, ub *database.UpdateBuilder, integration *models.Integration, message string) error {
	query, args := ub.Build()
	err := r.exec(ctx).QueryRowxContext(ctx, query, args...).Scan(&integration.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return NotFound("integration %s does not exist", integration.ID)
	}
	if err != nil {
		return r.internal(ctx, err, map[string]any{"integration_id": integration.ID}, message)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": integration.ID,
	}).Debugf("Updated %s", integrationsTable)
	return nil
}

// Delete deletes an integration by ID
func (r *IntegrationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "IntegrationRepository.Delete")
	defer span.End()

	tenantID, err := GetTenantID(ctx)
	if err != nil {
		return err
	}

	db := database.NewDeleteBuilder()
	db.DeleteFrom(integrationsTable).
		Where(db.Equal("tenant_id", tenantID), db.Equal("id", id))

	query, args := db.Build()
	result, err := r.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return r.internal(ctx, err, map[string]any{"integration_id": id}, "failed to delete integration")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return r.internal(ctx, err, map[string]any{"integration_id": id}, "failed to delete integration")
	}
	if rows == 0 {
		return NotFound("integration %s does not exist", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": id,
	}).Debugf("Deleted %s", integrationsTable)
	return nil
}
