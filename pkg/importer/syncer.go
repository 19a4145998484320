package importer

import (
	"context"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/expressions"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// UserStore is the tenant-scoped user persistence the syncer writes through.
type UserStore interface {
	List(ctx context.Context) ([]models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateExtraFields(ctx context.Context, userID uuid.UUID, fields map[string]any) error
	// WithinTx runs fn so that every write made with its context commits or rolls back together
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrganizationStore returns the tenant's organization settings, nil when there are none.
type OrganizationStore interface {
	GetOrganization(ctx context.Context) (*models.Organization, error)
}

// SyncResult counts what a sync did.
type SyncResult struct {
	Action  models.SyncAction `json:"action"`
	Listed  int               `json:"listed"`
	Created int               `json:"created"`
	Updated int               `json:"updated"`
	Skipped int               `json:"skipped"`
}

// Syncer applies imported records to the tenant's users.
type Syncer struct {
	reader        *Reader
	users         UserStore
	organizations OrganizationStore
	logger        ectologger.Logger
	now           func() time.Time
}

// NewSyncer creates a new user syncer
func NewSyncer(reader *Reader, users UserStore, organizations OrganizationStore, logger ectologger.Logger) *Syncer {
	return &Syncer{
		reader:        reader,
		users:         users,
		organizations: organizations,
		logger:        logger,
		now:           time.Now,
	}
}

// Sync lists the integration's users and creates or updates local users per the manifest action.
func (s *Syncer) Sync(ctx context.Context, integration *models.Integration) (*SyncResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Syncer.Sync")
	defer span.End()

	records, err := s.reader.ListUsers(ctx, integration)
	if err != nil {
		return nil, err
	}

	existing, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{
		Action: integration.Manifest.Data.SyncAction(),
		Listed: len(records),
	}

	withEmail := ectolinq.Filter(records, func(r Record) bool {
		return strings.TrimSpace(r.Email()) != ""
	})
	result.Skipped = len(records) - len(withEmail)

	err = s.users.WithinTx(ctx, func(ctx context.Context) error {
		if result.Action == models.SyncActionUpdate {
			return s.update(ctx, withEmail, existing, result)
		}
		return s.create(ctx, integration, withEmail, existing, result)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": integration.ID,
		"action":         result.Action,
		"created":        result.Created,
		"updated":        result.Updated,
		"skipped":        result.Skipped,
	}).Info("User sync finished")

	return result, nil
}

func (s *Syncer) create(ctx context.Context, integration *models.Integration, records []Record, existing []models.User, result *SyncResult) error {
	known := ectolinq.Map(existing, func(u models.User) string {
		return normalizeEmail(u.Email)
	})

	org, err := s.organizations.GetOrganization(ctx)
	if err != nil {
		return err
	}
	var ignored []string
	if org != nil {
		ignored = ectolinq.Map(org.IgnoredUserEmails.Data, normalizeEmail)
	}

	for _, record := range records {
		email := normalizeEmail(record.Email())
		if ectolinq.Contains(known, email) || ectolinq.Contains(ignored, email) {
			result.Skipped++
			continue
		}

		now := s.now().UTC()
		user := &models.User{
			ID:          uuid.New(),
			TenantID:    integration.TenantID,
			Email:       strings.TrimSpace(record.Email()),
			FirstName:   expressions.Stringify(record["first_name"]),
			LastName:    expressions.Stringify(record["last_name"]),
			IsActive:    false,
			ExtraFields: database.NewJSONB(extraFields(record)),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return err
		}
		known = append(known, email)
		result.Created++
	}
	return nil
}

func (s *Syncer) update(ctx context.Context, records []Record, existing []models.User, result *SyncResult) error {
	byEmail := make(map[string]*models.User, len(existing))
	for i := range existing {
		byEmail[normalizeEmail(existing[i].Email)] = &existing[i]
	}

	for _, record := range records {
		user, ok := byEmail[normalizeEmail(record.Email())]
		if !ok {
			result.Skipped++
			continue
		}

		fields := user.Fields()
		for key, value := range extraFields(record) {
			fields[key] = value
		}
		if err := s.users.UpdateExtraFields(ctx, user.ID, fields); err != nil {
			return err
		}
		result.Updated++
	}
	return nil
}

// extraFields is everything in record that is not a built-in user column.
func extraFields(record Record) map[string]any {
	fields := map[string]any{}
	for key, value := range record {
		switch key {
		case "email", "first_name", "last_name":
			continue
		}
		fields[key] = value
	}
	return fields
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
