// Package repositories stores fern's state in Postgres. Every query is scoped to the tenant on the context.
package repositories

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/database"
)

// NotFound builds a 404 for a missing row
func NotFound(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf(format, args...))
}

// Repository holds what every table repository shares
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// exec picks up a transaction opened by WithinTx, falling back to the pool
func (r *Repository) exec(ctx context.Context) database.Executor {
	return database.ExecutorFromContext(ctx, r.db)
}

// WithinTx runs fn in one transaction. Repository calls made with fn's context join it.
func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithTx(ctx, r.logger, r.db, fn)
}

// internal logs err and hides it behind a generic 500
func (r *Repository) internal(ctx context.Context, err error, fields map[string]any, message string) error {
	r.logger.WithContext(ctx).WithError(err).WithFields(fields).Error(message)
	return httperror.NewHTTPError(http.StatusInternalServerError, message)
}

// GetTenantID reads the tenant scope from ctx. A missing or malformed tenant is a 401.
func GetTenantID(ctx context.Context) (uuid.UUID, error) {
	raw := appctx.GetTenantID(ctx)
	if raw == "" {
		return uuid.Nil, httperror.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	tenantID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, httperror.NewHTTPError(http.StatusUnauthorized, "invalid tenant id")
	}
	return tenantID, nil
}
