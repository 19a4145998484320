package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/importer"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/queue"
	"github.com/Ramsey-B/fern/pkg/redis"
)

// UserLister pages through an integration's remote users
type UserLister interface {
	ListUsers(ctx context.Context, integration *models.Integration) ([]importer.Record, error)
}

// UserSyncer applies an integration's remote users to local users
type UserSyncer interface {
	Sync(ctx context.Context, integration *models.Integration) (*importer.SyncResult, error)
}

// JobPublisher enqueues background jobs
type JobPublisher interface {
	Publish(ctx context.Context, stream string, job *redis.JobMessage) (string, error)
}

// ImportHandler exposes bulk user import
type ImportHandler struct {
	integrations IntegrationGetter
	reader       UserLister
	syncer       UserSyncer
	jobs         JobPublisher
	jobStream    string
}

// NewImportHandler creates a new import handler. jobs may be nil, which disables ?async=true.
func NewImportHandler(integrations IntegrationGetter, reader UserLister, syncer UserSyncer, jobs JobPublisher, jobStream string) *ImportHandler {
	return &ImportHandler{
		integrations: integrations,
		reader:       reader,
		syncer:       syncer,
		jobs:         jobs,
		jobStream:    jobStream,
	}
}

// ImportUsersResponse lists imported records
type ImportUsersResponse struct {
	Users []importer.Record `json:"users"`
	Count int               `json:"count"`
}

// RegisterRoutes registers the import routes
func (h *ImportHandler) RegisterRoutes(g *echo.Group) {
	imports := g.Group("/integrations/:id/import")
	imports.GET("/users", h.ListUsers)
	imports.POST("/sync", h.Sync)
}

func (h *ImportHandler) integration(c echo.Context) (*models.Integration, error) {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return nil, err
	}
	return h.integrations.GetByID(c.Request().Context(), id)
}

// ListUsers handles GET /integrations/:id/import/users
func (h *ImportHandler) ListUsers(c echo.Context) error {
	integration, err := h.integration(c)
	if err != nil {
		return err
	}

	records, err := h.reader.ListUsers(c.Request().Context(), integration)
	if err != nil {
		return engineError(err)
	}
	if records == nil {
		records = []importer.Record{}
	}

	return SuccessResponse(c, ImportUsersResponse{Users: records, Count: len(records)})
}

// Sync handles POST /integrations/:id/import/sync. With ?async=true the sync is queued instead.
func (h *ImportHandler) Sync(c echo.Context) error {
	integration, err := h.integration(c)
	if err != nil {
		return err
	}

	if QueryBool(c, "async") {
		if h.jobs == nil {
			return BadRequest("background jobs are not available")
		}
		job := queue.NewSyncJob(integration.TenantID, integration.ID)
		if _, err := h.jobs.Publish(c.Request().Context(), h.jobStream, job); err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, map[string]string{"job_id": job.ID})
	}

	result, err := h.syncer.Sync(c.Request().Context(), integration)
	if err != nil {
		return engineError(err)
	}
	return SuccessResponse(c, result)
}
