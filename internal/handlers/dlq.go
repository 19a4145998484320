package handlers

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/redis"
)

const defaultDLQCount = 100

// DeadLetterStore reads and re-enqueues a tenant's dead-lettered jobs
type DeadLetterStore interface {
	ListByTenant(ctx context.Context, tenantID string, count int64) ([]redis.DLQEntry, error)
	Get(ctx context.Context, tenantID, messageID string) (*redis.DLQEntry, error)
	Delete(ctx context.Context, tenantID, messageID string) error
	Retry(ctx context.Context, tenantID, messageID string, jobs *redis.Streams, jobStream string) error
}

// DLQHandler handles dead letter queue API requests
type DLQHandler struct {
	dlq      DeadLetterStore
	streams  *redis.Streams
	jobQueue string
	logger   ectologger.Logger
}

// NewDLQHandler creates a new DLQ handler
func NewDLQHandler(
	dlq DeadLetterStore,
	streams *redis.Streams,
	jobQueue string,
	logger ectologger.Logger,
) *DLQHandler {
	return &DLQHandler{
		dlq:      dlq,
		streams:  streams,
		jobQueue: jobQueue,
		logger:   logger,
	}
}

// DLQListResponse represents the response for listing DLQ entries
type DLQListResponse struct {
	Entries []redis.DLQEntry `json:"entries"`
	Count   int              `json:"count"`
}

// RegisterRoutes registers the DLQ routes
func (h *DLQHandler) RegisterRoutes(g *echo.Group) {
	dlq := g.Group("/dlq")
	dlq.GET("", h.List)
	dlq.GET("/:id", h.Get)
	dlq.POST("/:id/retry", h.Retry)
	dlq.DELETE("/:id", h.Delete)
}

// List handles GET /dlq?count=
func (h *DLQHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	entries, err := h.dlq.ListByTenant(ctx, tenantID.String(), int64(QueryInt(c, "count", defaultDLQCount)))
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list DLQ entries")
		return err
	}
	if entries == nil {
		entries = []redis.DLQEntry{}
	}

	return SuccessResponse(c, DLQListResponse{
		Entries: entries,
		Count:   len(entries),
	})
}

// Get handles GET /dlq/:id
func (h *DLQHandler) Get(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	entry, err := h.dlq.Get(c.Request().Context(), tenantID.String(), c.Param("id"))
	if err != nil {
		return err
	}

	return SuccessResponse(c, entry)
}

// Retry handles POST /dlq/:id/retry
func (h *DLQHandler) Retry(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	messageID := c.Param("id")
	if err := h.dlq.Retry(ctx, tenantID.String(), messageID, h.streams, h.jobQueue); err != nil {
		h.logger.WithContext(ctx).WithError(err).Errorf("Failed to retry DLQ entry %s", messageID)
		return err
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"status":  "retried",
		"message": "Job re-enqueued successfully",
	})
}

// Delete handles DELETE /dlq/:id
func (h *DLQHandler) Delete(c echo.Context) error {
	tenantID, err := GetTenantID(c)
	if err != nil {
		return err
	}

	if err := h.dlq.Delete(c.Request().Context(), tenantID.String(), c.Param("id")); err != nil {
		return err
	}

	return NoContentResponse(c)
}
