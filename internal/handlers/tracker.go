package handlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
)

const defaultTrackerLimit = 50

// TrackerReader reads execution traces
type TrackerReader interface {
	GetTracker(ctx context.Context, id uuid.UUID) (*models.Tracker, error)
	ListByIntegration(ctx context.Context, integrationID uuid.UUID, limit int) ([]models.Tracker, error)
	ListSteps(ctx context.Context, trackerID uuid.UUID) ([]models.TrackerStep, error)
}

// TrackerHandler exposes execution traces
type TrackerHandler struct {
	trackers TrackerReader
}

// NewTrackerHandler creates a new tracker handler
func NewTrackerHandler(trackers TrackerReader) *TrackerHandler {
	return &TrackerHandler{trackers: trackers}
}

// TrackerStepsResponse is a tracker with its ordered steps
type TrackerStepsResponse struct {
	Tracker *models.Tracker      `json:"tracker"`
	Steps   []models.TrackerStep `json:"steps"`
}

// RegisterRoutes registers the tracker routes
func (h *TrackerHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/integrations/:id/trackers", h.ListByIntegration)
	g.GET("/trackers/:id/steps", h.ListSteps)
}

// ListByIntegration handles GET /integrations/:id/trackers?limit=
func (h *TrackerHandler) ListByIntegration(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	trackers, err := h.trackers.ListByIntegration(c.Request().Context(), id, QueryInt(c, "limit", defaultTrackerLimit))
	if err != nil {
		return err
	}
	if trackers == nil {
		trackers = []models.Tracker{}
	}
	return SuccessResponse(c, trackers)
}

// ListSteps handles GET /trackers/:id/steps
func (h *TrackerHandler) ListSteps(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	tracker, err := h.trackers.GetTracker(ctx, id)
	if err != nil {
		return err
	}
	steps, err := h.trackers.ListSteps(ctx, id)
	if err != nil {
		return err
	}
	if steps == nil {
		steps = []models.TrackerStep{}
	}

	return SuccessResponse(c, TrackerStepsResponse{Tracker: tracker, Steps: steps})
}
