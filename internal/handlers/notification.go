package handlers

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
)

const defaultNotificationLimit = 100

// NotificationLister lists a tenant's notifications, newest first
type NotificationLister interface {
	List(ctx context.Context, limit int) ([]models.Notification, error)
}

// NotificationHandler exposes run notifications
type NotificationHandler struct {
	notifications NotificationLister
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(notifications NotificationLister) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// RegisterRoutes registers the notification routes
func (h *NotificationHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications", h.List)
}

// List handles GET /notifications?limit=
func (h *NotificationHandler) List(c echo.Context) error {
	notifications, err := h.notifications.List(c.Request().Context(), QueryInt(c, "limit", defaultNotificationLimit))
	if err != nil {
		return err
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	return SuccessResponse(c, notifications)
}
