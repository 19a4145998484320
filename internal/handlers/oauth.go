package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
)

// OAuthFlow runs the authorization code flow of an integration
type OAuthFlow interface {
	AuthorizeURL(integration *models.Integration) (string, error)
	Exchange(ctx context.Context, integration *models.Integration, code string) error
}

// OAuthHandler authorizes integrations against their provider
type OAuthHandler struct {
	integrations IntegrationGetter
	flow         OAuthFlow
}

// NewOAuthHandler creates a new OAuth handler
func NewOAuthHandler(integrations IntegrationGetter, flow OAuthFlow) *OAuthHandler {
	return &OAuthHandler{
		integrations: integrations,
		flow:         flow,
	}
}

// RegisterRoutes registers the OAuth routes
func (h *OAuthHandler) RegisterRoutes(g *echo.Group) {
	oauth := g.Group("/integrations/:id/oauth")
	oauth.GET("", h.Authorize)
	oauth.GET("/callback", h.Callback)
}

// Authorize handles GET /integrations/:id/oauth by redirecting to the provider
func (h *OAuthHandler) Authorize(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	integration, err := h.integrations.GetByID(c.Request().Context(), id)
	if err != nil {
		return err
	}

	url, err := h.flow.AuthorizeURL(integration)
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusFound, url)
}

// Callback handles GET /integrations/:id/oauth/callback?code=...
func (h *OAuthHandler) Callback(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	if providerErr := c.QueryParam("error"); providerErr != "" {
		return BadRequest("authorization was denied: " + providerErr)
	}

	integration, err := h.integrations.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := h.flow.Exchange(ctx, integration, c.QueryParam("code")); err != nil {
		return err
	}

	return SuccessResponse(c, map[string]any{
		"integration_id": integration.ID,
		"enabled_oauth":  integration.EnabledOAuth,
		"expiring":       integration.Expiring,
	})
}
