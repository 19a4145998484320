package handlers

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

// IntegrationStore is the tenant-scoped integration persistence
type IntegrationStore interface {
	Create(ctx context.Context, integration *models.Integration) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Integration, error)
	List(ctx context.Context) ([]models.Integration, error)
	Update(ctx context.Context, integration *models.Integration) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// IntegrationHandler handles integration CRUD requests
type IntegrationHandler struct {
	repo IntegrationStore
}

// NewIntegrationHandler creates a new integration handler
func NewIntegrationHandler(repo IntegrationStore) *IntegrationHandler {
	return &IntegrationHandler{
		repo: repo,
	}
}

// CreateIntegrationRequest is the request body for creating an integration
type CreateIntegrationRequest struct {
	Name      string          `json:"name"`
	Manifest  models.Manifest `json:"manifest"`
	ExtraArgs map[string]any  `json:"extra_args,omitempty"`
	Active    *bool           `json:"active,omitempty"`
}

// UpdateIntegrationRequest is the request body for updating an integration.
// ExtraArgs entries are merged into the stored arguments; a null value removes the key.
type UpdateIntegrationRequest struct {
	Name      *string          `json:"name,omitempty"`
	Manifest  *models.Manifest `json:"manifest,omitempty"`
	ExtraArgs map[string]any   `json:"extra_args,omitempty"`
	Active    *bool            `json:"active,omitempty"`
}

// IntegrationResponse is an integration as the API shows it. Argument values are secrets, so only their keys are listed.
type IntegrationResponse struct {
	*models.Integration
	ArgKeys []string `json:"arg_keys"`
}

func newIntegrationResponse(integration *models.Integration) IntegrationResponse {
	keys := make([]string, 0, len(integration.Args()))
	for key := range integration.Args() {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return IntegrationResponse{Integration: integration, ArgKeys: keys}
}

// RegisterRoutes registers the integration routes
func (h *IntegrationHandler) RegisterRoutes(g *echo.Group) {
	integrations := g.Group("/integrations")
	integrations.POST("", h.Create)
	integrations.GET("", h.List)
	integrations.GET("/:id", h.Get)
	integrations.PUT("/:id", h.Update)
	integrations.DELETE("/:id", h.Delete)
}

// Create handles POST /integrations
func (h *IntegrationHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := BindRequest[CreateIntegrationRequest](c)
	if err != nil {
		return err
	}
	if req.Name == "" {
		return BadRequest("name is required")
	}
	if err := req.Manifest.Validate(); err != nil {
		return BadRequest(err.Error())
	}

	args := req.ExtraArgs
	if args == nil {
		args = map[string]any{}
	}
	integration := &models.Integration{
		ID:        uuid.New(),
		Name:      req.Name,
		Manifest:  database.NewJSONB(req.Manifest),
		ExtraArgs: database.NewJSONB(args),
		Active:    req.Active == nil || *req.Active,
	}

	if err := h.repo.Create(ctx, integration); err != nil {
		return err
	}

	return CreatedResponse(c, newIntegrationResponse(integration))
}

// List handles GET /integrations
func (h *IntegrationHandler) List(c echo.Context) error {
	integrations, err := h.repo.List(c.Request().Context())
	if err != nil {
		return err
	}

	resp := make([]IntegrationResponse, 0, len(integrations))
	for i := range integrations {
		resp = append(resp, newIntegrationResponse(&integrations[i]))
	}
	return SuccessResponse(c, resp)
}

// Get handles GET /integrations/:id
func (h *IntegrationHandler) Get(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	integration, err := h.repo.GetByID(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, newIntegrationResponse(integration))
}

// Update handles PUT /integrations/:id
func (h *IntegrationHandler) Update(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	req, err := BindRequest[UpdateIntegrationRequest](c)
	if err != nil {
		return err
	}

	existing, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if req.Name != nil {
		if *req.Name == "" {
			return BadRequest("name cannot be empty")
		}
		existing.Name = *req.Name
	}
	if req.Manifest != nil {
		if err := req.Manifest.Validate(); err != nil {
			return BadRequest(err.Error())
		}
		existing.Manifest = database.NewJSONB(*req.Manifest)
	}
	if req.Active != nil {
		existing.Active = *req.Active
	}
	args := existing.Args()
	for key, value := range req.ExtraArgs {
		if value == nil {
			delete(args, key)
			continue
		}
		args[key] = value
	}

	if err := h.repo.Update(ctx, existing); err != nil {
		return err
	}

	return SuccessResponse(c, newIntegrationResponse(existing))
}

// Delete handles DELETE /integrations/:id
func (h *IntegrationHandler) Delete(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.repo.Delete(c.Request().Context(), id); err != nil {
		return err
	}

	return NoContentResponse(c)
}
