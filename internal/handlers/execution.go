package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/execution"
	"github.com/Ramsey-B/fern/pkg/models"
)

// IntegrationGetter loads a tenant's integration
type IntegrationGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Integration, error)
}

// UserGetter loads a tenant's user
type UserGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Runner runs manifest step lists
type Runner interface {
	Run(ctx context.Context, integration *models.Integration, user *models.User, opts execution.RunOptions) (*execution.RunResult, error)
	Revoke(ctx context.Context, integration *models.Integration, user *models.User, opts execution.RunOptions) (*execution.RunResult, error)
	UserExists(ctx context.Context, integration *models.Integration, user *models.User, opts execution.RunOptions) (*execution.ExistsResult, error)
}

// ExecutionHandler runs an integration for one user
type ExecutionHandler struct {
	integrations IntegrationGetter
	users        UserGetter
	runner       Runner
	logger       ectologger.Logger
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(integrations IntegrationGetter, users UserGetter, runner Runner, logger ectologger.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		integrations: integrations,
		users:        users,
		runner:       runner,
		logger:       logger,
	}
}

// ExecuteRequest carries optional extra placeholder values for one run
type ExecuteRequest struct {
	Params map[string]any `json:"params,omitempty"`
}

// RegisterRoutes registers the execution routes
func (h *ExecutionHandler) RegisterRoutes(g *echo.Group) {
	users := g.Group("/integrations/:id/users/:user_id")
	users.POST("/execute", h.Execute)
	users.POST("/revoke", h.Revoke)
	users.GET("/exists", h.Exists)
}

func (h *ExecutionHandler) load(c echo.Context) (context.Context, *models.Integration, *models.User, error) {
	integrationID, err := ParseUUID(c, "id")
	if err != nil {
		return nil, nil, nil, err
	}
	userID, err := ParseUUID(c, "user_id")
	if err != nil {
		return nil, nil, nil, err
	}

	ctx := appctx.SetIntegrationID(c.Request().Context(), integrationID.String())

	integration, err := h.integrations.GetByID(ctx, integrationID)
	if err != nil {
		return nil, nil, nil, err
	}
	user, err := h.users.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, nil, err
	}
	return ctx, integration, user, nil
}

func bindParams(c echo.Context) (map[string]any, error) {
	if c.Request().ContentLength == 0 {
		return nil, nil
	}
	req, err := BindRequest[ExecuteRequest](c)
	if err != nil {
		return nil, err
	}
	return req.Params, nil
}

// Execute handles POST /integrations/:id/users/:user_id/execute
func (h *ExecutionHandler) Execute(c echo.Context) error {
	ctx, integration, user, err := h.load(c)
	if err != nil {
		return err
	}
	params, err := bindParams(c)
	if err != nil {
		return err
	}

	result, err := h.runner.Run(ctx, integration, user, execution.RunOptions{
		RetryOnFailure: QueryBool(c, "retry_on_failure"),
		Params:         params,
	})
	if err != nil {
		return engineError(err)
	}

	h.logger.WithContext(ctx).WithField("outcome", result.Outcome.String()).Info("Integration executed")
	return SuccessResponse(c, result)
}

// Revoke handles POST /integrations/:id/users/:user_id/revoke
func (h *ExecutionHandler) Revoke(c echo.Context) error {
	ctx, integration, user, err := h.load(c)
	if err != nil {
		return err
	}
	params, err := bindParams(c)
	if err != nil {
		return err
	}

	result, err := h.runner.Revoke(ctx, integration, user, execution.RunOptions{Params: params})
	if err != nil {
		return engineError(err)
	}

	h.logger.WithContext(ctx).WithField("outcome", result.Outcome.String()).Info("Integration revoked")
	return SuccessResponse(c, result)
}

// Exists handles GET /integrations/:id/users/:user_id/exists
func (h *ExecutionHandler) Exists(c echo.Context) error {
	ctx, integration, user, err := h.load(c)
	if err != nil {
		return err
	}

	result, err := h.runner.UserExists(ctx, integration, user, execution.RunOptions{})
	if err != nil {
		return engineError(err)
	}
	return SuccessResponse(c, result)
}
