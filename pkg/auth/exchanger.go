package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/execution"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/placeholders"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// CodeKey is the namespace key the authorization code is available under
const CodeKey = "code"

// Exchanger runs the OAuth authorization code flow declared by a manifest.
type Exchanger struct {
	executor     *execution.StepExecutor
	traces       execution.TraceStore
	integrations IntegrationStore
	baseURL      string
	logger       ectologger.Logger
	now          func() time.Time
}

// NewExchanger creates a new code exchanger
func NewExchanger(executor *execution.StepExecutor, traces execution.TraceStore, integrations IntegrationStore, baseURL string, logger ectologger.Logger) *Exchanger {
	return &Exchanger{
		executor:     executor,
		traces:       traces,
		integrations: integrations,
		baseURL:      baseURL,
		logger:       logger,
		now:          time.Now,
	}
}

// AuthorizeURL resolves the manifest's authenticate_url for the admin to be redirected to.
func (e *Exchanger) AuthorizeURL(integration *models.Integration) (string, error) {
	oauth := integration.Manifest.Data.OAuth
	if oauth == nil || oauth.AuthenticateURL == "" {
		return "", httperror.NewHTTPError(http.StatusBadRequest, "integration does not use OAuth")
	}

	ns, err := placeholders.ForRun(integration, nil, e.baseURL)
	if err != nil {
		return "", err
	}
	return ns.Replace(oauth.AuthenticateURL), nil
}

// Exchange trades code for tokens with the access_token step and enables OAuth on success.
func (e *Exchanger) Exchange(ctx context.Context, integration *models.Integration, code string) error {
	ctx, span := tracing.StartSpan(ctx, "Exchanger.Exchange")
	defer span.End()

	oauth := integration.Manifest.Data.OAuth
	if oauth == nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "integration does not use OAuth")
	}
	if code == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "code is required")
	}

	ns, err := placeholders.ForRun(integration, nil, e.baseURL)
	if err != nil {
		return err
	}
	ns.Set(CodeKey, code)

	tracker := &models.Tracker{
		ID:            uuid.New(),
		TenantID:      integration.TenantID,
		IntegrationID: integration.ID,
		Category:      models.TrackerCategoryOAuth,
		CreatedAt:     e.now().UTC(),
	}
	if err := e.traces.CreateTracker(ctx, tracker); err != nil {
		return fmt.Errorf("failed to create tracker: %w", err)
	}
	ec := execution.NewExecutionContext(integration, nil, ns).WithTracker(tracker)

	result, err := e.executor.RunStep(ctx, oauth.AccessToken, ec)
	if err != nil {
		return err
	}
	if !result.OK || !result.Response.IsJSON {
		return httperror.NewHTTPErrorf(http.StatusBadGateway, "Access token url: %s", result.FailureText(ec))
	}

	StoreTokenResponse(integration, result.Response.JSON, e.now())
	integration.EnabledOAuth = true
	if err := e.integrations.UpdateCredentials(ctx, integration); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}

	ns.Add(integration.Args())
	if err := e.executor.ResanitizeLastStep(ctx, ec); err != nil {
		return fmt.Errorf("failed to re-sanitize token trace: %w", err)
	}

	e.logger.WithContext(ctx).WithField("integration_id", integration.ID).Info("OAuth authorized")
	return nil
}
