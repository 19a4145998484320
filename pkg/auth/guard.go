// Package auth keeps integration OAuth tokens usable: it authorizes integrations
// and refreshes their access tokens before runs.
package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/execution"
	"github.com/Ramsey-B/fern/pkg/expressions"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	// OAuthArgsKey is the extra_args entry token responses are stored under
	OAuthArgsKey = "oauth"

	expiresInKey = "expires_in"
)

// IntegrationStore persists an integration's credentials after a token exchange or refresh.
type IntegrationStore interface {
	UpdateCredentials(ctx context.Context, integration *models.Integration) error
}

// Guard refreshes expired access tokens before a run.
type Guard struct {
	executor     *execution.StepExecutor
	integrations IntegrationStore
	notifier     execution.Notifier
	logger       ectologger.Logger
	now          func() time.Time
}

// NewGuard creates a new refresh guard
func NewGuard(executor *execution.StepExecutor, integrations IntegrationStore, notifier execution.Notifier, logger ectologger.Logger) *Guard {
	return &Guard{
		executor:     executor,
		integrations: integrations,
		notifier:     notifier,
		logger:       logger,
		now:          time.Now,
	}
}

// NeedsRefresh reports whether integration holds an expiring token that has expired.
// A token without a stored expiry is treated as expired.
func (g *Guard) NeedsRefresh(integration *models.Integration) bool {
	manifest := integration.Manifest.Data
	if manifest.OAuth == nil || manifest.OAuth.Refresh == nil {
		return false
	}
	if _, ok := integration.OAuthValues()[expiresInKey]; !ok {
		return false
	}
	return integration.Expiring == nil || !integration.Expiring.After(g.now())
}

// EnsureFresh runs the manifest's refresh step when the stored token has expired.
// A rejected refresh is notified about and returned as *execution.RefreshError.
func (g *Guard) EnsureFresh(ctx context.Context, ec *execution.ExecutionContext) error {
	integration := ec.Integration
	if !g.NeedsRefresh(integration) {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "Guard.EnsureFresh")
	defer span.End()

	log := g.logger.WithContext(ctx).WithField("integration_id", integration.ID)
	log.Info("Refreshing OAuth access token")

	result, err := g.executor.RunStep(ctx, *integration.Manifest.Data.OAuth.Refresh, ec)
	if err != nil {
		return err
	}

	if !result.OK || !result.Response.IsJSON {
		reason := result.FailureText(ec)
		metrics.OAuthRefreshes.WithLabelValues(integration.TenantID.String(), "failed").Inc()
		refreshErr := &execution.RefreshError{Reason: reason}
		log.Warnf("OAuth refresh failed: %s", reason)

		if err := g.notifier.Notify(ctx, &models.Notification{
			ID:            uuid.New(),
			TenantID:      integration.TenantID,
			Type:          models.NotificationFailedIntegration,
			IntegrationID: integration.ID,
			ExtraText:     integration.Name,
			Description:   refreshErr.Error(),
			CreatedForID:  ec.UserID(),
			CreatedAt:     g.now().UTC(),
		}); err != nil {
			return fmt.Errorf("failed to send notification: %w", err)
		}
		return refreshErr
	}

	StoreTokenResponse(integration, result.Response.JSON, g.now())
	if err := g.integrations.UpdateCredentials(ctx, integration); err != nil {
		return fmt.Errorf("failed to store refreshed token: %w", err)
	}

	// the refresh response was traced before its new tokens were known
	ec.Namespace.Add(integration.Args())
	if ec.Tracing() {
		if err := g.executor.ResanitizeLastStep(ctx, ec); err != nil {
			return fmt.Errorf("failed to re-sanitize refresh trace: %w", err)
		}
	}

	metrics.OAuthRefreshes.WithLabelValues(integration.TenantID.String(), "success").Inc()
	log.Info("OAuth access token refreshed")
	return nil
}

// StoreTokenResponse merges a token response into extra_args["oauth"] and
// recomputes the expiry from its expires_in.
func StoreTokenResponse(integration *models.Integration, response any, now time.Time) {
	args := integration.Args()
	stored := integration.OAuthValues()
	if stored == nil {
		stored = map[string]any{}
	}
	if values, ok := response.(map[string]any); ok {
		for k, v := range values {
			stored[k] = v
		}
	}
	args[OAuthArgsKey] = stored

	if seconds, ok := expiresIn(stored[expiresInKey]); ok {
		expiring := now.UTC().Add(seconds)
		integration.Expiring = &expiring
	}
}

func expiresIn(value any) (time.Duration, bool) {
	if value == nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(expressions.Stringify(value), 64)
	if err != nil || seconds <= 0 {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}
