package execution

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

// NotConfiguredError is returned instead of running an integration that is not set up.
type NotConfiguredError struct {
	IntegrationID uuid.UUID
	Reason        string
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("integration %s is not configured: %s", e.IntegrationID, e.Reason)
}

// IsNotConfigured reports whether err is a *NotConfiguredError.
func IsNotConfigured(err error) bool {
	var nce *NotConfiguredError
	return errors.As(err, &nce)
}

// CheckConfigured returns a *NotConfiguredError when integration cannot run.
func CheckConfigured(integration *models.Integration) error {
	if integration == nil {
		return &NotConfiguredError{Reason: "integration does not exist"}
	}
	if !integration.Active {
		return &NotConfiguredError{IntegrationID: integration.ID, Reason: "integration is not active"}
	}
	if integration.HasOAuth() && !integration.EnabledOAuth {
		return &NotConfiguredError{IntegrationID: integration.ID, Reason: "OAuth has not been authorized"}
	}
	return nil
}

// RefreshError is returned by a TokenRefresher when the refresh step failed.
type RefreshError struct {
	Reason string
}

func (e *RefreshError) Error() string {
	return "Refresh url: " + e.Reason
}
