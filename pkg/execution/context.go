package execution

import (
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/placeholders"
)

// ExecutionContext is the state of one run, threaded through every step.
// It is owned by a single goroutine and is not safe for concurrent use.
type ExecutionContext struct {
	Integration *models.Integration
	// User is nil for runs without a user, such as imports
	User      *models.User
	Namespace *placeholders.Namespace
	// Responses holds every step response in order, {} for non-JSON bodies
	Responses []any
	// Files holds save_as_file payloads by name
	Files map[string][]byte
	// Tracker is nil when tracing is disabled
	Tracker *models.Tracker
	Steps   []*models.TrackerStep
}

// NewExecutionContext creates a context for integration, optionally on behalf of user.
func NewExecutionContext(integration *models.Integration, user *models.User, ns *placeholders.Namespace) *ExecutionContext {
	return &ExecutionContext{
		Integration: integration,
		User:        user,
		Namespace:   ns,
		Files:       map[string][]byte{},
	}
}

// WithTracker enables tracing into tracker.
func (c *ExecutionContext) WithTracker(tracker *models.Tracker) *ExecutionContext {
	c.Tracker = tracker
	return c
}

func (c *ExecutionContext) Tracing() bool {
	return c.Tracker != nil
}

func (c *ExecutionContext) TenantID() uuid.UUID {
	return c.Integration.TenantID
}

// UserID returns the run's user id, nil without a user.
func (c *ExecutionContext) UserID() *uuid.UUID {
	if c.User == nil {
		return nil
	}
	id := c.User.ID
	return &id
}

// LastStep returns the most recently recorded trace step.
func (c *ExecutionContext) LastStep() *models.TrackerStep {
	if len(c.Steps) == 0 {
		return nil
	}
	return c.Steps[len(c.Steps)-1]
}

// LastResponse returns the most recent response body, nil before the first step.
func (c *ExecutionContext) LastResponse() any {
	if len(c.Responses) == 0 {
		return nil
	}
	return c.Responses[len(c.Responses)-1]
}
