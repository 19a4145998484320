package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/expressions"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/placeholders"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	// DefaultRetryDelay is how long a failed run waits before its single retry
	DefaultRetryDelay = time.Hour

	pollingTimedOutPrefix = "Polling timed out: "
)

// Config holds orchestrator settings
type Config struct {
	// BaseURL is this service's public URL, used to build redirect_url
	BaseURL    string
	RetryDelay time.Duration
}

// RunOptions tune a single run.
type RunOptions struct {
	// RetryOnFailure schedules one deferred re-run when the run fails
	RetryOnFailure bool
	// Params are added to the namespace on top of everything else
	Params         map[string]any
	DisableTracing bool
}

// Orchestrator runs a manifest's step lists for an integration and user.
type Orchestrator struct {
	executor  *StepExecutor
	traces    TraceStore
	users     UserStore
	notifier  Notifier
	retries   RetryScheduler
	refresher TokenRefresher
	config    Config
	logger    ectologger.Logger
	now       func() time.Time
}

// NewOrchestrator creates a new orchestrator. refresher may be nil when no integration uses OAuth.
func NewOrchestrator(executor *StepExecutor, traces TraceStore, users UserStore, notifier Notifier, retries RetryScheduler, refresher TokenRefresher, cfg Config, logger ectologger.Logger) *Orchestrator {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Orchestrator{
		executor:  executor,
		traces:    traces,
		users:     users,
		notifier:  notifier,
		retries:   retries,
		refresher: refresher,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Executor returns the step executor runs are made with.
func (o *Orchestrator) Executor() *StepExecutor {
	return o.executor
}

// Prepare checks integration can run and builds the execution context for it.
// A tracker of category is created unless opts disable tracing.
func (o *Orchestrator) Prepare(ctx context.Context, integration *models.Integration, user *models.User, category models.TrackerCategory, opts RunOptions) (*ExecutionContext, error) {
	if err := CheckConfigured(integration); err != nil {
		return nil, err
	}

	ns, err := placeholders.ForRun(integration, user, o.config.BaseURL)
	if err != nil {
		return nil, err
	}
	ns.Add(opts.Params)

	ec := NewExecutionContext(integration, user, ns)
	if opts.DisableTracing {
		return ec, nil
	}

	tracker := &models.Tracker{
		ID:            uuid.New(),
		TenantID:      integration.TenantID,
		IntegrationID: integration.ID,
		ForUserID:     ec.UserID(),
		Category:      category,
		CreatedAt:     o.now().UTC(),
	}
	if err := o.traces.CreateTracker(ctx, tracker); err != nil {
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}
	return ec.WithTracker(tracker), nil
}

// Run executes the integration's execute list for user.
// The returned error is a *NotConfiguredError or an infrastructure failure; every
// remote failure is reported through the RunResult instead.
func (o *Orchestrator) Run(ctx context.Context, integration *models.Integration, user *models.User, opts RunOptions) (*RunResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Orchestrator.Run")
	defer span.End()

	ec, err := o.Prepare(ctx, integration, user, models.TrackerCategoryExecute, opts)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("integration.id", integration.ID.String()))

	return o.runSequence(ctx, ec, models.TrackerCategoryExecute, integration.Manifest.Data.Execute, opts.RetryOnFailure)
}

// Revoke executes the integration's revoke list for user. Revokes never schedule retries.
func (o *Orchestrator) Revoke(ctx context.Context, integration *models.Integration, user *models.User, opts RunOptions) (*RunResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Orchestrator.Revoke")
	defer span.End()

	ec, err := o.Prepare(ctx, integration, user, models.TrackerCategoryRevoke, opts)
	if err != nil {
		return nil, err
	}

	return o.runSequence(ctx, ec, models.TrackerCategoryRevoke, integration.Manifest.Data.Revoke, false)
}

// UserExists runs the exists step and reports whether its response contains the expected text.
func (o *Orchestrator) UserExists(ctx context.Context, integration *models.Integration, user *models.User, opts RunOptions) (*ExistsResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Orchestrator.UserExists")
	defer span.End()

	check := integration.Manifest.Data.Exists
	if check == nil {
		return nil, &NotConfiguredError{IntegrationID: integration.ID, Reason: "manifest has no exists check"}
	}

	ec, err := o.Prepare(ctx, integration, user, models.TrackerCategoryExists, opts)
	if err != nil {
		return nil, err
	}

	if stop, err := o.EnsureFresh(ctx, ec); err != nil {
		return nil, err
	} else if stop != "" {
		return &ExistsResult{Error: stop}, nil
	}

	result, err := o.executor.RunStep(ctx, check.Step, ec)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return &ExistsResult{Error: result.FailureText(ec)}, nil
	}

	expected := ec.Namespace.Replace(check.Expected)
	return &ExistsResult{Exists: strings.Contains(result.Response.Text(), expected)}, nil
}

func (o *Orchestrator) runSequence(ctx context.Context, ec *ExecutionContext, category models.TrackerCategory, steps []models.Step, retryOnFailure bool) (*RunResult, error) {
	start := o.now()

	result, err := o.runSteps(ctx, ec, category, steps, retryOnFailure)
	if err != nil {
		return nil, err
	}

	if ec.Tracker != nil {
		id := ec.Tracker.ID
		result.TrackerID = &id
	}
	metrics.RecordRun(ec.TenantID().String(), string(category), result.Outcome.String(), o.now().Sub(start).Seconds())

	span := tracing.GetActiveSpan(ctx)
	if span != nil && !result.Succeeded() {
		span.SetStatus(codes.Error, result.Outcome.String())
	}

	o.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": ec.Integration.ID,
		"category":       category,
		"outcome":        result.Outcome.String(),
		"steps":          len(ec.Steps),
	}).Info("Run finished")

	return result, nil
}

// EnsureFresh runs the token refresher. A non-empty string means the run must stop
// with that error; the refresher has already notified about it.
func (o *Orchestrator) EnsureFresh(ctx context.Context, ec *ExecutionContext) (string, error) {
	if o.refresher == nil || !ec.Integration.HasOAuth() {
		return "", nil
	}

	err := o.refresher.EnsureFresh(ctx, ec)
	if err == nil {
		return "", nil
	}
	var refreshErr *RefreshError
	if errors.As(err, &refreshErr) {
		return ec.Namespace.Sanitize(refreshErr.Error()), nil
	}
	return "", err
}

func (o *Orchestrator) runSteps(ctx context.Context, ec *ExecutionContext, category models.TrackerCategory, steps []models.Step, retryOnFailure bool) (*RunResult, error) {
	if stop, err := o.EnsureFresh(ctx, ec); err != nil {
		return nil, err
	} else if stop != "" {
		return &RunResult{Outcome: OutcomeFailed, Error: stop, StepIndex: -1}, nil
	}

	var last *StepResult
	for i, step := range steps {
		result, err := o.executor.RunStep(ctx, step, ec)
		if err != nil {
			return nil, err
		}

		if step.Polling != nil {
			poll, err := o.executor.Poll(ctx, step, ec, result)
			if err != nil {
				return nil, err
			}
			result = poll.Last
			if !poll.Met {
				return o.fail(ctx, ec, category, i, step, result, pollingTimedOutPrefix+result.FailureText(ec), retryOnFailure)
			}
		}

		if !result.OK {
			return o.fail(ctx, ec, category, i, step, result, result.FailureText(ec), retryOnFailure)
		}

		if step.Polling == nil && !ConditionMet(step.ContinueIf, result, ec) {
			return o.block(ctx, ec, category, i, step, result)
		}

		if len(step.StoreData) > 0 {
			if reason := o.storeData(ctx, ec, step, result); reason != "" {
				return o.fail(ctx, ec, category, i, step, result, reason, false)
			}
		}

		last = result
	}

	run := &RunResult{Outcome: OutcomeSucceeded, StepIndex: -1}
	if last != nil {
		run.Response = last.Response
	}
	return run, nil
}

// storeData copies values from the response onto the user's extra fields and the namespace.
// Every value is extracted before anything is written. A non-empty return is the failure reason.
func (o *Orchestrator) storeData(ctx context.Context, ec *ExecutionContext, step models.Step, result *StepResult) string {
	body := result.Response.JSONOrEmpty()

	keys := make([]string, 0, len(step.StoreData))
	for key := range step.StoreData {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	stored := make(map[string]any, len(keys))
	for _, key := range keys {
		notation := step.StoreData[key]
		value, err := expressions.ValueFromNotation(body, notation)
		if err != nil {
			shown, encodeErr := ec.Namespace.SanitizeJSON(body)
			if encodeErr != nil {
				shown = ec.Namespace.Sanitize(expressions.Stringify(body))
			}
			return fmt.Sprintf("Could not store data to new hire: %s not found in %s", notation, shown)
		}
		stored[key] = value
	}

	if ec.User != nil {
		current := ec.User.Fields()
		fields := make(map[string]any, len(current)+len(stored))
		for key, value := range current {
			fields[key] = value
		}
		for key, value := range stored {
			fields[key] = value
		}
		if err := o.users.UpdateExtraFields(ctx, ec.User.ID, fields); err != nil {
			o.logger.WithContext(ctx).WithError(err).Error("Failed to store data on user")
			return "Could not store data to new hire: " + err.Error()
		}
		ec.User.ExtraFields = database.NewJSONB(fields)
	}
	ec.Namespace.Add(stored)

	return ""
}

func (o *Orchestrator) fail(ctx context.Context, ec *ExecutionContext, category models.TrackerCategory, index int, step models.Step, result *StepResult, reason string, retryOnFailure bool) (*RunResult, error) {
	run := &RunResult{
		Outcome:   OutcomeFailed,
		Response:  result.Response,
		Error:     reason,
		StepIndex: index,
	}

	o.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": ec.Integration.ID,
		"step":           index,
	}).Warnf("Run failed: %s", reason)

	description := fmt.Sprintf("%s url (%s): %s", categoryLabel(category), step.URL, reason)
	if err := o.notify(ctx, ec, models.NotificationFailedIntegration, description); err != nil {
		return nil, err
	}

	if retryOnFailure && category == models.TrackerCategoryExecute && ec.User != nil {
		if err := o.scheduleRetry(ctx, ec); err != nil {
			return nil, err
		}
		run.RetryScheduled = true
	}

	return run, nil
}

func (o *Orchestrator) block(ctx context.Context, ec *ExecutionContext, category models.TrackerCategory, index int, step models.Step, result *StepResult) (*RunResult, error) {
	reason := fmt.Sprintf("Condition not met: %s is not %s",
		step.ContinueIf.ResponseNotation, ec.Namespace.Sanitize(ec.Namespace.Replace(step.ContinueIf.Value)))

	o.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": ec.Integration.ID,
		"step":           index,
	}).Infof("Run blocked: %s", reason)

	description := fmt.Sprintf("%s url (%s): %s", categoryLabel(category), step.URL, reason)
	if err := o.notify(ctx, ec, models.NotificationBlockedIntegration, description); err != nil {
		return nil, err
	}

	return &RunResult{
		Outcome:   OutcomeBlocked,
		Response:  result.Response,
		Error:     reason,
		StepIndex: index,
	}, nil
}

func (o *Orchestrator) notify(ctx context.Context, ec *ExecutionContext, kind models.NotificationType, description string) error {
	notification := &models.Notification{
		ID:            uuid.New(),
		TenantID:      ec.TenantID(),
		Type:          kind,
		IntegrationID: ec.Integration.ID,
		ExtraText:     ec.Integration.Name,
		Description:   description,
		CreatedForID:  ec.UserID(),
		CreatedAt:     o.now().UTC(),
	}
	if err := o.notifier.Notify(ctx, notification); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

func (o *Orchestrator) scheduleRetry(ctx context.Context, ec *ExecutionContext) error {
	now := o.now().UTC()
	retry := &models.ScheduledRetry{
		ID:            uuid.New(),
		TenantID:      ec.TenantID(),
		IntegrationID: ec.Integration.ID,
		UserID:        ec.User.ID,
		Params:        database.NewJSONB(map[string]any{}),
		RunAt:         now.Add(o.config.RetryDelay),
		CreatedAt:     now,
	}
	if err := o.retries.ScheduleRetry(ctx, retry); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	metrics.RetriesScheduled.Inc()
	return nil
}

func categoryLabel(category models.TrackerCategory) string {
	if category == models.TrackerCategoryRevoke {
		return "Revoke"
	}
	return "Execute"
}
