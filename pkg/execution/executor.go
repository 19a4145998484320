package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/placeholders"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const fileTextPlaceholder = "Cannot display, could be file"

// StepResult is the outcome of one HTTP attempt.
type StepResult struct {
	OK       bool
	Response *httpclient.Response
	// Error is the sanitized, human-readable failure, empty when OK
	Error string
}

// FailureText is what a notification or trace shows for a failed attempt.
func (r *StepResult) FailureText(ec *ExecutionContext) string {
	if r.Error != "" {
		return r.Error
	}
	if r.Response == nil {
		return ""
	}
	return r.Response.SanitizedText(ec.Namespace)
}

// StepExecutor issues one manifest step per call and records it in the trace.
type StepExecutor struct {
	client  *httpclient.Client
	builder *httpclient.RequestBuilder
	traces  TraceStore
	logger  ectologger.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewStepExecutor creates a new step executor
func NewStepExecutor(client *httpclient.Client, traces TraceStore, logger ectologger.Logger) *StepExecutor {
	return &StepExecutor{
		client:  client,
		builder: httpclient.NewRequestBuilder(),
		traces:  traces,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// RunStep resolves and sends step. Request problems never surface as errors: they are
// reported through StepResult. The returned error is reserved for a trace that could not be stored.
func (e *StepExecutor) RunStep(ctx context.Context, step models.Step, ec *ExecutionContext) (*StepResult, error) {
	ctx, span := tracing.StartSpan(ctx, "StepExecutor.RunStep")
	defer span.End()

	ns := ec.Namespace
	prepared, err := e.builder.Build(step, ec.Integration.Manifest.Data.Headers, ns, ec.Files)
	if err != nil {
		result := &StepResult{Error: ns.Sanitize(buildErrorText(err))}
		span.SetStatus(codes.Error, "request could not be built")
		e.logger.WithContext(ctx).WithFields(map[string]any{
			"integration_id": ec.Integration.ID,
			"method":         prepared.Method,
		}).Warnf("Step could not be sent: %s", result.Error)

		if err := e.record(ctx, ec, prepared, nil, result, step); err != nil {
			return nil, err
		}
		return result, nil
	}

	span.SetAttributes(attribute.String("http.method", prepared.Method))

	start := time.Now()
	resp, err := e.client.Send(ctx, prepared)
	duration := time.Since(start)

	result := &StepResult{Response: resp, OK: true}
	if err != nil {
		kind := httpclient.Classify(err)
		metrics.RecordTransportError(kind.Kind.String())
		metrics.RecordStepRequest(prepared.Method, httpclient.StatusClass(0), duration.Seconds())
		result.OK = false
		result.Error = kind.Kind.Message()
		span.SetStatus(codes.Error, result.Error)
	} else {
		metrics.RecordStepRequest(prepared.Method, httpclient.StatusClass(resp.StatusCode), duration.Seconds())
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		if !step.AllowsStatus(resp.StatusCode) {
			result.OK = false
			result.Error = fmt.Sprintf("Incorrect status code (%d): %s", resp.StatusCode, resp.SanitizedText(ns))
			span.SetStatus(codes.Error, "unexpected status code")
		}
	}

	if err := e.record(ctx, ec, prepared, resp, result, step); err != nil {
		return nil, err
	}

	if resp != nil && step.SaveAsFile != "" {
		ec.Files[step.SaveAsFile] = resp.Body
	}
	if resp != nil {
		ec.Responses = append(ec.Responses, resp.JSONOrEmpty())
	}

	return result, nil
}

func buildErrorText(err error) string {
	var missing *httpclient.MissingFileError
	if errors.As(err, &missing) {
		return missing.Error()
	}
	return httpclient.Classify(err).Error()
}

// record appends a sanitized trace step when tracing is enabled.
func (e *StepExecutor) record(ctx context.Context, ec *ExecutionContext, prepared *httpclient.PreparedRequest, resp *httpclient.Response, result *StepResult, step models.Step) error {
	if !ec.Tracing() {
		return nil
	}

	ns := ec.Namespace

	traceStep := &models.TrackerStep{
		ID:           uuid.New(),
		TenantID:     ec.Tracker.TenantID,
		TrackerID:    ec.Tracker.ID,
		Position:     len(ec.Steps),
		URL:          ns.Sanitize(prepared.URL),
		Method:       prepared.Method,
		PostData:     sanitizeBody(ns, prepared.PostData),
		Headers:      sanitizeHeaders(ns, prepared.Headers),
		JSONResponse: database.NewJSONB[any](map[string]any{}),
		Error:        result.Error,
		CreatedAt:    time.Now().UTC(),
	}

	if resp != nil {
		traceStep.StatusCode = resp.StatusCode
		traceStep.JSONResponse = database.NewJSONB(ns.SanitizeValue(resp.JSONOrEmpty()))
	}

	switch {
	case step.SaveAsFile != "":
		traceStep.TextResponse = fileTextPlaceholder
	case resp != nil && resp.IsJSON:
		traceStep.TextResponse = ""
	case result.Error != "":
		traceStep.TextResponse = result.Error
	case resp != nil:
		traceStep.TextResponse = resp.SanitizedText(ns)
	}

	if err := e.traces.AddStep(ctx, traceStep); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to record trace step")
		return fmt.Errorf("failed to record trace step: %w", err)
	}
	ec.Steps = append(ec.Steps, traceStep)
	return nil
}

// ResanitizeLastStep sanitizes the last recorded step again with the current namespace.
func (e *StepExecutor) ResanitizeLastStep(ctx context.Context, ec *ExecutionContext) error {
	last := ec.LastStep()
	if last == nil {
		return nil
	}

	ns := ec.Namespace
	last.URL = ns.Sanitize(last.URL)
	last.PostData = sanitizeBody(ns, last.PostData)
	last.Headers = resanitizeHeaders(ns, last.Headers)
	last.JSONResponse = database.NewJSONB(ns.SanitizeValue(last.JSONResponse.Data))
	last.TextResponse = ns.Sanitize(last.TextResponse)
	last.Error = ns.Sanitize(last.Error)

	return e.traces.UpdateStep(ctx, last)
}

// sanitizeHeaders encodes headers for the trace with every name and value redacted
func sanitizeHeaders(ns *placeholders.Namespace, headers map[string]string) string {
	values := make(map[string]any, len(headers))
	for name, value := range headers {
		values[name] = value
	}
	text, err := ns.SanitizeJSON(values)
	if err != nil {
		return "{}"
	}
	return text
}

// resanitizeHeaders redacts headers stored by sanitizeHeaders again
func resanitizeHeaders(ns *placeholders.Namespace, stored string) string {
	var headers map[string]string
	if err := json.Unmarshal([]byte(stored), &headers); err != nil {
		return ns.Sanitize(stored)
	}
	return sanitizeHeaders(ns, headers)
}

// sanitizeBody redacts a request body. JSON bodies are redacted value by value.
func sanitizeBody(ns *placeholders.Namespace, body string) string {
	if body == "" {
		return ""
	}
	decoded, err := httpclient.DecodeJSON([]byte(body))
	if err != nil {
		return ns.Sanitize(body)
	}
	text, err := ns.SanitizeJSON(decoded)
	if err != nil {
		return ns.Sanitize(body)
	}
	return text
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
