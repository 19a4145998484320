// Package importer reads users from an integration's paginated list endpoint
// and applies them to the tenant's users.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/execution"
	"github.com/Ramsey-B/fern/pkg/expressions"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const paginatedFetchPrefix = "Paginated URL fetch: "

// Record is one imported user, keyed by data_structure field names.
type Record map[string]any

// Email returns the record's email field, "" when absent.
func (r Record) Email() string {
	return expressions.Stringify(r["email"])
}

// Reader fetches user records page by page.
type Reader struct {
	orchestrator *execution.Orchestrator
	logger       ectologger.Logger
}

// NewReader creates a new import reader
func NewReader(orchestrator *execution.Orchestrator, logger ectologger.Logger) *Reader {
	return &Reader{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// ListUsers returns every record the integration's list endpoint yields, first page first.
// It never returns a partial list: a failed page fails the whole call.
func (r *Reader) ListUsers(ctx context.Context, integration *models.Integration) ([]Record, error) {
	ctx, span := tracing.StartSpan(ctx, "Reader.ListUsers")
	defer span.End()

	manifest := integration.Manifest.Data
	step, ok := manifest.ListStep()
	if !ok {
		return nil, &execution.NotConfiguredError{IntegrationID: integration.ID, Reason: "manifest has no list step"}
	}

	ec, err := r.orchestrator.Prepare(ctx, integration, nil, models.TrackerCategoryImport, execution.RunOptions{})
	if err != nil {
		return nil, err
	}
	if stop, err := r.orchestrator.EnsureFresh(ctx, ec); err != nil {
		return nil, err
	} else if stop != "" {
		return nil, &FailedPaginatedResponseError{Text: stop}
	}

	start := time.Now()
	executor := r.orchestrator.Executor()
	log := r.logger.WithContext(ctx).WithField("integration_id", integration.ID)

	result, err := executor.RunStep(ctx, step, ec)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, &FailedPaginatedResponseError{Text: result.FailureText(ec)}
	}

	page, err := r.extract(ec, result.Response, &manifest)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	markSeen(page, seen)
	records := page
	pages := 1

	for pages < manifest.PagesToFetch() {
		next := nextPageStep(ec, result.Response, &manifest)
		if next == nil {
			break
		}

		result, err = executor.RunStep(ctx, *next, ec)
		if err != nil {
			return nil, err
		}
		if !result.OK {
			return nil, &FailedPaginatedResponseError{Text: paginatedFetchPrefix + result.FailureText(ec)}
		}
		pages++

		page, err = r.extract(ec, result.Response, &manifest)
		var keyErr *KeyNotInDataError
		if errors.As(err, &keyErr) {
			log.Warnf("Stopping import at page %d: %s", pages, keyErr.Error())
			break
		}
		if err != nil {
			return nil, err
		}

		if !markSeen(page, seen) {
			log.Debugf("Page %d repeated earlier records, ending import", pages)
			break
		}
		records = append(records, page...)
	}

	metrics.RecordImport(integration.TenantID.String(), len(records), pages)
	log.WithFields(map[string]any{
		"records":     len(records),
		"pages":       pages,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Import listed users")

	return records, nil
}

// extract pulls the record list out of one page and maps it through data_structure.
func (r *Reader) extract(ec *execution.ExecutionContext, resp *httpclient.Response, manifest *models.Manifest) ([]Record, error) {
	if !resp.IsJSON {
		return nil, &DataNotJSONError{Text: ec.Namespace.Sanitize(resp.Text())}
	}

	raw, err := expressions.ValueFromNotation(resp.JSON, manifest.DataFrom)
	items, isList := raw.([]any)
	if err != nil || !isList {
		return nil, &KeyNotInDataError{
			Notation: manifest.DataFrom,
			Data:     resp.SanitizedText(ec.Namespace),
		}
	}

	records := make([]Record, 0, len(items))
	for i, item := range items {
		records = append(records, r.mapRecord(i, item, manifest.DataStructure))
	}
	return records, nil
}

// mapRecord applies structure to item. Fields that do not resolve are left out.
func (r *Reader) mapRecord(index int, item any, structure map[string]string) Record {
	if len(structure) == 0 {
		if m, ok := item.(map[string]any); ok {
			return Record(m)
		}
		return Record{"value": item}
	}

	record := make(Record, len(structure))
	for field, notation := range structure {
		value, err := expressions.ValueFromNotation(item, notation)
		if err != nil {
			r.logger.WithFields(map[string]any{
				"record": index,
				"field":  field,
			}).Debugf("Field %s not in record", notation)
			continue
		}
		record[field] = value
	}
	return record
}

// nextPageStep builds the request for the following page, nil when there is none.
func nextPageStep(ec *execution.ExecutionContext, resp *httpclient.Response, manifest *models.Manifest) *models.Step {
	if manifest.NextPageFrom != "" {
		next, err := expressions.StringFromNotation(resp.JSONOrEmpty(), manifest.NextPageFrom)
		if err != nil || next == "" {
			return nil
		}
		return &models.Step{URL: next, Method: http.MethodGet}
	}

	if manifest.NextPage != "" && manifest.NextPageTokenFrom != "" {
		token, err := expressions.StringFromNotation(resp.JSONOrEmpty(), manifest.NextPageTokenFrom)
		if err != nil || token == "" {
			return nil
		}
		ec.Namespace.Set(models.NextPageTokenKey, token)
		return &models.Step{URL: manifest.NextPage, Method: http.MethodGet}
	}

	return nil
}

// markSeen records every item of page in seen and reports whether any of them
// was absent from the pages before it. Repeats within page do not count.
func markSeen(page []Record, seen map[string]bool) bool {
	keys := make([]string, 0, len(page))
	fresh := false
	for _, record := range page {
		key, err := json.Marshal(record)
		if err != nil {
			key = []byte(uuid.NewString())
		}
		if !seen[string(key)] {
			fresh = true
		}
		keys = append(keys, string(key))
	}
	for _, key := range keys {
		seen[key] = true
	}
	return fresh
}
