package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	// DefaultDLQStream is the default dead letter stream name
	DefaultDLQStream = "fern:dlq"

	// DLQMaxLen caps the stream; oldest entries are trimmed
	DLQMaxLen = 10000
)

// DLQEntry is a job that exhausted its attempts or could not be processed
type DLQEntry struct {
	ID            string                  `json:"id"`
	MessageID     string                  `json:"message_id,omitempty"`
	TenantID      string                  `json:"tenant_id"`
	IntegrationID string                  `json:"integration_id"`
	UserID        string                  `json:"user_id,omitempty"`
	OriginalJob   *JobMessage             `json:"original_job,omitempty"`
	RawPayload    string                  `json:"raw_payload,omitempty"`
	Reason        models.DeadLetterReason `json:"reason"`
	ErrorMessage  string                  `json:"error_message"`
	RetryCount    int                     `json:"retry_count"`
	CreatedAt     time.Time               `json:"created_at"`
	TraceID       string                  `json:"trace_id,omitempty"`
}

// NewDLQEntry builds an entry for a job that could not be completed
func NewDLQEntry(job *JobMessage, reason models.DeadLetterReason, cause error) *DLQEntry {
	entry := &DLQEntry{
		OriginalJob: job,
		Reason:      reason,
	}
	if cause != nil {
		entry.ErrorMessage = cause.Error()
	}
	if job != nil {
		entry.TenantID = job.TenantID
		entry.IntegrationID = job.IntegrationID
		entry.UserID = job.UserID
		entry.RetryCount = job.Attempts
	}
	return entry
}

// DeadLetterQueue stores failed jobs on a capped stream
type DeadLetterQueue struct {
	client     *Client
	streamName string
	logger     ectologger.Logger
}

// NewDeadLetterQueue creates a new dead letter queue handler
func NewDeadLetterQueue(client *Client, streamName string, logger ectologger.Logger) *DeadLetterQueue {
	if streamName == "" {
		streamName = DefaultDLQStream
	}
	return &DeadLetterQueue{
		client:     client,
		streamName: streamName,
		logger:     logger,
	}
}

// Add appends an entry to the dead letter stream
func (d *DeadLetterQueue) Add(ctx context.Context, entry *DLQEntry) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "DLQ.Add")
	defer span.End()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.TraceID = tracing.GetTraceID(ctx)

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to marshal DLQ entry: %w", err)
	}

	messageID, err := d.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: d.streamName,
		MaxLen: DLQMaxLen,
		Approx: true,
		Values: map[string]any{
			payloadField:     string(data),
			"tenant_id":      entry.TenantID,
			"integration_id": entry.IntegrationID,
			"reason":         string(entry.Reason),
		},
	}).Result()
	if err != nil {
		d.logger.WithContext(ctx).WithError(err).Error("Failed to add job to DLQ")
		return "", fmt.Errorf("failed to add to DLQ: %w", err)
	}

	d.logger.WithContext(ctx).Infof("Added job to DLQ: id=%s integration=%s reason=%s", entry.ID, entry.IntegrationID, entry.Reason)
	return messageID, nil
}

// ListByTenant returns the newest entries belonging to tenantID
func (d *DeadLetterQueue) ListByTenant(ctx context.Context, tenantID string, count int64) ([]DLQEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "DLQ.ListByTenant")
	defer span.End()

	if count <= 0 {
		count = 100
	}

	// entries are not indexed by tenant, so over-read and filter
	messages, err := d.client.rdb.XRevRangeN(ctx, d.streamName, "+", "-", count*4).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read DLQ: %w", err)
	}

	entries := ectolinq.Filter(d.decodeAll(ctx, messages), func(entry DLQEntry) bool {
		return entry.TenantID == tenantID
	})
	if int64(len(entries)) > count {
		entries = entries[:count]
	}
	return entries, nil
}

// Get returns the entry with messageID if it belongs to tenantID
func (d *DeadLetterQueue) Get(ctx context.Context, tenantID, messageID string) (*DLQEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "DLQ.Get")
	defer span.End()

	messages, err := d.client.rdb.XRange(ctx, d.streamName, messageID, messageID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get DLQ entry: %w", err)
	}

	entries := d.decodeAll(ctx, messages)
	if len(entries) == 0 || entries[0].TenantID != tenantID {
		return nil, httperror.NewHTTPErrorf(404, "DLQ entry not found: %s", messageID)
	}
	return &entries[0], nil
}

// Delete removes an entry that belongs to tenantID
func (d *DeadLetterQueue) Delete(ctx context.Context, tenantID, messageID string) error {
	ctx, span := tracing.StartSpan(ctx, "DLQ.Delete")
	defer span.End()

	if _, err := d.Get(ctx, tenantID, messageID); err != nil {
		return err
	}

	if err := d.client.rdb.XDel(ctx, d.streamName, messageID).Err(); err != nil {
		return fmt.Errorf("failed to delete DLQ entry: %w", err)
	}

	d.logger.WithContext(ctx).Infof("Deleted DLQ entry: %s", messageID)
	return nil
}

// Retry puts the entry's original job back on the job stream with its attempts reset
func (d *DeadLetterQueue) Retry(ctx context.Context, tenantID, messageID string, jobs *Streams, jobStream string) error {
	ctx, span := tracing.StartSpan(ctx, "DLQ.Retry")
	defer span.End()

	entry, err := d.Get(ctx, tenantID, messageID)
	if err != nil {
		return err
	}
	if entry.OriginalJob == nil {
		return httperror.NewHTTPErrorf(400, "DLQ entry has no original job: %s", messageID)
	}

	job := *entry.OriginalJob
	job.Attempts = 0
	if _, err := jobs.Publish(ctx, jobStream, &job); err != nil {
		return fmt.Errorf("failed to re-enqueue job: %w", err)
	}

	if err := d.client.rdb.XDel(ctx, d.streamName, messageID).Err(); err != nil {
		d.logger.WithContext(ctx).WithError(err).Warn("Failed to delete DLQ entry after retry")
	}

	d.logger.WithContext(ctx).Infof("Retried DLQ entry: %s integration=%s", messageID, entry.IntegrationID)
	return nil
}

func (d *DeadLetterQueue) decodeAll(ctx context.Context, messages []redis.XMessage) []DLQEntry {
	entries := make([]DLQEntry, 0, len(messages))
	for _, msg := range messages {
		data, ok := msg.Values[payloadField].(string)
		if !ok {
			continue
		}

		var entry DLQEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			d.logger.WithContext(ctx).WithError(err).Warnf("Failed to unmarshal DLQ entry: %s", msg.ID)
			continue
		}
		entry.MessageID = msg.ID
		entries = append(entries, entry)
	}
	return entries
}
