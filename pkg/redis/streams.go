package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// JobType identifies what a worker does with a job
type JobType string

const (
	// JobTypeIntegrationRetry re-runs a failed execute sequence for one user
	JobTypeIntegrationRetry JobType = "integration_retry"
	// JobTypeIntegrationSync imports users from an integration's list endpoint
	JobTypeIntegrationSync JobType = "integration_sync"
)

const payloadField = "data"

// JobMessage is a unit of background work on the job stream
type JobMessage struct {
	ID            string         `json:"id"`
	Type          JobType        `json:"type"`
	TenantID      string         `json:"tenant_id"`
	IntegrationID string         `json:"integration_id"`
	UserID        string         `json:"user_id,omitempty"`
	RetryID       string         `json:"retry_id,omitempty"`
	Params        map[string]any `json:"params,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	Attempts      int            `json:"attempts"`
}

// Validate checks the fields every job needs
func (j *JobMessage) Validate() error {
	if j.TenantID == "" || j.IntegrationID == "" {
		return errors.New("job is missing tenant_id or integration_id")
	}
	switch j.Type {
	case JobTypeIntegrationRetry:
		if j.UserID == "" {
			return errors.New("retry job is missing user_id")
		}
	case JobTypeIntegrationSync:
	default:
		return fmt.Errorf("unknown job type %q", j.Type)
	}
	return nil
}

// StreamMessage is a job read from a stream along with its message ID
type StreamMessage struct {
	ID     string
	Stream string
	Job    *JobMessage
	// set when the payload could not be decoded
	DecodeErr error
	Raw       string
}

// EncodeJob serializes a job into stream values
func EncodeJob(job *JobMessage) (map[string]any, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return map[string]any{payloadField: string(payload)}, nil
}

// DecodeJob reads a job back out of stream values
func DecodeJob(values map[string]any) (*JobMessage, string, error) {
	data, ok := values[payloadField].(string)
	if !ok {
		return nil, "", fmt.Errorf("message has no %q field", payloadField)
	}

	var job JobMessage
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, data, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, data, nil
}

// Streams provides Redis Streams operations for the job queue
type Streams struct {
	client *Client
}

// NewStreams creates a new Streams instance
func NewStreams(client *Client) *Streams {
	return &Streams{client: client}
}

// Publish adds a job to a stream
func (s *Streams) Publish(ctx context.Context, stream string, job *JobMessage) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	values, err := EncodeJob(job)
	if err != nil {
		return "", err
	}

	result, err := s.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		s.client.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to stream %s", stream)
		return "", err
	}

	s.client.logger.WithContext(ctx).Infof("Published %s job %s to stream %s (message ID: %s)", job.Type, job.ID, stream, result)
	return result, nil
}

// EnsureGroup creates the consumer group, and the stream with it, if missing
func (s *Streams) EnsureGroup(ctx context.Context, stream, group string) error {
	err := s.client.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Consume reads new messages for consumer. Undecodable payloads are returned with DecodeErr set
// so the caller can dead-letter them.
func (s *Streams) Consume(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	results, err := s.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var messages []StreamMessage
	for _, result := range results {
		messages = append(messages, toStreamMessages(result.Stream, result.Messages)...)
	}
	return messages, nil
}

// ClaimStale takes over messages another consumer left pending longer than minIdle
func (s *Streams) ClaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]StreamMessage, error) {
	claimed, _, err := s.client.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, err
	}
	return toStreamMessages(stream, claimed), nil
}

// Ack acknowledges messages
func (s *Streams) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return s.client.rdb.XAck(ctx, stream, group, ids...).Err()
}

func toStreamMessages(stream string, msgs []redis.XMessage) []StreamMessage {
	messages := make([]StreamMessage, 0, len(msgs))
	for _, msg := range msgs {
		job, raw, err := DecodeJob(msg.Values)
		messages = append(messages, StreamMessage{
			ID:        msg.ID,
			Stream:    stream,
			Job:       job,
			DecodeErr: err,
			Raw:       raw,
		})
	}
	return messages
}
