// Package queue runs background jobs from the Redis job stream.
package queue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/execution"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	// DefaultBatchSize is the number of messages read per call
	DefaultBatchSize = 10

	// DefaultBlockTimeout is how long a read waits for new messages
	DefaultBlockTimeout = 5 * time.Second

	// DefaultMaxAttempts is how many times a job runs before it is dead-lettered
	DefaultMaxAttempts = 3

	// DefaultClaimInterval is how often stale pending messages are claimed
	DefaultClaimInterval = 30 * time.Second

	// DefaultClaimMinIdle is how long a message sits unacked before another consumer takes it
	DefaultClaimMinIdle = 5 * time.Minute
)

// Handler processes one job. A returned error is retried unless it is permanent.
type Handler func(ctx context.Context, job *redis.JobMessage) error

// JobStream is the subset of redis.Streams the processor uses
type JobStream interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	Consume(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.StreamMessage, error)
	ClaimStale(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]redis.StreamMessage, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	Publish(ctx context.Context, stream string, job *redis.JobMessage) (string, error)
}

// DeadLetters receives jobs that will not be retried
type DeadLetters interface {
	Add(ctx context.Context, entry *redis.DLQEntry) (string, error)
}

// ProcessorConfig holds configuration for the job processor
type ProcessorConfig struct {
	Stream        string
	ConsumerGroup string
	// unique per instance
	ConsumerName  string
	BatchSize     int64
	BlockTimeout  time.Duration
	MaxAttempts   int
	ClaimInterval time.Duration
	ClaimMinIdle  time.Duration
	WorkerCount   int
}

// DefaultProcessorConfig returns the default processor configuration
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Stream:        "fern:jobs",
		ConsumerGroup: "fern-workers",
		ConsumerName:  defaultConsumerName(),
		BatchSize:     DefaultBatchSize,
		BlockTimeout:  DefaultBlockTimeout,
		MaxAttempts:   DefaultMaxAttempts,
		ClaimInterval: DefaultClaimInterval,
		ClaimMinIdle:  DefaultClaimMinIdle,
		WorkerCount:   1,
	}
}

func defaultConsumerName() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = uuid.NewString()[:8]
	}
	return hostname
}

// Processor consumes jobs from a Redis stream and dispatches them to handlers
type Processor struct {
	streams  JobStream
	dlq      DeadLetters
	handlers map[redis.JobType]Handler
	config   ProcessorConfig
	logger   ectologger.Logger

	stopCh   chan struct{}
	stoppedC chan struct{}
	jobsCh   chan redis.StreamMessage

	running bool
	mu      sync.Mutex
}

// NewProcessor creates a new job processor. dlq may be nil.
func NewProcessor(streams JobStream, dlq DeadLetters, config ProcessorConfig, logger ectologger.Logger) *Processor {
	defaults := DefaultProcessorConfig()
	if config.Stream == "" {
		config.Stream = defaults.Stream
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = defaults.ConsumerGroup
	}
	if config.ConsumerName == "" {
		config.ConsumerName = defaults.ConsumerName
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BlockTimeout <= 0 {
		config.BlockTimeout = DefaultBlockTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.ClaimInterval <= 0 {
		config.ClaimInterval = DefaultClaimInterval
	}
	if config.ClaimMinIdle <= 0 {
		config.ClaimMinIdle = DefaultClaimMinIdle
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}

	return &Processor{
		streams:  streams,
		dlq:      dlq,
		handlers: make(map[redis.JobType]Handler),
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
		jobsCh:   make(chan redis.StreamMessage, config.BatchSize*2),
	}
}

// Handle registers the handler for a job type. Call before Start.
func (p *Processor) Handle(jobType redis.JobType, handler Handler) {
	p.handlers[jobType] = handler
}

// GetName implements startup.StartupDependency
func (p *Processor) GetName() string {
	return "queue"
}

// DependsOn implements startup.StartupDependency
func (p *Processor) DependsOn() []string {
	return []string{"redis", "database"}
}

// Start creates the consumer group and launches the workers
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("processor already running")
	}

	if err := p.streams.EnsureGroup(ctx, p.config.Stream, p.config.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	p.running = true

	// workers outlive the startup context
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	var wg sync.WaitGroup
	for i := 0; i < p.config.WorkerCount; i++ {
		wg.Add(1)
		go p.worker(runCtx, &wg, i)
	}

	var feeders sync.WaitGroup
	feeders.Add(2)
	go p.consumeLoop(runCtx, &feeders)
	go p.claimLoop(runCtx, &feeders)

	go func() {
		<-p.stopCh
		cancel()
		feeders.Wait()
		close(p.jobsCh)
		wg.Wait()
		close(p.stoppedC)
	}()

	p.logger.WithContext(ctx).Infof("Job processor started: stream=%s group=%s consumer=%s workers=%d",
		p.config.Stream, p.config.ConsumerGroup, p.config.ConsumerName, p.config.WorkerCount)
	return nil
}

// Stop signals the loops to exit and waits for in-flight jobs
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.stoppedC:
		p.logger.WithContext(ctx).Info("Job processor stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.WithContext(ctx).Warn("Job processor shutdown timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the processor is running
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) consumeLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for ctx.Err() == nil {
		messages, err := p.streams.Consume(ctx, p.config.Stream, p.config.ConsumerGroup, p.config.ConsumerName,
			p.config.BatchSize, p.config.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.WithContext(ctx).WithError(err).Warn("Failed to consume messages")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if !p.dispatch(ctx, messages) {
			return
		}
	}
}

func (p *Processor) claimLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(p.config.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			claimed, err := p.streams.ClaimStale(ctx, p.config.Stream, p.config.ConsumerGroup, p.config.ConsumerName,
				p.config.ClaimMinIdle, p.config.BatchSize)
			if err != nil {
				p.logger.WithContext(ctx).WithError(err).Warn("Failed to claim pending messages")
				continue
			}
			if len(claimed) > 0 {
				p.logger.WithContext(ctx).Infof("Claimed %d stale pending messages", len(claimed))
			}
			if !p.dispatch(ctx, claimed) {
				return
			}
		}
	}
}

func (p *Processor) dispatch(ctx context.Context, messages []redis.StreamMessage) bool {
	for _, msg := range messages {
		select {
		case p.jobsCh <- msg:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (p *Processor) worker(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()

	p.logger.WithContext(ctx).Debugf("Worker %d started", id)
	for msg := range p.jobsCh {
		p.process(ctx, msg)
	}
	p.logger.WithContext(ctx).Debugf("Worker %d stopped", id)
}

// process runs one message to completion: it is always acked, after being
// re-published for another attempt or dead-lettered when it cannot succeed.
func (p *Processor) process(ctx context.Context, msg redis.StreamMessage) {
	ctx, span := tracing.StartSpan(ctx, "Processor.process")
	defer span.End()
	defer p.ack(ctx, msg.ID)

	if msg.DecodeErr != nil {
		p.logger.WithContext(ctx).WithError(msg.DecodeErr).Warnf("Dropping undecodable message %s", msg.ID)
		entry := redis.NewDLQEntry(nil, models.DLQReasonInvalidJob, msg.DecodeErr)
		entry.RawPayload = msg.Raw
		p.deadLetter(ctx, entry)
		return
	}

	job := msg.Job
	if err := job.Validate(); err != nil {
		p.deadLetter(ctx, redis.NewDLQEntry(job, models.DLQReasonInvalidJob, err))
		return
	}
	handler, ok := p.handlers[job.Type]
	if !ok {
		p.deadLetter(ctx, redis.NewDLQEntry(job, models.DLQReasonInvalidJob, fmt.Errorf("no handler for job type %s", job.Type)))
		return
	}

	ctx = appctx.SetTenantID(ctx, job.TenantID)
	ctx = appctx.SetIntegrationID(ctx, job.IntegrationID)
	ctx = appctx.SetJobID(ctx, job.ID)
	logger := p.logger.WithContext(ctx).WithFields(appctx.Fields(ctx))

	metrics.QueueJobsInFlight.Inc()
	start := time.Now()
	err := handler(ctx, job)
	metrics.QueueJobsInFlight.Dec()

	if err == nil {
		metrics.RecordQueueJob(string(job.Type), "success")
		logger.Infof("Job %s (%s) completed in %s", job.ID, job.Type, time.Since(start))
		return
	}

	job.Attempts++
	if reason, permanent := permanentReason(err); permanent {
		metrics.RecordQueueJob(string(job.Type), "dead_lettered")
		logger.WithError(err).Warnf("Job %s (%s) cannot succeed", job.ID, job.Type)
		p.deadLetter(ctx, redis.NewDLQEntry(job, reason, err))
		return
	}
	if job.Attempts >= p.config.MaxAttempts {
		metrics.RecordQueueJob(string(job.Type), "dead_lettered")
		logger.WithError(err).Warnf("Job %s (%s) failed %d times", job.ID, job.Type, job.Attempts)
		p.deadLetter(ctx, redis.NewDLQEntry(job, models.DLQReasonMaxRetries, err))
		return
	}

	metrics.RecordQueueJob(string(job.Type), "retried")
	logger.WithError(err).Warnf("Job %s (%s) failed, attempt %d/%d", job.ID, job.Type, job.Attempts, p.config.MaxAttempts)
	if _, pubErr := p.streams.Publish(ctx, p.config.Stream, job); pubErr != nil {
		logger.WithError(pubErr).Errorf("Failed to re-publish job %s", job.ID)
		p.deadLetter(ctx, redis.NewDLQEntry(job, models.DLQReasonUnknown, pubErr))
	}
}

func (p *Processor) ack(ctx context.Context, messageID string) {
	if err := p.streams.Ack(ctx, p.config.Stream, p.config.ConsumerGroup, messageID); err != nil {
		p.logger.WithContext(ctx).WithError(err).Warnf("Failed to ack message %s", messageID)
	}
}

func (p *Processor) deadLetter(ctx context.Context, entry *redis.DLQEntry) {
	if p.dlq == nil {
		return
	}
	if _, err := p.dlq.Add(ctx, entry); err != nil {
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to add job to DLQ")
		return
	}
	metrics.RecordDLQJob(entry.TenantID, string(entry.Reason))
}

// permanentReason reports whether err will fail the same way on every attempt
func permanentReason(err error) (models.DeadLetterReason, bool) {
	if execution.IsNotConfigured(err) {
		return models.DLQReasonNotConfigured, true
	}
	if httperror.IsHTTPError(err) {
		status := httperror.GetStatusCode(err)
		if status == http.StatusNotFound {
			return models.DLQReasonNotFound, true
		}
		if status >= 400 && status < 500 {
			return models.DLQReasonInvalidJob, true
		}
	}
	return "", false
}
