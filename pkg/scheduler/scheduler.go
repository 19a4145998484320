// Package scheduler turns due scheduled retries into queue jobs.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/queue"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
var ErrSchedulerAlreadyRunning = errors.New("scheduler already running")

const (
	// DefaultPollInterval is the default interval between scheduling cycles
	DefaultPollInterval = 30 * time.Second

	// DefaultLockTTL is how long one instance holds a retry while publishing it
	DefaultLockTTL = 60 * time.Second

	// DefaultBatchSize is the number of due retries fetched per cycle
	DefaultBatchSize = 100

	// LockKeyPrefix is the prefix for scheduler locks
	LockKeyPrefix = "scheduler:retry:"
)

// RetrySource lists due retries and records their dispatch
type RetrySource interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledRetry, error)
	MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

// JobPublisher puts jobs on the stream
type JobPublisher interface {
	Publish(ctx context.Context, stream string, job *redis.JobMessage) (string, error)
}

// Locker serializes work on a key across instances
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// Config holds configuration for the scheduler
type Config struct {
	PollInterval time.Duration
	LockTTL      time.Duration
	BatchSize    int
	// JobStream is the stream the queue processor consumes
	JobStream string
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		LockTTL:      DefaultLockTTL,
		BatchSize:    DefaultBatchSize,
		JobStream:    "fern:jobs",
	}
}

// Scheduler polls for due retries and enqueues them
type Scheduler struct {
	retries   RetrySource
	publisher JobPublisher
	locker    Locker
	config    Config
	logger    ectologger.Logger
	now       func() time.Time

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.Mutex
}

// NewScheduler creates a new scheduler
func NewScheduler(retries RetrySource, publisher JobPublisher, locker Locker, config Config, logger ectologger.Logger) *Scheduler {
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.LockTTL <= 0 {
		config.LockTTL = defaults.LockTTL
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.JobStream == "" {
		config.JobStream = defaults.JobStream
	}

	return &Scheduler{
		retries:   retries,
		publisher: publisher,
		locker:    locker,
		config:    config,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		stopCh:    make(chan struct{}),
		stoppedC:  make(chan struct{}),
	}
}

// GetName implements startup.StartupDependency
func (s *Scheduler) GetName() string {
	return "scheduler"
}

// DependsOn implements startup.StartupDependency
func (s *Scheduler) DependsOn() []string {
	return []string{"redis", "database"}
}

// Start launches the poll loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	s.running = true

	s.logger.WithContext(ctx).Infof("Starting scheduler: poll_interval=%s batch_size=%d",
		s.config.PollInterval, s.config.BatchSize)

	go s.pollLoop(context.WithoutCancel(ctx))
	return nil
}

// Stop stops the scheduler gracefully
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.RunCycle(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle publishes every retry due now and returns how many were dispatched
func (s *Scheduler) RunCycle(ctx context.Context) int {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.RunCycle")
	defer span.End()

	start := time.Now()
	due, err := s.retries.ListDue(ctx, s.now(), s.config.BatchSize)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list due retries")
		return 0
	}
	if len(due) == 0 {
		return 0
	}

	dispatched, skipped := 0, 0
	for i := range due {
		err := s.dispatch(ctx, &due[i])
		switch {
		case errors.Is(err, redis.ErrLockNotAcquired):
			skipped++
		case err != nil:
			s.logger.WithContext(ctx).WithError(err).Warnf("Failed to dispatch retry %s", due[i].ID)
		default:
			dispatched++
		}
	}

	metrics.SchedulerRetriesDispatched.Add(float64(dispatched))
	s.logger.WithContext(ctx).Infof("Scheduling cycle completed: dispatched=%d skipped=%d duration=%s",
		dispatched, skipped, time.Since(start))
	return dispatched
}

// dispatch claims the row before publishing, so a crash between the two
// loses a retry instead of running it twice.
func (s *Scheduler) dispatch(ctx context.Context, retry *models.ScheduledRetry) error {
	ctx = appctx.SetTenantID(ctx, retry.TenantID.String())

	return s.locker.WithLock(ctx, LockKeyPrefix+retry.ID.String(), s.config.LockTTL, func() error {
		claimed, err := s.retries.MarkDispatched(ctx, retry.ID, s.now())
		if err != nil {
			return err
		}
		if !claimed {
			return redis.ErrLockNotAcquired
		}

		job := queue.NewRetryJob(retry)
		messageID, err := s.publisher.Publish(ctx, s.config.JobStream, job)
		if err != nil {
			return err
		}

		s.logger.WithContext(ctx).Infof("Dispatched retry %s for integration %s (message_id=%s)",
			retry.ID, retry.IntegrationID, messageID)
		return nil
	})
}
