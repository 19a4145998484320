package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
)

type memoryRetries struct {
	retries    []models.ScheduledRetry
	dispatched map[uuid.UUID]time.Time
	askedAt    time.Time
}

func (m *memoryRetries) ListDue(_ context.Context, now time.Time, limit int) ([]models.ScheduledRetry, error) {
	m.askedAt = now
	var due []models.ScheduledRetry
	for _, r := range m.retries {
		if _, done := m.dispatched[r.ID]; done || r.RunAt.After(now) {
			continue
		}
		due = append(due, r)
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (m *memoryRetries) MarkDispatched(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	if _, done := m.dispatched[id]; done {
		return false, nil
	}
	m.dispatched[id] = at
	return true, nil
}

type recordingPublisher struct {
	jobs []*redis.JobMessage
	err  error
}

func (r *recordingPublisher) Publish(_ context.Context, _ string, job *redis.JobMessage) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.jobs = append(r.jobs, job)
	return "1-0", nil
}

type localLocker struct {
	held map[string]bool
}

func (l *localLocker) WithLock(_ context.Context, key string, _ time.Duration, fn func() error) error {
	if l.held[key] {
		return redis.ErrLockNotAcquired
	}
	return fn()
}

var now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func retryAt(runAt time.Time) models.ScheduledRetry {
	return models.ScheduledRetry{
		ID:            uuid.New(),
		TenantID:      uuid.New(),
		IntegrationID: uuid.New(),
		UserID:        uuid.New(),
		Params:        database.NewJSONB(map[string]any{"team": "core"}),
		RunAt:         runAt,
	}
}

func newTestScheduler(retries ...models.ScheduledRetry) (*Scheduler, *memoryRetries, *recordingPublisher, *localLocker) {
	source := &memoryRetries{retries: retries, dispatched: map[uuid.UUID]time.Time{}}
	publisher := &recordingPublisher{}
	locker := &localLocker{held: map[string]bool{}}
	s := NewScheduler(source, publisher, locker, Config{}, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	s.now = func() time.Time { return now }
	return s, source, publisher, locker
}

func TestRunCycle_DispatchesDueRetries(t *testing.T) {
	due := retryAt(now.Add(-time.Minute))
	later := retryAt(now.Add(time.Hour))
	s, source, publisher, _ := newTestScheduler(due, later)

	assert.Equal(t, 1, s.RunCycle(context.Background()))

	require.Len(t, publisher.jobs, 1)
	job := publisher.jobs[0]
	assert.Equal(t, redis.JobTypeIntegrationRetry, job.Type)
	assert.Equal(t, due.TenantID.String(), job.TenantID)
	assert.Equal(t, due.IntegrationID.String(), job.IntegrationID)
	assert.Equal(t, due.UserID.String(), job.UserID)
	assert.Equal(t, due.ID.String(), job.RetryID)
	assert.Equal(t, map[string]any{"team": "core"}, job.Params)
	assert.Equal(t, now, source.dispatched[due.ID])

	assert.Equal(t, 0, s.RunCycle(context.Background()), "a dispatched retry is not published twice")
}

func TestRunCycle_SkipsLockedRetries(t *testing.T) {
	retry := retryAt(now.Add(-time.Minute))
	s, source, publisher, locker := newTestScheduler(retry)
	locker.held[LockKeyPrefix+retry.ID.String()] = true

	assert.Equal(t, 0, s.RunCycle(context.Background()))
	assert.Empty(t, publisher.jobs)
	assert.Empty(t, source.dispatched)
}

func TestRunCycle_PublishFailure(t *testing.T) {
	s, _, publisher, _ := newTestScheduler(retryAt(now.Add(-time.Minute)))
	publisher.err = errors.New("redis down")

	assert.Equal(t, 0, s.RunCycle(context.Background()))
}

func TestScheduler_StartStop(t *testing.T) {
	s, _, publisher, _ := newTestScheduler(retryAt(now.Add(-time.Minute)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsRunning())
	assert.Len(t, publisher.jobs, 1)
}
