package execution

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type memoryTraces struct {
	mu       sync.Mutex
	trackers []*models.Tracker
	steps    []*models.TrackerStep
	updates  int
}

func (m *memoryTraces) CreateTracker(_ context.Context, tracker *models.Tracker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackers = append(m.trackers, tracker)
	return nil
}

func (m *memoryTraces) AddStep(_ context.Context, step *models.TrackerStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step)
	return nil
}

func (m *memoryTraces) UpdateStep(_ context.Context, _ *models.TrackerStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	return nil
}

// dump renders every stored field of every step as one string.
func (m *memoryTraces) dump(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := ""
	for _, s := range m.steps {
		body, err := json.Marshal(s.JSONResponse.Data)
		if err != nil {
			t.Fatal(err)
		}
		out += s.URL + "\n" + s.PostData + "\n" + s.Headers + "\n" + string(body) + "\n" + s.TextResponse + "\n" + s.Error + "\n"
	}
	return out
}

type memoryUsers struct {
	updates []map[string]any
	err     error
}

func (m *memoryUsers) UpdateExtraFields(_ context.Context, _ uuid.UUID, fields map[string]any) error {
	if m.err != nil {
		return m.err
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	m.updates = append(m.updates, copied)
	return nil
}

type memoryNotifier struct {
	notifications []*models.Notification
}

func (m *memoryNotifier) Notify(_ context.Context, n *models.Notification) error {
	m.notifications = append(m.notifications, n)
	return nil
}

type memoryRetries struct {
	retries []*models.ScheduledRetry
}

func (m *memoryRetries) ScheduleRetry(_ context.Context, r *models.ScheduledRetry) error {
	m.retries = append(m.retries, r)
	return nil
}

type stubRefresher struct {
	err   error
	calls int
}

func (s *stubRefresher) EnsureFresh(_ context.Context, _ *ExecutionContext) error {
	s.calls++
	return s.err
}

type harness struct {
	traces    *memoryTraces
	users     *memoryUsers
	notifier  *memoryNotifier
	retries   *memoryRetries
	refresher *stubRefresher
	orch      *Orchestrator
	now       time.Time
}

func newHarness() *harness {
	h := &harness{
		traces:    &memoryTraces{},
		users:     &memoryUsers{},
		notifier:  &memoryNotifier{},
		retries:   &memoryRetries{},
		refresher: &stubRefresher{},
		now:       time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 5 * time.Second
	executor := NewStepExecutor(httpclient.NewClient(cfg, testLogger()), h.traces, testLogger())
	executor.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	h.orch = NewOrchestrator(executor, h.traces, h.users, h.notifier, h.retries, h.refresher,
		Config{BaseURL: "https://fern.example.com"}, testLogger())
	h.orch.now = func() time.Time { return h.now }
	return h
}

func newIntegration(manifest models.Manifest, args map[string]any) *models.Integration {
	return &models.Integration{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		Name:      "Slack",
		Manifest:  database.NewJSONB(manifest),
		ExtraArgs: database.NewJSONB(args),
		Active:    true,
	}
}

func newUser() *models.User {
	return &models.User{
		ID:          uuid.New(),
		Email:       "ann@example.com",
		FirstName:   "Ann",
		LastName:    "Lee",
		ExtraFields: database.NewJSONB(map[string]any{}),
	}
}
