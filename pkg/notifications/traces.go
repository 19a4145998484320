package notifications

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/execution"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
)

// TracePublisher emits trace step events
type TracePublisher interface {
	PublishTraceStep(ctx context.Context, msg *kafka.TraceStepMessage) error
}

// AuditedTraceStore writes traces through to a store and mirrors every step to a publisher.
type AuditedTraceStore struct {
	store     execution.TraceStore
	publisher TracePublisher
	logger    ectologger.Logger
}

// NewAuditedTraceStore wraps store. When publisher is nil, store is returned unchanged.
func NewAuditedTraceStore(store execution.TraceStore, publisher TracePublisher, logger ectologger.Logger) execution.TraceStore {
	if publisher == nil {
		return store
	}
	return &AuditedTraceStore{
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

func (a *AuditedTraceStore) CreateTracker(ctx context.Context, tracker *models.Tracker) error {
	return a.store.CreateTracker(ctx, tracker)
}

func (a *AuditedTraceStore) AddStep(ctx context.Context, step *models.TrackerStep) error {
	if err := a.store.AddStep(ctx, step); err != nil {
		return err
	}
	a.publish(ctx, step, false)
	return nil
}

func (a *AuditedTraceStore) UpdateStep(ctx context.Context, step *models.TrackerStep) error {
	if err := a.store.UpdateStep(ctx, step); err != nil {
		return err
	}
	a.publish(ctx, step, true)
	return nil
}

func (a *AuditedTraceStore) publish(ctx context.Context, step *models.TrackerStep, updated bool) {
	if err := a.publisher.PublishTraceStep(ctx, kafka.NewTraceStepMessage(step, updated)); err != nil {
		a.logger.WithContext(ctx).WithError(err).Warnf("Failed to publish trace step %s", step.ID)
	}
}
