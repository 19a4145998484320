// Package notifications delivers run notifications and trace audit events.
package notifications

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

// NotificationStore persists notifications
type NotificationStore interface {
	Create(ctx context.Context, notification *models.Notification) error
}

// Publisher emits notification events
type Publisher interface {
	PublishNotification(ctx context.Context, msg *kafka.NotificationMessage) error
}

// Dispatcher stores a notification and then publishes it.
// Publishing is best-effort: the stored row is the record of truth.
type Dispatcher struct {
	store     NotificationStore
	publisher Publisher
	logger    ectologger.Logger
}

// NewDispatcher creates a new dispatcher. publisher may be nil.
func NewDispatcher(store NotificationStore, publisher Publisher, logger ectologger.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// Notify implements execution.Notifier
func (d *Dispatcher) Notify(ctx context.Context, notification *models.Notification) error {
	if err := d.store.Create(ctx, notification); err != nil {
		return err
	}
	metrics.NotificationsTotal.WithLabelValues(string(notification.Type)).Inc()

	if d.publisher == nil {
		return nil
	}
	if err := d.publisher.PublishNotification(ctx, kafka.NewNotificationMessage(notification)); err != nil {
		d.logger.WithContext(ctx).WithError(err).Warnf("Failed to publish notification %s", notification.ID)
	}
	return nil
}
