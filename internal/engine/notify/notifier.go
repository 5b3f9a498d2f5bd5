// Package notify publishes lifecycle notification events to RabbitMQ.
// Dispatch is fire-and-forget: delivery failures are logged and never
// propagated, so a notification can never fail a committed workflow
// operation.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tuanbq/marketplace-be/internal/engine/domain"
)

// Publisher is the slice of the RabbitMQ client the notifier needs.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Notifier implements domain.Notifier over RabbitMQ.
type Notifier struct {
	publisher Publisher
	logger    *slog.Logger
}

var _ domain.Notifier = (*Notifier)(nil)

// NewNotifier creates a notifier publishing through the given publisher.
func NewNotifier(publisher Publisher, logger *slog.Logger) *Notifier {
	return &Notifier{publisher: publisher, logger: logger}
}

// Notify publishes the notification as a JSON message. Failures are
// logged, never returned.
func (n *Notifier) Notify(ctx context.Context, notification domain.Notification) {
	body, err := json.Marshal(notification)
	if err != nil {
		n.logger.Error("Failed to marshal notification",
			slog.String("event", notification.Event),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := n.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		n.logger.Error("Failed to publish notification",
			slog.String("event", notification.Event),
			slog.String("recipient", notification.Recipient),
			slog.String("entity_id", notification.EntityID),
			slog.String("error", err.Error()),
		)
		return
	}

	n.logger.Debug("Notification published",
		slog.String("event", notification.Event),
		slog.String("recipient", notification.Recipient),
		slog.String("entity_type", notification.EntityType),
		slog.String("entity_id", notification.EntityID),
	)
}
