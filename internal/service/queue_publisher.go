package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/karaoke-backend/internal/queue"
)

// EventPublisher sends auth events to the broker.
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, event queue.SessionEvent) error
}

// publishAsync hands the event to the publisher without holding up the
// request. Broker failures are logged and otherwise ignored.
func publishAsync(pub EventPublisher, log logrus.FieldLogger, event queue.SessionEvent) {
	if pub == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pub.PublishSessionEvent(ctx, event); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"event":   event.Type,
				"user_id": event.UserID,
			}).Warn("session event publish failed")
		}
	}()
}
