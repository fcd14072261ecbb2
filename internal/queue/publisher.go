package queue

import (
    "context"
    "encoding/json"
    "fmt"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes session events to RabbitMQ. Each publish opens its
// own connection; session events are rare enough that pooling is not
// worth the reconnect bookkeeping.
type Publisher struct {
    URL   string
    Queue string
    dial  func(url string) (*amqp.Connection, error)
}

// NewPublisher returns a publisher for the session events queue.
func NewPublisher(url string) *Publisher {
    return &Publisher{URL: url, Queue: SessionEventsQueue, dial: amqp.Dial}
}

// PublishSessionEvent publishes event as a persistent JSON message.
func (p *Publisher) PublishSessionEvent(ctx context.Context, event SessionEvent) error {
    if event.OccurredAt.IsZero() {
        event.OccurredAt = time.Now().UTC()
    }
    body, err := json.Marshal(event)
    if err != nil {
        return fmt.Errorf("marshal event: %w", err)
    }

    conn, err := p.dial(p.URL)
    if err != nil {
        return fmt.Errorf("dial broker: %w", err)
    }
    defer func() { _ = conn.Close() }()

    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    // Durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(p.Queue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }

    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Timestamp:    event.OccurredAt,
        Type:         event.Type,
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx, "", p.Queue, false, false, pub); err != nil {
        return fmt.Errorf("publish: %w", err)
    }
    return nil
}
