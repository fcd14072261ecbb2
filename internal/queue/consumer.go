package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"
)

// MembershipHandler reacts to one membership change.
type MembershipHandler func(ctx context.Context, ev MembershipChangedEvent) error

// MembershipConsumer listens on the membership-changed queue and hands
// each event to Handle. Run keeps reconnecting with backoff until ctx is
// cancelled, so a broker outage never takes the API down.
type MembershipConsumer struct {
    URL    string
    Queue  string // defaults to MembershipChangedQueue
    Handle MembershipHandler
    Log    logrus.FieldLogger
}

// Run blocks until ctx is done.
func (c *MembershipConsumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        if ctx.Err() != nil {
            return ctx.Err()
        }
        conn, err := amqp.Dial(c.URL)
        if err != nil {
            c.Log.WithError(err).Warnf("membership-consumer: dial failed; retrying in %s", backoff)
            if !sleepCtx(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second // reset after successful connect

        err = c.consumeLoop(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        c.Log.WithError(err).Warn("membership-consumer: consume loop ended; reconnecting")
        if !sleepCtx(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func (c *MembershipConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        c.Log.WithError(err).Warn("membership-consumer: set QoS failed")
    }
    queue := c.Queue
    if queue == "" {
        queue = MembershipChangedQueue
    }
    if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := c.handleMessage(ctx, d.Body); err != nil {
                c.Log.WithError(err).Warn("membership-consumer: handle message failed")
                // A failed bump leaves stale entries until TTL; requeue once.
                _ = d.Nack(false, !d.Redelivered)
                continue
            }
            _ = d.Ack(false)
        }
    }
}

func (c *MembershipConsumer) handleMessage(ctx context.Context, body []byte) error {
    var ev MembershipChangedEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.OrganizationID == "" {
        return errors.New("event without organization_id")
    }
    return c.Handle(ctx, ev)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
