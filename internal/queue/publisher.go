package queue

import (
    "context"
    "encoding/json"
    "errors"
    "log"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends events to RabbitMQ over one long-lived connection.  The
// connection is opened lazily and reopened after the broker drops it.
// Errors are logged and returned; callers are free to ignore them so a
// broker outage never blocks the desk.
type Publisher struct {
    url string

    mu   sync.Mutex
    conn *amqp.Connection
    ch   *amqp.Channel
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string) *Publisher {
    return &Publisher{url: url}
}

// PublishTicketEvent sends ev to the ticket events queue.
func (p *Publisher) PublishTicketEvent(ctx context.Context, ev TicketEvent) error {
    return p.publish(ctx, TicketEventsQueue, ev)
}

// PublishAlert sends ev to the alerts queue.
func (p *Publisher) PublishAlert(ctx context.Context, ev AlertEvent) error {
    return p.publish(ctx, AlertEventsQueue, ev)
}

func (p *Publisher) publish(ctx context.Context, queueName string, v interface{}) error {
    body, err := json.Marshal(v)
    if err != nil {
        log.Printf("rabbitmq: marshal event failed: %v", err)
        return err
    }

    p.mu.Lock()
    defer p.mu.Unlock()
    ch, err := p.channel()
    if err != nil {
        log.Printf("rabbitmq: channel unavailable: %v", err)
        return err
    }

    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx, "", queueName, false, false, pub); err != nil {
        log.Printf("rabbitmq: publish to %s failed: %v", queueName, err)
        p.reset()
        return err
    }
    return nil
}

// channel returns the open channel, dialing and declaring the queues when
// needed.  Caller holds p.mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
        return p.ch, nil
    }
    p.reset()
    if p.url == "" {
        return nil, errors.New("rabbitmq url not configured")
    }
    conn, err := amqp.Dial(p.url)
    if err != nil {
        return nil, err
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, err
    }
    if err := declareQueues(ch); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return nil, err
    }
    p.conn, p.ch = conn, ch
    return ch, nil
}

func (p *Publisher) reset() {
    if p.ch != nil {
        _ = p.ch.Close()
    }
    if p.conn != nil {
        _ = p.conn.Close()
    }
    p.ch, p.conn = nil, nil
}

// Close releases the connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.reset()
    return nil
}

func declareQueues(ch *amqp.Channel) error {
    for _, name := range []string{TicketEventsQueue, AlertEventsQueue} {
        if _, err := ch.QueueDeclare(
            name,
            true,  // durable
            false, // autoDelete
            false, // exclusive
            false, // noWait
            nil,
        ); err != nil {
            return err
        }
    }
    return nil
}
