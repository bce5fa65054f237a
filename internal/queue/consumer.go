package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "os"
    "path/filepath"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultEventLog is where StartEventLogConsumer appends events.
var DefaultEventLog = filepath.Join("logs", "queue-events.log")

// StartEventLogConsumer connects to RabbitMQ, declares the ticket and alert
// queues and appends every message to logPath as one human-readable line.
// It reconnects with backoff until ctx is cancelled.  Malformed messages are
// rejected without requeue so the consumer keeps going.
func StartEventLogConsumer(ctx context.Context, url, logPath string) error {
    if logPath == "" {
        logPath = DefaultEventLog
    }
    w := &lineWriter{path: logPath}
    backoff := time.Second
    for {
        if ctx.Err() != nil {
            return ctx.Err()
        }
        conn, err := amqp.Dial(url)
        if err != nil {
            log.Printf("event-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = consumeLoop(ctx, conn, w)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        log.Printf("event-consumer: consume loop ended: %v; reconnecting", err)
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, w *lineWriter) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        log.Printf("event-consumer: set QoS failed: %v", err)
    }
    if err := declareQueues(ch); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }

    tickets, err := ch.Consume(TicketEventsQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("consume %s: %w", TicketEventsQueue, err)
    }
    alerts, err := ch.Consume(AlertEventsQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("consume %s: %w", AlertEventsQueue, err)
    }

    for {
        var (
            d  amqp.Delivery
            ok bool
        )
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok = <-tickets:
        case d, ok = <-alerts:
        }
        if !ok {
            return errors.New("deliveries channel closed")
        }
        line, err := FormatLine(d.RoutingKey, d.Body)
        if err == nil {
            err = w.append(line)
        }
        if err != nil {
            log.Printf("event-consumer: handle message failed: %v", err)
            _ = d.Nack(false, false)
            continue
        }
        _ = d.Ack(false)
    }
}

// FormatLine renders one message of queueName as a log line ending in a
// newline.
func FormatLine(queueName string, body []byte) (string, error) {
    switch queueName {
    case TicketEventsQueue:
        var ev TicketEvent
        if err := json.Unmarshal(body, &ev); err != nil {
            return "", fmt.Errorf("unmarshal: %w", err)
        }
        line := fmt.Sprintf("[%s] Ticket %s | ticket=%s | ticket_id=%d | type=%s | attendant_id=%d | attendant=%q | status=%s",
            ev.OccurredAt, ev.Kind, ev.TicketNumber, ev.TicketID, ev.TicketType, ev.AttendantID, ev.AttendantName, ev.Status)
        if ev.HistoryRef != "" {
            line += " | history=" + ev.HistoryRef
        }
        return line + "\n", nil
    case AlertEventsQueue:
        var ev AlertEvent
        if err := json.Unmarshal(body, &ev); err != nil {
            return "", fmt.Errorf("unmarshal: %w", err)
        }
        return fmt.Sprintf("[%s] Overdue %s | ticket=%s | ticket_id=%d | attendant_id=%d | attendant=%q | called_at=%s | elapsed=%ds\n",
            ev.RaisedAt, ev.Level, ev.TicketNumber, ev.TicketID, ev.AttendantID, ev.AttendantName, ev.CalledAt, ev.ElapsedSeconds), nil
    }
    return "", fmt.Errorf("unknown queue %q", queueName)
}

type lineWriter struct {
    mu   sync.Mutex
    path string
}

func (w *lineWriter) append(line string) error {
    w.mu.Lock()
    defer w.mu.Unlock()
    if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()
    if _, err := f.WriteString(line); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}
