package service

import (
	"context"
	"log"
	"time"

	"github.com/iliyamo/walkin-queue/internal/model"
	"github.com/iliyamo/walkin-queue/internal/queue"
)

// EventPublisher receives ticket transitions and overdue alerts.
// *queue.Publisher implements it.
type EventPublisher interface {
	PublishTicketEvent(ctx context.Context, ev queue.TicketEvent) error
	PublishAlert(ctx context.Context, ev queue.AlertEvent) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishTicketEvent(context.Context, queue.TicketEvent) error { return nil }
func (NopPublisher) PublishAlert(context.Context, queue.AlertEvent) error        { return nil }

const publishTimeout = 3 * time.Second

func ticketEvent(kind string, t model.Ticket, attendantName string, at time.Time) queue.TicketEvent {
	return queue.TicketEvent{
		Kind:          kind,
		TicketID:      t.ID,
		TicketNumber:  t.Label(),
		TicketType:    string(t.Type),
		AttendantID:   t.AttendantID,
		AttendantName: attendantName,
		Status:        string(t.Status),
		OccurredAt:    at.UTC().Format(time.RFC3339),
	}
}

// publishTicket sends ev on a context detached from the request; a slow
// broker delays the response by at most publishTimeout.
func publishTicket(p EventPublisher, ev queue.TicketEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.PublishTicketEvent(ctx, ev); err != nil {
		log.Printf("ticket-events: publish %s for ticket %d failed: %v", ev.Kind, ev.TicketID, err)
	}
}
