// Package queue defines message payloads exchanged over the message broker.
package queue

// Queue names.  Both are durable.
const (
    TicketEventsQueue = "queue.ticket.events"
    AlertEventsQueue  = "queue.ticket.alerts"
)

// Ticket event kinds.
const (
    TicketCreated   = "created"
    TicketCalled    = "called"
    TicketCompleted = "completed"
    TicketRemoved   = "removed"
)

// TicketEvent is published after a ticket changes state.  It carries enough
// for a display board or an audit log without querying the database.
type TicketEvent struct {
    Kind          string `json:"kind"`
    TicketID      uint64 `json:"ticket_id"`
    TicketNumber  string `json:"ticket_number"`
    TicketType    string `json:"ticket_type"`
    AttendantID   uint64 `json:"attendant_id"`
    AttendantName string `json:"attendant_name"`
    Status        string `json:"status"`
    HistoryRef    string `json:"history_ref,omitempty"`
    OccurredAt    string `json:"occurred_at"`
}

// AlertEvent is published by the overdue sweep.
type AlertEvent struct {
    Level          string `json:"level"` // warning or critical
    TicketID       uint64 `json:"ticket_id"`
    TicketNumber   string `json:"ticket_number"`
    AttendantID    uint64 `json:"attendant_id"`
    AttendantName  string `json:"attendant_name"`
    CalledAt       string `json:"called_at"`
    ElapsedSeconds int64  `json:"elapsed_seconds"`
    RaisedAt       string `json:"raised_at"`
}
