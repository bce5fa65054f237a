package model

import (
    "strconv"
    "time"
)

// TicketType distinguishes priority (preferential) from normal tickets.
type TicketType string

const (
    TicketPreferential TicketType = "preferential"
    TicketNormal       TicketType = "normal"
)

// Valid reports whether t is one of the known ticket types.
func (t TicketType) Valid() bool {
    return t == TicketPreferential || t == TicketNormal
}

// Prefix is the letter printed before the number on a ticket.
func (t TicketType) Prefix() string {
    if t == TicketPreferential {
        return "P"
    }
    return "N"
}

// TicketStatus is the lifecycle position of a ticket.  Removed tickets are
// deleted from the tickets table, so StatusRemoved only appears in events
// and API responses.
type TicketStatus string

const (
    StatusWaiting   TicketStatus = "waiting"
    StatusInService TicketStatus = "in_service"
    StatusCompleted TicketStatus = "completed"
    StatusRemoved   TicketStatus = "removed"
)

// Open reports whether the ticket still holds its number.
func (s TicketStatus) Open() bool {
    return s == StatusWaiting || s == StatusInService
}

// Ticket is a numbered place in an attendant's queue.  A ticket belongs to
// exactly one attendant for its whole life.
//
// Fields:
//  ID          – primary key identifier.
//  Number      – integer part of the human number (bounded per type).
//  Type        – preferential or normal.
//  AttendantID – owning attendant.
//  Status      – waiting, in_service or completed.
//  CreatedAt   – issue time; defines FIFO order inside a type.
//  CalledAt    – set when the ticket moves to in_service.
//  CompletedAt – set when the ticket moves to completed.
type Ticket struct {
    ID          uint64       `json:"id"`                     // tickets.id
    Number      int          `json:"number"`                 // tickets.ticket_number
    Type        TicketType   `json:"type"`                   // tickets.ticket_type
    AttendantID uint64       `json:"attendant_id"`           // tickets.attendant_id
    Status      TicketStatus `json:"status"`                 // tickets.status
    CreatedAt   time.Time    `json:"created_at"`             // tickets.created_at
    CalledAt    *time.Time   `json:"called_at,omitempty"`    // tickets.called_at (nullable)
    CompletedAt *time.Time   `json:"completed_at,omitempty"` // tickets.completed_at (nullable)
}

// Label renders the human-facing number, e.g. "P1" or "N10".
func (t Ticket) Label() string {
    return t.Type.Prefix() + strconv.Itoa(t.Number)
}
