package model

import "time"

// AttendanceRecord is the immutable trace of a completed service.  The
// attendant's name is copied at completion time so reports stay accurate
// after a rename or deletion.
//
// Fields:
//  ID            – primary key; zero while the record only lives in the outbox.
//  ClientRef     – stable UUID assigned when the record is built; replays
//                  with the same reference never insert twice.
//  TicketID      – ticket that was completed (nil for imported rows).
//  AttendantID   – attendant who served.
//  AttendantName – attendant's name at completion.
//  TicketNumber  – label such as "P2".
//  TicketType    – preferential or normal.
//  StartTime     – ticket's call time.
//  EndTime       – completion time.
//  ServiceDate   – calendar date of EndTime in the desk timezone (YYYY-MM-DD).
//  CreatedAt     – insertion timestamp.
//  Pending       – true when served from the local outbox.
type AttendanceRecord struct {
    ID            uint64     `json:"id,omitempty"`
    ClientRef     string     `json:"client_ref"`
    TicketID      *uint64    `json:"ticket_id,omitempty"`
    AttendantID   uint64     `json:"attendant_id"`
    AttendantName string     `json:"attendant_name"`
    TicketNumber  string     `json:"ticket_number"`
    TicketType    TicketType `json:"ticket_type"`
    StartTime     time.Time  `json:"start_time"`
    EndTime       time.Time  `json:"end_time"`
    ServiceDate   string     `json:"service_date"`
    CreatedAt     time.Time  `json:"created_at,omitempty"`
    Pending       bool       `json:"pending,omitempty"`
}

// ServiceDateLayout is the format of AttendanceRecord.ServiceDate.
const ServiceDateLayout = "2006-01-02"
