package service

import (
	"errors"
	"fmt"

	"github.com/iliyamo/walkin-queue/internal/model"
)

// NotFoundError reports a missing attendant or ticket.
type NotFoundError struct {
	Kind string // "attendant" or "ticket"
	ID   uint64
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %d not found", e.Kind, e.ID) }

// QueueFullError reports that no number of the type's range is free for the
// attendant.
type QueueFullError struct {
	Type        model.TicketType
	AttendantID uint64
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("queue full: no free %s number for attendant %d", e.Type, e.AttendantID)
}

// InsufficientCapacityError reports a bulk request larger than the free
// numbers of the attendant.  Nothing was created.
type InsufficientCapacityError struct {
	Type        model.TicketType
	AttendantID uint64
	Available   int
	Requested   int
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("insufficient capacity: %d %s tickets requested for attendant %d, %d available",
		e.Requested, e.Type, e.AttendantID, e.Available)
}

// BackendUnavailableError wraps a failure of the database or another
// backing service.
type BackendUnavailableError struct {
	Op  string
	Err error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable during %s: %v", e.Op, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason) }

// ErrStateChanged is returned when a conditional update found the ticket in
// another state than the one just read, i.e. another session acted on the
// same attendant.  The state has been reloaded when callers see it.
var ErrStateChanged = errors.New("queue state changed concurrently")

// ErrInvalidCredentials is returned by SessionManager.Create and Refresh.
var ErrInvalidCredentials = errors.New("invalid credentials")

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendUnavailableError{Op: op, Err: err}
}
