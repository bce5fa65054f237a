package service

import (
	"context"
	"time"

	"github.com/iliyamo/walkin-queue/internal/model"
	"github.com/iliyamo/walkin-queue/internal/repository"
)

// The service depends on these narrow views of the repositories so tests
// can substitute in-memory fakes.

// AttendantStore reads attendants.
type AttendantStore interface {
	GetByID(ctx context.Context, id uint64) (model.Attendant, error)
	List(ctx context.Context) ([]model.Attendant, error)
}

// TicketStore reads and transitions tickets.
type TicketStore interface {
	GetByID(ctx context.Context, id uint64) (model.Ticket, error)
	ListOpen(ctx context.Context) ([]model.Ticket, error)
	ListOpenByAttendant(ctx context.Context, attendantID uint64) ([]model.Ticket, error)
	CreateBatch(ctx context.Context, tickets []model.Ticket) ([]model.Ticket, error)
	MarkInService(ctx context.Context, id uint64, at time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id uint64, at time.Time) (bool, error)
	Delete(ctx context.Context, id uint64) (bool, error)
}

// CompletedLister finds completed tickets lacking a history row.
type CompletedLister interface {
	ListCompletedWithoutHistory(ctx context.Context, limit int) ([]repository.CompletedWithoutHistory, error)
}

// HistoryStore persists attendance history.
type HistoryStore interface {
	InsertViaProcedure(ctx context.Context, rec model.AttendanceRecord) (uint64, error)
	Insert(ctx context.Context, rec model.AttendanceRecord) (uint64, error)
	ListRange(ctx context.Context, from, to string) ([]model.AttendanceRecord, error)
}

// HintStore keeps the informational next-number counters.
type HintStore interface {
	Get(ctx context.Context) (model.QueueState, error)
	SetNext(ctx context.Context, t model.TicketType, next int) error
}

// UserStore reads operator accounts.
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// TokenStore persists refresh tokens.
type TokenStore interface {
	StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string, now time.Time) (uint64, error)
	RevokeByHash(ctx context.Context, tokenHash string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID uint64) error
}
