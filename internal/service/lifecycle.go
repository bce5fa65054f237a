package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/iliyamo/walkin-queue/internal/model"
	"github.com/iliyamo/walkin-queue/internal/numbering"
	"github.com/iliyamo/walkin-queue/internal/queue"
	"github.com/iliyamo/walkin-queue/internal/repository"
)

// Operation names; they prefix the guard keys.
const (
	OpCreate   = "create"
	OpCall     = "call"
	OpComplete = "complete"
	OpRemove   = "remove"
)

// createAttempts bounds the retries when another session took the numbers
// between our read and our insert.
const createAttempts = 2

// Result is what a lifecycle operation hands back to the caller.
//
// Skipped is set when the same operation was already in flight for the
// attendant; nothing was done.  Tickets holds the tickets the operation
// touched and is empty for a no-op.  Snapshot is the state reloaded after
// the operation.
type Result struct {
	Skipped  bool           `json:"skipped"`
	Tickets  []model.Ticket `json:"tickets"`
	History  RecordID       `json:"history_id,omitempty"`
	Snapshot Snapshot       `json:"snapshot"`
}

// ManagerConfig gathers the collaborators of a Manager.
type ManagerConfig struct {
	Attendants   AttendantStore
	Tickets      TicketStore
	Hints        HintStore
	State        *StateStore
	Recorder     *Recorder
	Guard        Guard          // nil means a LocalGuard
	Events       EventPublisher // nil means NopPublisher
	OverdueAfter time.Duration
	Now          func() time.Time
}

// Manager drives tickets through waiting, in service and completed, and
// removes them.  Every operation is keyed by attendant, guarded against
// re-entry, and followed by a full state reload.
type Manager struct {
	attendants   AttendantStore
	tickets      TicketStore
	hints        HintStore
	state        *StateStore
	recorder     *Recorder
	guard        Guard
	events       EventPublisher
	locks        *keyedMutex
	overdueAfter time.Duration
	now          func() time.Time
}

// NewManager builds a Manager from cfg.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		attendants:   cfg.Attendants,
		tickets:      cfg.Tickets,
		hints:        cfg.Hints,
		state:        cfg.State,
		recorder:     cfg.Recorder,
		guard:        cfg.Guard,
		events:       cfg.Events,
		locks:        newKeyedMutex(),
		overdueAfter: cfg.OverdueAfter,
		now:          cfg.Now,
	}
	if m.guard == nil {
		m.guard = NewLocalGuard()
	}
	if m.events == nil {
		m.events = NopPublisher{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.overdueAfter <= 0 {
		m.overdueAfter = 15 * time.Minute
	}
	return m
}

// run executes fn under the operation guard and the attendant lock, then
// reloads the state whatever fn returned.
func (m *Manager) run(ctx context.Context, op string, attendantID uint64, fn func(context.Context) (Result, error)) (Result, error) {
	release, ok, err := m.guard.Acquire(ctx, OpKey(op, attendantID))
	if err != nil {
		return Result{}, unavailable("acquire "+op+" guard", err)
	}
	if !ok {
		snap, _ := m.state.Current(ctx)
		return Result{Skipped: true, Tickets: []model.Ticket{}, Snapshot: snap}, nil
	}
	defer release()
	unlock := m.locks.Lock(attendantID)
	defer unlock()

	res, opErr := fn(ctx)
	if res.Tickets == nil {
		res.Tickets = []model.Ticket{}
	}
	snap, err := m.state.Refresh(ctx)
	if err != nil {
		log.Printf("queue-state: reload after %s on attendant %d failed: %v", op, attendantID, err)
	}
	res.Snapshot = snap
	return res, opErr
}

func (m *Manager) attendant(ctx context.Context, id uint64) (model.Attendant, error) {
	a, err := m.attendants.GetByID(ctx, id)
	if errors.Is(err, repository.ErrAttendantNotFound) {
		return model.Attendant{}, &NotFoundError{Kind: "attendant", ID: id}
	}
	if err != nil {
		return model.Attendant{}, unavailable("load attendant", err)
	}
	return a, nil
}

func (m *Manager) openTickets(ctx context.Context, attendantID uint64) ([]model.Ticket, error) {
	open, err := m.tickets.ListOpenByAttendant(ctx, attendantID)
	return open, unavailable("load tickets", err)
}

// Create issues one waiting ticket of type t for the attendant, numbered
// with the lowest free number of the type.  Any existing attendant may
// receive tickets, active or not.
func (m *Manager) Create(ctx context.Context, t model.TicketType, attendantID uint64) (Result, error) {
	if !t.Valid() {
		return Result{}, &ValidationError{Field: "type", Reason: "must be preferential or normal"}
	}
	return m.run(ctx, OpCreate, attendantID, func(ctx context.Context) (Result, error) {
		return m.create(ctx, t, attendantID, 1, false)
	})
}

// CreateBulk issues quantity waiting tickets of type t in one batch, or
// none at all when the attendant lacks free numbers.
func (m *Manager) CreateBulk(ctx context.Context, t model.TicketType, attendantID uint64, quantity int) (Result, error) {
	if !t.Valid() {
		return Result{}, &ValidationError{Field: "type", Reason: "must be preferential or normal"}
	}
	if quantity < 1 {
		return Result{}, &ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	return m.run(ctx, OpCreate, attendantID, func(ctx context.Context) (Result, error) {
		return m.create(ctx, t, attendantID, quantity, true)
	})
}

func (m *Manager) create(ctx context.Context, t model.TicketType, attendantID uint64, quantity int, bulk bool) (Result, error) {
	a, err := m.attendant(ctx, attendantID)
	if err != nil {
		return Result{}, err
	}
	for attempt := 1; ; attempt++ {
		open, err := m.openTickets(ctx, attendantID)
		if err != nil {
			return Result{}, err
		}
		nums, err := allocate(t, numbering.InUse(t, open), quantity, bulk)
		if err != nil {
			var (
				full  *numbering.ErrRangeExhausted
				short *numbering.ErrInsufficient
			)
			switch {
			case errors.As(err, &full):
				return Result{}, &QueueFullError{Type: t, AttendantID: attendantID}
			case errors.As(err, &short):
				return Result{}, &InsufficientCapacityError{Type: t, AttendantID: attendantID,
					Available: short.Available, Requested: short.Requested}
			}
			return Result{}, &ValidationError{Field: "type", Reason: err.Error()}
		}

		now := m.now()
		batch := make([]model.Ticket, len(nums))
		for i, n := range nums {
			batch[i] = model.Ticket{Number: n, Type: t, AttendantID: attendantID, Status: model.StatusWaiting, CreatedAt: now}
		}
		created, err := m.tickets.CreateBatch(ctx, batch)
		if errors.Is(err, repository.ErrConflict) {
			if attempt < createAttempts {
				continue
			}
			return Result{}, ErrStateChanged
		}
		if err != nil {
			return Result{}, unavailable("create tickets", err)
		}

		m.state.Tentative(addWaiting(attendantID, created))
		m.advanceHint(ctx, t, nums[len(nums)-1])
		for _, tk := range created {
			publishTicket(m.events, ticketEvent(queue.TicketCreated, tk, a.Name, now))
		}
		return Result{Tickets: created}, nil
	}
}

// allocate picks the numbers for a creation: the lowest free one for a
// single ticket, the first quantity free ones for a bulk request.
func allocate(t model.TicketType, inUse []int, quantity int, bulk bool) ([]int, error) {
	if !bulk {
		n, err := numbering.NextNumber(t, inUse)
		if err != nil {
			return nil, err
		}
		return []int{n}, nil
	}
	return numbering.NextNNumbers(t, inUse, quantity)
}

// advanceHint moves the display counter past the last number issued.
func (m *Manager) advanceHint(ctx context.Context, t model.TicketType, last int) {
	if m.hints == nil {
		return
	}
	if err := m.hints.SetNext(ctx, t, numbering.NextHint(t, last)); err != nil {
		log.Printf("queue-hints: update %s hint failed: %v", t, err)
	}
}

// SelectNext picks the ticket to call among an attendant's waiting tickets:
// the oldest preferential one, else the oldest of any type.  It returns nil
// when nothing waits.
func SelectNext(tickets []model.Ticket) *model.Ticket {
	var oldestPref, oldest *model.Ticket
	for i := range tickets {
		t := &tickets[i]
		if t.Status != model.StatusWaiting {
			continue
		}
		if oldest == nil || older(*t, *oldest) {
			oldest = t
		}
		if t.Type == model.TicketPreferential && (oldestPref == nil || older(*t, *oldestPref)) {
			oldestPref = t
		}
	}
	if oldestPref != nil {
		return oldestPref
	}
	return oldest
}

func older(a, b model.Ticket) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func inService(tickets []model.Ticket) *model.Ticket {
	var cur *model.Ticket
	for i := range tickets {
		t := &tickets[i]
		if t.Status == model.StatusInService && (cur == nil || calledBefore(*t, *cur)) {
			cur = t
		}
	}
	return cur
}

// CallNext moves the next waiting ticket of the attendant into service.
// It does nothing when the attendant is already serving or nobody waits.
func (m *Manager) CallNext(ctx context.Context, attendantID uint64) (Result, error) {
	return m.run(ctx, OpCall, attendantID, func(ctx context.Context) (Result, error) {
		a, err := m.attendant(ctx, attendantID)
		if err != nil {
			return Result{}, err
		}
		open, err := m.openTickets(ctx, attendantID)
		if err != nil {
			return Result{}, err
		}
		if inService(open) != nil {
			return Result{}, nil
		}
		next := SelectNext(open)
		if next == nil {
			return Result{}, nil
		}

		now := m.now()
		called := *next
		called.Status = model.StatusInService
		called.CalledAt = &now
		m.state.Tentative(promote(attendantID, called))

		ok, err := m.tickets.MarkInService(ctx, called.ID, now)
		if err != nil {
			return Result{}, unavailable("call ticket", err)
		}
		if !ok {
			return Result{}, ErrStateChanged
		}
		publishTicket(m.events, ticketEvent(queue.TicketCalled, called, a.Name, now))
		return Result{Tickets: []model.Ticket{called}}, nil
	})
}

// Complete closes the attendant's in-service ticket and records the
// service in the history.  It does nothing when nothing is in service.
//
// The status update and the history write are two separate writes.  A
// failed history insert falls back to the outbox and the completion still
// succeeds; the reconciliation job covers a crash between the two.
func (m *Manager) Complete(ctx context.Context, attendantID uint64) (Result, error) {
	return m.run(ctx, OpComplete, attendantID, func(ctx context.Context) (Result, error) {
		a, err := m.attendant(ctx, attendantID)
		if err != nil {
			return Result{}, err
		}
		open, err := m.openTickets(ctx, attendantID)
		if err != nil {
			return Result{}, err
		}
		cur := inService(open)
		if cur == nil {
			return Result{}, nil
		}

		now := m.now()
		done := *cur
		done.Status = model.StatusCompleted
		done.CompletedAt = &now
		m.state.Tentative(dropTicket(attendantID, done.ID))

		ok, err := m.tickets.MarkCompleted(ctx, done.ID, now)
		if err != nil {
			return Result{}, unavailable("complete ticket", err)
		}
		if !ok {
			return Result{}, ErrStateChanged
		}

		res := Result{Tickets: []model.Ticket{done}}
		rec, err := m.recorder.Build(done, a.Name)
		if err != nil {
			return res, err
		}
		id, err := m.recorder.Record(ctx, rec)
		if err != nil {
			return res, err
		}
		res.History = id
		ev := ticketEvent(queue.TicketCompleted, done, a.Name, now)
		ev.HistoryRef = string(id)
		publishTicket(m.events, ev)
		return res, nil
	})
}

// Remove deletes a waiting or in-service ticket of the attendant without
// writing history.  A ticket of another attendant is reported as not found.
func (m *Manager) Remove(ctx context.Context, attendantID, ticketID uint64) (Result, error) {
	return m.run(ctx, OpRemove, attendantID, func(ctx context.Context) (Result, error) {
		a, err := m.attendant(ctx, attendantID)
		if err != nil {
			return Result{}, err
		}
		t, err := m.tickets.GetByID(ctx, ticketID)
		if errors.Is(err, repository.ErrTicketNotFound) || (err == nil && t.AttendantID != attendantID) {
			return Result{}, &NotFoundError{Kind: "ticket", ID: ticketID}
		}
		if err != nil {
			return Result{}, unavailable("load ticket", err)
		}
		if !t.Status.Open() {
			return Result{}, &ValidationError{Field: "ticket", Reason: "completed tickets cannot be removed"}
		}

		m.state.Tentative(dropTicket(attendantID, ticketID))
		ok, err := m.tickets.Delete(ctx, ticketID)
		if err != nil {
			return Result{}, unavailable("remove ticket", err)
		}
		if !ok {
			return Result{}, &NotFoundError{Kind: "ticket", ID: ticketID}
		}
		t.Status = model.StatusRemoved
		publishTicket(m.events, ticketEvent(queue.TicketRemoved, t, a.Name, m.now()))
		return Result{Tickets: []model.Ticket{t}}, nil
	})
}

// InService returns the attendant's in-service ticket, or nil.
func (m *Manager) InService(ctx context.Context, attendantID uint64) (*model.Ticket, error) {
	if _, err := m.attendant(ctx, attendantID); err != nil {
		return nil, err
	}
	open, err := m.openTickets(ctx, attendantID)
	if err != nil {
		return nil, err
	}
	return inService(open), nil
}

// IsOverdue reports whether the attendant's in-service ticket was called
// more than the overdue limit ago.  It is evaluated on every call.
func (m *Manager) IsOverdue(ctx context.Context, attendantID uint64) (bool, error) {
	cur, err := m.InService(ctx, attendantID)
	if err != nil {
		return false, err
	}
	return Overdue(cur, m.now(), m.overdueAfter), nil
}

// OverdueAfter returns the in-service limit.
func (m *Manager) OverdueAfter() time.Duration { return m.overdueAfter }
