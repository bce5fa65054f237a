package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/walkin-queue/internal/model"
	"github.com/iliyamo/walkin-queue/internal/queue"
	"github.com/iliyamo/walkin-queue/internal/repository"
)

// memDB is an in-memory stand-in for the MySQL tables the service reads.
type memDB struct {
	mu         sync.Mutex
	attendants map[uint64]model.Attendant
	tickets    map[uint64]model.Ticket
	history    []model.AttendanceRecord
	hints      model.QueueState
	nextID     uint64

	failList      error // ListOpen / List
	failInsert    error // history Insert
	failProcedure error // history InsertViaProcedure
	conflicts     int   // CreateBatch calls left that fail with ErrConflict
	procCalls     int
	insertCalls   int
}

func newMemDB() *memDB {
	return &memDB{
		attendants: make(map[uint64]model.Attendant),
		tickets:    make(map[uint64]model.Ticket),
		hints:      model.QueueState{NextPreferentialNumber: 1, NextNormalNumber: 1},
	}
}

func (db *memDB) addAttendant(name string, active bool) uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextID++
	db.attendants[db.nextID] = model.Attendant{ID: db.nextID, Name: name, IsActive: active}
	return db.nextID
}

func (db *memDB) ticket(id uint64) model.Ticket {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tickets[id]
}

func (db *memDB) historyRows() []model.AttendanceRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]model.AttendanceRecord(nil), db.history...)
}

func (db *memDB) setFail(list, insert, procedure error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failList, db.failInsert, db.failProcedure = list, insert, procedure
}

type memAttendants struct{ db *memDB }

func (s memAttendants) GetByID(_ context.Context, id uint64) (model.Attendant, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	a, ok := s.db.attendants[id]
	if !ok {
		return model.Attendant{}, repository.ErrAttendantNotFound
	}
	return a, nil
}

func (s memAttendants) List(context.Context) ([]model.Attendant, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failList != nil {
		return nil, s.db.failList
	}
	out := make([]model.Attendant, 0, len(s.db.attendants))
	for _, a := range s.db.attendants {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memTickets struct{ db *memDB }

func (s memTickets) GetByID(_ context.Context, id uint64) (model.Ticket, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.tickets[id]
	if !ok {
		return model.Ticket{}, repository.ErrTicketNotFound
	}
	return t, nil
}

func (s memTickets) open(filter func(model.Ticket) bool) []model.Ticket {
	out := make([]model.Ticket, 0)
	for _, t := range s.db.tickets {
		if t.Status.Open() && filter(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return older(out[i], out[j]) })
	return out
}

func (s memTickets) ListOpen(context.Context) ([]model.Ticket, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failList != nil {
		return nil, s.db.failList
	}
	return s.open(func(model.Ticket) bool { return true }), nil
}

func (s memTickets) ListOpenByAttendant(_ context.Context, attendantID uint64) ([]model.Ticket, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.open(func(t model.Ticket) bool { return t.AttendantID == attendantID }), nil
}

func (s memTickets) CreateBatch(_ context.Context, batch []model.Ticket) ([]model.Ticket, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.conflicts > 0 {
		s.db.conflicts--
		return nil, repository.ErrConflict
	}
	for _, n := range batch {
		for _, t := range s.db.tickets {
			if t.Status.Open() && t.AttendantID == n.AttendantID && t.Type == n.Type && t.Number == n.Number {
				return nil, repository.ErrConflict
			}
		}
	}
	out := make([]model.Ticket, 0, len(batch))
	for _, n := range batch {
		s.db.nextID++
		n.ID = s.db.nextID
		n.Status = model.StatusWaiting
		s.db.tickets[n.ID] = n
		out = append(out, n)
	}
	return out, nil
}

func (s memTickets) MarkInService(_ context.Context, id uint64, at time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.tickets[id]
	if !ok || t.Status != model.StatusWaiting {
		return false, nil
	}
	t.Status = model.StatusInService
	t.CalledAt = &at
	s.db.tickets[id] = t
	return true, nil
}

func (s memTickets) MarkCompleted(_ context.Context, id uint64, at time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.tickets[id]
	if !ok || t.Status != model.StatusInService {
		return false, nil
	}
	t.Status = model.StatusCompleted
	t.CompletedAt = &at
	s.db.tickets[id] = t
	return true, nil
}

func (s memTickets) Delete(_ context.Context, id uint64) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.tickets[id]; !ok {
		return false, nil
	}
	delete(s.db.tickets, id)
	return true, nil
}

func (s memTickets) ListCompletedWithoutHistory(_ context.Context, limit int) ([]repository.CompletedWithoutHistory, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	recorded := make(map[uint64]bool)
	for _, h := range s.db.history {
		if h.TicketID != nil {
			recorded[*h.TicketID] = true
		}
	}
	out := make([]repository.CompletedWithoutHistory, 0)
	for _, t := range s.db.tickets {
		if t.Status == model.StatusCompleted && !recorded[t.ID] {
			out = append(out, repository.CompletedWithoutHistory{Ticket: t, AttendantName: s.db.attendants[t.AttendantID].Name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket.ID < out[j].Ticket.ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memHistory struct{ db *memDB }

// insert mimics INSERT IGNORE on the client_ref and ticket_id keys.
func (s memHistory) insert(rec model.AttendanceRecord) uint64 {
	for _, h := range s.db.history {
		if h.ClientRef == rec.ClientRef || (h.TicketID != nil && rec.TicketID != nil && *h.TicketID == *rec.TicketID) {
			return h.ID
		}
	}
	s.db.nextID++
	rec.ID = s.db.nextID
	rec.Pending = false
	s.db.history = append(s.db.history, rec)
	return rec.ID
}

func (s memHistory) InsertViaProcedure(_ context.Context, rec model.AttendanceRecord) (uint64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.procCalls++
	if s.db.failProcedure != nil {
		return 0, s.db.failProcedure
	}
	return s.insert(rec), nil
}

func (s memHistory) Insert(_ context.Context, rec model.AttendanceRecord) (uint64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.insertCalls++
	if s.db.failInsert != nil {
		return 0, s.db.failInsert
	}
	return s.insert(rec), nil
}

func (s memHistory) ListRange(_ context.Context, from, to string) ([]model.AttendanceRecord, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failList != nil {
		return nil, s.db.failList
	}
	out := make([]model.AttendanceRecord, 0)
	for _, h := range s.db.history {
		if h.ServiceDate >= from && h.ServiceDate <= to {
			out = append(out, h)
		}
	}
	return out, nil
}

type memHints struct{ db *memDB }

func (s memHints) Get(context.Context) (model.QueueState, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.hints, nil
}

func (s memHints) SetNext(_ context.Context, t model.TicketType, next int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if t == model.TicketPreferential {
		s.db.hints.NextPreferentialNumber = next
	} else {
		s.db.hints.NextNormalNumber = next
	}
	return nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	kinds  []string
	alerts []string
}

func (p *recordingPublisher) PublishTicketEvent(_ context.Context, ev queue.TicketEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, ev.Kind+":"+ev.TicketNumber)
	return nil
}

func (p *recordingPublisher) PublishAlert(_ context.Context, ev queue.AlertEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, ev.Level+":"+ev.TicketNumber)
	return nil
}

func (p *recordingPublisher) events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.kinds...)
}

type harness struct {
	db       *memDB
	clock    *clock
	state    *StateStore
	recorder *Recorder
	guard    *LocalGuard
	manager  *Manager
	events   *recordingPublisher
	desk     uint64
}

// desk time zone used by the tests; service dates follow it.
var deskZone = time.FixedZone("desk", -3*60*60)

func newHarness(outboxPath string) *harness {
	db := newMemDB()
	clk := &clock{t: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)}
	state := NewStateStore(memAttendants{db}, memTickets{db}, memHints{db}, 15*time.Minute, clk.Now)
	rec := NewRecorder(memHistory{db}, NewOutbox(outboxPath), deskZone, true)
	guard := NewLocalGuard()
	events := &recordingPublisher{}
	m := NewManager(ManagerConfig{
		Attendants:   memAttendants{db},
		Tickets:      memTickets{db},
		Hints:        memHints{db},
		State:        state,
		Recorder:     rec,
		Guard:        guard,
		Events:       events,
		OverdueAfter: 15 * time.Minute,
		Now:          clk.Now,
	})
	return &harness{
		db: db, clock: clk, state: state, recorder: rec, guard: guard, manager: m, events: events,
		desk: db.addAttendant("Desk 1", true),
	}
}
