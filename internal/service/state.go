package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/walkin-queue/internal/model"
)

// AttendantView is one desk card: the attendant, its in-service ticket (at
// most one) and its waiting tickets in arrival order.
type AttendantView struct {
	model.Attendant
	Current *model.Ticket  `json:"current_ticket"`
	Waiting []model.Ticket `json:"waiting"`
	Overdue bool           `json:"overdue"`
}

// Counts aggregates the snapshot for the dashboard header.
type Counts struct {
	ActiveAttendants    int `json:"active_attendants"`
	WaitingPreferential int `json:"waiting_preferential"`
	WaitingNormal       int `json:"waiting_normal"`
	InService           int `json:"in_service"`
}

// Snapshot is the projection of attendants and their open tickets.
// Tentative is set while an optimistic change awaits the confirming reload.
type Snapshot struct {
	Attendants []AttendantView `json:"attendants"`
	Counts     Counts          `json:"counts"`
	LoadedAt   time.Time       `json:"loaded_at"`
	Tentative  bool            `json:"tentative,omitempty"`
}

// Attendant returns the view of one attendant.
func (s Snapshot) Attendant(id uint64) (AttendantView, bool) {
	for _, a := range s.Attendants {
		if a.ID == id {
			return a, true
		}
	}
	return AttendantView{}, false
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Attendants = make([]AttendantView, len(s.Attendants))
	for i, a := range s.Attendants {
		c := a
		if a.Current != nil {
			cur := *a.Current
			c.Current = &cur
		}
		c.Waiting = append([]model.Ticket(nil), a.Waiting...)
		out.Attendants[i] = c
	}
	return out
}

// Overdue reports whether t has been in service for longer than limit at now.
func Overdue(t *model.Ticket, now time.Time, limit time.Duration) bool {
	if t == nil || t.Status != model.StatusInService || t.CalledAt == nil {
		return false
	}
	return now.Sub(*t.CalledAt) > limit
}

// BuildSnapshot projects attendants and their open tickets.  Tickets of
// unknown attendants are ignored.  If an attendant somehow holds several
// in-service tickets, the earliest called one is shown as current.
func BuildSnapshot(attendants []model.Attendant, tickets []model.Ticket, now time.Time, overdueAfter time.Duration) Snapshot {
	snap := Snapshot{Attendants: make([]AttendantView, 0, len(attendants)), LoadedAt: now}
	index := make(map[uint64]int, len(attendants))
	for _, a := range attendants {
		index[a.ID] = len(snap.Attendants)
		snap.Attendants = append(snap.Attendants, AttendantView{Attendant: a, Waiting: []model.Ticket{}})
		if a.IsActive {
			snap.Counts.ActiveAttendants++
		}
	}
	ordered := append([]model.Ticket(nil), tickets...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})
	for _, t := range ordered {
		i, ok := index[t.AttendantID]
		if !ok {
			continue
		}
		view := &snap.Attendants[i]
		switch t.Status {
		case model.StatusWaiting:
			view.Waiting = append(view.Waiting, t)
			if t.Type == model.TicketPreferential {
				snap.Counts.WaitingPreferential++
			} else {
				snap.Counts.WaitingNormal++
			}
		case model.StatusInService:
			snap.Counts.InService++
			tc := t
			if view.Current == nil || calledBefore(tc, *view.Current) {
				view.Current = &tc
			}
		}
	}
	for i := range snap.Attendants {
		snap.Attendants[i].Overdue = Overdue(snap.Attendants[i].Current, now, overdueAfter)
	}
	return snap
}

func calledBefore(a, b model.Ticket) bool {
	if a.CalledAt == nil || b.CalledAt == nil {
		return b.CalledAt == nil && a.CalledAt != nil
	}
	return a.CalledAt.Before(*b.CalledAt)
}

// StateStore holds the latest projection of the queue.  It is rebuilt in
// full from the database after every mutation instead of being patched, so
// it cannot drift from what is stored.
type StateStore struct {
	attendants   AttendantStore
	tickets      TicketStore
	hints        HintStore
	overdueAfter time.Duration
	now          func() time.Time

	mu      sync.RWMutex
	snap    Snapshot
	loaded  bool
	gen     uint64 // generation of the last started reload
	applied uint64 // generation of the snapshot currently held
}

// NewStateStore builds a StateStore.  now may be nil for time.Now.
func NewStateStore(attendants AttendantStore, tickets TicketStore, hints HintStore, overdueAfter time.Duration, now func() time.Time) *StateStore {
	if now == nil {
		now = time.Now
	}
	return &StateStore{attendants: attendants, tickets: tickets, hints: hints, overdueAfter: overdueAfter, now: now}
}

// Refresh reloads attendants and open tickets and replaces the held
// snapshot.  A reload that finishes after a newer one has been applied is
// discarded.  On failure the held snapshot loses its tentative changes, so
// an unconfirmed optimistic edit is never served as final.
func (s *StateStore) Refresh(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	attendants, err := s.attendants.List(ctx)
	if err != nil {
		return s.rollback(), unavailable("load attendants", err)
	}
	tickets, err := s.tickets.ListOpen(ctx)
	if err != nil {
		return s.rollback(), unavailable("load tickets", err)
	}
	snap := BuildSnapshot(attendants, tickets, s.now(), s.overdueAfter)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen > s.applied {
		s.snap, s.loaded, s.applied = snap, true, gen
	}
	return s.snap.clone(), nil
}

// rollback drops tentative edits by marking the snapshot stale; the next
// Current call reloads it.
func (s *StateStore) rollback() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Tentative {
		s.loaded = false
	}
	return s.snap.clone()
}

// Current returns the held snapshot, loading it first if needed.
func (s *StateStore) Current(ctx context.Context) (Snapshot, error) {
	s.mu.RLock()
	if s.loaded {
		snap := s.snap.clone()
		s.mu.RUnlock()
		return snap, nil
	}
	s.mu.RUnlock()
	return s.Refresh(ctx)
}

// Tentative applies an optimistic change to the held snapshot.  The change
// is confirmed or discarded by the next Refresh.
func (s *StateStore) Tentative(apply func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return
	}
	next := s.snap.clone()
	apply(&next)
	next.Tentative = true
	s.snap = next
}

// Hints returns the informational next-number counters.
func (s *StateStore) Hints(ctx context.Context) (model.QueueState, error) {
	st, err := s.hints.Get(ctx)
	return st, unavailable("load queue hints", err)
}

// tentative edits used by the lifecycle manager

func addWaiting(attendantID uint64, tickets []model.Ticket) func(*Snapshot) {
	return func(s *Snapshot) {
		for i := range s.Attendants {
			if s.Attendants[i].ID == attendantID {
				s.Attendants[i].Waiting = append(s.Attendants[i].Waiting, tickets...)
			}
		}
	}
}

func promote(attendantID uint64, t model.Ticket) func(*Snapshot) {
	return func(s *Snapshot) {
		for i := range s.Attendants {
			a := &s.Attendants[i]
			if a.ID != attendantID {
				continue
			}
			kept := a.Waiting[:0]
			for _, w := range a.Waiting {
				if w.ID != t.ID {
					kept = append(kept, w)
				}
			}
			a.Waiting = kept
			tc := t
			a.Current = &tc
		}
	}
}

func dropTicket(attendantID, ticketID uint64) func(*Snapshot) {
	return func(s *Snapshot) {
		for i := range s.Attendants {
			a := &s.Attendants[i]
			if a.ID != attendantID {
				continue
			}
			if a.Current != nil && a.Current.ID == ticketID {
				a.Current = nil
				a.Overdue = false
			}
			kept := a.Waiting[:0]
			for _, w := range a.Waiting {
				if w.ID != ticketID {
					kept = append(kept, w)
				}
			}
			a.Waiting = kept
		}
	}
}
