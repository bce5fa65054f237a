package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/iliyamo/walkin-queue/internal/model"
	"github.com/iliyamo/walkin-queue/internal/queue"
)

// AlertLevel grades how long a ticket has been in service.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

func (l AlertLevel) rank() int {
	switch l {
	case AlertWarning:
		return 1
	case AlertCritical:
		return 2
	}
	return 0
}

// Alert is raised by the sweep for one in-service ticket.
type Alert struct {
	Level         AlertLevel    `json:"level"`
	AttendantID   uint64        `json:"attendant_id"`
	AttendantName string        `json:"attendant_name"`
	Ticket        model.Ticket  `json:"ticket"`
	Elapsed       time.Duration `json:"elapsed"`
	RaisedAt      time.Time     `json:"raised_at"`
}

// AlertSink receives the alerts of a sweep.
type AlertSink interface {
	Alert(ctx context.Context, a Alert)
}

// LogAlertSink writes alerts to the process log.
type LogAlertSink struct{}

func (LogAlertSink) Alert(_ context.Context, a Alert) {
	log.Printf("queue-sweep: %s: ticket %s at %q in service for %s",
		a.Level, a.Ticket.Label(), a.AttendantName, a.Elapsed.Truncate(time.Second))
}

// PublisherAlertSink forwards alerts to the broker.
type PublisherAlertSink struct {
	Events EventPublisher
}

func (s PublisherAlertSink) Alert(ctx context.Context, a Alert) {
	called := ""
	if a.Ticket.CalledAt != nil {
		called = a.Ticket.CalledAt.UTC().Format(time.RFC3339)
	}
	ev := queue.AlertEvent{
		Level:          string(a.Level),
		TicketID:       a.Ticket.ID,
		TicketNumber:   a.Ticket.Label(),
		AttendantID:    a.AttendantID,
		AttendantName:  a.AttendantName,
		CalledAt:       called,
		ElapsedSeconds: int64(a.Elapsed / time.Second),
		RaisedAt:       a.RaisedAt.UTC().Format(time.RFC3339),
	}
	if err := s.Events.PublishAlert(ctx, ev); err != nil {
		log.Printf("queue-sweep: publish alert for ticket %d failed: %v", a.Ticket.ID, err)
	}
}

// Sweeper scans in-service tickets and raises a warning from warnAfter and
// a critical alert from the overdueAfter mark on.  Each ticket fires each
// level once; a ticket that jumps straight past the limit only gets the
// critical alert.
type Sweeper struct {
	state        *StateStore
	warnAfter    time.Duration
	overdueAfter time.Duration
	sinks        []AlertSink
	now          func() time.Time

	mu    sync.Mutex
	fired map[uint64]AlertLevel
}

// NewSweeper builds a Sweeper.  now may be nil for time.Now.
func NewSweeper(state *StateStore, warnAfter, overdueAfter time.Duration, now func() time.Time, sinks ...AlertSink) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		state:        state,
		warnAfter:    warnAfter,
		overdueAfter: overdueAfter,
		sinks:        sinks,
		now:          now,
		fired:        make(map[uint64]AlertLevel),
	}
}

func (s *Sweeper) level(elapsed time.Duration) AlertLevel {
	switch {
	case elapsed >= s.overdueAfter:
		return AlertCritical
	case elapsed >= s.warnAfter:
		return AlertWarning
	}
	return ""
}

// Sweep reloads the state, raises the alerts due and returns them.
func (s *Sweeper) Sweep(ctx context.Context) ([]Alert, error) {
	snap, err := s.state.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()

	s.mu.Lock()
	due := make([]Alert, 0)
	serving := make(map[uint64]bool)
	for _, a := range snap.Attendants {
		cur := a.Current
		if cur == nil || cur.CalledAt == nil {
			continue
		}
		serving[cur.ID] = true
		elapsed := now.Sub(*cur.CalledAt)
		lvl := s.level(elapsed)
		if lvl == "" || s.fired[cur.ID].rank() >= lvl.rank() {
			continue
		}
		s.fired[cur.ID] = lvl
		due = append(due, Alert{
			Level:         lvl,
			AttendantID:   a.ID,
			AttendantName: a.Name,
			Ticket:        *cur,
			Elapsed:       elapsed,
			RaisedAt:      now,
		})
	}
	for id := range s.fired {
		if !serving[id] {
			delete(s.fired, id)
		}
	}
	s.mu.Unlock()

	for _, al := range due {
		for _, sink := range s.sinks {
			sink.Alert(ctx, al)
		}
	}
	return due, nil
}
