package service

import (
	"context"
	"log"
)

// Reconciler backfills history for completed tickets that have none, which
// happens when the process stops between the status update and the
// history write.  Tickets whose record already waits in the outbox are left
// to the outbox replay.
type Reconciler struct {
	tickets  CompletedLister
	recorder *Recorder
	batch    int
}

// NewReconciler builds a Reconciler handling up to batch tickets per run.
func NewReconciler(tickets CompletedLister, recorder *Recorder, batch int) *Reconciler {
	if batch <= 0 {
		batch = 100
	}
	return &Reconciler{tickets: tickets, recorder: recorder, batch: batch}
}

// Run records the missing history rows and returns how many were written.
// A record that fails stays missing until the next run; it is not buffered.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	missing, err := r.tickets.ListCompletedWithoutHistory(ctx, r.batch)
	if err != nil {
		return 0, unavailable("list completed tickets", err)
	}
	if len(missing) == 0 {
		return 0, nil
	}
	pending, err := r.recorder.PendingTicketIDs()
	if err != nil {
		return 0, err
	}
	written := 0
	for _, m := range missing {
		if pending[m.Ticket.ID] {
			continue
		}
		rec, err := r.recorder.Build(m.Ticket, m.AttendantName)
		if err != nil {
			log.Printf("history-reconcile: skip ticket %d: %v", m.Ticket.ID, err)
			continue
		}
		if _, err := r.recorder.persist(ctx, rec); err != nil {
			log.Printf("history-reconcile: ticket %d: %v", m.Ticket.ID, err)
			continue
		}
		written++
	}
	if written > 0 {
		log.Printf("history-reconcile: backfilled %d record(s)", written)
	}
	return written, nil
}
