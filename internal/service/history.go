package service

import (
	"context"
	"errors"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/walkin-queue/internal/model"
)

// RecordID identifies a history record: "db:<id>" once persisted,
// "local:<client ref>" while it waits in the outbox.
type RecordID string

// Local reports whether the record is still buffered.
func (id RecordID) Local() bool { return strings.HasPrefix(string(id), "local:") }

func dbRecordID(id uint64) RecordID     { return RecordID("db:" + strconv.FormatUint(id, 10)) }
func localRecordID(ref string) RecordID { return RecordID("local:" + ref) }

// ticketRefSpace namespaces client references derived from ticket ids.
var ticketRefSpace = uuid.MustParse("6f1c1b2e-5d0a-4b8e-9a57-1f0e2c6a9d41")

// TicketRef returns the client reference of the history record of a
// ticket.  It is derived from the ticket id, so the completion path, the
// outbox replay and the reconciliation job all agree on it.
func TicketRef(ticketID uint64) string {
	return uuid.NewSHA1(ticketRefSpace, []byte("ticket:"+strconv.FormatUint(ticketID, 10))).String()
}

// SyncResult reports one outbox replay.
type SyncResult struct {
	Synced    int  `json:"synced"`
	Remaining int  `json:"remaining"`
	Skipped   bool `json:"skipped,omitempty"` // another replay was running
}

// Recorder writes attendance history.  Persistence is tried through the
// record_attendance procedure, then a plain insert, then the local outbox.
type Recorder struct {
	store        HistoryStore
	outbox       *Outbox
	loc          *time.Location
	useProcedure bool

	syncMu sync.Mutex
}

// NewRecorder builds a Recorder.  loc is the calendar used for service
// dates; nil means time.Local.
func NewRecorder(store HistoryStore, outbox *Outbox, loc *time.Location, useProcedure bool) *Recorder {
	if loc == nil {
		loc = time.Local
	}
	return &Recorder{store: store, outbox: outbox, loc: loc, useProcedure: useProcedure}
}

// ServiceDate returns the calendar date of t in the recorder's zone.
func (r *Recorder) ServiceDate(t time.Time) string {
	return t.In(r.loc).Format(model.ServiceDateLayout)
}

// Build turns a completed ticket into its history record.
func (r *Recorder) Build(t model.Ticket, attendantName string) (model.AttendanceRecord, error) {
	if t.CalledAt == nil || t.CompletedAt == nil {
		return model.AttendanceRecord{}, &ValidationError{Field: "ticket", Reason: "ticket has no call or completion time"}
	}
	id := t.ID
	return model.AttendanceRecord{
		ClientRef:     TicketRef(t.ID),
		TicketID:      &id,
		AttendantID:   t.AttendantID,
		AttendantName: attendantName,
		TicketNumber:  t.Label(),
		TicketType:    t.Type,
		StartTime:     t.CalledAt.UTC(),
		EndTime:       t.CompletedAt.UTC(),
		ServiceDate:   r.ServiceDate(*t.CompletedAt),
	}, nil
}

// persist tries the database paths in order of preference.
func (r *Recorder) persist(ctx context.Context, rec model.AttendanceRecord) (uint64, error) {
	if r.useProcedure {
		id, err := r.store.InsertViaProcedure(ctx, rec)
		if err == nil {
			return id, nil
		}
		log.Printf("history: procedure insert of %s failed, trying direct insert: %v", rec.ClientRef, err)
	}
	return r.store.Insert(ctx, rec)
}

// Record stores rec.  When the database refuses it the record is buffered
// and a local id is returned with a nil error.  An error is only returned
// when the outbox cannot be written either.
func (r *Recorder) Record(ctx context.Context, rec model.AttendanceRecord) (RecordID, error) {
	if rec.ClientRef == "" {
		rec.ClientRef = uuid.NewString()
	}
	if rec.ServiceDate == "" {
		rec.ServiceDate = r.ServiceDate(rec.EndTime)
	}
	id, dbErr := r.persist(ctx, rec)
	if dbErr == nil {
		return dbRecordID(id), nil
	}
	log.Printf("history-outbox: buffering %s (%s): %v", rec.ClientRef, rec.TicketNumber, dbErr)
	if err := r.outbox.Add(rec); err != nil {
		return "", unavailable("record history", errors.Join(dbErr, err))
	}
	return localRecordID(rec.ClientRef), nil
}

// Sync replays every buffered entry.  Entries that persist leave the
// outbox; the others stay for the next pass.  Concurrent calls do not
// overlap: a call made while a replay runs returns Skipped.
func (r *Recorder) Sync(ctx context.Context) (SyncResult, error) {
	if !r.syncMu.TryLock() {
		return SyncResult{Skipped: true}, nil
	}
	defer r.syncMu.Unlock()

	entries, err := r.outbox.List()
	if err != nil {
		return SyncResult{}, err
	}
	done := make([]string, 0, len(entries))
	var lastErr error
	for _, e := range entries {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		if _, err := r.persist(ctx, e); err != nil {
			lastErr = err
			continue
		}
		done = append(done, e.ClientRef)
	}
	if err := r.outbox.Remove(done...); err != nil {
		return SyncResult{Synced: len(done), Remaining: len(entries) - len(done)}, err
	}
	res := SyncResult{Synced: len(done), Remaining: len(entries) - len(done)}
	if len(done) > 0 || lastErr != nil {
		log.Printf("history-outbox: synced %d, %d remaining (last error: %v)", res.Synced, res.Remaining, lastErr)
	}
	return res, nil
}

// Pending lists the buffered entries.
func (r *Recorder) Pending() ([]model.AttendanceRecord, error) {
	entries, err := r.outbox.List()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Pending = true
	}
	return entries, nil
}

// PendingTicketIDs returns the tickets that have a buffered record.
func (r *Recorder) PendingTicketIDs() (map[uint64]bool, error) {
	entries, err := r.outbox.List()
	if err != nil {
		return nil, err
	}
	ids := make(map[uint64]bool, len(entries))
	for _, e := range entries {
		if e.TicketID != nil {
			ids[*e.TicketID] = true
		}
	}
	return ids, nil
}

// Report is the answer to a history query.  Degraded is set when one of
// the two sources could not be read; with the database down Records only
// holds buffered entries.
type Report struct {
	Records  []model.AttendanceRecord
	Degraded bool
}

// QueryByDate returns the records of one service date, persisted and
// buffered, without duplicates.
func (r *Recorder) QueryByDate(ctx context.Context, date string) ([]model.AttendanceRecord, error) {
	return r.QueryRange(ctx, date, date)
}

// QueryRange returns the records whose service date lies in [from, to].
// See Report.
func (r *Recorder) QueryRange(ctx context.Context, from, to string) ([]model.AttendanceRecord, error) {
	rep, err := r.Report(ctx, from, to)
	return rep.Records, err
}

// Report merges the persisted records of [from, to] with the buffered
// ones.  A buffered entry that has meanwhile been persisted (same client
// reference or same ticket) is reported once, as persisted.  It fails only
// when neither the database nor the outbox can be read.
func (r *Recorder) Report(ctx context.Context, from, to string) (Report, error) {
	f, err := time.Parse(model.ServiceDateLayout, from)
	if err != nil {
		return Report{}, &ValidationError{Field: "from", Reason: "expected YYYY-MM-DD"}
	}
	t, err := time.Parse(model.ServiceDateLayout, to)
	if err != nil {
		return Report{}, &ValidationError{Field: "to", Reason: "expected YYYY-MM-DD"}
	}
	if t.Before(f) {
		return Report{}, &ValidationError{Field: "to", Reason: "before from"}
	}

	persisted, dbErr := r.store.ListRange(ctx, from, to)
	buffered, boxErr := r.outbox.ListRange(from, to)
	switch {
	case dbErr != nil && boxErr != nil:
		return Report{}, unavailable("query history", errors.Join(dbErr, boxErr))
	case dbErr != nil:
		log.Printf("history-outbox: database read failed, serving %d buffered entries for %s..%s: %v",
			len(buffered), from, to, dbErr)
		return Report{Records: mergeRecords(nil, buffered), Degraded: true}, nil
	case boxErr != nil:
		log.Printf("history-outbox: read failed during query: %v", boxErr)
		return Report{Records: mergeRecords(persisted, nil), Degraded: true}, nil
	}
	return Report{Records: mergeRecords(persisted, buffered)}, nil
}

func mergeRecords(persisted, buffered []model.AttendanceRecord) []model.AttendanceRecord {
	refs := make(map[string]bool, len(persisted))
	tickets := make(map[uint64]bool, len(persisted))
	out := make([]model.AttendanceRecord, 0, len(persisted)+len(buffered))
	for _, p := range persisted {
		if refs[p.ClientRef] {
			continue
		}
		refs[p.ClientRef] = true
		if p.TicketID != nil {
			tickets[*p.TicketID] = true
		}
		out = append(out, p)
	}
	for _, b := range buffered {
		if refs[b.ClientRef] || (b.TicketID != nil && tickets[*b.TicketID]) {
			continue
		}
		refs[b.ClientRef] = true
		if b.TicketID != nil {
			tickets[*b.TicketID] = true
		}
		b.Pending = true
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out
}
