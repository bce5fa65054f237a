package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/walkin-queue/internal/model"
)

func sampleRecord(ticketID uint64, end time.Time) model.AttendanceRecord {
	id := ticketID
	return model.AttendanceRecord{
		ClientRef:     TicketRef(ticketID),
		TicketID:      &id,
		AttendantID:   1,
		AttendantName: "Ana",
		TicketNumber:  "N1",
		TicketType:    model.TicketNormal,
		StartTime:     end.Add(-5 * time.Minute),
		EndTime:       end,
	}
}

func TestOutboxPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "outbox.json")
	ob := NewOutbox(path)
	end := time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC)

	rec := sampleRecord(7, end)
	rec.ServiceDate = "2026-10-17"
	require.NoError(t, ob.Add(rec))
	require.NoError(t, ob.Add(rec), "same reference is kept once")

	reopened := NewOutbox(path)
	all, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, rec.ClientRef, all[0].ClientRef)

	in, err := reopened.ListRange("2026-10-17", "2026-10-17")
	require.NoError(t, err)
	assert.Len(t, in, 1)
	out, err := reopened.ListRange("2026-10-18", "2026-10-20")
	require.NoError(t, err)
	assert.Empty(t, out)

	require.NoError(t, reopened.Remove(rec.ClientRef, "unknown"))
	all, err = ob.List()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestOutboxRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	_, err := NewOutbox(path).List()
	assert.Error(t, err)
}

func TestTicketRefIsStable(t *testing.T) {
	assert.Equal(t, TicketRef(12), TicketRef(12))
	assert.NotEqual(t, TicketRef(12), TicketRef(13))
}

func TestRecordReturnsErrorWhenOutboxAlsoFails(t *testing.T) {
	db := newMemDB()
	down := errors.New("connection refused")
	db.setFail(nil, down, down)
	// a directory where the file should be makes every write fail
	dir := t.TempDir()
	path := filepath.Join(dir, "outbox.json")
	require.NoError(t, os.Mkdir(path, 0o755))
	r := NewRecorder(memHistory{db}, NewOutbox(path), time.UTC, false)

	_, err := r.Record(context.Background(), sampleRecord(1, time.Now()))
	var unavail *BackendUnavailableError
	require.True(t, errors.As(err, &unavail))
	assert.ErrorIs(t, err, down)
	assert.Equal(t, 0, db.procCalls, "procedure path disabled")
}

func TestRecordIsIdempotentPerTicket(t *testing.T) {
	db := newMemDB()
	r := NewRecorder(memHistory{db}, NewOutbox(filepath.Join(t.TempDir(), "o.json")), time.UTC, true)
	ctx := context.Background()
	end := time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC)

	first, err := r.Record(ctx, sampleRecord(3, end))
	require.NoError(t, err)
	second, err := r.Record(ctx, sampleRecord(3, end))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, db.historyRows(), 1)
}

func TestQueryByDateMergesAndDeduplicates(t *testing.T) {
	db := newMemDB()
	r := NewRecorder(memHistory{db}, NewOutbox(filepath.Join(t.TempDir(), "o.json")), time.UTC, true)
	ctx := context.Background()
	day := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)

	// persisted record at 10:00
	_, err := r.Record(ctx, sampleRecord(1, day.Add(10*time.Hour)))
	require.NoError(t, err)

	// two buffered: one for the same day at 09:00, one for the next day
	down := errors.New("down")
	db.setFail(nil, down, down)
	_, err = r.Record(ctx, sampleRecord(2, day.Add(9*time.Hour)))
	require.NoError(t, err)
	_, err = r.Record(ctx, sampleRecord(3, day.Add(30*time.Hour)))
	require.NoError(t, err)
	// a stale outbox copy of the persisted record
	stale := sampleRecord(1, day.Add(10*time.Hour))
	stale.ServiceDate = "2026-10-17"
	require.NoError(t, r.outbox.Add(stale))
	db.setFail(nil, nil, nil)

	got, err := r.QueryByDate(ctx, "2026-10-17")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), *got[0].TicketID)
	assert.True(t, got[0].Pending)
	assert.Equal(t, uint64(1), *got[1].TicketID)
	assert.False(t, got[1].Pending)

	res, err := r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Synced)
	assert.Equal(t, 0, res.Remaining)

	got, err = r.QueryByDate(ctx, "2026-10-17")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	for _, g := range got {
		assert.False(t, g.Pending)
	}
	assert.Len(t, db.historyRows(), 3)

	ranged, err := r.QueryRange(ctx, "2026-10-17", "2026-10-18")
	require.NoError(t, err)
	assert.Len(t, ranged, 3)
}

func TestSyncKeepsFailingEntries(t *testing.T) {
	db := newMemDB()
	r := NewRecorder(memHistory{db}, NewOutbox(filepath.Join(t.TempDir(), "o.json")), time.UTC, false)
	ctx := context.Background()
	down := errors.New("down")
	db.setFail(nil, down, nil)

	_, err := r.Record(ctx, sampleRecord(1, time.Now()))
	require.NoError(t, err)
	res, err := r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Synced: 0, Remaining: 1}, res)

	pending, err := r.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Pending)
}

func TestSyncSkipsWhenAlreadyRunning(t *testing.T) {
	r := NewRecorder(memHistory{newMemDB()}, NewOutbox(filepath.Join(t.TempDir(), "o.json")), time.UTC, false)
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	res, err := r.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestQueryRangeValidatesDates(t *testing.T) {
	r := NewRecorder(memHistory{newMemDB()}, NewOutbox(filepath.Join(t.TempDir(), "o.json")), time.UTC, false)
	ctx := context.Background()
	var verr *ValidationError

	_, err := r.QueryByDate(ctx, "17/10/2026")
	assert.True(t, errors.As(err, &verr))
	_, err = r.QueryRange(ctx, "2026-10-18", "2026-10-17")
	assert.True(t, errors.As(err, &verr))
}

func TestBuildRequiresTimestamps(t *testing.T) {
	r := NewRecorder(memHistory{newMemDB()}, NewOutbox(filepath.Join(t.TempDir(), "o.json")), time.UTC, false)
	_, err := r.Build(model.Ticket{ID: 1, Type: model.TicketNormal, Number: 1}, "Ana")
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestReportServesBufferedEntriesWhileDatabaseIsDown(t *testing.T) {
	db := newMemDB()
	r := NewRecorder(memHistory{db}, NewOutbox(filepath.Join(t.TempDir(), "o.json")), time.UTC, true)
	ctx := context.Background()
	down := errors.New("down")
	db.setFail(down, down, down)

	id, err := r.Record(ctx, sampleRecord(4, time.Date(2026, 10, 17, 11, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.True(t, id.Local())

	got, err := r.QueryByDate(ctx, "2026-10-17")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(4), *got[0].TicketID)
	assert.True(t, got[0].Pending)

	rep, err := r.Report(ctx, "2026-10-17", "2026-10-17")
	require.NoError(t, err)
	assert.True(t, rep.Degraded)
	assert.Len(t, rep.Records, 1)

	db.setFail(nil, nil, nil)
	rep, err = r.Report(ctx, "2026-10-17", "2026-10-17")
	require.NoError(t, err)
	assert.False(t, rep.Degraded)
}

func TestReportFailsWhenBothSourcesFail(t *testing.T) {
	db := newMemDB()
	path := filepath.Join(t.TempDir(), "outbox.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	r := NewRecorder(memHistory{db}, NewOutbox(path), time.UTC, true)
	down := errors.New("down")
	db.setFail(down, nil, nil)

	_, err := r.QueryByDate(context.Background(), "2026-10-17")
	var unavail *BackendUnavailableError
	require.True(t, errors.As(err, &unavail))
	assert.ErrorIs(t, err, down)
}
