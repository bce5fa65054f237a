package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/walkin-queue/internal/model"
)

func TestBuildSnapshot(t *testing.T) {
	now := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	calledLong := now.Add(-20 * time.Minute)
	calledShort := now.Add(-2 * time.Minute)
	attendants := []model.Attendant{
		{ID: 1, Name: "Ana", IsActive: true},
		{ID: 2, Name: "Bo", IsActive: false},
	}
	tickets := []model.Ticket{
		{ID: 11, Number: 2, Type: model.TicketNormal, AttendantID: 1, Status: model.StatusWaiting, CreatedAt: now.Add(-time.Minute)},
		{ID: 10, Number: 1, Type: model.TicketNormal, AttendantID: 1, Status: model.StatusWaiting, CreatedAt: now.Add(-5 * time.Minute)},
		{ID: 12, Number: 1, Type: model.TicketPreferential, AttendantID: 1, Status: model.StatusInService, CreatedAt: now.Add(-30 * time.Minute), CalledAt: &calledLong},
		{ID: 13, Number: 1, Type: model.TicketPreferential, AttendantID: 2, Status: model.StatusInService, CreatedAt: now.Add(-3 * time.Minute), CalledAt: &calledShort},
		{ID: 14, Number: 1, Type: model.TicketNormal, AttendantID: 99, Status: model.StatusWaiting, CreatedAt: now},
	}

	snap := BuildSnapshot(attendants, tickets, now, 15*time.Minute)

	require.Len(t, snap.Attendants, 2)
	ana := snap.Attendants[0]
	require.NotNil(t, ana.Current)
	assert.Equal(t, uint64(12), ana.Current.ID)
	assert.True(t, ana.Overdue)
	assert.Equal(t, []string{"N1", "N2"}, labels(ana.Waiting))

	bo := snap.Attendants[1]
	assert.False(t, bo.Overdue)
	assert.Empty(t, bo.Waiting)

	assert.Equal(t, Counts{ActiveAttendants: 1, WaitingPreferential: 0, WaitingNormal: 2, InService: 2}, snap.Counts)
	assert.Equal(t, now, snap.LoadedAt)
}

func TestStateStoreTentativeConfirmedByRefresh(t *testing.T) {
	h := newHarness(filepath.Join(t.TempDir(), "outbox.json"))
	ctx := context.Background()

	_, err := h.state.Refresh(ctx)
	require.NoError(t, err)
	ghost := model.Ticket{ID: 500, Number: 9, Type: model.TicketNormal, AttendantID: h.desk, Status: model.StatusWaiting}
	h.state.Tentative(addWaiting(h.desk, []model.Ticket{ghost}))

	cur, err := h.state.Current(ctx)
	require.NoError(t, err)
	assert.True(t, cur.Tentative)
	view, _ := cur.Attendant(h.desk)
	assert.Len(t, view.Waiting, 1)

	// the ticket never reached the database, so the reload discards it
	cur, err = h.state.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, cur.Tentative)
	view, _ = cur.Attendant(h.desk)
	assert.Empty(t, view.Waiting)
}

func TestStateStoreFailedRefreshDropsTentative(t *testing.T) {
	h := newHarness(filepath.Join(t.TempDir(), "outbox.json"))
	ctx := context.Background()

	_, err := h.state.Refresh(ctx)
	require.NoError(t, err)
	h.state.Tentative(addWaiting(h.desk, []model.Ticket{{ID: 1, Number: 1, Type: model.TicketNormal}}))

	h.db.setFail(errors.New("timeout"), nil, nil)
	_, err = h.state.Refresh(ctx)
	var unavail *BackendUnavailableError
	require.True(t, errors.As(err, &unavail))

	h.db.setFail(nil, nil, nil)
	cur, err := h.state.Current(ctx)
	require.NoError(t, err)
	assert.False(t, cur.Tentative)
	view, _ := cur.Attendant(h.desk)
	assert.Empty(t, view.Waiting)
}

func TestSnapshotIsolation(t *testing.T) {
	h := newHarness(filepath.Join(t.TempDir(), "outbox.json"))
	ctx := context.Background()
	_, err := h.manager.Create(ctx, model.TicketNormal, h.desk)
	require.NoError(t, err)

	a, err := h.state.Current(ctx)
	require.NoError(t, err)
	a.Attendants[0].Waiting[0].Number = 42

	b, err := h.state.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Attendants[0].Waiting[0].Number)
}
