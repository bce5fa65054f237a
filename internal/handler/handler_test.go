package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/walkin-queue/internal/model"
	"github.com/iliyamo/walkin-queue/internal/repository"
	"github.com/iliyamo/walkin-queue/internal/service"
)

// ----- stubs -----

type stubOps struct {
	created   []model.TicketType
	result    service.Result
	err       error
	current   *model.Ticket
	limit     time.Duration
	lastBulk  int
	removedID uint64
}

func (s *stubOps) Create(_ context.Context, t model.TicketType, _ uint64) (service.Result, error) {
	s.created = append(s.created, t)
	return s.result, s.err
}

func (s *stubOps) CreateBulk(_ context.Context, t model.TicketType, _ uint64, q int) (service.Result, error) {
	s.created = append(s.created, t)
	s.lastBulk = q
	return s.result, s.err
}

func (s *stubOps) CallNext(context.Context, uint64) (service.Result, error) { return s.result, s.err }
func (s *stubOps) Complete(context.Context, uint64) (service.Result, error) { return s.result, s.err }

func (s *stubOps) Remove(_ context.Context, _, ticketID uint64) (service.Result, error) {
	s.removedID = ticketID
	return s.result, s.err
}

func (s *stubOps) InService(context.Context, uint64) (*model.Ticket, error) { return s.current, s.err }
func (s *stubOps) OverdueAfter() time.Duration                               { return s.limit }

type stubHistory struct {
	from, to string
	records  []model.AttendanceRecord
	degraded bool
	err      error
}

func (s *stubHistory) Report(_ context.Context, from, to string) (service.Report, error) {
	s.from, s.to = from, to
	return service.Report{Records: s.records, Degraded: s.degraded}, s.err
}

func (s *stubHistory) Pending() ([]model.AttendanceRecord, error) { return s.records, s.err }

func (s *stubHistory) Sync(context.Context) (service.SyncResult, error) {
	return service.SyncResult{Synced: len(s.records)}, s.err
}

type stubPurger struct {
	calls int
	err   error
}

func (s *stubPurger) Purge(context.Context) (int, error) {
	s.calls++
	return 0, s.err
}

type stubAttendants struct {
	byID map[uint64]model.Attendant
	next uint64
}

func (s *stubAttendants) Create(_ context.Context, name string, active bool) (model.Attendant, error) {
	s.next++
	a := model.Attendant{ID: s.next, Name: name, IsActive: active}
	s.byID[a.ID] = a
	return a, nil
}

func (s *stubAttendants) GetByID(_ context.Context, id uint64) (model.Attendant, error) {
	a, ok := s.byID[id]
	if !ok {
		return model.Attendant{}, repository.ErrAttendantNotFound
	}
	return a, nil
}

func (s *stubAttendants) List(context.Context) ([]model.Attendant, error) {
	out := make([]model.Attendant, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a)
	}
	return out, nil
}

func (s *stubAttendants) Update(_ context.Context, id uint64, name *string, active *bool) (model.Attendant, error) {
	a, ok := s.byID[id]
	if !ok {
		return model.Attendant{}, repository.ErrAttendantNotFound
	}
	if name != nil {
		a.Name = *name
	}
	if active != nil {
		a.IsActive = *active
	}
	s.byID[id] = a
	return a, nil
}

func (s *stubAttendants) Delete(_ context.Context, id uint64) error {
	if _, ok := s.byID[id]; !ok {
		return repository.ErrAttendantNotFound
	}
	delete(s.byID, id)
	return nil
}

type countingRefresher struct{ n int }

func (r *countingRefresher) Refresh(context.Context) (service.Snapshot, error) {
	r.n++
	return service.Snapshot{}, nil
}

type stubUsers struct {
	user    model.User
	updated bool
}

func (s *stubUsers) Create(_ context.Context, username, displayName, _ string, role string, _ int) (uint64, error) {
	if username == "taken" {
		return 0, repository.ErrUsernameExists
	}
	s.user = model.User{ID: 7, Username: username, DisplayName: displayName, PasswordHash: "secret-hash", Role: role, IsActive: true}
	return 7, nil
}

func (s *stubUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	if id != s.user.ID {
		return model.User{}, repository.ErrUserNotFound
	}
	return s.user, nil
}

func (s *stubUsers) List(context.Context) ([]model.User, error) { return []model.User{s.user}, nil }

func (s *stubUsers) Update(_ context.Context, id uint64, role *string, active *bool, _ *string, _ int) error {
	if id != s.user.ID {
		return repository.ErrUserNotFound
	}
	s.updated = true
	if role != nil {
		s.user.Role = *role
	}
	if active != nil {
		s.user.IsActive = *active
	}
	return nil
}

type stubRevoker struct{ revoked []uint64 }

func (s *stubRevoker) InvalidateAll(_ context.Context, id uint64) error {
	s.revoked = append(s.revoked, id)
	return nil
}

// ----- helpers -----

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	return e
}

func call(t *testing.T, e *echo.Echo, method, target, body string, names []string, values []string, h echo.HandlerFunc) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	require.NoError(t, h(c))
	out := map[string]interface{}{}
	if rec.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

// ----- tests -----

func TestRespondErrorStatuses(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &service.ValidationError{Field: "type", Reason: "bad"}, http.StatusBadRequest},
		{"not found", &service.NotFoundError{Kind: "attendant", ID: 3}, http.StatusNotFound},
		{"queue full", &service.QueueFullError{Type: model.TicketPreferential, AttendantID: 1}, http.StatusConflict},
		{"capacity", &service.InsufficientCapacityError{Type: model.TicketNormal, Available: 2, Requested: 5}, http.StatusConflict},
		{"state changed", service.ErrStateChanged, http.StatusConflict},
		{"credentials", service.ErrInvalidCredentials, http.StatusUnauthorized},
		{"backend", &service.BackendUnavailableError{Op: "load", Err: errors.New("down")}, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	e := newEcho()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			require.NoError(t, respondError(c, tc.err))
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestCapacityErrorBody(t *testing.T) {
	e := newEcho()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	require.NoError(t, respondError(c, &service.InsufficientCapacityError{Type: model.TicketNormal, AttendantID: 1, Available: 3, Requested: 4}))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "insufficient_capacity", body["code"])
	assert.EqualValues(t, 3, body["available"])
	assert.EqualValues(t, 4, body["requested"])
}

func TestCreateTicket(t *testing.T) {
	ops := &stubOps{result: service.Result{Tickets: []model.Ticket{{ID: 1, Number: 1, Type: model.TicketPreferential}}}}
	h := NewQueueHandler(ops, nil)
	e := newEcho()

	rec, body := call(t, e, http.MethodPost, "/v1/attendants/1/tickets", `{"type":"preferential"}`,
		[]string{"id"}, []string{"1"}, h.CreateTicket)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, false, body["skipped"])
	assert.Equal(t, []model.TicketType{model.TicketPreferential}, ops.created)
}

func TestCreateTicketRejectsUnknownType(t *testing.T) {
	ops := &stubOps{}
	h := NewQueueHandler(ops, nil)
	rec, body := call(t, newEcho(), http.MethodPost, "/v1/attendants/1/tickets", `{"type":"vip"}`,
		[]string{"id"}, []string{"1"}, h.CreateTicket)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "type", body["field"])
	assert.Empty(t, ops.created)
}

func TestCreateTicketBadAttendantID(t *testing.T) {
	h := NewQueueHandler(&stubOps{}, nil)
	rec, _ := call(t, newEcho(), http.MethodPost, "/v1/attendants/x/tickets", `{"type":"normal"}`,
		[]string{"id"}, []string{"x"}, h.CreateTicket)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTicketQueueFull(t *testing.T) {
	ops := &stubOps{err: &service.QueueFullError{Type: model.TicketPreferential, AttendantID: 1}}
	h := NewQueueHandler(ops, nil)
	rec, body := call(t, newEcho(), http.MethodPost, "/v1/attendants/1/tickets", `{"type":"preferential"}`,
		[]string{"id"}, []string{"1"}, h.CreateTicket)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "queue_full", body["code"])
}

func TestCreateBulkPassesQuantity(t *testing.T) {
	ops := &stubOps{}
	h := NewQueueHandler(ops, nil)
	rec, _ := call(t, newEcho(), http.MethodPost, "/v1/attendants/2/tickets/bulk", `{"type":"normal","quantity":4}`,
		[]string{"id"}, []string{"2"}, h.CreateBulk)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 4, ops.lastBulk)

	rec, _ = call(t, newEcho(), http.MethodPost, "/v1/attendants/2/tickets/bulk", `{"type":"normal","quantity":0}`,
		[]string{"id"}, []string{"2"}, h.CreateBulk)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSkippedCallIsOK(t *testing.T) {
	ops := &stubOps{result: service.Result{Skipped: true}}
	h := NewQueueHandler(ops, nil)
	rec, body := call(t, newEcho(), http.MethodPost, "/v1/attendants/1/call", "",
		[]string{"id"}, []string{"1"}, h.CallNext)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["skipped"])
}

func TestRemoveTicketPassesTicketID(t *testing.T) {
	ops := &stubOps{}
	h := NewQueueHandler(ops, nil)
	rec, _ := call(t, newEcho(), http.MethodDelete, "/v1/attendants/1/tickets/42", "",
		[]string{"id", "ticket_id"}, []string{"1", "42"}, h.RemoveTicket)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(42), ops.removedID)
}

func TestOverdueEndpoint(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	called := now.Add(-16 * time.Minute)
	ops := &stubOps{
		current: &model.Ticket{ID: 5, Number: 1, Type: model.TicketNormal, Status: model.StatusInService, CalledAt: &called},
		limit:   15 * time.Minute,
	}
	h := NewQueueHandler(ops, nil)
	h.Now = func() time.Time { return now }

	rec, body := call(t, newEcho(), http.MethodGet, "/v1/attendants/1/overdue", "",
		[]string{"id"}, []string{"1"}, h.Overdue)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["overdue"])
	assert.EqualValues(t, 960, body["elapsed_seconds"])
	assert.EqualValues(t, 900, body["limit_seconds"])

	ops.current = nil
	_, body = call(t, newEcho(), http.MethodGet, "/v1/attendants/1/overdue", "",
		[]string{"id"}, []string{"1"}, h.Overdue)
	assert.Equal(t, false, body["overdue"])
}

func TestHistoryListDefaultsToToday(t *testing.T) {
	loc := time.FixedZone("desk", -3*3600)
	hist := &stubHistory{records: []model.AttendanceRecord{
		{ClientRef: "a", ServiceDate: "2026-10-16"},
		{ClientRef: "b", ServiceDate: "2026-10-16", Pending: true},
	}}
	h := NewHistoryHandler(hist, loc)
	// 01:30 UTC is still the 16th at the desk.
	h.Now = func() time.Time { return time.Date(2026, 10, 17, 1, 30, 0, 0, time.UTC) }

	rec, body := call(t, newEcho(), http.MethodGet, "/v1/history", "", nil, nil, h.List)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2026-10-16", hist.from)
	assert.Equal(t, "2026-10-16", hist.to)
	assert.EqualValues(t, 2, body["count"])
	assert.EqualValues(t, 1, body["pending"])
}

func TestHistoryListRange(t *testing.T) {
	hist := &stubHistory{}
	h := NewHistoryHandler(hist, time.UTC)
	_, _ = call(t, newEcho(), http.MethodGet, "/v1/history?from=2026-10-01&to=2026-10-05", "", nil, nil, h.List)
	assert.Equal(t, "2026-10-01", hist.from)
	assert.Equal(t, "2026-10-05", hist.to)

	hist.err = &service.ValidationError{Field: "from", Reason: "after to"}
	rec, _ := call(t, newEcho(), http.MethodGet, "/v1/history?from=2026-10-09&to=2026-10-05", "", nil, nil, h.List)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryListDegradedIsNotCacheable(t *testing.T) {
	hist := &stubHistory{degraded: true, records: []model.AttendanceRecord{
		{ClientRef: "a", ServiceDate: "2026-10-01", Pending: true},
	}}
	h := NewHistoryHandler(hist, time.UTC)

	rec, body := call(t, newEcho(), http.MethodGet, "/v1/history?date=2026-10-01", "", nil, nil, h.List)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(HistoryHeaderDegraded))
	assert.Equal(t, "no-store", rec.Header().Get(echo.HeaderCacheControl))
	assert.Equal(t, true, body["degraded"])
	assert.EqualValues(t, 1, body["pending"])

	hist.degraded = false
	rec, body = call(t, newEcho(), http.MethodGet, "/v1/history?date=2026-10-01", "", nil, nil, h.List)
	assert.Empty(t, rec.Header().Get(HistoryHeaderDegraded))
	assert.Empty(t, rec.Header().Get(echo.HeaderCacheControl))
	assert.Equal(t, false, body["degraded"])
}

func TestHistorySyncPurgesCacheWhenRowsLand(t *testing.T) {
	purger := &stubPurger{}
	hist := &stubHistory{}
	h := NewHistoryHandler(hist, time.UTC)
	h.Cache = purger

	rec, _ := call(t, newEcho(), http.MethodPost, "/v1/history/sync", "", nil, nil, h.Sync)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, purger.calls)

	hist.records = []model.AttendanceRecord{{ClientRef: "a", ServiceDate: "2026-10-01"}}
	rec, _ = call(t, newEcho(), http.MethodPost, "/v1/history/sync", "", nil, nil, h.Sync)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, purger.calls)

	// a failed purge does not fail the sync
	purger.err = errors.New("redis down")
	rec, _ = call(t, newEcho(), http.MethodPost, "/v1/history/sync", "", nil, nil, h.Sync)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, purger.calls)
}

func TestSkipUncacheableHistory(t *testing.T) {
	now := func() time.Time { return time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC) }
	skip := SkipUncacheableHistory(time.UTC, now)
	e := newEcho()

	cases := map[string]bool{
		"/v1/history":                               true,
		"/v1/history?date=2026-10-17":               true,
		"/v1/history?date=2026-10-16":               false,
		"/v1/history?from=2026-10-01&to=2026-10-16": false,
		"/v1/history?from=2026-10-01":               true,
		"/v1/history?date=yesterday":                true,
	}
	for target, want := range cases {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
		assert.Equal(t, want, skip(c), target)
	}
}

func TestAttendantAdmin(t *testing.T) {
	store := &stubAttendants{byID: map[uint64]model.Attendant{}}
	state := &countingRefresher{}
	h := NewAttendantHandler(store, state)
	e := newEcho()

	rec, body := call(t, e, http.MethodPost, "/v1/attendants", `{"name":"  Desk 1 "}`, nil, nil, h.Create)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Desk 1", body["name"])
	assert.Equal(t, true, body["is_active"])

	rec, body = call(t, e, http.MethodPatch, "/v1/attendants/1", `{"is_active":false}`,
		[]string{"id"}, []string{"1"}, h.Patch)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["is_active"])
	assert.Equal(t, "Desk 1", body["name"])

	rec, _ = call(t, e, http.MethodPut, "/v1/attendants/1", `{"name":"   "}`,
		[]string{"id"}, []string{"1"}, h.Replace)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = call(t, e, http.MethodPatch, "/v1/attendants/9", `{"is_active":true}`,
		[]string{"id"}, []string{"9"}, h.Patch)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = call(t, e, http.MethodDelete, "/v1/attendants/1", "", []string{"id"}, []string{"1"}, h.Delete)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, 3, state.n, "each successful mutation reloads the queue state")
}

func TestUserAdminHidesHashAndRevokesSessions(t *testing.T) {
	users := &stubUsers{}
	revoker := &stubRevoker{}
	h := NewUserHandler(users, revoker, 4)
	e := newEcho()

	rec, body := call(t, e, http.MethodPost, "/v1/users",
		`{"username":"maria","display_name":"Maria","password":"longenough","role":"ATTENDANT"}`, nil, nil, h.Create)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret-hash")
	assert.Equal(t, "ATTENDANT", body["role"])

	rec, _ = call(t, e, http.MethodPost, "/v1/users",
		`{"username":"taken","password":"longenough","role":"ADMIN"}`, nil, nil, h.Create)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = call(t, e, http.MethodPost, "/v1/users",
		`{"username":"other","password":"longenough","role":"ROOT"}`, nil, nil, h.Create)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = call(t, e, http.MethodPatch, "/v1/users/7", `{"role":"ADMIN"}`, []string{"id"}, []string{"7"}, h.Update)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, revoker.revoked)

	rec, body = call(t, e, http.MethodPatch, "/v1/users/7", `{"is_active":false}`, []string{"id"}, []string{"7"}, h.Update)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["is_active"])
	assert.Equal(t, []uint64{7}, revoker.revoked)
}

func TestUserAdminCannotDeactivateSelf(t *testing.T) {
	users := &stubUsers{user: model.User{ID: 7, Role: model.RoleAdmin, IsActive: true}}
	h := NewUserHandler(users, &stubRevoker{}, 4)
	e := newEcho()

	req := httptest.NewRequest(http.MethodPatch, "/v1/users/7", strings.NewReader(`{"is_active":false}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(service.WithIdentity(req.Context(), service.Identity{UserID: 7, Role: model.RoleAdmin}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("7")

	require.NoError(t, h.Update(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, users.updated)
}
