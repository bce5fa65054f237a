package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/walkin-queue/internal/model"
	"github.com/iliyamo/walkin-queue/internal/service"
)

// HistoryReader is the part of *service.Recorder the history endpoints use.
type HistoryReader interface {
	Report(ctx context.Context, from, to string) (service.Report, error)
	Pending() ([]model.AttendanceRecord, error)
	Sync(ctx context.Context) (service.SyncResult, error)
}

// CachePurger drops cached history reports.  *middleware.CachePurger
// implements it.
type CachePurger interface {
	Purge(ctx context.Context) (int, error)
}

// HistoryHeaderDegraded marks a report built without one of its sources.
const HistoryHeaderDegraded = "X-History-Degraded"

// HistoryHandler serves attendance history reports.
type HistoryHandler struct {
	History HistoryReader
	Loc     *time.Location // calendar of service dates
	Now     func() time.Time
	Cache   CachePurger // optional
}

func NewHistoryHandler(r HistoryReader, loc *time.Location) *HistoryHandler {
	if loc == nil {
		loc = time.Local
	}
	return &HistoryHandler{History: r, Loc: loc, Now: time.Now}
}

// historyRange reads ?date= or ?from=&to=; with neither it is today.
func historyRange(c echo.Context, today string) (string, string) {
	if d := c.QueryParam("date"); d != "" {
		return d, d
	}
	from, to := c.QueryParam("from"), c.QueryParam("to")
	switch {
	case from == "" && to == "":
		return today, today
	case from == "":
		return to, to
	case to == "":
		return from, today
	}
	return from, to
}

// List handles GET /v1/history.
func (h *HistoryHandler) List(c echo.Context) error {
	today := h.Now().In(h.Loc).Format(model.ServiceDateLayout)
	from, to := historyRange(c, today)
	rep, err := h.History.Report(c.Request().Context(), from, to)
	if err != nil {
		return respondError(c, err)
	}
	pending := 0
	for _, r := range rep.Records {
		if r.Pending {
			pending++
		}
	}
	if rep.Degraded {
		// partial answer: keep it out of the response cache
		c.Response().Header().Set(HistoryHeaderDegraded, "true")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"from":     from,
		"to":       to,
		"count":    len(rep.Records),
		"pending":  pending,
		"degraded": rep.Degraded,
		"records":  rep.Records,
	})
}

// Pending handles GET /v1/history/pending.
func (h *HistoryHandler) Pending(c echo.Context) error {
	recs, err := h.History.Pending()
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"count": len(recs), "records": recs})
}

// Sync handles POST /v1/history/sync.
func (h *HistoryHandler) Sync(c echo.Context) error {
	ctx := c.Request().Context()
	res, err := h.History.Sync(ctx)
	if err != nil {
		return respondError(c, err)
	}
	if res.Synced > 0 && h.Cache != nil {
		if _, err := h.Cache.Purge(ctx); err != nil {
			c.Logger().Warnf("history cache purge failed: %v", err)
		}
	}
	return c.JSON(http.StatusOK, res)
}

// SkipUncacheableHistory returns a cache skipper for GET /v1/history that
// lets only ranges ending before today through the cache.  Today's report
// still changes and may contain buffered records.
func SkipUncacheableHistory(loc *time.Location, now func() time.Time) func(echo.Context) bool {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return func(c echo.Context) bool {
		today := now().In(loc).Format(model.ServiceDateLayout)
		_, to := historyRange(c, today)
		if _, err := time.Parse(model.ServiceDateLayout, to); err != nil {
			return true
		}
		return to >= today
	}
}
