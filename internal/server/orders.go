package server

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Sternrassler/copytrade-orders/pkg/aggregate"
	"github.com/Sternrassler/copytrade-orders/pkg/config"
	"github.com/Sternrassler/copytrade-orders/pkg/pagination"
)

// ordersQuery is the parsed query of one orders request.
type ordersQuery struct {
	UIDs      []string
	Cursor    int
	Max       int
	Limit     int
	TimeRange pagination.TimeRange
}

func (s *Server) parseOrdersQuery(q url.Values) ordersQuery {
	tr := pagination.DefaultTimeRange(s.opts.Now())

	uids := s.opts.DefaultUIDs
	if raw := q.Get("uids"); raw != "" {
		uids = config.SplitCSV(raw)
	}

	return ordersQuery{
		UIDs:   uids,
		Cursor: lenientInt(q.Get("cursor"), 0),
		Max:    lenientInt(q.Get("max"), s.opts.MaxPerCall),
		Limit:  lenientInt(q.Get("limit"), s.opts.DefaultLimit),
		TimeRange: pagination.TimeRange{
			Start: lenientMillis(q.Get("startTime"), tr.Start),
			End:   lenientMillis(q.Get("endTime"), tr.End),
		},
	}
}

// lenientNumber returns def for an empty value and 0 for anything that is not
// a finite number.
func lenientNumber(raw string, def float64) float64 {
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return math.Trunc(v)
}

// maxSafeMillis bounds epoch values to integers a float64 holds exactly.
const maxSafeMillis = 1<<53 - 1

// lenientInt is lenientNumber saturated to the int32 range, so a huge cursor
// lands past the end and a huge max clamps down instead of wrapping.
func lenientInt(raw string, def int) int {
	return int(clampFloat(lenientNumber(raw, float64(def)), math.MinInt32, math.MaxInt32))
}

// lenientMillis is lenientNumber saturated to ±maxSafeMillis.
func lenientMillis(raw string, def int64) int64 {
	return int64(clampFloat(lenientNumber(raw, float64(def)), -maxSafeMillis, maxSafeMillis))
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// handleOrders serves GET/POST /api/binance/orders. meta.source names the
// route the window's pages actually took, so it stays "binance" while the
// primary answers even when a proxy fallback is configured.
func (s *Server) handleOrders(c echo.Context) error {
	q := s.parseOrdersQuery(c.QueryParams())

	ctx := c.Request().Context()
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	res := s.deps.Orders.Run(ctx, q.UIDs, q.TimeRange, q.Cursor, q.Max)
	payload := aggregate.Assemble(res, aggregate.Options{
		Limit:             q.Limit,
		PagesPerPortfolio: s.opts.PagesPerPortfolio,
		PageSize:          s.opts.PageSize,
		Policy:            s.opts.Policy,
	})

	s.logger.Debug().
		Int("identifiers", len(q.UIDs)).
		Int("records", len(payload.Data)).
		Int("errors", len(payload.Errors)).
		Bool("success", payload.Success).
		Msg("Orders request served")

	return writeJSON(c, http.StatusOK, payload)
}
