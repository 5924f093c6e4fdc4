// Package batch runs the pagination walk over a window of lead portfolio
// identifiers and reports how to request the next window.
package batch

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/copytrade-orders/pkg/client"
	"github.com/Sternrassler/copytrade-orders/pkg/logging"
	"github.com/Sternrassler/copytrade-orders/pkg/metrics"
	"github.com/Sternrassler/copytrade-orders/pkg/pagination"
)

// Window bounds.
const (
	MinPerCall     = 1
	MaxPerCall     = 35
	DefaultPerCall = MaxPerCall
)

var identifiersTotal = promauto.With(metrics.Registry).NewCounter(prometheus.CounterOpts{
	Name: "orders_batch_identifiers_total",
	Help: "Total portfolio identifiers walked",
})

// Window describes the slice of the identifier list handled by one call.
// NextCursor is nil iff End == Total.
type Window struct {
	Start      int
	End        int
	Total      int
	MaxPerCall int
	NextCursor *int
}

// ClampPerCall bounds max to [MinPerCall, MaxPerCall].
func ClampPerCall(max int) int {
	if max < MinPerCall {
		return MinPerCall
	}
	if max > MaxPerCall {
		return MaxPerCall
	}
	return max
}

// ComputeWindow returns the window for a list of total identifiers. A cursor
// past the end yields an empty window at Total.
func ComputeWindow(total, cursor, max int) Window {
	per := ClampPerCall(max)
	start := cursor
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + per
	if end > total {
		end = total
	}

	w := Window{Start: start, End: end, Total: total, MaxPerCall: per}
	if end < total {
		next := end
		w.NextCursor = &next
	}
	return w
}

// Walker is implemented by *pagination.Walker.
type Walker interface {
	Walk(ctx context.Context, uid string, tr pagination.TimeRange) pagination.WalkResult
}

// Entry holds the records one identifier produced, possibly none.
type Entry struct {
	UID      string
	Records  []pagination.OrderRecord
	Failed   bool
	ViaProxy bool
}

// IdentifierError groups the failed attempts of one identifier.
type IdentifierError struct {
	UID      string               `json:"uid"`
	Attempts []client.ErrorRecord `json:"error"`
}

// Result is the outcome of one batch run.
type Result struct {
	Entries   []Entry
	Errors    []IdentifierError
	Window    Window
	TimeRange pagination.TimeRange
}

// Coordinator walks identifiers one after another.
type Coordinator struct {
	walker Walker
	logger zerolog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(walker Walker) *Coordinator {
	return &Coordinator{
		walker: walker,
		logger: logging.NewLogger("batch"),
	}
}

// Run walks uids[window.Start:window.End] sequentially. A failing identifier
// never stops the ones after it.
func (c *Coordinator) Run(ctx context.Context, uids []string, tr pagination.TimeRange, cursor, maxPerCall int) Result {
	start := time.Now()
	w := ComputeWindow(len(uids), cursor, maxPerCall)
	res := Result{Window: w, TimeRange: tr, Entries: make([]Entry, 0, w.End-w.Start)}

	for _, uid := range uids[w.Start:w.End] {
		walk := c.walker.Walk(ctx, uid, tr)
		identifiersTotal.Inc()

		if len(walk.Errors) > 0 {
			res.Errors = append(res.Errors, IdentifierError{UID: uid, Attempts: walk.Errors})
		}
		res.Entries = append(res.Entries, Entry{
			UID:      uid,
			Records:  walk.Records,
			Failed:   walk.Failed,
			ViaProxy: walk.ViaProxy,
		})

		if walk.Failed {
			c.logger.Warn().
				Str("uid", uid).
				Int("records", len(walk.Records)).
				Int("errors", len(walk.Errors)).
				Msg("Identifier walk failed")
		}
	}

	c.logger.Info().
		Int("start", w.Start).
		Int("end", w.End).
		Int("total", w.Total).
		Int("identifier_errors", len(res.Errors)).
		Dur("duration", time.Since(start)).
		Msg("Batch complete")

	return res
}
