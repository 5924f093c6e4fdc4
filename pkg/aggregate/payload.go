// Package aggregate turns a batch result into the JSON payload returned to callers.
package aggregate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/Sternrassler/copytrade-orders/pkg/batch"
	"github.com/Sternrassler/copytrade-orders/pkg/client"
	"github.com/Sternrassler/copytrade-orders/pkg/pagination"
)

// Source labels for meta.source.
const (
	SourceDirect = "binance"
	SourceProxy  = "proxy->binance"
)

// BlockedNotice is attached when every recorded failure was a 403 or 451.
const BlockedNotice = "The upstream refused every request (HTTP 403/451): this host appears to be " +
	"blocked or region restricted. Configure BINANCE_PROXY_BASE to route through a proxy in an " +
	"allowed region, or deploy to a different region."

// SuccessPolicy decides the top-level success flag.
type SuccessPolicy string

const (
	// SuccessAnyRecord is true iff at least one record was returned.
	SuccessAnyRecord SuccessPolicy = "any-record"

	// SuccessAllIdentifiers additionally requires every identifier in the
	// window to have walked without failure.
	SuccessAllIdentifiers SuccessPolicy = "all-identifiers"
)

// ParseSuccessPolicy maps a config value to a policy.
func ParseSuccessPolicy(s string) (SuccessPolicy, error) {
	switch SuccessPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", SuccessAnyRecord:
		return SuccessAnyRecord, nil
	case SuccessAllIdentifiers:
		return SuccessAllIdentifiers, nil
	default:
		return "", fmt.Errorf("unknown success policy %q", s)
	}
}

// Options carries request values that are echoed into the payload.
type Options struct {
	Limit             int
	PagesPerPortfolio int
	PageSize          int
	Policy            SuccessPolicy
}

// Page is the window metadata.
type Page struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Total      int     `json:"total"`
	MaxPerCall int     `json:"maxPerCall"`
	NextCursor *string `json:"nextCursor"`
	LimitUsed  int     `json:"limitUsed"`
}

// Meta describes how the data was fetched.
type Meta struct {
	// Source reports the route actually used: SourceProxy when at least one
	// page in the window was served by a proxy endpoint, SourceDirect
	// otherwise. Configuring a fallback alone does not change it.
	Source            string `json:"source"`
	PagesPerPortfolio int    `json:"pagesPerPortfolio"`
	PageSize          int    `json:"pageSize"`
	StartTime         int64  `json:"startTime"`
	EndTime           int64  `json:"endTime"`
}

// TaggedRecord is an upstream record plus the identifier that produced it.
type TaggedRecord struct {
	UID    string
	Record pagination.OrderRecord
}

// MarshalJSON writes the record fields plus _uid. The source record
// is copied, never modified.
func (t TaggedRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(t.Record)+1)
	for k, v := range t.Record {
		out[k] = v
	}
	uid, err := json.Marshal(t.UID)
	if err != nil {
		return nil, err
	}
	out["_uid"] = uid
	return json.Marshal(out)
}

// Payload is the response body of the orders endpoint.
type Payload struct {
	Success bool                    `json:"success"`
	Page    Page                    `json:"page"`
	Meta    Meta                    `json:"meta"`
	Data    []TaggedRecord          `json:"data"`
	Errors  []batch.IdentifierError `json:"errors,omitempty"`
	Notice  string                  `json:"notice,omitempty"`
}

// Assemble flattens res in identifier order, then page order.
func Assemble(res batch.Result, opts Options) Payload {
	p := Payload{
		Page: Page{
			Start:      res.Window.Start,
			End:        res.Window.End,
			Total:      res.Window.Total,
			MaxPerCall: res.Window.MaxPerCall,
			LimitUsed:  opts.Limit,
		},
		Meta: Meta{
			Source:            SourceDirect,
			PagesPerPortfolio: opts.PagesPerPortfolio,
			PageSize:          opts.PageSize,
			StartTime:         res.TimeRange.Start,
			EndTime:           res.TimeRange.End,
		},
		Data:   []TaggedRecord{},
		Errors: res.Errors,
	}
	if res.Window.NextCursor != nil {
		next := strconv.Itoa(*res.Window.NextCursor)
		p.Page.NextCursor = &next
	}

	allWalked := true
	for _, e := range res.Entries {
		for _, r := range e.Records {
			p.Data = append(p.Data, TaggedRecord{UID: e.UID, Record: r})
		}
		if e.ViaProxy {
			p.Meta.Source = SourceProxy
		}
		if e.Failed {
			allWalked = false
		}
	}

	switch opts.Policy {
	case SuccessAllIdentifiers:
		p.Success = len(p.Data) > 0 && allWalked
	default:
		p.Success = len(p.Data) > 0
	}

	if AllBlocked(res.Errors) {
		p.Notice = BlockedNotice
	}
	return p
}

// AllBlocked reports whether errs is non-empty and every attempt in it was
// refused with 403 or 451.
func AllBlocked(errs []batch.IdentifierError) bool {
	n := 0
	for _, e := range errs {
		for _, a := range e.Attempts {
			if !client.IsBlockedStatus(a.StatusCode) {
				return false
			}
			n++
		}
	}
	return n > 0
}
