package pagination

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/copytrade-orders/pkg/client"
	"github.com/Sternrassler/copytrade-orders/pkg/logging"
	"github.com/Sternrassler/copytrade-orders/pkg/metrics"
)

// OrderHistoryPath is the upstream path for lead portfolio order history.
const OrderHistoryPath = "/bapi/futures/v1/friendly/future/copy-trade/lead-portfolio/order-history"

var (
	pagesFetchedTotal = promauto.With(metrics.Registry).NewCounter(prometheus.CounterOpts{
		Name: "orders_pages_fetched_total",
		Help: "Total order history pages fetched successfully",
	})

	walksTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "orders_walks_total",
		Help: "Total pagination walks by result (exhausted, capped, failed)",
	}, []string{"result"})
)

// Config holds walker configuration.
type Config struct {
	// PageCap is the maximum number of pages requested per identifier.
	PageCap int

	// PageSize is sent to the upstream as pageSize.
	PageSize int

	// PageDelay is waited before every page request, including the first.
	PageDelay time.Duration

	// Path overrides the upstream path (default OrderHistoryPath).
	Path string
}

// DefaultConfig returns 3 pages of 30 records with 300ms between requests.
func DefaultConfig() Config {
	return Config{
		PageCap:   3,
		PageSize:  30,
		PageDelay: 300 * time.Millisecond,
		Path:      OrderHistoryPath,
	}
}

// Fetcher is implemented by *client.Orchestrator.
type Fetcher interface {
	Fetch(ctx context.Context, path string, payload any) (client.Result, error)
}

// TimeRange is a millisecond epoch interval. Start < End is not enforced.
type TimeRange struct {
	Start int64
	End   int64
}

// DefaultTimeRange returns the seven days ending at now.
func DefaultTimeRange(now time.Time) TimeRange {
	end := now.UnixMilli()
	return TimeRange{Start: end - 7*24*time.Hour.Milliseconds(), End: end}
}

// ContinuationToken is the optional upstream cursor. The zero value means
// the first page.
type ContinuationToken struct {
	value string
	set   bool
}

// FirstPage returns the token for an initial request.
func FirstPage() ContinuationToken {
	return ContinuationToken{}
}

// ResumeFrom returns a token that resumes after the page that produced v.
func ResumeFrom(v string) ContinuationToken {
	return ContinuationToken{value: v, set: true}
}

// IsFirstPage reports whether no continuation value is carried.
func (t ContinuationToken) IsFirstPage() bool {
	return !t.set
}

// Value returns the raw continuation value, empty on the first page.
func (t ContinuationToken) Value() string {
	return t.value
}

// OrderRecord is one upstream record, kept byte for byte.
type OrderRecord map[string]json.RawMessage

// WalkResult is the outcome of walking one identifier.
type WalkResult struct {
	Records []OrderRecord
	Errors  []client.ErrorRecord
	Failed  bool
	Pages   int

	// ViaProxy is true when at least one page came from a proxy endpoint.
	ViaProxy bool
}

type pageRequest struct {
	PortfolioID string `json:"portfolioId"`
	StartTime   int64  `json:"startTime"`
	EndTime     int64  `json:"endTime"`
	PageSize    int    `json:"pageSize"`
	IndexValue  string `json:"indexValue,omitempty"`
}

type pageData struct {
	List       []OrderRecord   `json:"list"`
	IndexValue json.RawMessage `json:"indexValue"`
}

// Walker fetches the pages of one identifier at a time.
type Walker struct {
	fetcher Fetcher
	config  Config
	sleep   func(ctx context.Context, d time.Duration) error
	logger  zerolog.Logger
}

// NewWalker creates a Walker. Non-positive values fall back to defaults,
// except PageDelay where zero disables the wait.
func NewWalker(fetcher Fetcher, config Config) *Walker {
	defaults := DefaultConfig()
	if config.PageCap <= 0 {
		config.PageCap = defaults.PageCap
	}
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.PageDelay < 0 {
		config.PageDelay = 0
	}
	if config.Path == "" {
		config.Path = defaults.Path
	}

	return &Walker{
		fetcher: fetcher,
		config:  config,
		sleep:   client.Sleep,
		logger:  logging.NewLogger("pagination"),
	}
}

// Config returns the effective configuration.
func (w *Walker) Config() Config {
	return w.config
}

// Walk fetches up to PageCap pages for uid.
func (w *Walker) Walk(ctx context.Context, uid string, tr TimeRange) WalkResult {
	var res WalkResult
	token := FirstPage()
	result := "capped"

	for page := 1; page <= w.config.PageCap; page++ {
		if err := w.sleep(ctx, w.config.PageDelay); err != nil {
			res.Failed = true
			res.Errors = append(res.Errors, client.ErrorRecord{
				Origin:  client.OriginDirect,
				Class:   client.ErrorClassCancelled,
				Message: err.Error(),
			})
			result = "failed"
			break
		}

		req := pageRequest{
			PortfolioID: uid,
			StartTime:   tr.Start,
			EndTime:     tr.End,
			PageSize:    w.config.PageSize,
		}
		if !token.IsFirstPage() {
			req.IndexValue = token.Value()
		}

		fetched, err := w.fetcher.Fetch(ctx, w.config.Path, req)
		if err != nil {
			res.Failed = true
			res.Errors = append(res.Errors, client.ErrorRecord{
				Class:   client.ErrorClassRequest,
				Message: err.Error(),
			})
			result = "failed"
			w.logger.Error().Err(err).Str("uid", uid).Int("page", page).Msg("Page request not sent")
			break
		}
		res.Errors = append(res.Errors, fetched.Errors...)
		if !fetched.Succeeded {
			res.Failed = true
			result = "failed"
			w.logger.Warn().
				Err(fetched.Err()).
				Str("uid", uid).
				Int("page", page).
				Int("records", len(res.Records)).
				Msg("Page fetch failed - keeping partial records")
			break
		}

		var data pageData
		if len(fetched.Envelope.Data) > 0 {
			if err := json.Unmarshal(fetched.Envelope.Data, &data); err != nil {
				res.Failed = true
				res.Errors = append(res.Errors, client.ErrorRecord{
					Origin:   fetched.Endpoint.Origin,
					Endpoint: fetched.Endpoint.Name,
					Class:    client.ErrorClassMalformed,
					Message:  "decode page data: " + err.Error(),
				})
				result = "failed"
				break
			}
		}

		res.Pages++
		pagesFetchedTotal.Inc()
		if fetched.Endpoint.Origin == client.OriginProxy {
			res.ViaProxy = true
		}

		if len(data.List) == 0 {
			result = "exhausted"
			break
		}
		res.Records = append(res.Records, data.List...)

		next, ok := parseIndexValue(data.IndexValue)
		if !ok {
			result = "exhausted"
			break
		}
		token = ResumeFrom(next)

		w.logger.Debug().
			Str("uid", uid).
			Int("page", page).
			Int("records", len(data.List)).
			Str("index_value", next).
			Msg("Page fetched")
	}

	walksTotal.WithLabelValues(result).Inc()
	w.logger.Debug().
		Str("uid", uid).
		Int("pages", res.Pages).
		Int("records", len(res.Records)).
		Str("result", result).
		Msg("Walk complete")

	return res
}

// parseIndexValue accepts a JSON string or number. null, "" and absent
// all mean there is no next page.
func parseIndexValue(raw json.RawMessage) (string, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "", false
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil || v == "" {
			return "", false
		}
		return v, true
	}
	// Numbers are forwarded as written so large ids keep their digits.
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return "", false
	}
	return s, true
}
