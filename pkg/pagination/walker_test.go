package pagination

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/Sternrassler/copytrade-orders/internal/testutil"
	"github.com/Sternrassler/copytrade-orders/pkg/client"
)

// scriptedFetcher returns one canned result per call and records the payloads.
type scriptedFetcher struct {
	results  []client.Result
	payloads []pageRequest
}

func (f *scriptedFetcher) Fetch(_ context.Context, _ string, payload any) (client.Result, error) {
	f.payloads = append(f.payloads, payload.(pageRequest))
	i := len(f.payloads) - 1
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i], nil
}

func page(t *testing.T, indexValue any, records ...string) client.Result {
	t.Helper()
	data := map[string]any{"list": json.RawMessage("[" + strings.Join(records, ",") + "]")}
	if indexValue != nil {
		data["indexValue"] = indexValue
	}
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal page: %v", err)
	}
	return client.Result{
		Succeeded: true,
		Envelope:  &client.Envelope{Code: client.SuccessCode, Data: raw},
		Endpoint:  client.Endpoint{Name: "primary", Origin: client.OriginDirect},
	}
}

func failure(status int) client.Result {
	return client.Result{Errors: []client.ErrorRecord{{
		Origin:     client.OriginDirect,
		Class:      client.ErrorClassStatus,
		StatusCode: status,
	}}}
}

func newTestWalker(f Fetcher) *Walker {
	w := NewWalker(f, DefaultConfig())
	w.sleep = func(context.Context, time.Duration) error { return nil }
	return w
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.PageCap != 3 {
		t.Errorf("PageCap = %d, want 3", cfg.PageCap)
	}
	if cfg.PageSize != 30 {
		t.Errorf("PageSize = %d, want 30", cfg.PageSize)
	}
	if cfg.PageDelay != 300*time.Millisecond {
		t.Errorf("PageDelay = %v, want 300ms", cfg.PageDelay)
	}
}

func TestNewWalker_Defaults(t *testing.T) {
	w := NewWalker(&scriptedFetcher{}, Config{PageDelay: -time.Second})
	cfg := w.Config()
	if cfg.PageCap != 3 || cfg.PageSize != 30 || cfg.Path != OrderHistoryPath {
		t.Errorf("Config() = %+v, want defaults filled in", cfg)
	}
	if cfg.PageDelay != 0 {
		t.Errorf("PageDelay = %v, want 0", cfg.PageDelay)
	}
}

func TestDefaultTimeRange(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	tr := DefaultTimeRange(now)
	if tr.End != 1_700_000_000_000 {
		t.Errorf("End = %d, want %d", tr.End, int64(1_700_000_000_000))
	}
	if got := tr.End - tr.Start; got != 604_800_000 {
		t.Errorf("End-Start = %d, want 604800000", got)
	}
}

func TestContinuationToken(t *testing.T) {
	first := FirstPage()
	if !first.IsFirstPage() {
		t.Error("FirstPage().IsFirstPage() = false, want true")
	}
	next := ResumeFrom("abc")
	if next.IsFirstPage() {
		t.Error("ResumeFrom().IsFirstPage() = true, want false")
	}
	if next.Value() != "abc" {
		t.Errorf("Value() = %q, want abc", next.Value())
	}
}

func TestWalk_StopsAtPageCap(t *testing.T) {
	f := &scriptedFetcher{results: []client.Result{
		page(t, "p2", `{"id":1}`),
		page(t, "p3", `{"id":2}`),
		page(t, "p4", `{"id":3}`),
		page(t, "p5", `{"id":4}`),
	}}

	res := newTestWalker(f).Walk(context.Background(), "A", TimeRange{Start: 1, End: 2})

	if len(f.payloads) != 3 {
		t.Errorf("requests = %d, want 3", len(f.payloads))
	}
	if len(res.Records) != 3 {
		t.Errorf("len(Records) = %d, want 3", len(res.Records))
	}
	if res.Failed {
		t.Error("Failed = true, want false (page cap is not an error)")
	}
}

func TestWalk_ForwardsContinuationToken(t *testing.T) {
	f := &scriptedFetcher{results: []client.Result{
		page(t, "tok-1", `{"id":1}`),
		page(t, 12345678901234567, `{"id":2}`),
		page(t, nil, `{"id":3}`),
	}}

	newTestWalker(f).Walk(context.Background(), "A", TimeRange{Start: 10, End: 20})

	if len(f.payloads) != 3 {
		t.Fatalf("requests = %d, want 3", len(f.payloads))
	}
	want := []string{"", "tok-1", "12345678901234567"}
	for i, p := range f.payloads {
		if p.IndexValue != want[i] {
			t.Errorf("request %d IndexValue = %q, want %q", i, p.IndexValue, want[i])
		}
		if p.PortfolioID != "A" || p.StartTime != 10 || p.EndTime != 20 || p.PageSize != 30 {
			t.Errorf("request %d = %+v, want uid A, range 10..20, size 30", i, p)
		}
	}
}

func TestWalk_EmptyPageStops(t *testing.T) {
	f := &scriptedFetcher{results: []client.Result{
		page(t, "p2", `{"id":1}`),
		page(t, "p3"),
		page(t, "p4", `{"id":3}`),
	}}

	res := newTestWalker(f).Walk(context.Background(), "A", TimeRange{})

	if len(f.payloads) != 2 {
		t.Errorf("requests = %d, want 2 (no request after an empty page)", len(f.payloads))
	}
	if len(res.Records) != 1 {
		t.Errorf("len(Records) = %d, want 1", len(res.Records))
	}
	if res.Failed || len(res.Errors) != 0 {
		t.Errorf("Failed = %v, Errors = %v, want clean exhaustion", res.Failed, res.Errors)
	}
}

func TestWalk_MissingTokenStops(t *testing.T) {
	for _, token := range []any{nil, ""} {
		f := &scriptedFetcher{results: []client.Result{
			page(t, token, `{"id":1}`, `{"id":2}`),
			page(t, "never", `{"id":3}`),
		}}

		res := newTestWalker(f).Walk(context.Background(), "A", TimeRange{})

		if len(f.payloads) != 1 {
			t.Errorf("token %v: requests = %d, want 1", token, len(f.payloads))
		}
		if len(res.Records) != 2 {
			t.Errorf("token %v: len(Records) = %d, want 2", token, len(res.Records))
		}
	}
}

func TestWalk_FailureKeepsPartialRecords(t *testing.T) {
	f := &scriptedFetcher{results: []client.Result{
		page(t, "p2", `{"id":1}`, `{"id":2}`),
		failure(http.StatusBadGateway),
	}}

	res := newTestWalker(f).Walk(context.Background(), "A", TimeRange{})

	if !res.Failed {
		t.Error("Failed = false, want true")
	}
	if len(res.Records) != 2 {
		t.Errorf("len(Records) = %d, want 2", len(res.Records))
	}
	if len(res.Errors) != 1 || res.Errors[0].StatusCode != http.StatusBadGateway {
		t.Errorf("Errors = %+v, want the 502 record", res.Errors)
	}
}

func TestWalk_UndecodableDataFails(t *testing.T) {
	f := &scriptedFetcher{results: []client.Result{{
		Succeeded: true,
		Envelope:  &client.Envelope{Code: client.SuccessCode, Data: json.RawMessage(`{"list":"nope"}`)},
	}}}

	res := newTestWalker(f).Walk(context.Background(), "A", TimeRange{})

	if !res.Failed {
		t.Error("Failed = false, want true")
	}
	if len(res.Errors) != 1 || res.Errors[0].Class != client.ErrorClassMalformed {
		t.Errorf("Errors = %+v, want one malformed record", res.Errors)
	}
}

func TestWalk_RecordsPassThroughUnchanged(t *testing.T) {
	const record = `{"orderId":9007199254740993123,"symbol":"BTCUSDT","avgPrice":"0.1"}`
	f := &scriptedFetcher{results: []client.Result{page(t, nil, record)}}

	res := newTestWalker(f).Walk(context.Background(), "A", TimeRange{})

	if len(res.Records) != 1 {
		t.Fatalf("len(Records) = %d, want 1", len(res.Records))
	}
	if got := string(res.Records[0]["orderId"]); got != "9007199254740993123" {
		t.Errorf("orderId = %s, want digits preserved", got)
	}
}

func TestWalk_DelayBeforeEveryPage(t *testing.T) {
	f := &scriptedFetcher{results: []client.Result{
		page(t, "p2", `{"id":1}`),
		page(t, nil, `{"id":2}`),
	}}
	w := NewWalker(f, DefaultConfig())
	var waits []time.Duration
	w.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	w.Walk(context.Background(), "A", TimeRange{})

	if len(waits) != 2 {
		t.Fatalf("waits = %v, want one per page request", waits)
	}
	for _, d := range waits {
		if d != 300*time.Millisecond {
			t.Errorf("wait = %v, want 300ms", d)
		}
	}
}

func TestWalk_CancelledBeforePage(t *testing.T) {
	f := &scriptedFetcher{results: []client.Result{page(t, nil, `{"id":1}`)}}
	w := NewWalker(f, DefaultConfig())
	w.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	res := w.Walk(context.Background(), "A", TimeRange{})

	if !res.Failed {
		t.Error("Failed = false, want true")
	}
	if len(f.payloads) != 0 {
		t.Errorf("requests = %d, want 0", len(f.payloads))
	}
	if len(res.Errors) != 1 || res.Errors[0].Class != client.ErrorClassCancelled {
		t.Errorf("Errors = %+v, want one cancelled record", res.Errors)
	}
}

func TestParseIndexValue(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{raw: ``, wantOK: false},
		{raw: `null`, wantOK: false},
		{raw: `""`, wantOK: false},
		{raw: `"abc"`, want: "abc", wantOK: true},
		{raw: `123456789012345678`, want: "123456789012345678", wantOK: true},
		{raw: `true`, wantOK: false},
	}

	for _, tt := range tests {
		got, ok := parseIndexValue(json.RawMessage(tt.raw))
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("parseIndexValue(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestWalk_AgainstMockUpstream(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetOrderHistory(
		testutil.NewOrdersPage("next", `{"id":1}`),
		testutil.NewEmptyPage(),
	)

	cfg := client.DefaultConfig(mock.URL(), "")
	cfg.RetryDelay = 0
	orch, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	w := NewWalker(orch, Config{PageDelay: 0})
	res := w.Walk(context.Background(), "A", TimeRange{Start: 1, End: 2})

	if res.Failed {
		t.Fatalf("Failed = true, errors = %+v", res.Errors)
	}
	if len(res.Records) != 1 {
		t.Errorf("len(Records) = %d, want 1", len(res.Records))
	}
	bodies := mock.GetBodies()
	if len(bodies) != 2 {
		t.Fatalf("requests = %d, want 2", len(bodies))
	}
	if !strings.Contains(bodies[1], `"indexValue":"next"`) {
		t.Errorf("second body = %s, want indexValue next", bodies[1])
	}
	if strings.Contains(bodies[0], "indexValue") {
		t.Errorf("first body = %s, want no indexValue", bodies[0])
	}
}

func TestWalk_FetcherError(t *testing.T) {
	res := newTestWalker(errFetcher{}).Walk(context.Background(), "A", TimeRange{})
	if !res.Failed || len(res.Errors) != 1 {
		t.Fatalf("Failed = %v, Errors = %+v, want one failure", res.Failed, res.Errors)
	}
	rec := res.Errors[0]
	if rec.Class != client.ErrorClassRequest {
		t.Errorf("Class = %q, want %q", rec.Class, client.ErrorClassRequest)
	}
	if rec.Origin != "" || rec.Endpoint != "" {
		t.Errorf("Origin = %q, Endpoint = %q, want both empty for an unsent request", rec.Origin, rec.Endpoint)
	}
	if rec.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", rec.StatusCode)
	}
}

type errFetcher struct{}

func (errFetcher) Fetch(context.Context, string, any) (client.Result, error) {
	return client.Result{}, errors.New("encode request body: boom")
}
