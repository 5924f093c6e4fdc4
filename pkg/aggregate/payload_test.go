package aggregate

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/Sternrassler/copytrade-orders/pkg/batch"
	"github.com/Sternrassler/copytrade-orders/pkg/client"
	"github.com/Sternrassler/copytrade-orders/pkg/pagination"
)

func rec(id string) pagination.OrderRecord {
	return pagination.OrderRecord{"orderId": json.RawMessage(id), "symbol": json.RawMessage(`"BTCUSDT"`)}
}

func defaultOptions() Options {
	return Options{Limit: 50, PagesPerPortfolio: 3, PageSize: 30, Policy: SuccessAnyRecord}
}

func blocked(status int) client.ErrorRecord {
	return client.ErrorRecord{Origin: client.OriginDirect, Class: client.ErrorClassBlocked, StatusCode: status}
}

func TestAssemble_FlattensInOrderAndTags(t *testing.T) {
	res := batch.Result{
		Entries: []batch.Entry{
			{UID: "A", Records: []pagination.OrderRecord{rec(`1`), rec(`2`)}},
			{UID: "B"},
			{UID: "C", Records: []pagination.OrderRecord{rec(`3`)}},
		},
		Window:    batch.ComputeWindow(3, 0, 35),
		TimeRange: pagination.TimeRange{Start: 100, End: 200},
	}

	p := Assemble(res, defaultOptions())

	if !p.Success {
		t.Error("Success = false, want true")
	}
	wantUIDs := []string{"A", "A", "C"}
	if len(p.Data) != len(wantUIDs) {
		t.Fatalf("len(Data) = %d, want %d", len(p.Data), len(wantUIDs))
	}
	for i, d := range p.Data {
		if d.UID != wantUIDs[i] {
			t.Errorf("Data[%d].UID = %q, want %q", i, d.UID, wantUIDs[i])
		}
	}
	if got := string(p.Data[2].Record["orderId"]); got != "3" {
		t.Errorf("Data[2] orderId = %s, want 3", got)
	}
	if p.Meta.StartTime != 100 || p.Meta.EndTime != 200 {
		t.Errorf("Meta time range = %d..%d, want 100..200", p.Meta.StartTime, p.Meta.EndTime)
	}
	if p.Meta.Source != SourceDirect {
		t.Errorf("Meta.Source = %q, want %q", p.Meta.Source, SourceDirect)
	}
	if p.Notice != "" {
		t.Errorf("Notice = %q, want empty", p.Notice)
	}
}

func TestAssemble_PageMetadata(t *testing.T) {
	res := batch.Result{Window: batch.ComputeWindow(2, 0, 1)}
	opts := defaultOptions()
	opts.Limit = 7

	p := Assemble(res, opts)

	if p.Page.Start != 0 || p.Page.End != 1 || p.Page.Total != 2 || p.Page.MaxPerCall != 1 {
		t.Errorf("Page = %+v, want {0 1 2 1}", p.Page)
	}
	if p.Page.NextCursor == nil || *p.Page.NextCursor != "1" {
		t.Errorf("NextCursor = %v, want \"1\"", p.Page.NextCursor)
	}
	if p.Page.LimitUsed != 7 {
		t.Errorf("LimitUsed = %d, want 7", p.Page.LimitUsed)
	}
}

func TestAssemble_EmptyIsNotSuccess(t *testing.T) {
	res := batch.Result{
		Entries: []batch.Entry{{UID: "A"}},
		Window:  batch.ComputeWindow(1, 0, 35),
	}

	p := Assemble(res, defaultOptions())

	if p.Success {
		t.Error("Success = true, want false")
	}
	if p.Errors != nil {
		t.Errorf("Errors = %+v, want nil", p.Errors)
	}

	body, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	s := string(body)
	if !strings.Contains(s, `"data":[]`) {
		t.Errorf("body = %s, want empty data array", s)
	}
	if strings.Contains(s, `"errors"`) || strings.Contains(s, `"notice"`) {
		t.Errorf("body = %s, want errors and notice omitted", s)
	}
	if !strings.Contains(s, `"nextCursor":null`) {
		t.Errorf("body = %s, want nextCursor null", s)
	}
}

func TestAssemble_AllBlockedAddsNotice(t *testing.T) {
	res := batch.Result{
		Entries: []batch.Entry{{UID: "A", Failed: true}, {UID: "B", Failed: true}},
		Errors: []batch.IdentifierError{
			{UID: "A", Attempts: []client.ErrorRecord{blocked(403)}},
			{UID: "B", Attempts: []client.ErrorRecord{blocked(451), blocked(403)}},
		},
		Window: batch.ComputeWindow(2, 0, 35),
	}

	p := Assemble(res, defaultOptions())

	if p.Success {
		t.Error("Success = true, want false")
	}
	if len(p.Errors) != 2 {
		t.Errorf("len(Errors) = %d, want 2", len(p.Errors))
	}
	if p.Notice != BlockedNotice {
		t.Errorf("Notice = %q, want the blocked notice", p.Notice)
	}
}

func TestAllBlocked(t *testing.T) {
	tests := []struct {
		name string
		errs []batch.IdentifierError
		want bool
	}{
		{name: "no errors", errs: nil, want: false},
		{name: "identifier without attempts", errs: []batch.IdentifierError{{UID: "A"}}, want: false},
		{name: "only 403", errs: []batch.IdentifierError{{UID: "A", Attempts: []client.ErrorRecord{blocked(403)}}}, want: true},
		{
			name: "mixed with 500",
			errs: []batch.IdentifierError{
				{UID: "A", Attempts: []client.ErrorRecord{blocked(403)}},
				{UID: "B", Attempts: []client.ErrorRecord{{Class: client.ErrorClassStatus, StatusCode: 500}}},
			},
			want: false,
		},
		{
			name: "transport failure",
			errs: []batch.IdentifierError{{UID: "A", Attempts: []client.ErrorRecord{{Class: client.ErrorClassTransport}}}},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AllBlocked(tt.errs); got != tt.want {
				t.Errorf("AllBlocked() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAssemble_ProxySource(t *testing.T) {
	res := batch.Result{
		Entries: []batch.Entry{
			{UID: "A", Records: []pagination.OrderRecord{rec(`1`)}},
			{UID: "B", Records: []pagination.OrderRecord{rec(`2`)}, ViaProxy: true},
		},
		Window: batch.ComputeWindow(2, 0, 35),
	}

	p := Assemble(res, defaultOptions())

	if p.Meta.Source != SourceProxy {
		t.Errorf("Meta.Source = %q, want %q", p.Meta.Source, SourceProxy)
	}
}

func TestAssemble_SuccessPolicies(t *testing.T) {
	res := batch.Result{
		Entries: []batch.Entry{
			{UID: "A", Records: []pagination.OrderRecord{rec(`1`)}},
			{UID: "B", Failed: true},
		},
		Errors: []batch.IdentifierError{{UID: "B", Attempts: []client.ErrorRecord{{Class: client.ErrorClassStatus, StatusCode: 502}}}},
		Window: batch.ComputeWindow(2, 0, 35),
	}

	tests := []struct {
		policy SuccessPolicy
		want   bool
	}{
		{policy: SuccessAnyRecord, want: true},
		{policy: SuccessAllIdentifiers, want: false},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			opts := defaultOptions()
			opts.Policy = tt.policy
			if got := Assemble(res, opts).Success; got != tt.want {
				t.Errorf("Success = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseSuccessPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    SuccessPolicy
		wantErr bool
	}{
		{in: "", want: SuccessAnyRecord},
		{in: "any-record", want: SuccessAnyRecord},
		{in: " ALL-IDENTIFIERS ", want: SuccessAllIdentifiers},
		{in: "most", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseSuccessPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSuccessPolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSuccessPolicy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTaggedRecord_MarshalJSON(t *testing.T) {
	src := rec(`12345678901234567890`)
	tagged := TaggedRecord{UID: "4438679961865098497", Record: src}

	body, err := json.Marshal(tagged)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got map[string]json.RawMessage
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if string(got["_uid"]) != `"4438679961865098497"` {
		t.Errorf("_uid = %s, want the identifier string", got["_uid"])
	}
	if string(got["orderId"]) != "12345678901234567890" {
		t.Errorf("orderId = %s, want digits preserved", got["orderId"])
	}
	if _, ok := src["_uid"]; ok {
		t.Error("source record was modified")
	}
}
