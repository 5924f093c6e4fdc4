// Package testutil provides testing utilities for the order history proxy.
package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// OrderHistoryPath is the upstream path the proxy posts to.
const OrderHistoryPath = "/bapi/futures/v1/friendly/future/copy-trade/lead-portfolio/order-history"

// MockResponse defines the behavior for one mock upstream response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockUpstream is a configurable mock of the order history upstream.
// Responses registered for a path are served in order; the last one repeats.
type MockUpstream struct {
	server    *httptest.Server
	mu        sync.RWMutex
	sequences map[string][]MockResponse
	served    map[string]int

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	Bodies            []string
}

// NewMockUpstream creates a new mock upstream server.
func NewMockUpstream() *MockUpstream {
	mock := &MockUpstream{
		sequences: make(map[string][]MockResponse),
		served:    make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.Bodies = append(mock.Bodies, string(body))

		seq, exists := mock.sequences[r.URL.Path]
		var resp MockResponse
		if exists && len(seq) > 0 {
			i := mock.served[r.URL.Path]
			if i >= len(seq) {
				i = len(seq) - 1
			}
			resp = seq[i]
			mock.served[r.URL.Path]++
		}
		mock.mu.Unlock()

		if !exists {
			http.NotFound(w, r)
			return
		}
		write(w, resp)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Reset clears all tracking counters and rewinds every sequence.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
	m.Bodies = nil
	m.served = make(map[string]int)
}

// SetSequence serves resps in order for path.
func (m *MockUpstream) SetSequence(path string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[path] = resps
	m.served[path] = 0
}

// SetResponse serves resp for every request to path.
func (m *MockUpstream) SetResponse(path string, resp MockResponse) {
	m.SetSequence(path, resp)
}

// SetOrderHistory scripts the order history path.
func (m *MockUpstream) SetOrderHistory(resps ...MockResponse) {
	m.SetSequence(OrderHistoryPath, resps...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockUpstream) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetBodies returns a copy of every request body received so far.
func (m *MockUpstream) GetBodies() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.Bodies...)
}

func write(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewEnvelopeResponse creates a 200 OK response carrying a success envelope around data.
func NewEnvelopeResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"code":"000000","message":null,"data":%s,"success":true}`, data),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewOrdersPage creates a successful order history page. records are raw JSON
// objects; an empty indexValue omits the continuation token.
func NewOrdersPage(indexValue string, records ...string) MockResponse {
	data := fmt.Sprintf(`{"list":[%s]`, strings.Join(records, ","))
	if indexValue != "" {
		data += fmt.Sprintf(`,"indexValue":%q`, indexValue)
	}
	data += "}"
	return NewEnvelopeResponse(data)
}

// NewEmptyPage creates a successful page with no records.
func NewEmptyPage() MockResponse {
	return NewOrdersPage("")
}

// NewBusinessErrorResponse creates a 200 OK response without the success code.
func NewBusinessErrorResponse(code, message string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       fmt.Sprintf(`{"code":%q,"message":%q,"data":null,"success":false}`, code, message),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewBlockedResponse creates a 403 or 451 response.
func NewBlockedResponse(status int) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       `<html><body>Service unavailable from a restricted location</body></html>`,
		Headers:    map[string]string{"Content-Type": "text/html"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewMalformedResponse creates a 200 OK response whose body is not JSON.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       "<!doctype html><title>challenge</title>",
		Headers:    map[string]string{"Content-Type": "text/html"},
	}
}
