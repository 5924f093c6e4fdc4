// Package client provides the upstream caller and the retrying, host-falling-back
// orchestrator used to reach the copy-trade order history API.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/copytrade-orders/pkg/fingerprint"
	"github.com/Sternrassler/copytrade-orders/pkg/logging"
)

// SuccessCode is the business code the upstream puts in successful envelopes.
const SuccessCode = "000000"

// MaxRawPrefix bounds the raw body kept on an outcome.
const MaxRawPrefix = 200

// OutcomeKind is the tagged result of one attempt.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetryable
	OutcomeFatal
)

// String returns the metric label for the kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Envelope is the upstream's common response wrapper.
type Envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Outcome is the normalized result of a single call.
type Outcome struct {
	Kind       OutcomeKind
	Class      ErrorClass // empty on success
	StatusCode int
	Envelope   *Envelope // nil when the body did not parse
	RawPrefix  string
	Reason     string
	Duration   time.Duration
}

// Endpoint is one named upstream base URL.
type Endpoint struct {
	Name    string
	BaseURL string
	Origin  Origin
}

// Caller issues single POST requests. It never retries.
type Caller struct {
	httpClient   *http.Client
	fingerprints fingerprint.Provider
	logger       zerolog.Logger
}

// NewCaller creates a Caller. A nil provider disables fingerprinting.
func NewCaller(httpClient *http.Client, fingerprints fingerprint.Provider) *Caller {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if fingerprints == nil {
		fingerprints = fingerprint.None()
	}
	return &Caller{
		httpClient:   httpClient,
		fingerprints: fingerprints,
		logger:       logging.NewLogger("upstream-caller"),
	}
}

// Call sends body to endpoint+path and normalizes the response. Failures are
// reported in the returned Outcome, never as a Go error.
func (c *Caller) Call(ctx context.Context, ep Endpoint, path string, body []byte) Outcome {
	start := time.Now()
	out := c.call(ctx, ep, path, body)
	out.Duration = time.Since(start)

	c.logger.Debug().
		Str("endpoint", ep.Name).
		Str("path", path).
		Int("status", out.StatusCode).
		Str("outcome", out.Kind.String()).
		Str("error_class", string(out.Class)).
		Dur("duration", out.Duration).
		Msg("Upstream call finished")

	return out
}

func (c *Caller) call(ctx context.Context, ep Endpoint, path string, body []byte) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return Outcome{Kind: OutcomeRetryable, Class: ErrorClassTransport, Reason: fmt.Sprintf("create request: %v", err)}
	}
	c.fingerprints.Generate().Apply(req.Header)
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{Kind: OutcomeRetryable, Class: ErrorClassTransport, Reason: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := readBody(resp)
	if err != nil {
		return Outcome{
			Kind:       OutcomeRetryable,
			Class:      ErrorClassTransport,
			StatusCode: resp.StatusCode,
			Reason:     fmt.Sprintf("read body: %v", err),
		}
	}

	out := Outcome{
		StatusCode: resp.StatusCode,
		RawPrefix:  truncate(string(raw), MaxRawPrefix),
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err == nil {
		out.Envelope = &env
	}

	classify(&out)
	return out
}

// classify fills Kind, Class and Reason from the status and parsed envelope.
func classify(out *Outcome) {
	ok := out.StatusCode >= 200 && out.StatusCode < 300
	switch {
	case IsBlockedStatus(out.StatusCode):
		out.Kind, out.Class = OutcomeFatal, ErrorClassBlocked
		out.Reason = http.StatusText(out.StatusCode)
	case !ok:
		out.Kind, out.Class = OutcomeRetryable, ErrorClassStatus
		out.Reason = http.StatusText(out.StatusCode)
	case out.Envelope == nil:
		out.Kind, out.Class = OutcomeRetryable, ErrorClassMalformed
		out.Reason = "response body is not valid JSON"
	case out.Envelope.Code != SuccessCode:
		out.Kind, out.Class = OutcomeRetryable, ErrorClassBusiness
		out.Reason = fmt.Sprintf("upstream code %q: %s", out.Envelope.Code, out.Envelope.Message)
	default:
		out.Kind, out.Class = OutcomeSuccess, ""
		out.Reason = ""
	}
}

// readBody reads the whole body, undoing any content encoding that the
// transport left in place because Accept-Encoding was set explicitly.
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer zr.Close()
		r = zr
	case "br":
		r = brotli.NewReader(resp.Body)
	}
	return io.ReadAll(r)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Avoid cutting a multi-byte rune in half.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
