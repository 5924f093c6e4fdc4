// Package completion forwards chat completion requests to an OpenAI compatible
// upstream, passing status, content type and body back unchanged.
package completion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/copytrade-orders/pkg/logging"
	"github.com/Sternrassler/copytrade-orders/pkg/metrics"
)

// DefaultURL is the chat completions endpoint used when none is configured.
const DefaultURL = "https://api.openai.com/v1/chat/completions"

// ErrMissingAPIKey is returned when no upstream key is configured.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY not set")

var forwardsTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
	Name: "orders_completion_forwards_total",
	Help: "Total completion requests forwarded by upstream status (0 = transport failure)",
}, []string{"status"})

// Config holds forwarder configuration.
type Config struct {
	APIKey     string
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Response is the upstream answer as received.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Forwarder posts request bodies to the completion upstream.
type Forwarder struct {
	apiKey     string
	url        string
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a Forwarder. A missing API key is not an error here; Forward
// reports it so the server can answer with a configuration error.
func New(cfg Config) *Forwarder {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Forwarder{
		apiKey:     cfg.APIKey,
		url:        cfg.URL,
		httpClient: httpClient,
		logger:     logging.NewLogger("completion"),
	}
}

// Configured reports whether an API key is set.
func (f *Forwarder) Configured() bool {
	return f.apiKey != ""
}

// Forward sends body upstream. An empty body is sent as {}.
func (f *Forwarder) Forward(ctx context.Context, body []byte) (*Response, error) {
	if !f.Configured() {
		return nil, ErrMissingAPIKey
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		forwardsTotal.WithLabelValues("0").Inc()
		return nil, fmt.Errorf("forward completion: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		forwardsTotal.WithLabelValues("0").Inc()
		return nil, fmt.Errorf("read completion response: %w", err)
	}
	forwardsTotal.WithLabelValues(fmt.Sprint(resp.StatusCode)).Inc()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}

	f.logger.Debug().
		Int("status", resp.StatusCode).
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("Completion forwarded")

	return &Response{StatusCode: resp.StatusCode, ContentType: contentType, Body: data}, nil
}
