package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/copytrade-orders/pkg/fingerprint"
	"github.com/Sternrassler/copytrade-orders/pkg/logging"
)

// DefaultPrimaryBase is the public web host used when no primary is configured.
const DefaultPrimaryBase = "https://www.binance.com"

// Config holds the orchestrator configuration.
type Config struct {
	// Endpoints are tried in order. The first is normally the direct host.
	Endpoints []Endpoint

	// AttemptsPerHost bounds attempts on each endpoint.
	AttemptsPerHost int

	// RetryDelay is the center of the randomized wait between attempts.
	RetryDelay time.Duration

	// RetryJitter is the randomization factor applied to RetryDelay (0.2 = ±20%).
	RetryJitter float64

	// Timeout bounds a single upstream round trip.
	Timeout time.Duration

	// Fingerprints supplies per-attempt request identities. nil disables them.
	Fingerprints fingerprint.Provider

	// Observer, if set, is told about every attempt outcome.
	Observer OutcomeObserver

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// OutcomeObserver receives attempt outcomes, e.g. for diagnostics storage.
type OutcomeObserver interface {
	Observe(ctx context.Context, endpoint string, out Outcome)
}

// Endpoints builds the ordered endpoint list from a primary base and an
// optional fallback base. Trailing slashes are trimmed.
func Endpoints(primaryBase, fallbackBase string) []Endpoint {
	primaryBase = strings.TrimRight(strings.TrimSpace(primaryBase), "/")
	if primaryBase == "" {
		primaryBase = DefaultPrimaryBase
	}
	eps := []Endpoint{{Name: "primary", BaseURL: primaryBase, Origin: OriginDirect}}
	if fb := strings.TrimRight(strings.TrimSpace(fallbackBase), "/"); fb != "" {
		eps = append(eps, Endpoint{Name: "fallback", BaseURL: fb, Origin: OriginProxy})
	}
	return eps
}

// DefaultConfig returns the production configuration: 3 attempts per host,
// 300–450ms between attempts, randomized fingerprints.
func DefaultConfig(primaryBase, fallbackBase string) Config {
	return Config{
		Endpoints:       Endpoints(primaryBase, fallbackBase),
		AttemptsPerHost: 3,
		RetryDelay:      375 * time.Millisecond,
		RetryJitter:     0.2,
		Timeout:         15 * time.Second,
		Fingerprints:    fingerprint.NewGenerator(nil),
	}
}

// Result is the outcome of a full fetch across all endpoints.
type Result struct {
	Succeeded bool
	Envelope  *Envelope
	Endpoint  Endpoint // the endpoint that satisfied the call
	Attempts  int
	Errors    []ErrorRecord
}

// Err returns nil on success, otherwise an *UpstreamError wrapping ErrRetryExhausted.
func (r Result) Err() error {
	if r.Succeeded {
		return nil
	}
	var last ErrorRecord
	if len(r.Errors) > 0 {
		last = r.Errors[len(r.Errors)-1]
	}
	return &UpstreamError{Attempts: r.Attempts, Last: last, Err: ErrRetryExhausted}
}

// Orchestrator wraps a Caller with bounded retry and host fallback.
type Orchestrator struct {
	caller    *Caller
	endpoints []Endpoint
	config    Config
	observer  OutcomeObserver
	sleep     func(ctx context.Context, d time.Duration) error
	logger    zerolog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	for _, ep := range cfg.Endpoints {
		if ep.BaseURL == "" {
			return nil, fmt.Errorf("endpoint %q has no base url", ep.Name)
		}
	}
	if cfg.AttemptsPerHost < 1 {
		return nil, fmt.Errorf("attempts per host must be >= 1 (got %d)", cfg.AttemptsPerHost)
	}
	if cfg.RetryJitter < 0 || cfg.RetryJitter > 1 {
		return nil, fmt.Errorf("retry jitter must be within [0,1] (got %v)", cfg.RetryJitter)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Orchestrator{
		caller:    NewCaller(httpClient, cfg.Fingerprints),
		endpoints: cfg.Endpoints,
		config:    cfg,
		observer:  cfg.Observer,
		sleep:     Sleep,
		logger:    logging.NewLogger("upstream-client"),
	}, nil
}

// Endpoints returns the configured endpoints in priority order.
func (o *Orchestrator) Endpoints() []Endpoint {
	return o.endpoints
}

// Fetch posts payload to path, walking the endpoint list. Attempts on one
// endpoint stop early on a blocked (403/451) outcome. The returned error is
// only non-nil when payload cannot be encoded.
func (o *Orchestrator) Fetch(ctx context.Context, path string, payload any) (Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encode request body: %w", err)
	}

	var res Result
	for i, ep := range o.endpoints {
		if i > 0 {
			upstreamFallbacksTotal.Inc()
			o.logger.Warn().
				Str("endpoint", ep.Name).
				Str("origin", string(ep.Origin)).
				Msg("Falling back to next upstream endpoint")
		}

		wait := o.newBackOff()
		for attempt := 1; attempt <= o.config.AttemptsPerHost; attempt++ {
			if attempt > 1 {
				upstreamRetriesTotal.WithLabelValues(ep.Name).Inc()
				if err := o.sleep(ctx, wait.NextBackOff()); err != nil {
					res.Errors = append(res.Errors, ErrorRecord{
						Origin:   ep.Origin,
						Endpoint: ep.Name,
						Class:    ErrorClassCancelled,
						Message:  err.Error(),
					})
					return o.exhausted(path, res), nil
				}
			}

			res.Attempts++
			out := o.caller.Call(ctx, ep, path, body)
			o.record(ctx, ep, out)

			if out.Kind == OutcomeSuccess {
				res.Succeeded = true
				res.Envelope = out.Envelope
				res.Endpoint = ep
				if res.Attempts > 1 {
					o.logger.Info().
						Str("endpoint", ep.Name).
						Int("attempts", res.Attempts).
						Msg("Upstream call succeeded after retry")
				}
				return res, nil
			}

			res.Errors = append(res.Errors, recordFor(ep, out))

			if !shouldRetry(out.Class) {
				o.logger.Warn().
					Str("endpoint", ep.Name).
					Int("status", out.StatusCode).
					Str("error_class", string(out.Class)).
					Msg("Upstream refused access, abandoning endpoint")
				break
			}

			o.logger.Debug().
				Str("endpoint", ep.Name).
				Int("attempt", attempt).
				Int("status", out.StatusCode).
				Str("error_class", string(out.Class)).
				Msg("Upstream attempt failed")
		}
	}

	return o.exhausted(path, res), nil
}

func (o *Orchestrator) exhausted(path string, res Result) Result {
	upstreamExhaustedTotal.Inc()
	o.logger.Warn().
		Str("path", path).
		Int("attempts", res.Attempts).
		Int("errors", len(res.Errors)).
		Msg("Upstream attempts exhausted")
	return res
}

func (o *Orchestrator) record(ctx context.Context, ep Endpoint, out Outcome) {
	upstreamRequestsTotal.WithLabelValues(ep.Name, out.Kind.String()).Inc()
	upstreamRequestDuration.WithLabelValues(ep.Name).Observe(out.Duration.Seconds())
	if o.observer != nil {
		o.observer.Observe(ctx, ep.Name, out)
	}
}

// newBackOff returns a constant-center, jittered delay source.
func (o *Orchestrator) newBackOff() backoff.BackOff {
	if o.config.RetryDelay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     o.config.RetryDelay,
		RandomizationFactor: o.config.RetryJitter,
		Multiplier:          1,
		MaxInterval:         o.config.RetryDelay,
	}
	b.Reset()
	return b
}

func recordFor(ep Endpoint, out Outcome) ErrorRecord {
	rec := ErrorRecord{
		Origin:     ep.Origin,
		Endpoint:   ep.Name,
		Class:      out.Class,
		StatusCode: out.StatusCode,
	}
	switch out.Class {
	case ErrorClassTransport:
		rec.Message = out.Reason
	case ErrorClassBusiness, ErrorClassMalformed:
		rec.Body = out.RawPrefix
		rec.Message = out.Reason
	default:
		rec.Body = out.RawPrefix
	}
	return rec
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
