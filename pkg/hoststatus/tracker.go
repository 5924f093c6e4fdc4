package hoststatus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/copytrade-orders/pkg/client"
	"github.com/Sternrassler/copytrade-orders/pkg/metrics"
)

// ErrDisabled is returned by a nil Tracker.
var ErrDisabled = errors.New("host status tracking is disabled")

var (
	hostLastStatus = promauto.With(metrics.Registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "orders_host_last_status",
		Help: "HTTP status of the most recent attempt per upstream endpoint (0 = transport failure)",
	}, []string{"endpoint"})

	hostWriteErrorsTotal = promauto.With(metrics.Registry).NewCounter(prometheus.CounterOpts{
		Name: "orders_host_status_write_errors_total",
		Help: "Total failed writes of host diagnostics to Redis",
	})
)

var _ client.OutcomeObserver = (*Tracker)(nil)

// Tracker records attempt outcomes per endpoint. A nil *Tracker is valid and
// does nothing.
type Tracker struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewTracker creates a new host status tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		ttl:    DefaultTTL,
		logger: logger,
	}
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Observe implements client.OutcomeObserver. Write failures are logged and
// never reach the fetch path.
func (t *Tracker) Observe(ctx context.Context, endpoint string, out client.Outcome) {
	if t == nil {
		return
	}
	hostLastStatus.WithLabelValues(endpoint).Set(float64(out.StatusCode))

	if err := t.Record(ctx, endpoint, out.Kind, out.StatusCode, string(out.Class)); err != nil {
		hostWriteErrorsTotal.Inc()
		t.logger.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Msg("Failed to record host status")
	}
}

// Record stores one attempt for endpoint.
func (t *Tracker) Record(ctx context.Context, endpoint string, kind client.OutcomeKind, status int, class string) error {
	if t == nil {
		return ErrDisabled
	}
	key := Key(endpoint)

	pipe := t.redis.TxPipeline()
	pipe.HIncrBy(ctx, key, counterField(kind), 1)
	pipe.HSet(ctx, key,
		fieldLastStatus, status,
		fieldLastClass, class,
		fieldLastSeen, time.Now().UnixMilli(),
	)
	pipe.Expire(ctx, key, t.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store host status in redis: %w", err)
	}

	t.logger.Debug().
		Str("endpoint", endpoint).
		Str("outcome", kind.String()).
		Int("status", status).
		Msg("Host status updated")
	return nil
}

// Snapshot returns the stored status of each named endpoint, in order.
// Endpoints with nothing recorded come back with zero counters.
func (t *Tracker) Snapshot(ctx context.Context, endpoints []string) ([]HostStatus, error) {
	if t == nil {
		return nil, ErrDisabled
	}

	pipe := t.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(endpoints))
	for i, name := range endpoints {
		cmds[i] = pipe.HGetAll(ctx, Key(name))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read host status from redis: %w", err)
	}

	out := make([]HostStatus, 0, len(endpoints))
	for i, name := range endpoints {
		fields, err := cmds[i].Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("read host status %q: %w", name, err)
		}
		s, err := parse(name, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Reset removes the stored status of the given endpoints.
func (t *Tracker) Reset(ctx context.Context, endpoints ...string) error {
	if t == nil {
		return ErrDisabled
	}
	if len(endpoints) == 0 {
		return nil
	}
	keys := make([]string, len(endpoints))
	for i, name := range endpoints {
		keys[i] = Key(name)
	}
	if err := t.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete host status: %w", err)
	}
	return nil
}

func counterField(kind client.OutcomeKind) string {
	switch kind {
	case client.OutcomeSuccess:
		return fieldSuccess
	case client.OutcomeFatal:
		return fieldFatal
	default:
		return fieldRetryable
	}
}

func parse(endpoint string, fields map[string]string) (HostStatus, error) {
	s := HostStatus{Endpoint: endpoint, LastClass: fields[fieldLastClass]}

	ints := []struct {
		field string
		dst   *int64
	}{
		{fieldSuccess, &s.Success},
		{fieldRetryable, &s.Retryable},
		{fieldFatal, &s.Fatal},
	}
	for _, f := range ints {
		v, ok := fields[f.field]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return HostStatus{}, fmt.Errorf("parse %s for %q: %w", f.field, endpoint, err)
		}
		*f.dst = n
	}

	if v, ok := fields[fieldLastStatus]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return HostStatus{}, fmt.Errorf("parse last status for %q: %w", endpoint, err)
		}
		s.LastStatus = n
	}
	if v, ok := fields[fieldLastSeen]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return HostStatus{}, fmt.Errorf("parse last seen for %q: %w", endpoint, err)
		}
		s.LastSeen = time.UnixMilli(ms)
	}
	return s, nil
}
