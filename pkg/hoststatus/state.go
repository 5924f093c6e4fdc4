// Package hoststatus keeps per-endpoint diagnostics of upstream outcomes in Redis.
// The fetch path only writes these counters; they are read back by the
// status endpoint so operators can see which hosts are being refused.
package hoststatus

import (
	"time"

	"github.com/Sternrassler/copytrade-orders/pkg/client"
)

// Redis key layout.
const (
	// KeyPrefix is followed by the endpoint name.
	KeyPrefix = "copytrade:host:"

	fieldSuccess    = "success"
	fieldRetryable  = "retryable"
	fieldFatal      = "fatal"
	fieldLastStatus = "last_status"
	fieldLastClass  = "last_class"
	fieldLastSeen   = "last_seen"
)

// DefaultTTL bounds how long a host's counters live after its last update.
const DefaultTTL = 24 * time.Hour

// HostStatus is the stored view of one endpoint.
type HostStatus struct {
	Endpoint   string    `json:"endpoint"`
	Success    int64     `json:"success"`
	Retryable  int64     `json:"retryable"`
	Fatal      int64     `json:"fatal"`
	LastStatus int       `json:"lastStatus,omitempty"`
	LastClass  string    `json:"lastClass,omitempty"`
	LastSeen   time.Time `json:"lastSeen"`
}

// Key returns the Redis key for endpoint.
func Key(endpoint string) string {
	return KeyPrefix + endpoint
}

// Total returns the number of recorded attempts.
func (s HostStatus) Total() int64 {
	return s.Success + s.Retryable + s.Fatal
}

// IsBlocked returns true when the last recorded attempt was refused (403/451).
func (s HostStatus) IsBlocked() bool {
	return s.LastClass == string(client.ErrorClassBlocked)
}

// IsStale returns true if nothing was recorded within maxAge.
func (s HostStatus) IsStale(maxAge time.Duration) bool {
	return s.LastSeen.IsZero() || time.Since(s.LastSeen) > maxAge
}
