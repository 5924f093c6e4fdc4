// Package fingerprint produces per-attempt outbound request identities for the
// upstream web API. A fresh fingerprint is used for exactly one attempt so that
// retries do not share user-agent, trace ids or simulated origin address.
package fingerprint

import (
	"fmt"
	"math/rand"
	"net/http"

	"github.com/google/uuid"
)

// Fixed header values shared by every generated fingerprint.
const (
	DefaultOrigin  = "https://www.binance.com"
	DefaultReferer = "https://www.binance.com/"
	DefaultCookie  = "locale=en; country=VN"

	// Chrome major versions are drawn from [chromeMinVersion, chromeMinVersion+chromeVersionSpan).
	chromeMinVersion  = 113
	chromeVersionSpan = 12
)

// Fingerprint is the set of headers attached to one outbound attempt.
type Fingerprint struct {
	UserAgent     string
	DeviceID      string // bnc-uuid
	TraceID       string // x-ui-request-trace
	ForwardedFor  string
	StaticHeaders map[string]string
}

// Apply writes the fingerprint onto an outgoing request's headers.
func (f Fingerprint) Apply(h http.Header) {
	for k, v := range f.StaticHeaders {
		h.Set(k, v)
	}
	if f.UserAgent != "" {
		h.Set("User-Agent", f.UserAgent)
	}
	if f.DeviceID != "" {
		h.Set("bnc-uuid", f.DeviceID)
	}
	if f.TraceID != "" {
		h.Set("x-ui-request-trace", f.TraceID)
	}
	if f.ForwardedFor != "" {
		h.Set("X-Forwarded-For", f.ForwardedFor)
	}
}

// Provider hands out fingerprints. Implementations must be safe to call once
// per attempt; no state is expected to survive between calls.
type Provider interface {
	Generate() Fingerprint
}

// Generator builds randomized browser-like fingerprints.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a Generator. A nil source falls back to the global
// math/rand source.
func NewGenerator(src rand.Source) *Generator {
	g := &Generator{}
	if src != nil {
		g.rng = rand.New(src)
	}
	return g
}

func (g *Generator) intn(n int) int {
	if g == nil || g.rng == nil {
		return rand.Intn(n)
	}
	return g.rng.Intn(n)
}

// Generate returns a new randomized fingerprint.
func (g *Generator) Generate() Fingerprint {
	chrome := chromeMinVersion + g.intn(chromeVersionSpan)
	return Fingerprint{
		UserAgent: fmt.Sprintf(
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36",
			chrome,
		),
		DeviceID:      uuid.NewString(),
		TraceID:       uuid.NewString(),
		ForwardedFor:  fmt.Sprintf("45.%d.%d.%d", g.intn(200), g.intn(200), g.intn(200)),
		StaticHeaders: browserHeaders(),
	}
}

func browserHeaders() map[string]string {
	return map[string]string{
		"Accept":          "application/json,text/plain,*/*",
		"Accept-Language": "en-US,en;q=0.9",
		"Accept-Encoding": "gzip, deflate, br",
		"Content-Type":    "application/json",
		"Origin":          DefaultOrigin,
		"Referer":         DefaultReferer,
		"Cache-Control":   "no-cache",
		"Pragma":          "no-cache",
		"Cookie":          DefaultCookie,
	}
}

// Static always returns the same fingerprint.
type Static struct {
	Fingerprint Fingerprint
}

// Generate implements Provider.
func (s Static) Generate() Fingerprint {
	return s.Fingerprint
}

// None returns a provider that only sets the JSON content type, which
// disables header randomization without touching retry behavior.
func None() Provider {
	return Static{Fingerprint: Fingerprint{
		StaticHeaders: map[string]string{"Content-Type": "application/json"},
	}}
}
