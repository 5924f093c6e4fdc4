package fingerprint

import (
	"math/rand"
	"net/http"
	"regexp"
	"strings"
	"testing"
)

var userAgentPattern = regexp.MustCompile(`Chrome/(\d+)\.0\.0\.0 Safari/537\.36$`)

func TestGenerator_Generate(t *testing.T) {
	g := NewGenerator(rand.NewSource(42))

	fp := g.Generate()

	m := userAgentPattern.FindStringSubmatch(fp.UserAgent)
	if m == nil {
		t.Fatalf("UserAgent = %q, want Chrome UA", fp.UserAgent)
	}
	if m[1] < "113" || m[1] > "124" {
		t.Errorf("Chrome version = %s, want 113..124", m[1])
	}
	if !strings.HasPrefix(fp.ForwardedFor, "45.") {
		t.Errorf("ForwardedFor = %q, want 45.x.x.x", fp.ForwardedFor)
	}
	if len(fp.DeviceID) != 36 || len(fp.TraceID) != 36 {
		t.Errorf("DeviceID/TraceID should be UUIDs, got %q / %q", fp.DeviceID, fp.TraceID)
	}
	if fp.StaticHeaders["Origin"] != DefaultOrigin {
		t.Errorf("Origin = %q, want %q", fp.StaticHeaders["Origin"], DefaultOrigin)
	}
}

func TestGenerator_VariesPerCall(t *testing.T) {
	g := NewGenerator(nil)

	a := g.Generate()
	b := g.Generate()

	if a.TraceID == b.TraceID {
		t.Error("successive fingerprints share a trace id")
	}
	if a.DeviceID == b.DeviceID {
		t.Error("successive fingerprints share a device id")
	}
}

func TestFingerprint_Apply(t *testing.T) {
	fp := Fingerprint{
		UserAgent:     "ua",
		DeviceID:      "dev",
		TraceID:       "trace",
		ForwardedFor:  "45.1.2.3",
		StaticHeaders: map[string]string{"Origin": "o"},
	}

	h := http.Header{}
	fp.Apply(h)

	tests := map[string]string{
		"User-Agent":         "ua",
		"bnc-uuid":           "dev",
		"x-ui-request-trace": "trace",
		"X-Forwarded-For":    "45.1.2.3",
		"Origin":             "o",
	}
	for k, want := range tests {
		if got := h.Get(k); got != want {
			t.Errorf("header %s = %q, want %q", k, got, want)
		}
	}
}

func TestNone(t *testing.T) {
	h := http.Header{}
	None().Generate().Apply(h)

	if h.Get("User-Agent") != "" {
		t.Errorf("None() should not set User-Agent, got %q", h.Get("User-Agent"))
	}
	if h.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", h.Get("Content-Type"))
	}
}
