package middleware

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lookbook/internal/domain"
)

func TestClientIPForRateLimit(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		remoteAddr string
		want       string
	}{
		{
			name:       "remote host",
			remoteAddr: "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "forwarded header is ignored",
			header:     "203.0.113.1",
			remoteAddr: "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "ipv6 remote",
			header:     "2001:db8::1",
			remoteAddr: net.JoinHostPort("2001:db8::2", "443"),
			want:       "2001:db8::2",
		},
		{
			name:       "remote without port",
			remoteAddr: "203.0.113.1",
			want:       "203.0.113.1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.header != "" {
				req.Header.Set("X-Forwarded-For", tc.header)
			}
			if got := clientIPForRateLimit(req); got != tc.want {
				t.Fatalf("clientIPForRateLimit() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRateLimitIgnoresRotatedForwardedFor(t *testing.T) {
	h := RateLimit(1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 2)
	for _, xff := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "198.51.100.10:1234"
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v, want [204 429]", codes)
	}
}

func TestRateLimitSweepsExpiredBuckets(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newRateLimiter(1, time.Minute, func() time.Time { return now })

	for i := 0; i < 100; i++ {
		if ok, _ := l.allow(fmt.Sprintf("ip:198.51.100.%d", i)); !ok {
			t.Fatalf("first request for key %d rejected", i)
		}
	}
	if len(l.buckets) != 100 {
		t.Fatalf("buckets = %d, want 100", len(l.buckets))
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := l.allow("ip:192.0.2.1"); !ok {
		t.Fatalf("request after window rejected")
	}
	if len(l.buckets) != 1 {
		t.Fatalf("buckets = %d after sweep, want 1", len(l.buckets))
	}

	if ok, retry := l.allow("ip:192.0.2.1"); ok || retry < 1 {
		t.Fatalf("second request allowed = %v, retry = %d", ok, retry)
	}
}

func TestRateLimitCountsUsersSeparately(t *testing.T) {
	h := RateLimit(1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(userID string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.10:1234"
		if userID != "" {
			req = req.WithContext(WithRequestContext(req.Context(), domain.RequestContext{UserID: userID}))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := send("alice"); got != http.StatusNoContent {
		t.Fatalf("alice first = %d", got)
	}
	if got := send("bob"); got != http.StatusNoContent {
		t.Fatalf("bob first = %d", got)
	}
	if got := send("alice"); got != http.StatusTooManyRequests {
		t.Fatalf("alice second = %d, want 429", got)
	}
	if got := send(""); got != http.StatusNoContent {
		t.Fatalf("guest first = %d", got)
	}
	if got := send(""); got != http.StatusTooManyRequests {
		t.Fatalf("guest second = %d, want 429", got)
	}
}
