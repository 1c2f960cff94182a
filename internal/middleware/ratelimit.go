package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type bucket struct {
	count int
	until time.Time
}

type rateLimiter struct {
	limit     int
	per       time.Duration
	now       func() time.Time
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// RateLimit caps requests per window. Signed-in callers are counted by user id,
// guests by the connection's remote address, which only reflects forwarding
// headers when the router trusts its proxy. A non-positive limit disables the
// check.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	return newRateLimiter(limit, per, time.Now).middleware
}

func newRateLimiter(limit int, per time.Duration, now func() time.Time) *rateLimiter {
	return &rateLimiter{limit: limit, per: per, now: now, buckets: make(map[string]*bucket)}
}

func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	if l.limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retry := l.allow(rateLimitKey(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *rateLimiter) allow(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.sweep(now)
	b, ok := l.buckets[key]
	if !ok || now.After(b.until) {
		b = &bucket{count: 0, until: now.Add(l.per)}
		l.buckets[key] = b
	}
	if b.count >= l.limit {
		return false, int(b.until.Sub(now).Seconds()) + 1
	}
	b.count++
	return true, 0
}

// sweep drops expired buckets at most once per window, so the map holds
// only keys seen in roughly the last two windows.
func (l *rateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.per {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.After(b.until) {
			delete(l.buckets, key)
		}
	}
}

func rateLimitKey(r *http.Request) string {
	if rc := RequestContextFrom(r.Context()); !rc.IsGuest {
		return "user:" + rc.UserID
	}
	return "ip:" + clientIPForRateLimit(r)
}

func clientIPForRateLimit(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && net.ParseIP(host) != nil {
		return host
	}
	return r.RemoteAddr
}
