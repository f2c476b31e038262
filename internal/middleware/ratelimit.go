package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig sizes the per-client token bucket: RequestsPerSecond
// is the refill rate, Burst the bucket depth. Values come from the
// RATE_LIMIT_RPS and RATE_LIMIT_BURST settings.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// How long an idle client keeps its bucket before it is pruned.
const bucketTTL = 10 * time.Minute

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds one bucket per client IP. Pruning happens inline on
// lookup rather than in a background goroutine, so the middleware owns
// no lifecycle.
type limiterSet struct {
	cfg RateLimitConfig

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
}

func (s *limiterSet) get(ip string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastPrune) > bucketTTL {
		for k, b := range s.buckets {
			if now.Sub(b.lastSeen) > bucketTTL {
				delete(s.buckets, k)
			}
		}
		s.lastPrune = now
	}

	b, ok := s.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)}
		s.buckets[ip] = b
	}
	b.lastSeen = now
	return b.lim
}

// RateLimiter throttles requests per client IP so one chatty dashboard
// cannot monopolize the pool's handles. Rejected requests get a 429 in
// the service's JSON error envelope with a Retry-After hint.
func RateLimiter(cfg RateLimitConfig) func(http.Handler) http.Handler {
	set := &limiterSet{cfg: cfg, buckets: make(map[string]*bucket), lastPrune: time.Now()}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			lim := set.get(clientIP(r), now)

			res := lim.Reserve()
			if !res.OK() {
				rejectRateLimited(w, 0)
				return
			}
			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				rejectRateLimited(w, int(delay.Seconds())+1)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Burst))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(lim.Tokens())))
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP is RemoteAddr without the port. X-Forwarded-For is ignored:
// the service fronts its own listener, and honoring the header would
// let any caller mint fresh buckets at will.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func rejectRateLimited(w http.ResponseWriter, retryAfterSecs int) {
	if retryAfterSecs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    http.StatusTooManyRequests,
		"message": "rate limit exceeded",
	})
}
