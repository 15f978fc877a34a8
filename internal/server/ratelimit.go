package server

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter holds a per-IP token bucket and the last time it was used.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore holds per-IP limiters shared by the throttled routes.
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*ipLimiter
	r         rate.Limit
	b         int
	lastSweep time.Time
}

func newRateLimiterStore(requestsPerMinute int) *rateLimiterStore {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 10
	}
	return &rateLimiterStore{
		limiters:  make(map[string]*ipLimiter),
		r:         rate.Limit(float64(requestsPerMinute) / 60.0),
		b:         requestsPerMinute,
		lastSweep: time.Now(),
	}
}

func (s *rateLimiterStore) get(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if now.Sub(s.lastSweep) > 5*time.Minute {
		for key, l := range s.limiters {
			if now.Sub(l.lastSeen) > 10*time.Minute {
				delete(s.limiters, key)
			}
		}
		s.lastSweep = now
	}
	l, ok := s.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(s.r, s.b)}
		s.limiters[ip] = l
	}
	l.lastSeen = now
	return l.limiter
}

// limit throttles POSTs to the given paths and answers 429 with Retry-After.
func (s *rateLimiterStore) limit(paths ...string) func(http.Handler) http.Handler {
	limited := make(map[string]bool, len(paths))
	for _, p := range paths {
		limited[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || !limited[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			reservation := s.get(clientIP(r)).Reserve()
			if d := reservation.Delay(); d > 0 {
				reservation.Cancel()
				retryAfter := int(math.Ceil(d.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				respondStatusError(w, newAPIError(http.StatusTooManyRequests, "rate_limited", "too many attempts, retry later", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP keys the limiter on RemoteAddr. Proxy headers only count when
// middleware.RealIP has already rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
