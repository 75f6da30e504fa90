package api

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the limiter table. When it fills up the table is
// reset, which briefly gives every client a fresh burst.
const maxTrackedClients = 10000

type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func (cl *clientLimiter) get(key string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	l, ok := cl.limiters[key]
	if !ok {
		if len(cl.limiters) >= maxTrackedClients {
			cl.limiters = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(cl.limit, cl.burst)
		cl.limiters[key] = l
	}
	return l
}

// RateLimit limits each client to rps requests per second with the given
// burst. Clients are keyed by the user header, falling back to the remote
// address. A non-positive rps disables limiting.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if burst < 1 {
		burst = 1
	}
	cl := &clientLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
	return func(next http.Handler) http.Handler {
		if rps <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cl.get(clientKey(r)).Allow() {
				w.Header().Set("Retry-After", "1")
				httpError(w, http.StatusTooManyRequests, "rate_limit_error", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if u := r.Header.Get(HeaderUser); u != "" {
		return "user:" + u
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
