package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientThrottle admits requests per client address with a token bucket.
// Idle buckets are evicted so the map does not grow without bound.
type clientThrottle struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*throttleEntry
	idle    time.Duration
	now     func() time.Time
}

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientThrottle(perSec float64, burst int) *clientThrottle {
	if burst < 1 {
		burst = 1
	}
	return &clientThrottle{
		limit:   rate.Limit(perSec),
		burst:   burst,
		clients: make(map[string]*throttleEntry),
		idle:    10 * time.Minute,
		now:     time.Now,
	}
}

func (t *clientThrottle) allow(client string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	e, ok := t.clients[client]
	if !ok {
		if len(t.clients) > 1024 {
			t.evict(now)
		}
		e = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.clients[client] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (t *clientThrottle) evict(now time.Time) {
	for k, e := range t.clients {
		if now.Sub(e.lastSeen) > t.idle {
			delete(t.clients, k)
		}
	}
}

func (t *clientThrottle) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.allow(clientKey(r)) {
			throttledRequests.Inc()
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "throttled"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey relies on middleware.RealIP having rewritten RemoteAddr.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
