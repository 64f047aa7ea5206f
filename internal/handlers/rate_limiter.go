package handlers

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/emart/api/internal/platform/auth"
	"github.com/emart/api/internal/platform/httpx"
)

// RateLimits configures the per-client token buckets.
type RateLimits struct {
	PublicPerMinute        int
	AuthenticatedPerMinute int
	Burst                  int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client key. Anonymous clients are keyed by remote address
// and share the public budget; identified clients get the authenticated budget.
type rateLimiter struct {
	public        rate.Limit
	authenticated rate.Limit
	burst         int
	idle          time.Duration
	clock         func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter
	sweeps  int
}

func newRateLimiter(limits RateLimits, clock func() time.Time) *rateLimiter {
	if limits.PublicPerMinute <= 0 && limits.AuthenticatedPerMinute <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	burst := limits.Burst
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		public:        perMinute(limits.PublicPerMinute),
		authenticated: perMinute(limits.AuthenticatedPerMinute),
		burst:         burst,
		idle:          10 * time.Minute,
		clock:         clock,
		clients:       make(map[string]*clientLimiter),
	}
}

func perMinute(n int) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(n) / 60)
}

func (l *rateLimiter) allow(key string, authenticated bool) (bool, time.Duration) {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	client, ok := l.clients[key]
	if !ok {
		limit := l.public
		if authenticated {
			limit = l.authenticated
		}
		client = &clientLimiter{limiter: rate.NewLimiter(limit, l.burst)}
		l.clients[key] = client
	}
	client.lastSeen = now

	l.sweeps++
	if l.sweeps%1024 == 0 {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > l.idle {
				delete(l.clients, k)
			}
		}
	}

	reservation := client.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, time.Minute
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, authenticated := "ip:"+r.RemoteAddr, false
		if identity, ok := auth.IdentityFromContext(r.Context()); ok {
			key, authenticated = "uid:"+identity.UID, true
		}
		ok, retryAfter := l.allow(key, authenticated)
		if !ok {
			seconds := int(retryAfter.Round(time.Second) / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}
