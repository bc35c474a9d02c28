package server

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an unused caller limiter is kept
const limiterIdleTTL = 10 * time.Minute

type callerLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// IngestLimiter rate limits event ingestion per caller. A non-positive rate
// disables it.
type IngestLimiter struct {
	limit     rate.Limit
	burst     int
	mu        sync.Mutex
	callers   map[string]*callerLimiter
	lastSweep time.Time
	now       func() time.Time
}

func NewIngestLimiter(perSecond float64, burst int) *IngestLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IngestLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		callers: make(map[string]*callerLimiter),
		now:     time.Now,
	}
}

func (l *IngestLimiter) Enabled() bool {
	return l.limit > 0
}

// Allow spends one token from the caller's bucket
func (l *IngestLimiter) Allow(caller string) bool {
	if !l.Enabled() {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for key, c := range l.callers {
			if now.Sub(c.lastAccess) > limiterIdleTTL {
				delete(l.callers, key)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.callers[caller]
	if !ok {
		c = &callerLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.callers[caller] = c
	}
	c.lastAccess = now
	return c.limiter.AllowN(now, 1)
}

// Callers is the number of tracked callers
func (l *IngestLimiter) Callers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.callers)
}

// Middleware keys on the identity IdentityMiddleware resolved, falling back
// to the remote address
func (l *IngestLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := r.RemoteAddr
		if id := IdentityFromContext(r.Context()); id.Authenticated() {
			caller = id.Source.String() + ":" + id.Subject
		}

		if !l.Allow(caller) {
			retryAfter := int(math.Ceil(1.0 / float64(l.limit)))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
