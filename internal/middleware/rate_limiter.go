package middleware

import (
	"net/http"
	"sync"
	"time"

	"cashdesk/internal/apierror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ── API rate limiter ──────────────────────────────────────────────────────────
// Token bucket per client IP. Idle buckets are purged so IPs that never
// return do not accumulate.

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type ipLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
}

func (l *ipLimiter) get(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[ip] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (l *ipLimiter) purge(olderThan time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for ip, e := range l.entries {
		if e.lastSeen.Before(olderThan) {
			delete(l.entries, ip)
			n++
		}
	}
	return n
}

const purgeInterval = 5 * time.Minute

// RateLimiter allows `limit` requests per `window` per IP, with bursts up
// to `limit`. The purge goroutine stops when done is closed.
func RateLimiter(limit int, window time.Duration, done <-chan struct{}) gin.HandlerFunc {
	l := &ipLimiter{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
	}
	go func() {
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				if n := l.purge(now.Add(-purgeInterval)); n > 0 {
					log.Debug().Int("purged", n).Msg("rate limiter entries purged")
				}
			}
		}
	}()

	return func(c *gin.Context) {
		lim := l.get(c.ClientIP(), time.Now())
		if !lim.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apierror.WithCode(apierror.CodeRateLimited, "Demasiadas solicitudes. Intente nuevamente en un momento."))
			return
		}
		c.Next()
	}
}
