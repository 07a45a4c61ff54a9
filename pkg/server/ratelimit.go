package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/protocol"

	"golang.org/x/time/rate"
)

// ipLimiter throttles requests per client IP with a token bucket each.
// Idle buckets are pruned lazily on the next allow call past the cleanup interval.
type ipLimiter struct {
	rps   rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	lastPrune time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64
}

const limiterIdleTimeout = 5 * time.Minute

// newIPLimiter returns nil when rps is not positive.
func newIPLimiter(rps float64, burst int) *ipLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = max(1, int(rps))
	}
	return &ipLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     limiterIdleTimeout,
		now:      time.Now,
		limiters: make(map[string]*clientLimiter),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.lastPrune) > l.idle {
		l.prune(now)
	}
	cl, ok := l.limiters[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[ip] = cl
		activeLimiters.Set(float64(len(l.limiters)))
	}
	l.mu.Unlock()

	cl.lastUsed.Store(now.Unix())
	return cl.limiter.AllowN(now, 1)
}

// prune must be called with mu held.
func (l *ipLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.idle).Unix()
	for ip, cl := range l.limiters {
		if cl.lastUsed.Load() < cutoff {
			delete(l.limiters, ip)
		}
	}
	l.lastPrune = now
	activeLimiters.Set(float64(len(l.limiters)))
}

// clientIP returns the first X-Forwarded-For address, falling back to the remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get(protocol.HeaderForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
