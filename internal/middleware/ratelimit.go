package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chin-flags/fixapp/internal/clock"
	"github.com/chin-flags/fixapp/internal/config"
)

const msgTooManyRequests = "Too many requests. Please try again later."

// RateLimiter enforces hourly request budgets. Authenticated requests are
// keyed by user id, everything else by client IP.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*limiterEntry
	authLimit  rate.Limit
	authBurst  int
	anonLimit  rate.Limit
	anonBurst  int
	maxEntries int // bounds memory under key churn
	clock      clock.Clock
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing cfg.AuthenticatedPerHour requests
// per user and cfg.AnonymousPerHour requests per IP.
func NewRateLimiter(cfg config.Rate, c clock.Clock) *RateLimiter {
	if c == nil {
		c = clock.Real{}
	}
	return &RateLimiter{
		limiters:   make(map[string]*limiterEntry),
		authLimit:  perHour(cfg.AuthenticatedPerHour),
		authBurst:  cfg.AuthenticatedPerHour,
		anonLimit:  perHour(cfg.AnonymousPerHour),
		anonBurst:  cfg.AnonymousPerHour,
		maxEntries: 100000,
		clock:      c,
	}
}

func perHour(n int) rate.Limit {
	if n <= 0 {
		return 0
	}
	return rate.Every(time.Hour / time.Duration(n))
}

// Handler returns HTTP middleware that enforces the budgets.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, limit := rl.keyFor(r)

		remaining, retryAfter, allowed := rl.allow(key)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			writeError(w, http.StatusTooManyRequests, msgTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) keyFor(r *http.Request) (string, int) {
	if p := PrincipalFromContext(r.Context()); p != nil {
		return "user:" + p.UserID, rl.authBurst
	}
	return "ip:" + realIP(r), rl.anonBurst
}

// allow consumes one token of key. It returns the tokens left, the wait until
// the next token when refused, and whether the request may proceed.
func (rl *RateLimiter) allow(key string) (remaining int, retryAfter time.Duration, allowed bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	e, exists := rl.limiters[key]
	if !exists {
		if len(rl.limiters) >= rl.maxEntries {
			return 0, time.Second, false
		}
		limit, burst := rl.anonLimit, rl.anonBurst
		if strings.HasPrefix(key, "user:") {
			limit, burst = rl.authLimit, rl.authBurst
		}
		e = &limiterEntry{lim: rate.NewLimiter(limit, burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = now

	res := e.lim.ReserveN(now, 1)
	if !res.OK() {
		return 0, time.Hour, false
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return 0, delay, false
	}
	return int(e.lim.TokensAt(now)), 0, true
}

// StartCleanup spawns a goroutine that removes idle limiters every interval.
// A limiter is idle if it has not been used for longer than maxIdle.
// Returns a cancel function that stops the cleanup goroutine.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.clock.Now().Add(-maxIdle)
	for key, e := range rl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// realIP extracts the client IP from RemoteAddr.
// Proxy headers (X-Forwarded-For, X-Real-Ip) are NOT trusted because
// they can be spoofed to bypass rate limiting.
func realIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
