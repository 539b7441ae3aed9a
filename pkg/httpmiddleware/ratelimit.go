package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client sliding window limiter.
type RateLimitConfig struct {
	Window time.Duration

	// Max is the request budget per window for reads.
	Max int

	// WriteMax, when positive, gives state-changing requests (checkout,
	// promo validation, cart edits) a separate and usually tighter budget.
	WriteMax int

	// KeyFunc identifies the client. Defaults to the client IP.
	KeyFunc func(*http.Request) string
}

// window approximates a sliding window from two fixed ones.
type window struct {
	start      time.Time
	curr, prev float64
}

func (w *window) advance(now time.Time, size time.Duration) {
	age := now.Sub(w.start)
	if age < size {
		return
	}
	w.prev = 0
	if age < 2*size {
		w.prev = w.curr
	}
	w.curr = 0
	w.start = now.Truncate(size)
}

// estimate weights the previous window by its overlap with the sliding one.
func (w *window) estimate(now time.Time, size time.Duration) float64 {
	weight := 1 - float64(now.Sub(w.start))/float64(size)
	if weight < 0 {
		weight = 0
	}
	return w.prev*weight + w.curr
}

type rateLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	return &rateLimiter{
		cfg:     cfg,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// budget picks the bucket key and limit for r.
func (rl *rateLimiter) budget(r *http.Request) (string, int) {
	key := rl.cfg.KeyFunc(r)
	if rl.cfg.WriteMax > 0 && !isSafeMethod(r.Method) {
		return "w|" + key, rl.cfg.WriteMax
	}
	return "r|" + key, rl.cfg.Max
}

func (rl *rateLimiter) take(key string, limit int, now time.Time) (remaining int, resetAt time.Time, ok bool) {
	size := rl.cfg.Window

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, found := rl.windows[key]
	if !found {
		w = &window{start: now.Truncate(size)}
		rl.windows[key] = w
	}
	w.advance(now, size)
	resetAt = w.start.Add(size)

	used := w.estimate(now, size)
	if used >= float64(limit) {
		return 0, resetAt, false
	}
	w.curr++
	return max(int(float64(limit)-used-1), 0), resetAt, true
}

// evict drops clients idle for two full windows.
func (rl *rateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, w := range rl.windows {
		if now.Sub(w.start) >= 2*rl.cfg.Window {
			delete(rl.windows, key)
		}
	}
}

func (rl *rateLimiter) evictEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.evict(now)
		}
	}
}

// RateLimit limits each client to cfg.Max requests per sliding window and
// answers 429 with a Retry-After header once the budget is spent. Every
// response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset.
//
// Idle clients are never evicted; long-running servers should use
// RateLimitWithCleanup.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newRateLimiter(cfg).middleware()
}

// RateLimitWithCleanup is RateLimit plus a goroutine, stopped with ctx, that
// evicts idle clients every two windows.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	go rl.evictEvery(ctx, 2*cfg.Window)
	return rl.middleware()
}

func (rl *rateLimiter) middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, limit := rl.budget(r)
			now := rl.now()
			remaining, resetAt, ok := rl.take(key, limit, now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !ok {
				wait := max(resetAt.Sub(now), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
