package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	ips    sync.Map
	config LimiterConfig
}

type LimiterConfig struct {
	RPS   rate.Limit
	Burst int
}

// NewIPRateLimiter builds a limiter from a window and a request budget, the
// shape THROTTLE_TTL / THROTTLE_LIMIT arrive in.
func NewIPRateLimiter(window time.Duration, limit int) *IPRateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if limit <= 0 {
		limit = 100
	}
	i := &IPRateLimiter{
		config: LimiterConfig{
			RPS:   rate.Limit(float64(limit) / window.Seconds()),
			Burst: limit,
		},
	}
	go i.cleanupLoop()
	return i
}

func (i *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	limiter, exists := i.ips.Load(ip)
	if !exists {
		newLimiter := rate.NewLimiter(i.config.RPS, i.config.Burst)
		limiter, _ = i.ips.LoadOrStore(ip, newLimiter)
	}
	return limiter.(*rate.Limiter)
}

// cleanupLoop wipes the map periodically so idle IPs do not accumulate.
func (i *IPRateLimiter) cleanupLoop() {
	for {
		time.Sleep(10 * time.Minute)
		i.ips.Range(func(key, value any) bool {
			i.ips.Delete(key)
			return true
		})
	}
}

// Middleware enforces the per-IP limit; RealIP runs upstream so RemoteAddr
// already holds the client address.
func (i *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if !i.getLimiter(ip).Allow() {
			slog.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path)
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
