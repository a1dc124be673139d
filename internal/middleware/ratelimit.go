package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter tracks one token bucket per client IP, evicting buckets that have
// been idle long enough to refill completely.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipBucket
	rps      rate.Limit
	burst    int
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(requestsPerSecond float64, burstSize int) *ipLimiter {
	l := &ipLimiter{
		limiters: make(map[string]*ipBucket),
		rps:      rate.Limit(requestsPerSecond),
		burst:    burstSize,
	}
	go l.cleanupLoop()
	return l
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.limiters[ip]
	if !ok {
		bucket = &ipBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[ip] = bucket
	}
	bucket.lastSeen = time.Now()
	return bucket.limiter.Allow()
}

func (l *ipLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		l.mu.Lock()
		for ip, bucket := range l.limiters {
			if bucket.lastSeen.Before(cutoff) {
				delete(l.limiters, ip)
			}
		}
		l.mu.Unlock()
	}
}

// PerIPRateLimit rejects requests exceeding the per-client token bucket with
// a 429.
func PerIPRateLimit(requestsPerSecond float64, burstSize int) func(http.Handler) http.Handler {
	limiter := newIPLimiter(requestsPerSecond, burstSize)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.allow(clientIP(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error": "Rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

// APIRateLimit is the limit applied to user-facing API endpoints.
func APIRateLimit() func(http.Handler) http.Handler {
	return PerIPRateLimit(10, 20)
}

// WebhookRateLimit is the looser limit applied to the storage webhook, which
// may burst when a batch of uploads finishes.
func WebhookRateLimit() func(http.Handler) http.Handler {
	return PerIPRateLimit(100, 200)
}
