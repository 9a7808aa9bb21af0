package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/taskorch/engine/internal/logger"
)

// RateLimiter implements a token bucket rate limiter.
type RateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter creates a rate limiter allowing rps requests per second.
func NewRateLimiter(rps int) *RateLimiter {
	if rps <= 0 {
		rps = 1000
	}
	return &RateLimiter{
		tokens:     float64(rps),
		maxTokens:  float64(rps),
		refillRate: float64(rps),
		lastRefill: time.Now(),
	}
}

// Allow reports whether a request may proceed under the current bucket.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now

	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// RateLimit returns a middleware enforcing one shared rate limit across
// every caller.
func RateLimit(rps int) func(next http.Handler) http.Handler {
	limiter := NewRateLimiter(rps)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				rejectTooManyRequests(w, r.Method, r.URL.Path, r.RemoteAddr)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientRateLimiter maintains one RateLimiter per client identifier.
type ClientRateLimiter struct {
	limiters map[string]*RateLimiter
	rps      int
	mu       sync.RWMutex
	cleanup  time.Duration
}

// NewClientRateLimiter creates a per-client rate limiter and starts its
// periodic bucket-reset loop.
func NewClientRateLimiter(rps int) *ClientRateLimiter {
	crl := &ClientRateLimiter{
		limiters: make(map[string]*RateLimiter),
		rps:      rps,
		cleanup:  5 * time.Minute,
	}
	go crl.cleanupLoop()
	return crl
}

func (crl *ClientRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(crl.cleanup)
	defer ticker.Stop()
	for range ticker.C {
		crl.mu.Lock()
		crl.limiters = make(map[string]*RateLimiter)
		crl.mu.Unlock()
	}
}

// GetLimiter returns the rate limiter for one client, creating it on first use.
func (crl *ClientRateLimiter) GetLimiter(clientID string) *RateLimiter {
	crl.mu.RLock()
	limiter, exists := crl.limiters[clientID]
	crl.mu.RUnlock()
	if exists {
		return limiter
	}

	crl.mu.Lock()
	defer crl.mu.Unlock()
	if limiter, exists = crl.limiters[clientID]; exists {
		return limiter
	}
	limiter = NewRateLimiter(crl.rps)
	crl.limiters[clientID] = limiter
	return limiter
}

// ClientRateLimit returns a middleware enforcing per-client rate limiting,
// keyed on X-Forwarded-For falling back to RemoteAddr.
func ClientRateLimit(rps int) func(next http.Handler) http.Handler {
	limiter := NewClientRateLimiter(rps)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := r.Header.Get("X-Forwarded-For")
			if clientID == "" {
				clientID = r.RemoteAddr
			}
			if !limiter.GetLimiter(clientID).Allow() {
				rejectTooManyRequests(w, r.Method, r.URL.Path, clientID)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rejectTooManyRequests(w http.ResponseWriter, method, path, client string) {
	logger.Warn().Str("method", method).Str("path", path).Str("client", client).Msg("rate limit exceeded")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"Too Many Requests","message":"rate limit exceeded"}`))
}
