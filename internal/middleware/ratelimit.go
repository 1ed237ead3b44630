package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxTrackedClients = 4096
	clientIdleAfter   = 10 * time.Minute
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter gives each client address its own token bucket.
type RateLimiter struct {
	mu         sync.Mutex
	clients    map[string]*clientBucket
	limit      rate.Limit
	burst      int
	retryAfter string
	logger     *zap.Logger
}

// NewRateLimiter allows each client requestsPerSecond with bursts of burstSize.
func NewRateLimiter(requestsPerSecond float64, burstSize int, logger *zap.Logger) *RateLimiter {
	retry := 1
	if requestsPerSecond > 0 {
		retry = int(math.Max(1, math.Ceil(1/requestsPerSecond)))
	}
	return &RateLimiter{
		clients:    make(map[string]*clientBucket),
		limit:      rate.Limit(requestsPerSecond),
		burst:      burstSize,
		retryAfter: strconv.Itoa(retry),
		logger:     logger,
	}
}

func (rl *RateLimiter) allow(client string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[client]
	if !ok {
		if len(rl.clients) >= maxTrackedClients {
			rl.pruneLocked(now)
		}
		b = &clientBucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[client] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) pruneLocked(now time.Time) {
	for k, b := range rl.clients {
		if now.Sub(b.lastSeen) > clientIdleAfter {
			delete(rl.clients, k)
		}
	}
}

// Limit rejects requests beyond the client's bucket with 429 and Retry-After.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientAddr(r)
		if rl.allow(client, time.Now()) {
			next.ServeHTTP(w, r)
			return
		}

		requestID := r.Header.Get(RequestIDHeader)
		rl.logger.Warn("Rate limit exceeded",
			zap.String("client", client),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID))
		w.Header().Set("Retry-After", rl.retryAfter)
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded", requestID)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
