package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// SubmitLimiter throttles session submissions per client IP with a token
// bucket. It guards the agent service from clients hammering submit after
// every failure.
type SubmitLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	rate       float64 // tokens per second
	burst      int
	maxClients int
	now        func() time.Time
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewSubmitLimiter creates a limiter allowing rate submits per second with
// the given burst.
func NewSubmitLimiter(rate float64, burst int) *SubmitLimiter {
	return &SubmitLimiter{
		buckets:    make(map[string]*bucket),
		rate:       rate,
		burst:      burst,
		maxClients: 10000,
		now:        time.Now,
	}
}

// Handler returns middleware rejecting over-limit requests with 429.
func (l *SubmitLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		retryAfter, ok := l.allow(clientIP(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many submissions, retry later"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allow takes one token from the client's bucket. When the bucket is empty
// it returns the time until the next token.
func (l *SubmitLimiter) allow(client string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[client]
	if !ok {
		if len(l.buckets) >= l.maxClients {
			return l.interval(1), false
		}
		b = &bucket{tokens: float64(l.burst)}
		l.buckets[client] = b
	} else {
		b.tokens = math.Min(float64(l.burst), b.tokens+now.Sub(b.lastSeen).Seconds()*l.rate)
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return l.interval(1 - b.tokens), false
	}
	b.tokens--
	return 0, true
}

func (l *SubmitLimiter) interval(tokens float64) time.Duration {
	return time.Duration(tokens / l.rate * float64(time.Second))
}

// StartCleanup forgets clients idle for longer than maxIdle, checking every
// interval until ctx is done.
func (l *SubmitLimiter) StartCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.cleanup(maxIdle)
			}
		}
	}()
}

func (l *SubmitLimiter) cleanup(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-maxIdle)
	for ip, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
}

// Len returns the number of tracked clients.
func (l *SubmitLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// clientIP uses RemoteAddr only; forwarding headers are not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
