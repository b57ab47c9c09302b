package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// RateLimiter is a per-client token bucket. Each client may burst up to
// the bucket size; tokens refill continuously at size per period.
type RateLimiter struct {
	size    float64
	perSec  float64
	idle    time.Duration
	clients *xsync.MapOf[string, *tokenBucket]
	pruned  atomic.Int64 // unix nanos of the last idle sweep
	now     func() time.Time
}

type tokenBucket struct {
	mu     sync.Mutex
	tokens float64
	seen   time.Time
}

// NewRateLimiter allows size requests per period per client, in bursts of
// at most size.
func NewRateLimiter(size int, period time.Duration) *RateLimiter {
	if size < 1 {
		size = 1
	}
	if period <= 0 {
		period = time.Minute
	}
	rl := &RateLimiter{
		size:    float64(size),
		perSec:  float64(size) / period.Seconds(),
		idle:    period,
		clients: xsync.NewMapOf[string, *tokenBucket](),
		now:     time.Now,
	}
	rl.pruned.Store(rl.now().UnixNano())
	return rl
}

// Take spends one token for key. When the bucket is empty it reports how
// long until the next token arrives.
func (rl *RateLimiter) Take(key string) (bool, time.Duration) {
	now := rl.now()
	rl.prune(now)

	b, _ := rl.clients.LoadOrCompute(key, func() *tokenBucket {
		return &tokenBucket{tokens: rl.size, seen: now}
	})
	b.mu.Lock()
	defer b.mu.Unlock()

	if elapsed := now.Sub(b.seen).Seconds(); elapsed > 0 {
		b.tokens = math.Min(rl.size, b.tokens+elapsed*rl.perSec)
	}
	b.seen = now
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / rl.perSec * float64(time.Second))
	return false, wait
}

// prune forgets clients whose buckets have been full and untouched for a
// whole period. At most one sweep runs per period.
func (rl *RateLimiter) prune(now time.Time) {
	last := rl.pruned.Load()
	if now.UnixNano()-last < int64(rl.idle) || !rl.pruned.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	rl.clients.Range(func(key string, b *tokenBucket) bool {
		b.mu.Lock()
		stale := now.Sub(b.seen) > rl.idle
		b.mu.Unlock()
		if stale {
			rl.clients.Delete(key)
		}
		return true
	})
}

// Clients reports how many client buckets are tracked.
func (rl *RateLimiter) Clients() int { return rl.clients.Size() }

// clientIP prefers the first X-Forwarded-For hop, then the peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware answers 429 with a Retry-After header once a client
// runs out of tokens.
func RateLimitMiddleware(rl *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, wait := rl.Take(clientIP(r))
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
