package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/54b3r/kbgraph-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained requests/second per client on the
	// upload, vector, query, graph and chat routes.
	defaultRateLimit = 10
	// defaultRateBurst is the per-client burst on those routes.
	defaultRateBurst = 20
	// limiterIdleTTL is how long an unused client bucket is kept.
	limiterIdleTTL = 5 * time.Minute
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter is a per-client token bucket. Clients are keyed by remote IP.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	rps     rate.Limit
	burst   int
	// rejected counts 429 responses by route pattern; may be nil.
	rejected *prometheus.CounterVec
	log      *slog.Logger
}

// newRateLimiter starts the limiter's eviction loop; the returned function
// stops it.
func newRateLimiter(rps float64, burst int, rejected *prometheus.CounterVec, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets:  make(map[string]*clientBucket),
		rps:      rate.Limit(rps),
		burst:    burst,
		rejected: rejected,
		log:      log,
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				rl.evict(now.Add(-limiterIdleTTL))
			}
		}
	}()
	var once sync.Once
	return rl, func() { once.Do(func() { close(done) }) }
}

func (rl *rateLimiter) bucket(client string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[client] = b
	}
	b.lastSeen = now
	return b.limiter
}

// evict drops buckets not used since cutoff.
func (rl *rateLimiter) evict(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for client, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, client)
		}
	}
}

// retryAfter consumes a token when one is available and returns 0.
// Otherwise it returns how long the client must wait for the next token
// without consuming anything.
func (rl *rateLimiter) retryAfter(client string) time.Duration {
	now := time.Now()
	res := rl.bucket(client, now).ReserveN(now, 1)
	if !res.OK() {
		return time.Second
	}
	d := res.DelayFrom(now)
	if d > 0 {
		res.CancelAt(now)
	}
	return d
}

// middleware answers 429 with a Retry-After header in whole seconds once a
// client's bucket is empty.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		wait := rl.retryAfter(client)
		if wait <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		secs := int(math.Ceil(wait.Seconds()))
		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("client", client),
			slog.String("path", r.URL.Path),
			slog.Int("retry_after_s", secs),
		)
		if rl.rejected != nil {
			pattern := r.Pattern
			if pattern == "" {
				pattern = "unmatched"
			}
			rl.rejected.WithLabelValues(pattern).Inc()
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, r, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
	})
}

// clientIP returns the host part of RemoteAddr. Forwarding headers are not
// trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
