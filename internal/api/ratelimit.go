package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/parley-ai/parley/internal/log"
)

// Idle client entries are swept during allow calls rather than by a
// background goroutine, so the throttle needs no lifecycle.
const (
	throttleSweepEvery = 5 * time.Minute
	throttleIdleAfter  = 10 * time.Minute
)

// Streaming turns hold a provider connection open for the whole
// completion, so they get a much smaller bucket than plain JSON
// requests: a few queued turns, refilling at one turn every two
// seconds.
const (
	streamRefillPerSec = 0.5
	streamBurst        = 5
)

// throttle applies two token buckets per client: a general one for the
// JSON routes and a stream one for the SSE relay endpoints.
type throttle struct {
	mu        sync.Mutex
	clients   map[string]*bucketPair
	refill    rate.Limit
	burst     int
	lastSweep time.Time
}

type bucketPair struct {
	general  *rate.Limiter
	stream   *rate.Limiter
	lastSeen time.Time
}

// newThrottle creates a throttle. refill is general tokens per second;
// burst is the general bucket size. The stream bucket is fixed.
func newThrottle(refill float64, burst int) *throttle {
	return &throttle{
		clients:   make(map[string]*bucketPair),
		refill:    rate.Limit(refill),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

// allow reports whether the client may proceed, drawing from the
// stream bucket for streaming turns and the general bucket otherwise.
func (t *throttle) allow(client string, streaming bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if now.Sub(t.lastSweep) > throttleSweepEvery {
		for k, b := range t.clients {
			if now.Sub(b.lastSeen) > throttleIdleAfter {
				delete(t.clients, k)
			}
		}
		t.lastSweep = now
	}

	b, ok := t.clients[client]
	if !ok {
		b = &bucketPair{
			general: rate.NewLimiter(t.refill, t.burst),
			stream:  rate.NewLimiter(rate.Limit(streamRefillPerSec), streamBurst),
		}
		t.clients[client] = b
	}
	b.lastSeen = now

	if streaming {
		return b.stream.Allow()
	}
	return b.general.Allow()
}

// isStreamRequest matches the SSE relay endpoints, including the
// simulated variant.
func isStreamRequest(r *http.Request) bool {
	return r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/chat/stream")
}

// throttleMiddleware rejects over-limit requests with 429 and a
// Retry-After hint. Clients are keyed by IP; auth runs per-route
// further in, so unauthenticated probes are already bounded here.
func throttleMiddleware(t *throttle, trustProxy bool, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trustProxy)
			if !t.allow(ip, isStreamRequest(r)) {
				logger.Warn("request throttled",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method,
				)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, 429, "too many requests", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP resolves the address a request should be throttled under.
// Behind a trusted proxy the X-Real-IP header wins, then the first
// X-Forwarded-For entry; both must parse as IPs or they are ignored,
// keeping attacker-chosen strings out of the client map. Without a
// proxy only RemoteAddr is consulted.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip.String()
		}
		first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
