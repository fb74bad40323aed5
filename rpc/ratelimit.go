package rpc

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit configures the per-client token bucket. A non-positive rate
// disables limiting.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
	// TrustForwardedFor keys clients by the first X-Forwarded-For hop. Enable
	// only when every request arrives through a proxy that sets the header.
	TrustForwardedFor bool
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	cfg      RateLimit
	mu       sync.Mutex
	visitors map[string]*rateEntry
	clockNow func() time.Time
	idleTTL  time.Duration
}

func newRateLimiter(cfg RateLimit) *rateLimiter {
	return &rateLimiter{
		cfg:      cfg,
		visitors: make(map[string]*rateEntry),
		clockNow: time.Now,
		idleTTL:  10 * time.Minute,
	}
}

func (r *rateLimiter) allow(source string) bool {
	if r == nil || r.cfg.RequestsPerSecond <= 0 {
		return true
	}
	if source == "" {
		source = "unknown"
	}
	now := r.clockNow()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, entry := range r.visitors {
		if now.Sub(entry.lastSeen) > r.idleTTL {
			delete(r.visitors, id)
		}
	}
	entry, ok := r.visitors[source]
	if !ok {
		burst := r.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &rateEntry{limiter: rate.NewLimiter(rate.Limit(r.cfg.RequestsPerSecond), burst)}
		r.visitors[source] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// source identifies the client a request is charged to.
func (r *rateLimiter) source(req *http.Request) string {
	if r != nil && r.cfg.TrustForwardedFor {
		first, _, _ := strings.Cut(req.Header.Get("X-Forwarded-For"), ",")
		if candidate := strings.TrimSpace(first); candidate != "" {
			return candidate
		}
	}
	return remoteHost(req)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
