package daemon

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter rate-limits API requests per client IP. Limits are
// refreshed from config on every lookup so rate_limit_per_min is
// hot-reloadable.
type clientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// staleClientAge is how long an idle client entry is kept before pruning.
const staleClientAge = 10 * time.Minute

func newClientLimiter() *clientLimiter {
	return &clientLimiter{clients: make(map[string]*clientEntry)}
}

// Allow reports whether the client identified by remoteAddr may proceed.
// perMin <= 0 disables limiting.
func (cl *clientLimiter) Allow(remoteAddr string, perMin int) bool {
	if perMin <= 0 {
		return true
	}

	key := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		key = host
	}

	limit := rate.Limit(float64(perMin) / 60.0)

	cl.mu.Lock()
	defer cl.mu.Unlock()

	entry, ok := cl.clients[key]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(limit, perMin)}
		cl.clients[key] = entry
		cl.pruneLocked()
	}
	entry.lastSeen = time.Now()

	// Pick up config changes without resetting accumulated tokens
	if entry.limiter.Limit() != limit {
		entry.limiter.SetLimit(limit)
		entry.limiter.SetBurst(perMin)
	}

	return entry.limiter.Allow()
}

func (cl *clientLimiter) pruneLocked() {
	cutoff := time.Now().Add(-staleClientAge)
	for key, entry := range cl.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(cl.clients, key)
		}
	}
}
