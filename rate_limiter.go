package websock

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// RateLimiter caps the rate of inbound data frames per connection.
// A connection that exceeds its budget is closed.
type RateLimiter struct {
	clients map[uuid.UUID]*rate.Limiter
	mu      sync.RWMutex
	// Number of frames allowed per second.
	fps int
	// Number of bursts allowed.
	burst int
}

func NewRateLimiter(fps, burst int) *RateLimiter {
	return &RateLimiter{
		clients: make(map[uuid.UUID]*rate.Limiter),
		fps:     fps,
		burst:   burst,
	}
}

func (rl *RateLimiter) addClient(id uuid.UUID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.clients[id] = rate.NewLimiter(rate.Limit(rl.fps), rl.burst)
}

func (rl *RateLimiter) removeClient(id uuid.UUID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, id)
}

func (rl *RateLimiter) allow(id uuid.UUID) bool {
	rl.mu.RLock()
	l := rl.clients[id]
	rl.mu.RUnlock()
	if l == nil {
		return true
	}
	return l.Allow()
}
