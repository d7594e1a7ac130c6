package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a per-client token bucket. Each client gets capacity tokens that
// refill at capacity/60 per second, i.e. capacity requests per rolling minute.
// State lives for the process lifetime.
type Limiter struct {
	mu       sync.Mutex
	clients  map[string]*rate.Limiter
	capacity int
	now      func() time.Time
}

// New creates a Limiter with the given per-minute capacity (at least 1).
func New(capacity int) *Limiter {
	return NewWithClock(capacity, time.Now)
}

// NewWithClock creates a Limiter that reads time from now.
func NewWithClock(capacity int, now func() time.Time) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{
		clients:  make(map[string]*rate.Limiter),
		capacity: capacity,
		now:      now,
	}
}

// Allow refills the client's bucket for the elapsed time and consumes one
// token if available.
func (l *Limiter) Allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.clients[client]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.capacity)/60.0), l.capacity)
		l.clients[client] = lim
	}
	return lim.AllowN(l.now(), 1)
}

// Tokens reports the tokens currently available to client.
func (l *Limiter) Tokens(client string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.clients[client]
	if !ok {
		return float64(l.capacity)
	}
	return lim.TokensAt(l.now())
}

// Capacity returns the bucket size.
func (l *Limiter) Capacity() int {
	return l.capacity
}

// Count returns the number of tracked clients.
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
