package storage

import (
	"sync"
	"time"

	"airc-chat/go-backend/internal/domains/keyauth/ports"
)

// RateLimitStore keeps fixed-window counters keyed by an opaque string
// (operation:handle or operation:handle:origin). Increment-and-compare
// happens under one lock acquisition; there is no read-then-write gap
// for bursts to slip through.
type RateLimitStore struct {
	mu      sync.Mutex
	windows map[string]rateWindow
	hits    uint64
}

type rateWindow struct {
	start time.Time
	count int
}

func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{windows: make(map[string]rateWindow)}
}

// Increment bumps the counter for key inside its current fixed window
// and reports whether the call is within limit, how much budget
// remains, and when the window resets.
func (s *RateLimitStore) Increment(key string, limit int, window time.Duration, now time.Time) (ports.RateDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hits++
	if s.hits%512 == 0 {
		for k, w := range s.windows {
			if now.Sub(w.start) > 2*window {
				delete(s.windows, k)
			}
		}
	}

	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) >= window {
		w = rateWindow{start: now}
	}
	w.count++
	s.windows[key] = w

	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return ports.RateDecision{
		Allowed:   w.count <= limit,
		Remaining: remaining,
		ResetAt:   w.start.Add(window),
	}, nil
}
