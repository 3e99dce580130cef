// Package ratelimit spaces outbound HTTP requests per remote host so a
// synchronization sweep never hammers a single publisher.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type PerHost struct {
	interval time.Duration
	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewPerHost(interval time.Duration) *PerHost {
	return &PerHost{
		interval: interval,
		lastSent: make(map[string]time.Time),
	}
}

// Wait blocks until the host may be contacted again, then claims the slot.
// The first request to a host passes through immediately.
func (l *PerHost) Wait(ctx context.Context, host string) error {
	l.mu.Lock()
	last, exists := l.lastSent[host]
	l.mu.Unlock()

	if exists {
		if delay := l.delay(last); delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	l.mu.Lock()
	l.lastSent[host] = time.Now()
	l.mu.Unlock()

	return nil
}

func (l *PerHost) delay(lastSent time.Time) time.Duration {
	return max(l.interval-time.Since(lastSent), 0)
}
