// Package pacer spaces out requests to rate-limited HTTP APIs.
package pacer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBackoff applies when a 429 carries no Retry-After hint.
const DefaultBackoff = 60 * time.Second

// Pacer is a token bucket plus a server-requested pause.
type Pacer struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
}

// Every allows one request per interval with the given burst.
func Every(interval time.Duration, burst int) *Pacer {
	if burst < 1 {
		burst = 1
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), burst)}
}

// PerSecond allows rps requests per second with the given burst.
func PerSecond(rps float64, burst int) *Pacer {
	if burst < 1 {
		burst = 1
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until the pause (if any) has passed and a token is available.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	retryAt := p.retryAt
	p.mu.Unlock()

	if d := time.Until(retryAt); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return p.limiter.Wait(ctx)
}

// Pause holds every request for d (DefaultBackoff when d <= 0).
func (p *Pacer) Pause(d time.Duration) {
	if d <= 0 {
		d = DefaultBackoff
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if at := time.Now().Add(d); at.After(p.retryAt) {
		p.retryAt = at
	}
}

// Allow reports whether a request may go out right now.
func (p *Pacer) Allow() bool {
	p.mu.Lock()
	retryAt := p.retryAt
	p.mu.Unlock()
	if time.Now().Before(retryAt) {
		return false
	}
	return p.limiter.Allow()
}
