package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/phanngoc/notebooklm/pkg/common"
)

// Limiter bounds the number of concurrent outbound model calls and
// staggers request admission so bursts do not trip provider rate limits.
// Admissions are at least the stagger interval apart; concurrency is
// capped by a counting semaphore.
type Limiter struct {
	sem     *semaphore.Weighted
	stagger time.Duration

	mu       sync.Mutex
	lastSlot time.Time
}

// New creates a Limiter admitting at most limit concurrent calls, with
// at least stagger between successive admissions. limit must be
// positive; a zero stagger disables pacing.
func New(limit int64, stagger time.Duration) (*Limiter, error) {
	if limit <= 0 {
		return nil, common.NewConfigurationError("limiter: concurrency limit must be positive, got %d", limit)
	}
	if stagger < 0 {
		return nil, common.NewConfigurationError("limiter: stagger must not be negative")
	}
	return &Limiter{
		sem:     semaphore.NewWeighted(limit),
		stagger: stagger,
	}, nil
}

// Acquire blocks until a slot is free and the stagger interval since the
// previous admission has elapsed, or ctx is done. Callers must Release
// the slot.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	if l.stagger > 0 {
		wait := l.reserveSlot()
		if wait > 0 {
			select {
			case <-ctx.Done():
				l.sem.Release(1)
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return nil
}

// reserveSlot claims the next admission time and returns how long the
// caller has to wait for it.
func (l *Limiter) reserveSlot() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	next := l.lastSlot.Add(l.stagger)
	if next.Before(now) {
		next = now
	}
	l.lastSlot = next
	return next.Sub(now)
}

// Release frees a slot acquired with Acquire.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// Do runs fn inside an acquired slot.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn(ctx)
}
