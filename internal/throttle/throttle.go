// Package throttle bounds how many BEP parses run at once. A single parse of
// a large build can hold several hundred MB, so the bound is a memory guard
// rather than a CPU one.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent is the permit count used when none is configured.
const DefaultMaxConcurrent = 5

// ErrAcquire is returned when waiting for a permit is interrupted.
var ErrAcquire = errors.New("failed to acquire a parser permit")

// Throttle is a counting permit pool. A nil or unbounded Throttle never
// blocks.
type Throttle struct {
	sem      *semaphore.Weighted
	capacity int
	inUse    atomic.Int64
}

// New returns a Throttle with capacity permits. capacity <= 0 disables
// throttling.
func New(capacity int) *Throttle {
	t := &Throttle{capacity: capacity}
	if capacity > 0 {
		t.sem = semaphore.NewWeighted(int64(capacity))
	}
	return t
}

// FromConfig builds a Throttle from the two pooling settings.
func FromConfig(poolingEnabled bool, maxConcurrent int) *Throttle {
	if !poolingEnabled {
		return New(0)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return New(maxConcurrent)
}

// Capacity returns the permit count, or 0 when unbounded.
func (t *Throttle) Capacity() int {
	if t == nil || t.sem == nil {
		return 0
	}
	return t.capacity
}

// InUse returns the number of permits currently held.
func (t *Throttle) InUse() int {
	if t == nil {
		return 0
	}
	return int(t.inUse.Load())
}

// Acquire blocks until a permit is free or ctx is done. Every successful
// Acquire must be paired with exactly one Release.
func (t *Throttle) Acquire(ctx context.Context) error {
	if t == nil || t.sem == nil {
		return nil
	}
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrAcquire, err)
	}
	t.inUse.Add(1)
	return nil
}

// Release returns a permit taken by Acquire.
func (t *Throttle) Release() {
	if t == nil || t.sem == nil {
		return
	}
	t.inUse.Add(-1)
	t.sem.Release(1)
}

// Do runs fn while holding a permit. The permit is released when fn
// returns or panics.
func (t *Throttle) Do(ctx context.Context, fn func() error) error {
	if err := t.Acquire(ctx); err != nil {
		return err
	}
	defer t.Release()
	return fn()
}
