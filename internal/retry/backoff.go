package retry

import (
	"sync"
	"time"
)

// BackoffTracker holds a per-source exponential backoff delay.
// A key with no recorded failure has zero delay. Each failure moves the
// delay to Initial (from zero) or doubles it, capped at Max. A success
// clears the key.
type BackoffTracker struct {
	mu      sync.Mutex
	initial time.Duration
	max     time.Duration
	delays  map[int64]time.Duration
}

// NewBackoffTracker creates a tracker with the given bounds
func NewBackoffTracker(initial, max time.Duration) *BackoffTracker {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	return &BackoffTracker{
		initial: initial,
		max:     max,
		delays:  make(map[int64]time.Duration),
	}
}

// Delay returns the wait to apply before the next attempt for key
func (b *BackoffTracker) Delay(key int64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delays[key]
}

// RecordFailure advances the delay for key and returns the new value
func (b *BackoffTracker) RecordFailure(key int64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.initial
	if current := b.delays[key]; current > 0 {
		next = calculateDelay(&RetryConfig{InitialDelay: current, MaxDelay: b.max, Multiplier: 2.0}, 2)
	}
	b.delays[key] = next
	return next
}

// RecordSuccess clears the delay for key
func (b *BackoffTracker) RecordSuccess(key int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.delays, key)
}

// Snapshot returns a copy of every non-zero delay
func (b *BackoffTracker) Snapshot() map[int64]time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[int64]time.Duration, len(b.delays))
	for k, v := range b.delays {
		out[k] = v
	}
	return out
}
