// Package ratelimit provides a sliding-window call budget shared by
// concurrent callers of a single external API client.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window enforces a fixed number of calls per rolling time window.
// All callers of one client share a Window; its state is mutex-protected.
type Window struct {
	mu       sync.Mutex
	calls    []time.Time // timestamps of calls inside the current window, oldest first
	maxCalls int
	span     time.Duration
	now      func() time.Time // injectable clock for tests
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewWindow creates a limiter allowing maxCalls per span.
func NewWindow(maxCalls int, span time.Duration) *Window {
	return &Window{
		maxCalls: maxCalls,
		span:     span,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Acquire blocks until a call slot is available, then records the call.
// It returns early with the context error if ctx is cancelled while waiting.
func (w *Window) Acquire(ctx context.Context) error {
	for {
		w.mu.Lock()
		now := w.now()

		// Evict timestamps that have left the window.
		cutoff := now.Add(-w.span)
		i := 0
		for i < len(w.calls) && !w.calls[i].After(cutoff) {
			i++
		}
		w.calls = w.calls[i:]

		if len(w.calls) < w.maxCalls {
			w.calls = append(w.calls, now)
			w.mu.Unlock()
			return nil
		}

		// Budget exhausted: wait until the oldest call exits the window.
		delay := w.span - now.Sub(w.calls[0]) + 10*time.Millisecond
		w.mu.Unlock()

		if delay < 10*time.Millisecond {
			delay = 10 * time.Millisecond
		}
		if err := w.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Remaining reports how many call slots are currently free.
func (w *Window) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-w.span)
	active := 0
	for _, t := range w.calls {
		if t.After(cutoff) {
			active++
		}
	}
	return w.maxCalls - active
}

// Reset forgets all recorded calls.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
