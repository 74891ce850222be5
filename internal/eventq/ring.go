// Package eventq is the application event queue: a bounded, overwrite-oldest
// buffer drained by one dispatcher task, so producers such as sampling loops
// never block on slow handlers.
package eventq

import "sync/atomic"

// Ring is a bounded channel-like buffer with overwrite-oldest semantics.
//
// Writers use Send and never block; if the buffer is full the oldest element
// is discarded. The reader drains C().
type Ring[T any] struct {
	ch      chan T
	metrics Metrics
}

// NewRing creates a Ring with the given capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("eventq: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel. Reads through C are not
// counted in Metrics.Processed.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Send inserts v, discarding the oldest element if the buffer is full.
// It reports whether an element was dropped.
func (r *Ring[T]) Send(v T) bool {
	dropped := false
	for {
		select {
		case r.ch <- v:
			atomic.AddInt64(&r.metrics.Written, 1)
			return dropped
		default:
		}
		select {
		case <-r.ch:
			atomic.AddInt64(&r.metrics.Overwritten, 1)
			dropped = true
		default:
		}
	}
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	return len(r.ch)
}

// Cap returns the buffer capacity.
func (r *Ring[T]) Cap() int {
	return cap(r.ch)
}

// Metrics returns a snapshot of the counters.
func (r *Ring[T]) Metrics() Metrics {
	return Metrics{
		Processed:   atomic.LoadInt64(&r.metrics.Processed),
		Written:     atomic.LoadInt64(&r.metrics.Written),
		Overwritten: atomic.LoadInt64(&r.metrics.Overwritten),
	}
}

func (r *Ring[T]) markProcessed() {
	atomic.AddInt64(&r.metrics.Processed, 1)
}

// Metrics counts ring activity. All fields are updated atomically.
type Metrics struct {
	Processed   int64
	Written     int64
	Overwritten int64
}
