// Package ringchan provides a bounded channel that drops its oldest element
// instead of blocking the producer.
package ringchan

import "sync/atomic"

// RingChannel wraps a buffered channel with overwrite-oldest semantics.
//
// Producers use Send or TrySend and never block. Consumers range over C().
// Only one goroutine is expected to call Close, after the last Send.
type RingChannel[T any] struct {
	ch      chan T
	metrics Metrics
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element when the buffer is full.
// Reports whether an element was discarded.
func (rc *RingChannel[T]) Send(v T) bool {
	select {
	case rc.ch <- v:
		atomic.AddInt64(&rc.metrics.Written, 1)
		return false
	default:
	}

	dropped := false
	select {
	case <-rc.ch:
		atomic.AddInt64(&rc.metrics.Overwritten, 1)
		dropped = true
	default:
	}

	// a concurrent producer may have refilled the slot; never block
	select {
	case rc.ch <- v:
		atomic.AddInt64(&rc.metrics.Written, 1)
	default:
		atomic.AddInt64(&rc.metrics.Overwritten, 1)
		dropped = true
	}
	return dropped
}

// TrySend inserts v only if there is room.
func (rc *RingChannel[T]) TrySend(v T) bool {
	select {
	case rc.ch <- v:
		atomic.AddInt64(&rc.metrics.Written, 1)
		return true
	default:
		return false
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the capacity.
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the underlying channel. Sending after Close panics.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}

// Metrics returns a snapshot of the counters.
func (rc *RingChannel[T]) Metrics() Metrics {
	return Metrics{
		Written:     atomic.LoadInt64(&rc.metrics.Written),
		Overwritten: atomic.LoadInt64(&rc.metrics.Overwritten),
	}
}

// Metrics counts elements written and elements lost to overwrite.
type Metrics struct {
	Written     int64
	Overwritten int64
}
