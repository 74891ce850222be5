package eventq

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the queue size used when none is given.
const DefaultCapacity = 16

// Handler consumes events of type T.
type Handler[T any] func(T)

// Queue delivers events to a single registered handler from its own task.
// Events posted while no handler is registered are discarded, matching a
// one-shot event whose callback slot is empty.
type Queue[T any] struct {
	name   string
	ring   *Ring[T]
	logger *logrus.Logger

	mu      sync.RWMutex
	handler Handler[T]
}

// New creates a queue. A non-positive capacity selects DefaultCapacity.
func New[T any](name string, capacity int, logger *logrus.Logger) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Queue[T]{
		name:   name,
		ring:   NewRing[T](capacity),
		logger: logger,
	}
}

// SetHandler registers h; a nil h disables delivery.
func (q *Queue[T]) SetHandler(h Handler[T]) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = h
}

// HasHandler reports whether a handler is registered.
func (q *Queue[T]) HasHandler() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.handler != nil
}

// Post enqueues ev if a handler is registered. It never blocks and reports
// whether the event was accepted.
func (q *Queue[T]) Post(ev T) bool {
	if !q.HasHandler() {
		return false
	}
	if q.ring.Send(ev) {
		q.logger.WithField("queue", q.name).Warn("Event queue full, dropped oldest event")
	}
	return true
}

// Run delivers events until ctx is canceled.
func (q *Queue[T]) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-q.ring.C():
			q.ring.markProcessed()
			q.deliver(ev)
		}
	}
}

func (q *Queue[T]) deliver(ev T) {
	q.mu.RLock()
	h := q.handler
	q.mu.RUnlock()
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.logger.WithField("queue", q.name).Error(fmt.Sprintf("event handler panicked: %v", r))
		}
	}()
	h(ev)
}

// Metrics returns the ring counters.
func (q *Queue[T]) Metrics() Metrics {
	return q.ring.Metrics()
}
