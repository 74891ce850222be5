package host

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesvc/internal/bledb"
	"github.com/srg/blesvc/internal/gatt"
)

// DefaultTraceSize is the number of notifications a SimStack retains.
const DefaultTraceSize = 256

// Notification is one value handed to a SimStack for delivery.
type Notification struct {
	Ref   gatt.Ref
	Value []byte
}

// SimStack is an in-process Stack. Peers are simulated by calling Access;
// notifications are recorded in an overlapped ring, oldest first out.
type SimStack struct {
	logger *logrus.Logger
	trace  mpmc.RichOverlappedRingBuffer[Notification]

	mu          sync.RWMutex
	handlers    map[string]AccessHandler
	tables      []*gatt.ServiceTable
	advertising bool
	advertised  string
	adverts     int
	closed      bool
}

// NewSimStack creates a SimStack that keeps up to traceSize notifications.
// A non-positive traceSize selects DefaultTraceSize.
func NewSimStack(traceSize int, logger *logrus.Logger) *SimStack {
	if traceSize <= 0 {
		traceSize = DefaultTraceSize
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &SimStack{
		logger:   logger,
		trace:    mpmc.NewOverlappedRingBuffer[Notification](uint32(traceSize)),
		handlers: make(map[string]AccessHandler),
	}
}

// RegisterService implements Stack.
func (s *SimStack) RegisterService(table *gatt.ServiceTable, h AccessHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sim stack closed")
	}
	uuid := bledb.NormalizeUUID(table.UUID)
	if _, ok := s.handlers[uuid]; ok {
		return fmt.Errorf("service %s already registered with stack", uuid)
	}
	s.handlers[uuid] = h
	s.tables = append(s.tables, table)
	return nil
}

// Access simulates a peer access to ref.
func (s *SimStack) Access(ref gatt.Ref, op gatt.Operation, payload []byte) ([]byte, error) {
	s.mu.RLock()
	h, ok := s.handlers[ref.Service]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", gatt.ErrUnknownCharacteristic, ref)
	}
	return h.HandleAccess(ref, op, payload)
}

// Read simulates a peer read.
func (s *SimStack) Read(ref gatt.Ref) ([]byte, error) {
	return s.Access(ref, gatt.OpRead, nil)
}

// Write simulates a peer write.
func (s *SimStack) Write(ref gatt.Ref, payload []byte) error {
	_, err := s.Access(ref, gatt.OpWrite, payload)
	return err
}

// NotifyChanged implements gatt.Notifier. It never blocks; when the trace is
// full the oldest notification is overwritten.
func (s *SimStack) NotifyChanged(ref gatt.Ref, value []byte) {
	n := Notification{Ref: ref, Value: append([]byte(nil), value...)}
	if overwrites, err := s.trace.EnqueueM(n); err != nil {
		s.logger.WithError(err).WithField("char", ref.String()).Warn("Failed to record notification")
	} else if overwrites > 0 {
		s.logger.WithField("overwrites", overwrites).Debug("Notification trace overwrote oldest entries")
	}
}

// Drain returns and removes every recorded notification, oldest first.
func (s *SimStack) Drain() []Notification {
	var out []Notification
	for !s.trace.IsEmpty() {
		n, err := s.trace.Dequeue()
		if err != nil {
			break
		}
		out = append(out, n)
	}
	return out
}

// Advertise implements Stack. It blocks until ctx is done.
func (s *SimStack) Advertise(ctx context.Context, name string) error {
	s.mu.Lock()
	s.advertising = true
	s.advertised = name
	s.adverts++
	uuids := ServiceUUIDs(s.tables)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"name":     name,
		"services": uuids,
	}).Info("Advertising (simulated)")

	<-ctx.Done()

	s.mu.Lock()
	s.advertising = false
	s.mu.Unlock()
	return ctx.Err()
}

// Advertising reports whether Advertise is running and the name it uses.
func (s *SimStack) Advertising() (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.advertising, s.advertised
}

// Advertisements returns how many times Advertise has been called.
func (s *SimStack) Advertisements() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adverts
}

// Services returns the tables registered with the stack.
func (s *SimStack) Services() []*gatt.ServiceTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*gatt.ServiceTable(nil), s.tables...)
}

// Close implements Stack.
func (s *SimStack) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
