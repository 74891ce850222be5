package gatt

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Notifier receives change notifications for Notifiable characteristics.
// NotifyChanged must not block; a host stack with no subscribed peer may
// drop the notification silently.
type Notifier interface {
	NotifyChanged(ref Ref, value []byte)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ref Ref, value []byte)

// NotifyChanged calls f(ref, value).
func (f NotifierFunc) NotifyChanged(ref Ref, value []byte) {
	f(ref, value)
}

// RuntimeOptions configures a Runtime.
type RuntimeOptions struct {
	MaxCharacteristics int
	Policy             NotifyPolicy
	Notifier           Notifier
	Logger             *logrus.Logger
}

// Runtime owns every registered service table, its value cells, and the
// notification hand-off. Each Runtime is independent; nothing is global.
type Runtime struct {
	registry   *Registry
	dispatcher *Dispatcher
	policy     NotifyPolicy
	logger     *logrus.Logger

	mu       sync.RWMutex
	notifier Notifier
}

// NewRuntime creates a Runtime. A nil opts selects defaults: capacity
// DefaultMaxCharacteristics, NotifyAlways, no notifier, discarded logs.
func NewRuntime(opts *RuntimeOptions) *Runtime {
	if opts == nil {
		opts = &RuntimeOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	policy := opts.Policy
	if policy == NotifyDefault {
		policy = NotifyAlways
	}

	rt := &Runtime{
		registry: NewRegistry(opts.MaxCharacteristics),
		policy:   policy,
		logger:   logger,
		notifier: opts.Notifier,
	}
	rt.dispatcher = &Dispatcher{rt: rt}
	return rt
}

// SetNotifier replaces the notifier used for subsequent notifications.
func (rt *Runtime) SetNotifier(n Notifier) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.notifier = n
}

// Policy returns the runtime-wide notification policy.
func (rt *Runtime) Policy() NotifyPolicy {
	return rt.policy
}

// Register adds a service table to the registry.
func (rt *Runtime) Register(table *ServiceTable) error {
	if err := rt.registry.Register(table); err != nil {
		return err
	}
	rt.logger.WithFields(logrus.Fields{
		"service":         table.UUID,
		"known_name":      table.KnownName(),
		"characteristics": len(table.Characteristics),
	}).Info("Service registered")
	return nil
}

// Lookup returns the value cell backing ref.
func (rt *Runtime) Lookup(ref Ref) (*ValueCell, bool) {
	return rt.registry.Lookup(ref)
}

// Descriptor returns the registered descriptor for ref.
func (rt *Runtime) Descriptor(ref Ref) (Descriptor, bool) {
	return rt.registry.Descriptor(ref)
}

// Services returns the registered tables in registration order.
func (rt *Runtime) Services() []*ServiceTable {
	return rt.registry.Services()
}

// HandleAccess serves a peer access; see Dispatcher.HandleAccess.
func (rt *Runtime) HandleAccess(ref Ref, op Operation, payload []byte) ([]byte, error) {
	return rt.dispatcher.HandleAccess(ref, op, payload)
}

// Get returns a copy of the current value of ref.
func (rt *Runtime) Get(ref Ref) ([]byte, error) {
	cell, ok := rt.registry.Lookup(ref)
	if !ok {
		return nil, newError(KindUnknownCharacteristic, ref, "")
	}
	return cell.Bytes(), nil
}

// Set stores b in the cell of ref and, when the characteristic is
// Notifiable, hands the value to the notifier according to the policy.
// It bypasses access policy: sampling tasks update read-only characteristics.
func (rt *Runtime) Set(ref Ref, b []byte) error {
	e, ok := rt.registry.entry(ref)
	if !ok {
		return newError(KindUnknownCharacteristic, ref, "")
	}
	value := append([]byte(nil), b...)
	changed, err := e.cell.Set(value)
	if err != nil {
		return withRef(err, ref)
	}
	rt.notifyAfterSet(e, value, changed)
	return nil
}

func (rt *Runtime) notifyAfterSet(e *entry, value []byte, changed bool) {
	if !e.desc.Access.Has(Notifiable) {
		return
	}
	policy := e.desc.Notify
	if policy == NotifyDefault {
		policy = rt.policy
	}
	if policy == NotifyOnChange && !changed {
		return
	}

	rt.mu.RLock()
	n := rt.notifier
	rt.mu.RUnlock()
	if n == nil {
		return
	}
	n.NotifyChanged(e.ref, value)
}
