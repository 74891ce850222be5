package gatt

import (
	"fmt"
	"sync"
)

// DefaultMaxCharacteristics bounds the number of characteristics a Registry
// accepts across all services.
const DefaultMaxCharacteristics = 64

type entry struct {
	ref     Ref
	desc    Descriptor
	cell    *ValueCell
	service *ServiceTable
}

// Registry maps characteristic refs to their descriptors and value cells.
// Service tables are registered once and never removed.
type Registry struct {
	mu       sync.RWMutex
	max      int
	services []*ServiceTable
	entries  map[Ref]*entry
}

// NewRegistry creates a registry accepting at most max characteristics.
// A non-positive max selects DefaultMaxCharacteristics.
func NewRegistry(max int) *Registry {
	if max <= 0 {
		max = DefaultMaxCharacteristics
	}
	return &Registry{
		max:     max,
		entries: make(map[Ref]*entry),
	}
}

// Register adds a service table. It fails with ErrDuplicateID when the
// service is already registered or two characteristics share a UUID, and
// with ErrCapacityExceeded when the registry would exceed its maximum.
// Nothing is registered when an error is returned.
func (r *Registry) Register(table *ServiceTable) error {
	if table == nil {
		return fmt.Errorf("service table cannot be nil")
	}
	t := table.clone()
	if t.UUID == "" {
		return fmt.Errorf("service UUID cannot be empty")
	}

	seen := make(map[string]struct{}, len(t.Characteristics))
	for i := range t.Characteristics {
		d := &t.Characteristics[i]
		if err := d.check(); err != nil {
			return fmt.Errorf("service %s: %w", t.UUID, err)
		}
		if _, dup := seen[d.UUID]; dup {
			return newError(KindDuplicateID, Ref{Service: t.UUID, Char: d.UUID}, "characteristic declared twice")
		}
		seen[d.UUID] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.services {
		if s.UUID == t.UUID {
			return newError(KindDuplicateID, Ref{Service: t.UUID}, "service already registered")
		}
	}
	if len(r.entries)+len(t.Characteristics) > r.max {
		return newError(KindCapacityExceeded, Ref{Service: t.UUID}, "%d registered + %d new > %d",
			len(r.entries), len(t.Characteristics), r.max)
	}

	for i := range t.Characteristics {
		d := t.Characteristics[i]
		ref := Ref{Service: t.UUID, Char: d.UUID}
		r.entries[ref] = &entry{
			ref:     ref,
			desc:    d,
			cell:    newValueCell(&d),
			service: t,
		}
	}
	r.services = append(r.services, t)
	return nil
}

// Lookup returns the value cell backing ref.
func (r *Registry) Lookup(ref Ref) (*ValueCell, bool) {
	e, ok := r.entry(ref)
	if !ok {
		return nil, false
	}
	return e.cell, true
}

// Descriptor returns the registered descriptor for ref.
func (r *Registry) Descriptor(ref Ref) (Descriptor, bool) {
	e, ok := r.entry(ref)
	if !ok {
		return Descriptor{}, false
	}
	return e.desc, true
}

// Services returns the registered tables in registration order.
func (r *Registry) Services() []*ServiceTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ServiceTable, len(r.services))
	copy(out, r.services)
	return out
}

// Len returns the number of registered characteristics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) entry(ref Ref) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[ref]
	return e, ok
}
