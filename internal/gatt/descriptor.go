package gatt

import (
	"fmt"

	"github.com/srg/blesvc/internal/bledb"
)

// NotifyPolicy decides when a set on a Notifiable characteristic is handed
// to the Notifier.
type NotifyPolicy int

const (
	// NotifyDefault defers to the Runtime's policy.
	NotifyDefault NotifyPolicy = iota
	// NotifyAlways notifies once per successful set, changed or not.
	NotifyAlways
	// NotifyOnChange notifies only when the committed bytes differ from the previous value.
	NotifyOnChange
)

func (p NotifyPolicy) String() string {
	switch p {
	case NotifyAlways:
		return "always"
	case NotifyOnChange:
		return "on_change"
	default:
		return "default"
	}
}

// ParseNotifyPolicy converts a configuration string into a NotifyPolicy.
func ParseNotifyPolicy(s string) (NotifyPolicy, error) {
	switch s {
	case "", "default":
		return NotifyDefault, nil
	case "always":
		return NotifyAlways, nil
	case "on_change", "on-change":
		return NotifyOnChange, nil
	default:
		return NotifyDefault, fmt.Errorf("invalid notify policy: %s (must be always or on_change)", s)
	}
}

// Descriptor declares one characteristic of a service table.
//
// A fixed-width characteristic sets Width; a variable-length one leaves Width
// at zero and declares MinLen/MaxLen.
type Descriptor struct {
	UUID        string
	Name        string // human readable name; looked up in bledb when empty
	Description string // exposed as a Characteristic User Description by host stacks that support it
	Access      Access
	Width       int
	MinLen      int
	MaxLen      int
	Initial     []byte
	Notify      NotifyPolicy

	// Validate runs before a peer write is committed. A non-nil error rejects
	// the write and leaves the cell unchanged.
	Validate func(value []byte) error

	// OnWrite runs after a peer write has been committed, with the committed value.
	OnWrite func(value []byte) error

	// OnRead, when set, supplies the current value on every peer read. The
	// value is stored in the cell before it is returned.
	OnRead func() ([]byte, error)
}

// Fixed reports whether the characteristic has a fixed byte width.
func (d *Descriptor) Fixed() bool {
	return d.Width > 0
}

// Bounds returns the accepted [min, max] value length.
func (d *Descriptor) Bounds() (int, int) {
	if d.Fixed() {
		return d.Width, d.Width
	}
	return d.MinLen, d.MaxLen
}

// KnownName returns Name, falling back to the Bluetooth SIG name of the UUID.
func (d *Descriptor) KnownName() string {
	if d.Name != "" {
		return d.Name
	}
	return bledb.LookupCharacteristic(d.UUID)
}

func (d *Descriptor) check() error {
	if bledb.NormalizeUUID(d.UUID) == "" {
		return fmt.Errorf("characteristic UUID cannot be empty")
	}
	if d.Access == 0 {
		return fmt.Errorf("characteristic %s has no access capabilities", d.UUID)
	}
	if d.Width < 0 {
		return fmt.Errorf("characteristic %s has negative width %d", d.UUID, d.Width)
	}
	if !d.Fixed() {
		if d.MaxLen <= 0 || d.MinLen < 0 || d.MinLen > d.MaxLen {
			return fmt.Errorf("characteristic %s has invalid length bounds [%d, %d]", d.UUID, d.MinLen, d.MaxLen)
		}
	}
	if d.Initial != nil {
		lo, hi := d.Bounds()
		if len(d.Initial) < lo || len(d.Initial) > hi {
			return newError(KindWidthMismatch, Ref{}, "initial value of %s has %d bytes, want [%d, %d]", d.UUID, len(d.Initial), lo, hi)
		}
	}
	return nil
}

// ServiceTable is an ordered group of characteristic descriptors under one
// service UUID. Tables are copied on registration and never change afterwards.
type ServiceTable struct {
	UUID            string
	Name            string
	Characteristics []Descriptor
}

// NewServiceTable creates a table with the given characteristics.
func NewServiceTable(uuid, name string, chars ...Descriptor) *ServiceTable {
	return &ServiceTable{
		UUID:            uuid,
		Name:            name,
		Characteristics: chars,
	}
}

// KnownName returns Name, falling back to the Bluetooth SIG name of the UUID.
func (t *ServiceTable) KnownName() string {
	if t.Name != "" {
		return t.Name
	}
	return bledb.LookupService(t.UUID)
}

// Ref returns the Ref of the characteristic with the given UUID in this table.
func (t *ServiceTable) Ref(char string) Ref {
	return NewRef(t.UUID, char)
}

func (t *ServiceTable) clone() *ServiceTable {
	cp := &ServiceTable{
		UUID:            bledb.NormalizeUUID(t.UUID),
		Name:            t.Name,
		Characteristics: make([]Descriptor, len(t.Characteristics)),
	}
	for i, d := range t.Characteristics {
		d.UUID = bledb.NormalizeUUID(d.UUID)
		if d.Initial != nil {
			d.Initial = append([]byte(nil), d.Initial...)
		}
		cp.Characteristics[i] = d
	}
	return cp
}
