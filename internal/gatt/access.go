package gatt

import (
	"strings"

	"github.com/srg/blesvc/internal/bledb"
)

// Access is the capability set of a characteristic.
type Access uint8

const (
	Readable Access = 1 << iota
	Writable
	Notifiable
)

// Has reports whether every capability in f is present.
func (a Access) Has(f Access) bool {
	return f != 0 && a&f == f
}

// String renders the capability set the way properties are printed elsewhere, e.g. "read,write,notify".
func (a Access) String() string {
	parts := make([]string, 0, 3)
	if a.Has(Readable) {
		parts = append(parts, "read")
	}
	if a.Has(Writable) {
		parts = append(parts, "write")
	}
	if a.Has(Notifiable) {
		parts = append(parts, "notify")
	}
	return strings.Join(parts, ",")
}

// Operation is the kind of access a peer performs on a characteristic.
type Operation int

const (
	OpRead Operation = iota
	OpWrite
)

func (o Operation) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Ref identifies a characteristic inside a Runtime: the owning service UUID
// and the characteristic UUID, both normalized.
type Ref struct {
	Service string
	Char    string
}

// NewRef builds a Ref from UUIDs in any of the accepted notations
// ("180f", "0x180F", "0000180f-0000-1000-8000-00805f9b34fb").
func NewRef(service, char string) Ref {
	return Ref{
		Service: bledb.NormalizeUUID(service),
		Char:    bledb.NormalizeUUID(char),
	}
}

func (r Ref) String() string {
	return r.Service + "/" + r.Char
}
