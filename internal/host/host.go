// Package host connects a gatt.Runtime to a BLE host stack.
//
// A Stack publishes registered service tables to peers, routes peer reads
// and writes to an AccessHandler, and delivers change notifications to
// subscribed peers. Backends live in subpackages (goble, tinygo); SimStack
// is an in-process stack for tests and dry runs.
package host

import (
	"context"
	"errors"

	"github.com/go-ble/ble"
	"github.com/srg/blesvc/internal/bledb"
	"github.com/srg/blesvc/internal/gatt"
)

// AccessHandler serves peer accesses. *gatt.Runtime implements it.
type AccessHandler interface {
	HandleAccess(ref gatt.Ref, op gatt.Operation, payload []byte) ([]byte, error)
}

// Stack is a BLE host stack in the peripheral role.
type Stack interface {
	gatt.Notifier

	// RegisterService publishes table and routes its accesses to h.
	RegisterService(table *gatt.ServiceTable, h AccessHandler) error

	// Advertise advertises name and the registered service UUIDs until
	// ctx is done.
	Advertise(ctx context.Context, name string) error

	Close() error
}

// ErrResponseTooLarge reports a read value that does not fit the transport's
// response buffer.
var ErrResponseTooLarge = errors.New("response exceeds capacity")

// ErrInvalidOffset reports a read offset past the end of the value.
var ErrInvalidOffset = errors.New("invalid read offset")

// Status maps an access error to the ATT status reported to the peer.
// A nil error maps to ble.ErrSuccess.
func Status(err error) ble.ATTError {
	switch {
	case err == nil:
		return ble.ErrSuccess
	case errors.Is(err, gatt.ErrUnknownCharacteristic):
		return ble.ErrAttrNotFound
	case errors.Is(err, gatt.ErrNotReadable):
		return ble.ErrReadNotPerm
	case errors.Is(err, gatt.ErrNotWritable):
		return ble.ErrWriteNotPerm
	case errors.Is(err, gatt.ErrInvalidLength):
		return ble.ErrInvalAttrValueLen
	case errors.Is(err, ErrResponseTooLarge):
		return ble.ErrInsuffResources
	case errors.Is(err, ErrInvalidOffset):
		return ble.ErrInvalidOffset
	default:
		return ble.ErrUnlikely
	}
}

// ServiceUUIDs returns the UUIDs of tables in order.
func ServiceUUIDs(tables []*gatt.ServiceTable) []string {
	uuids := make([]string, 0, len(tables))
	for _, t := range tables {
		uuids = append(uuids, t.UUID)
	}
	return bledb.NormalizeUUIDs(uuids)
}
