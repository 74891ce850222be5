package gatt

import (
	"github.com/sirupsen/logrus"
)

// Dispatcher resolves access requests against a Runtime's registry.
type Dispatcher struct {
	rt *Runtime
}

// HandleAccess serves one read or write of the characteristic ref.
//
// Reads return a copy of the cell's current bytes, refreshed through OnRead
// when the descriptor has one. Writes are bounds-checked,
// validated, committed, passed to the write observer, and then handed to the
// notification path. A write that fails in the observer has still been
// committed.
func (d *Dispatcher) HandleAccess(ref Ref, op Operation, payload []byte) ([]byte, error) {
	e, ok := d.rt.registry.entry(ref)
	if !ok {
		return nil, newError(KindUnknownCharacteristic, ref, "")
	}

	switch op {
	case OpRead:
		if !e.desc.Access.Has(Readable) {
			return nil, newError(KindNotReadable, ref, "")
		}
		if e.desc.OnRead != nil {
			fresh, err := e.desc.OnRead()
			if err != nil {
				return nil, withRef(HardwareFault(err), ref)
			}
			if _, err := e.cell.Set(fresh); err != nil {
				return nil, withRef(err, ref)
			}
		}
		value := e.cell.Bytes()
		d.rt.logger.WithFields(logrus.Fields{
			"char":   ref.String(),
			"length": len(value),
		}).Debug("Characteristic read")
		return value, nil

	case OpWrite:
		if !e.desc.Access.Has(Writable) {
			return nil, newError(KindNotWritable, ref, "")
		}
		lo, hi := e.desc.Bounds()
		if len(payload) < lo || len(payload) > hi {
			return nil, newError(KindInvalidLength, ref, "got %d bytes, want [%d, %d]", len(payload), lo, hi)
		}
		if e.desc.Validate != nil {
			if err := e.desc.Validate(payload); err != nil {
				if IsKind(err, KindRejected) {
					return nil, withRef(err, ref)
				}
				return nil, &Error{Kind: KindRejected, Ref: ref, Err: err}
			}
		}

		value := append([]byte(nil), payload...)
		changed, err := e.cell.Set(value)
		if err != nil {
			return nil, withRef(err, ref)
		}
		d.rt.logger.WithFields(logrus.Fields{
			"char":    ref.String(),
			"length":  len(value),
			"changed": changed,
		}).Debug("Characteristic written")

		var observerErr error
		if e.desc.OnWrite != nil {
			if err := e.desc.OnWrite(value); err != nil {
				observerErr = withRef(HardwareFault(err), ref)
				d.rt.logger.WithError(err).WithField("char", ref.String()).Warn("Write observer failed")
			}
		}

		d.rt.notifyAfterSet(e, value, changed)
		return nil, observerErr

	default:
		return nil, newError(KindRejected, ref, "unsupported operation %s", op)
	}
}
