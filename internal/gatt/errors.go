package gatt

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a gatt error.
type ErrorKind string

const (
	KindUnknownCharacteristic ErrorKind = "unknown characteristic"
	KindNotReadable           ErrorKind = "not readable"
	KindNotWritable           ErrorKind = "not writable"
	KindInvalidLength         ErrorKind = "invalid length"
	KindWidthMismatch         ErrorKind = "width mismatch"
	KindDuplicateID           ErrorKind = "duplicate id"
	KindCapacityExceeded      ErrorKind = "capacity exceeded"
	KindHardwareFault         ErrorKind = "hardware fault"
	KindRejected              ErrorKind = "rejected"
)

// Error is the error type returned by registry, cell and dispatcher operations.
// Two Errors match under errors.Is when their kinds are equal.
type Error struct {
	Kind ErrorKind
	Ref  Ref
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Ref != (Ref{}) {
		msg = fmt.Sprintf("%s %s", e.Ref, msg)
	}
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is allows errors.Is to compare Error values by Kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Sentinel errors, one per kind.
var (
	ErrUnknownCharacteristic = &Error{Kind: KindUnknownCharacteristic}
	ErrNotReadable           = &Error{Kind: KindNotReadable}
	ErrNotWritable           = &Error{Kind: KindNotWritable}
	ErrInvalidLength         = &Error{Kind: KindInvalidLength}
	ErrWidthMismatch         = &Error{Kind: KindWidthMismatch}
	ErrDuplicateID           = &Error{Kind: KindDuplicateID}
	ErrCapacityExceeded      = &Error{Kind: KindCapacityExceeded}
	ErrHardwareFault         = &Error{Kind: KindHardwareFault}
	ErrRejected              = &Error{Kind: KindRejected}
)

func newError(kind ErrorKind, ref Ref, format string, args ...any) *Error {
	e := &Error{Kind: kind, Ref: ref}
	if format != "" {
		e.Msg = fmt.Sprintf(format, args...)
	}
	return e
}

// HardwareFault wraps a driver error so it matches ErrHardwareFault.
// Errors that already are gatt errors are returned unchanged.
func HardwareFault(err error) error {
	if err == nil {
		return nil
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		return err
	}
	return &Error{Kind: KindHardwareFault, Err: err}
}

// Rejected builds an ErrRejected error carrying the reason a value was refused.
func Rejected(format string, args ...any) error {
	return newError(KindRejected, Ref{}, format, args...)
}

// IsKind reports whether err is a gatt Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind == kind
	}
	return false
}

// withRef returns err annotated with ref when it is a gatt Error lacking one.
func withRef(err error, ref Ref) error {
	var gerr *Error
	if errors.As(err, &gerr) && gerr.Ref == (Ref{}) {
		cp := *gerr
		cp.Ref = ref
		return &cp
	}
	return err
}
