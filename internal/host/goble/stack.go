// Package goble is the go-ble host stack backend.
package goble

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesvc/internal/gatt"
	"github.com/srg/blesvc/internal/host"
)

// ----------------------------
// Configuration Constants
// ----------------------------

const (
	// DefaultSubscriberBuffer is the number of pending notifications kept per
	// subscriber before the oldest is dropped.
	DefaultSubscriberBuffer = 8

	// userDescriptionUUID is the Characteristic User Description descriptor.
	userDescriptionUUID = 0x2901
)

// Device is the subset of ble.Device the stack needs.
type Device interface {
	AddService(svc *ble.Service) error
	AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error
	Stop() error
}

// Options configures a Stack.
type Options struct {
	// LatestPeerOnly delivers notifications only to the most recently
	// subscribed peer of each characteristic.
	LatestPeerOnly bool

	SubscriberBuffer int
	Logger           *logrus.Logger
}

// ----------------------------
// Stack
// ----------------------------

// Stack publishes gatt service tables on a go-ble device.
type Stack struct {
	dev    Device
	opts   Options
	logger *logrus.Logger

	mu       sync.Mutex
	services []ble.UUID
	closed   bool

	// subscribers maps subscription key to its subscriber; NotifyChanged
	// iterates it without taking a lock.
	subscribers *hashmap.Map[string, *subscriber]
	seq         atomic.Uint64
}

// New creates a Stack on dev.
func New(dev Device, opts *Options) *Stack {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
		o.Logger.SetOutput(io.Discard)
	}
	return &Stack{
		dev:         dev,
		opts:        o,
		logger:      o.Logger,
		subscribers: hashmap.New[string, *subscriber](),
	}
}

// Open creates a Stack on the platform default device returned by DeviceFactory.
func Open(opts *Options) (*Stack, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE device: %w", err)
	}
	return New(dev, opts), nil
}

// RegisterService implements host.Stack.
func (s *Stack) RegisterService(table *gatt.ServiceTable, h host.AccessHandler) error {
	svcUUID, err := ble.Parse(table.UUID)
	if err != nil {
		return fmt.Errorf("invalid service UUID %q: %w", table.UUID, err)
	}

	svc := ble.NewService(svcUUID)
	for i := range table.Characteristics {
		d := table.Characteristics[i]
		charUUID, err := ble.Parse(d.UUID)
		if err != nil {
			return fmt.Errorf("invalid characteristic UUID %q: %w", d.UUID, err)
		}
		ref := table.Ref(d.UUID)
		c := svc.NewCharacteristic(charUUID)

		if d.Access.Has(gatt.Readable) {
			c.HandleRead(s.readHandler(ref, h))
		}
		if d.Access.Has(gatt.Writable) {
			c.HandleWrite(s.writeHandler(ref, h))
		}
		if d.Access.Has(gatt.Notifiable) {
			c.HandleNotify(s.notifyHandler(ref))
		}
		if d.Description != "" {
			c.NewDescriptor(ble.UUID16(userDescriptionUUID)).SetValue([]byte(d.Description))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stack closed")
	}
	if err := s.dev.AddService(svc); err != nil {
		return fmt.Errorf("failed to add service %s: %w", table.UUID, err)
	}
	s.services = append(s.services, svcUUID)

	s.logger.WithFields(logrus.Fields{
		"service":    table.UUID,
		"known_name": table.KnownName(),
	}).Debug("Service added to go-ble device")
	return nil
}

// Advertise implements host.Stack.
func (s *Stack) Advertise(ctx context.Context, name string) error {
	s.mu.Lock()
	uuids := append([]ble.UUID(nil), s.services...)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"name":     name,
		"services": len(uuids),
	}).Info("Advertising")
	return s.dev.AdvertiseNameAndServices(ctx, name, uuids...)
}

// Close stops the device.
func (s *Stack) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.dev.Stop()
}

// ----------------------------
// Access Handlers
// ----------------------------

func (s *Stack) readHandler(ref gatt.Ref, h host.AccessHandler) ble.ReadHandler {
	return ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		value, err := h.HandleAccess(ref, gatt.OpRead, nil)
		if err != nil {
			s.reject(ref, gatt.OpRead, rsp, err)
			return
		}

		offset := req.Offset()
		if offset > len(value) {
			s.reject(ref, gatt.OpRead, rsp, fmt.Errorf("%w: %d > %d", host.ErrInvalidOffset, offset, len(value)))
			return
		}
		value = value[offset:]
		// Longer values are fetched by the peer with offset reads.
		if c := rsp.Cap(); c >= 0 && len(value) > c {
			value = value[:c]
		}
		if _, err := rsp.Write(value); err != nil {
			s.reject(ref, gatt.OpRead, rsp, fmt.Errorf("%w: %v", host.ErrResponseTooLarge, err))
		}
	})
}

func (s *Stack) writeHandler(ref gatt.Ref, h host.AccessHandler) ble.WriteHandler {
	return ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		if req.Offset() != 0 {
			s.reject(ref, gatt.OpWrite, rsp, fmt.Errorf("%w: prepared writes are not supported", host.ErrInvalidOffset))
			return
		}
		if _, err := h.HandleAccess(ref, gatt.OpWrite, req.Data()); err != nil {
			s.reject(ref, gatt.OpWrite, rsp, err)
		}
	})
}

func (s *Stack) reject(ref gatt.Ref, op gatt.Operation, rsp ble.ResponseWriter, err error) {
	status := host.Status(err)
	rsp.SetStatus(status)
	s.logger.WithError(err).WithFields(logrus.Fields{
		"char":   ref.String(),
		"op":     op.String(),
		"status": fmt.Sprintf("0x%02x", byte(status)),
	}).Debug("Access rejected")
}
