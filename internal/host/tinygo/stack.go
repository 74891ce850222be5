// Package tinygo is the tinygo.org/x/bluetooth host stack backend.
//
// The library keeps characteristic values inside the stack and serves reads
// from them, so this backend pushes every notified value into the stack and
// seeds readable characteristics at registration. Writes are observed after
// the stack accepted them; a write the runtime rejects is reverted by pushing
// the runtime's current value back.
package tinygo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesvc/internal/eventq"
	"github.com/srg/blesvc/internal/gatt"
	"github.com/srg/blesvc/internal/host"
	"github.com/srg/blesvc/internal/task"
	"tinygo.org/x/bluetooth"
)

// DefaultPushQueue is the number of pending value pushes.
const DefaultPushQueue = 32

// Radio is the subset of the bluetooth adapter the stack needs.
type Radio interface {
	AddService(svc *bluetooth.Service) error
	Advertise(opts bluetooth.AdvertisementOptions) (stop func() error, err error)
	Push(ch *bluetooth.Characteristic, value []byte) error
}

// Options configures a Stack.
type Options struct {
	PushQueue int
	Logger    *logrus.Logger
}

type push struct {
	ref   gatt.Ref
	value []byte
}

// Stack publishes gatt service tables through tinygo bluetooth.
type Stack struct {
	radio  Radio
	logger *logrus.Logger
	pushes *eventq.Queue[push]
	cancel context.CancelFunc

	mu       sync.RWMutex
	handles  map[gatt.Ref]*bluetooth.Characteristic
	services []bluetooth.UUID
	closed   bool
}

// New creates a Stack on radio and starts its push worker.
func New(radio Radio, opts *Options) *Stack {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
		o.Logger.SetOutput(io.Discard)
	}
	if o.PushQueue <= 0 {
		o.PushQueue = DefaultPushQueue
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Stack{
		radio:   radio,
		logger:  o.Logger,
		pushes:  eventq.New[push]("tinygo-push", o.PushQueue, o.Logger),
		cancel:  cancel,
		handles: make(map[gatt.Ref]*bluetooth.Characteristic),
	}
	s.pushes.SetHandler(s.deliver)
	task.Go(ctx, "tinygo-push", s.pushes.Run)
	return s
}

// Open enables the default adapter and creates a Stack on it.
func Open(opts *Options) (*Stack, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable bluetooth adapter: %w", err)
	}
	return New(&adapterRadio{adapter: adapter}, opts), nil
}

// ParseUUID converts a normalized UUID string to a bluetooth.UUID.
func ParseUUID(s string) (bluetooth.UUID, error) {
	if len(s) == 4 {
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return bluetooth.UUID{}, fmt.Errorf("invalid 16-bit UUID %q: %w", s, err)
		}
		return bluetooth.New16BitUUID(uint16(v)), nil
	}
	return bluetooth.ParseUUID(s)
}

// RegisterService implements host.Stack.
func (s *Stack) RegisterService(table *gatt.ServiceTable, h host.AccessHandler) error {
	svcUUID, err := ParseUUID(table.UUID)
	if err != nil {
		return err
	}

	svc := &bluetooth.Service{UUID: svcUUID}
	handles := make(map[gatt.Ref]*bluetooth.Characteristic, len(table.Characteristics))
	for i := range table.Characteristics {
		d := table.Characteristics[i]
		charUUID, err := ParseUUID(d.UUID)
		if err != nil {
			return err
		}
		ref := table.Ref(d.UUID)
		handle := &bluetooth.Characteristic{}
		handles[ref] = handle

		cfg := bluetooth.CharacteristicConfig{
			Handle: handle,
			UUID:   charUUID,
			Flags:  flags(d.Access),
		}
		if d.Access.Has(gatt.Readable) {
			if value, err := h.HandleAccess(ref, gatt.OpRead, nil); err == nil {
				cfg.Value = value
			}
		}
		if d.Access.Has(gatt.Writable) {
			cfg.WriteEvent = s.writeEvent(ref, h)
		}
		svc.Characteristics = append(svc.Characteristics, cfg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stack closed")
	}
	if err := s.radio.AddService(svc); err != nil {
		return fmt.Errorf("failed to add service %s: %w", table.UUID, err)
	}
	for ref, handle := range handles {
		s.handles[ref] = handle
	}
	s.services = append(s.services, svcUUID)
	return nil
}

func flags(a gatt.Access) bluetooth.CharacteristicPermissions {
	var f bluetooth.CharacteristicPermissions
	if a.Has(gatt.Readable) {
		f |= bluetooth.CharacteristicReadPermission
	}
	if a.Has(gatt.Writable) {
		f |= bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission
	}
	if a.Has(gatt.Notifiable) {
		f |= bluetooth.CharacteristicNotifyPermission
	}
	return f
}

func (s *Stack) writeEvent(ref gatt.Ref, h host.AccessHandler) func(bluetooth.Connection, int, []byte) {
	return func(_ bluetooth.Connection, offset int, value []byte) {
		var err error
		if offset != 0 {
			err = fmt.Errorf("%w: prepared writes are not supported", host.ErrInvalidOffset)
		} else {
			_, err = h.HandleAccess(ref, gatt.OpWrite, append([]byte(nil), value...))
		}
		if err == nil {
			return
		}

		log := s.logger.WithError(err).WithField("char", ref.String())
		if gatt.IsKind(err, gatt.KindHardwareFault) {
			// committed; only the observer failed
			log.Warn("Write observer failed")
			return
		}
		log.Debug("Write rejected, restoring value")
		if current, rerr := h.HandleAccess(ref, gatt.OpRead, nil); rerr == nil {
			s.pushes.Post(push{ref: ref, value: current})
		}
	}
}

// NotifyChanged implements gatt.Notifier. The value is pushed from the push
// worker; the call itself never blocks.
func (s *Stack) NotifyChanged(ref gatt.Ref, value []byte) {
	s.pushes.Post(push{ref: ref, value: append([]byte(nil), value...)})
}

func (s *Stack) deliver(p push) {
	s.mu.RLock()
	handle, ok := s.handles[p.ref]
	s.mu.RUnlock()
	if !ok {
		return
	}
	if err := s.radio.Push(handle, p.value); err != nil {
		s.logger.WithError(err).WithField("char", p.ref.String()).Warn("Failed to push characteristic value")
	}
}

// Advertise implements host.Stack.
func (s *Stack) Advertise(ctx context.Context, name string) error {
	s.mu.RLock()
	uuids := append([]bluetooth.UUID(nil), s.services...)
	s.mu.RUnlock()

	stop, err := s.radio.Advertise(bluetooth.AdvertisementOptions{
		LocalName:    name,
		ServiceUUIDs: uuids,
	})
	if err != nil {
		return fmt.Errorf("failed to start advertising: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"name":     name,
		"services": len(uuids),
	}).Info("Advertising")

	<-ctx.Done()
	if err := stop(); err != nil {
		s.logger.WithError(err).Warn("Failed to stop advertising")
	}
	return ctx.Err()
}

// Close stops the push worker.
func (s *Stack) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.cancel()
	}
	return nil
}

// adapterRadio is the Radio of a real bluetooth adapter.
type adapterRadio struct {
	adapter *bluetooth.Adapter
}

func (r *adapterRadio) AddService(svc *bluetooth.Service) error {
	return r.adapter.AddService(svc)
}

func (r *adapterRadio) Advertise(opts bluetooth.AdvertisementOptions) (func() error, error) {
	adv := r.adapter.DefaultAdvertisement()
	if err := adv.Configure(opts); err != nil {
		return nil, err
	}
	if err := adv.Start(); err != nil {
		return nil, err
	}
	return adv.Stop, nil
}

func (r *adapterRadio) Push(ch *bluetooth.Characteristic, value []byte) error {
	_, err := ch.Write(value)
	return err
}
