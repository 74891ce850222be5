// Package button implements the Button Service: a debounced push button
// whose press count is published and notified, and an LED driven by peer
// writes.
package button

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesvc/internal/eventq"
	"github.com/srg/blesvc/internal/gatt"
	"github.com/srg/blesvc/internal/hal"
	"github.com/srg/blesvc/internal/task"
)

const (
	ServiceUUID = "a000"
	StateUUID   = "a001"
	LEDUUID     = "a002"

	DefaultInterval = 50 * time.Millisecond
)

// Event is posted once per confirmed press.
type Event struct {
	Count uint32
	At    time.Time
}

// Options configures the service.
type Options struct {
	ButtonPin        int
	LEDPin           int
	Inverted         bool
	PullUp           bool
	Interval         time.Duration
	FailureThreshold int
	Logger           *logrus.Logger
}

// Service is a registered Button Service.
type Service struct {
	rt     *gatt.Runtime
	pins   hal.Pins
	opts   Options
	logger *logrus.Logger

	stateRef gatt.Ref
	ledRef   gatt.Ref

	debouncer *Debouncer
	count     atomic.Uint32
	events    *eventq.Queue[Event]
	sampler   *task.Sampler
}

// Table returns the Button Service table. onLED, when non-nil, observes
// committed LED writes.
func Table(onLED func([]byte) error) *gatt.ServiceTable {
	return gatt.NewServiceTable(ServiceUUID, "Button Service",
		gatt.Descriptor{
			UUID:        StateUUID,
			Description: "Button toggle count",
			Access:      gatt.Readable | gatt.Notifiable,
			Width:       4,
		},
		gatt.Descriptor{
			UUID:        LEDUUID,
			Description: "LED level",
			Access:      gatt.Readable | gatt.Writable | gatt.Notifiable,
			Width:       2,
			OnWrite:     onLED,
		},
	)
}

// New registers the service with rt and, when pins is non-nil, configures
// the button and LED pins and a sampler for the button.
func New(rt *gatt.Runtime, pins hal.Pins, opts *Options) (*Service, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	logger := o.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	s := &Service{
		rt:        rt,
		pins:      pins,
		opts:      o,
		logger:    logger,
		debouncer: NewDebouncer(o.Inverted),
		events:    eventq.New[Event]("button", eventq.DefaultCapacity, logger),
	}

	table := Table(s.driveLED)
	if err := rt.Register(table); err != nil {
		return nil, fmt.Errorf("failed to register button service: %w", err)
	}
	s.stateRef = table.Ref(StateUUID)
	s.ledRef = table.Ref(LEDUUID)

	if pins == nil {
		return s, nil
	}

	mode := hal.ModeInput
	if o.PullUp {
		mode = hal.ModeInputPullUp
	}
	if err := pins.ConfigurePin(o.ButtonPin, mode); err != nil {
		return nil, fmt.Errorf("failed to configure button pin %d: %w", o.ButtonPin, err)
	}
	if err := pins.ConfigurePin(o.LEDPin, hal.ModeOutput); err != nil {
		return nil, fmt.Errorf("failed to configure LED pin %d: %w", o.LEDPin, err)
	}

	sampler, err := task.NewSampler("button", s.Tick, &task.SamplerOptions{
		Interval:         o.Interval,
		FailureThreshold: o.FailureThreshold,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	s.sampler = sampler
	return s, nil
}

// StateRef returns the toggle count characteristic.
func (s *Service) StateRef() gatt.Ref {
	return s.stateRef
}

// LEDRef returns the LED characteristic.
func (s *Service) LEDRef() gatt.Ref {
	return s.ledRef
}

// Sampler returns the button sampler, or nil without pins.
func (s *Service) Sampler() *task.Sampler {
	return s.sampler
}

// Events returns the press event queue; its Run loop must be started by the owner.
func (s *Service) Events() *eventq.Queue[Event] {
	return s.events
}

// RegisterHandler sets the press handler; nil removes it.
func (s *Service) RegisterHandler(h func(Event)) {
	s.events.SetHandler(h)
}

// Count returns the number of confirmed presses.
func (s *Service) Count() uint32 {
	return s.count.Load()
}

// Tick reads the button pin once and feeds the debouncer.
func (s *Service) Tick(_ context.Context) error {
	raw, err := s.pins.ReadPin(s.opts.ButtonPin)
	if err != nil {
		return gatt.HardwareFault(fmt.Errorf("button pin %d: %w", s.opts.ButtonPin, err))
	}
	if s.debouncer.Feed(raw) {
		return s.press()
	}
	return nil
}

func (s *Service) press() error {
	n := s.count.Add(1)
	s.logger.WithField("count", n).Debug("Button pressed")
	if err := s.SetButton(n); err != nil {
		return err
	}
	s.events.Post(Event{Count: n, At: time.Now()})
	return nil
}

// SetButton stores level in the toggle count characteristic and notifies.
func (s *Service) SetButton(level uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], level)
	return s.rt.Set(s.stateRef, b[:])
}

// SetLED stores level in the LED characteristic, notifies, and drives the
// LED pin.
func (s *Service) SetLED(level uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], level)
	if err := s.rt.Set(s.ledRef, b[:]); err != nil {
		return err
	}
	return s.driveLED(b[:])
}

func (s *Service) driveLED(value []byte) error {
	if s.pins == nil {
		return nil
	}
	high := binary.LittleEndian.Uint16(value) != 0
	if err := s.pins.WritePin(s.opts.LEDPin, high); err != nil {
		return fmt.Errorf("led pin %d: %w", s.opts.LEDPin, err)
	}
	return nil
}
