// Package gpio implements the GPIO Service: peer-driven digital outputs,
// digital and analog input reporting, and a Firmata-style configuration
// characteristic.
package gpio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesvc/internal/gatt"
	"github.com/srg/blesvc/internal/hal"
	"github.com/srg/blesvc/internal/task"
)

const (
	ServiceUUID = "01000000-0000-6969-2004-daba55a5ad1b"
	DigitalUUID = "2a56"
	AnalogUUID  = "2a58"
	ConfigUUID  = "2a59"

	DefaultTotalPins = 32
	DefaultInterval  = 500 * time.Millisecond
)

// PinState is the reporting configuration and last sampled level of a pin.
type PinState struct {
	Mode          hal.PinMode
	ReportDigital bool
	ReportAnalog  bool
	Value         bool
}

// Options configures the service.
type Options struct {
	TotalPins        int
	Interval         time.Duration
	FailureThreshold int
	Logger           *logrus.Logger
}

// Service is a registered GPIO Service.
type Service struct {
	rt     *gatt.Runtime
	hw     hal.Hardware
	opts   Options
	logger *logrus.Logger

	digitalRef gatt.Ref
	analogRef  gatt.Ref
	configRef  gatt.Ref

	// digital serializes peer digital writes with digital sampling.
	digital sync.Mutex

	mu      sync.Mutex
	pins    []PinState
	sampler *task.Sampler
}

// New registers the service with rt. Without hardware, writes are still
// validated and stored but drive nothing, and no sampler is created.
func New(rt *gatt.Runtime, hw hal.Hardware, opts *Options) (*Service, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.TotalPins <= 0 {
		o.TotalPins = DefaultTotalPins
	}
	if o.TotalPins > 256 {
		return nil, fmt.Errorf("gpio: %d pins do not fit a one-byte pin number", o.TotalPins)
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
		o.Logger.SetOutput(io.Discard)
	}

	s := &Service{
		rt:     rt,
		hw:     hw,
		opts:   o,
		logger: o.Logger,
		pins:   make([]PinState, o.TotalPins),
	}
	for i := range s.pins {
		s.pins[i].Mode = hal.ModeOutput
	}

	table := gatt.NewServiceTable(ServiceUUID, "GPIO Service",
		gatt.Descriptor{
			UUID:     DigitalUUID,
			Access:   gatt.Readable | gatt.Writable | gatt.Notifiable,
			Width:    2,
			Validate: s.validateDigital,
			OnWrite:  s.writeDigital,
		},
		gatt.Descriptor{
			UUID:   AnalogUUID,
			Access: gatt.Readable | gatt.Notifiable,
			Width:  3,
		},
		gatt.Descriptor{
			UUID:     ConfigUUID,
			Access:   gatt.Readable | gatt.Writable,
			MinLen:   2,
			MaxLen:   3,
			Validate: s.validateConfig,
			OnWrite:  s.applyConfig,
		},
	)
	if err := rt.Register(table); err != nil {
		return nil, fmt.Errorf("failed to register gpio service: %w", err)
	}
	s.digitalRef = table.Ref(DigitalUUID)
	s.analogRef = table.Ref(AnalogUUID)
	s.configRef = table.Ref(ConfigUUID)

	if hw != nil {
		sampler, err := task.NewSampler("gpio", s.Tick, &task.SamplerOptions{
			Interval:         o.Interval,
			FailureThreshold: o.FailureThreshold,
			Logger:           o.Logger,
		})
		if err != nil {
			return nil, err
		}
		s.sampler = sampler
	}
	return s, nil
}

// DigitalRef returns the digital characteristic.
func (s *Service) DigitalRef() gatt.Ref { return s.digitalRef }

// AnalogRef returns the analog characteristic.
func (s *Service) AnalogRef() gatt.Ref { return s.analogRef }

// ConfigRef returns the config characteristic.
func (s *Service) ConfigRef() gatt.Ref { return s.configRef }

// Sampler returns the reporting sampler, or nil without hardware.
func (s *Service) Sampler() *task.Sampler { return s.sampler }

// TotalPins returns the size of the pin table.
func (s *Service) TotalPins() int { return s.opts.TotalPins }

// Interval returns the current sampling interval.
func (s *Service) Interval() time.Duration {
	if s.sampler != nil {
		return s.sampler.Interval()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Interval
}

// Pin returns the state of pin.
func (s *Service) Pin(pin int) (PinState, error) {
	if pin < 0 || pin >= len(s.pins) {
		return PinState{}, fmt.Errorf("%w: %d", hal.ErrInvalidPin, pin)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pins[pin], nil
}

// ----------------------------
// Write handling
// ----------------------------

func (s *Service) validateDigital(b []byte) error {
	if int(b[0]) >= s.opts.TotalPins {
		return gatt.Rejected("pin %d out of range", b[0])
	}
	return nil
}

func (s *Service) writeDigital(b []byte) error {
	pin, high := int(b[0]), b[1] != 0

	s.digital.Lock()
	defer s.digital.Unlock()

	// Record the level first so the next sample does not report it back.
	s.mu.Lock()
	s.pins[pin].Value = high
	s.mu.Unlock()

	// A sample published after b was committed is older than b.
	if cur, err := s.rt.Get(s.digitalRef); err == nil && !bytes.Equal(cur, b) {
		if err := s.rt.Set(s.digitalRef, b); err != nil {
			return err
		}
	}

	if s.hw == nil {
		return nil
	}
	if err := s.hw.WritePin(pin, high); err != nil {
		return fmt.Errorf("pin %d: %w", pin, err)
	}
	return nil
}

func (s *Service) validateConfig(b []byte) error {
	_, err := parseCommand(b, s.opts.TotalPins)
	return err
}

func (s *Service) applyConfig(b []byte) error {
	c, err := parseCommand(b, s.opts.TotalPins)
	if err != nil {
		return err
	}
	s.logger.WithField("command", c.String()).Debug("GPIO config")

	switch c.cmd {
	case CmdSetPinMode:
		if s.hw != nil {
			if err := s.hw.ConfigurePin(c.pin, c.mode); err != nil {
				return fmt.Errorf("pin %d: %w", c.pin, err)
			}
		}
		s.mu.Lock()
		s.pins[c.pin].Mode = c.mode
		s.mu.Unlock()

	case CmdReportAnalog:
		s.mu.Lock()
		p := &s.pins[c.pin]
		p.ReportAnalog = c.value != 0
		if p.ReportAnalog {
			p.ReportDigital = false
		}
		s.mu.Unlock()

	case CmdReportDigital:
		s.mu.Lock()
		p := &s.pins[c.pin]
		p.ReportDigital = c.value != 0
		if p.ReportDigital {
			p.ReportAnalog = false
		}
		s.mu.Unlock()

	case CmdSamplingInterval:
		if s.sampler != nil {
			return s.sampler.SetInterval(c.interval)
		}
		s.mu.Lock()
		s.opts.Interval = c.interval
		s.mu.Unlock()
	}
	return nil
}

// ----------------------------
// Sampling
// ----------------------------

// Tick samples every reporting pin once. A failing pin does not stop the
// others; the returned error joins every pin failure.
func (s *Service) Tick(_ context.Context) error {
	s.mu.Lock()
	pins := append([]PinState(nil), s.pins...)
	s.mu.Unlock()

	var errs []error
	for i, p := range pins {
		switch {
		case p.ReportDigital:
			if err := s.sampleDigital(i); err != nil {
				errs = append(errs, err)
			}
		case p.ReportAnalog:
			if err := s.sampleAnalog(i); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Service) sampleDigital(pin int) error {
	s.digital.Lock()
	defer s.digital.Unlock()

	level, err := s.hw.ReadPin(pin)
	if err != nil {
		return gatt.HardwareFault(fmt.Errorf("pin %d: %w", pin, err))
	}

	s.mu.Lock()
	last := s.pins[pin].Value
	s.pins[pin].Value = level
	s.mu.Unlock()
	if level == last {
		return nil
	}

	report := []byte{byte(pin), 0}
	if level {
		report[1] = 1
	}
	return s.rt.Set(s.digitalRef, report)
}

func (s *Service) sampleAnalog(pin int) error {
	sample, err := s.hw.Convert(pin)
	if err != nil {
		return gatt.HardwareFault(fmt.Errorf("pin %d: %w", pin, err))
	}
	raw := uint16(sample.Raw)
	return s.rt.Set(s.analogRef, []byte{byte(pin), byte(raw), byte(raw >> 8)})
}
