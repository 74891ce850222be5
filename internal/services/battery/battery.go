// Package battery implements the Battery Service: one readable, notifiable
// level characteristic fed by periodic ADC sampling.
package battery

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesvc/internal/gatt"
	"github.com/srg/blesvc/internal/hal"
	"github.com/srg/blesvc/internal/task"
)

const (
	ServiceUUID = "180f"
	LevelUUID   = "2a19"

	// LevelDescription is exposed as the level's user description.
	LevelDescription = "Battery level between 0 and 100 percent"

	DefaultInterval = 30 * time.Minute
)

// Options configures the service.
type Options struct {
	Channel          int
	Samples          int
	Interval         time.Duration
	FailureThreshold int
	Logger           *logrus.Logger
}

// Service is a registered Battery Service.
type Service struct {
	rt      *gatt.Runtime
	adc     hal.ADC
	opts    Options
	ref     gatt.Ref
	sampler *task.Sampler
	logger  *logrus.Logger
}

// Table returns the Battery Service table.
func Table() *gatt.ServiceTable {
	return gatt.NewServiceTable(ServiceUUID, "Battery Service",
		gatt.Descriptor{
			UUID:        LevelUUID,
			Description: LevelDescription,
			Access:      gatt.Readable | gatt.Notifiable,
			Width:       2,
			Notify:      gatt.NotifyAlways,
		},
	)
}

// New registers the service with rt. When adc is non-nil the returned
// service also owns a sampler converting opts.Channel every opts.Interval.
func New(rt *gatt.Runtime, adc hal.ADC, opts *Options) (*Service, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.Samples <= 0 {
		o.Samples = 1
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	logger := o.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	table := Table()
	if err := rt.Register(table); err != nil {
		return nil, fmt.Errorf("failed to register battery service: %w", err)
	}

	s := &Service{
		rt:     rt,
		adc:    adc,
		opts:   o,
		ref:    table.Ref(LevelUUID),
		logger: logger,
	}
	if adc != nil {
		sampler, err := task.NewSampler("battery", s.Sample, &task.SamplerOptions{
			Interval:         o.Interval,
			FailureThreshold: o.FailureThreshold,
			Immediate:        true,
			Logger:           logger,
		})
		if err != nil {
			return nil, err
		}
		s.sampler = sampler
	}
	return s, nil
}

// Ref returns the level characteristic.
func (s *Service) Ref() gatt.Ref {
	return s.ref
}

// Sampler returns the ADC sampler, or nil when the service has no ADC.
func (s *Service) Sampler() *task.Sampler {
	return s.sampler
}

// SetLevel stores percent and notifies subscribers.
func (s *Service) SetLevel(percent uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], percent)
	return s.rt.Set(s.ref, b[:])
}

// Level returns the stored percent.
func (s *Service) Level() (uint16, error) {
	b, err := s.rt.Get(s.ref)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Sample converts the configured channel, averages the readings, and
// publishes the resulting percent.
func (s *Service) Sample(_ context.Context) error {
	if s.adc == nil {
		return gatt.HardwareFault(hal.ErrNoChannel)
	}

	var sum int64
	for i := 0; i < s.opts.Samples; i++ {
		sample, err := s.adc.Convert(s.opts.Channel)
		if err != nil {
			return gatt.HardwareFault(fmt.Errorf("adc channel %d: %w", s.opts.Channel, err))
		}
		sum += int64(sample.MilliVolts)
	}
	mv := int32(sum / int64(s.opts.Samples))
	percent := PercentFromMilliVolts(mv)

	s.logger.WithFields(logrus.Fields{
		"mv":      mv,
		"percent": percent,
	}).Debug("Battery sampled")
	return s.SetLevel(percent)
}

// PercentFromMilliVolts maps a cell voltage to a charge percentage using a
// piecewise linear discharge curve.
func PercentFromMilliVolts(mv int32) uint16 {
	var p int32
	switch {
	case mv >= 3000:
		p = 100
	case mv > 2900:
		p = 100 - ((3000-mv)*58)/100
	case mv > 2740:
		p = 42 - ((2900-mv)*24)/160
	case mv > 2440:
		p = 18 - ((2740-mv)*12)/300
	case mv > 2100:
		p = 6 - ((2440-mv)*6)/340
	default:
		p = 0
	}
	return uint16(p)
}
