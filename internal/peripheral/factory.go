package peripheral

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/blesvc/internal/hal"
	"github.com/srg/blesvc/internal/hal/periph"
	"github.com/srg/blesvc/internal/host"
	"github.com/srg/blesvc/internal/host/goble"
	"github.com/srg/blesvc/internal/host/tinygo"
	"github.com/srg/blesvc/pkg/config"
)

// StackFactory opens the host stack selected by cfg.Backend.
// This is a variable so that it can be overridden in tests.
var StackFactory = func(cfg *config.Config, logger *logrus.Logger) (host.Stack, error) {
	switch cfg.Backend {
	case config.BackendGoBLE:
		s, err := goble.Open(&goble.Options{
			LatestPeerOnly: cfg.NotifyLatestPeerOnly,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendTinyGo:
		s, err := tinygo.Open(&tinygo.Options{Logger: logger})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendSim:
		return host.NewSimStack(host.DefaultTraceSize, logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Backend)
	}
}

// HardwareFactory opens the hardware driver selected by cfg.HAL.
// This is a variable so that it can be overridden in tests.
var HardwareFactory = func(cfg *config.Config) (hal.Hardware, error) {
	switch cfg.HAL {
	case config.HALPeriph:
		inputs := make(map[int]string, len(cfg.ADC.Channels))
		for ch, a := range cfg.ADC.Channels {
			if a.Input != "" {
				inputs[ch] = a.Input
			}
		}
		hw, err := periph.New(&periph.Options{
			PinNameFormat: cfg.Periph.PinNameFormat,
			IIODevice:     cfg.ADC.IIODevice,
			IIOInputs:     inputs,
		})
		if err != nil {
			return nil, err
		}
		return hw, nil
	case config.HALSim:
		hw := hal.NewSimulated(simPins(cfg))
		hw.SetDefaultSample(hal.SimSample(cfg.ADC.SimMilliVolts))
		for ch, a := range cfg.ADC.Channels {
			if a.SimMilliVolts > 0 {
				hw.SetSample(ch, hal.SimSample(a.SimMilliVolts))
			}
		}
		return hw, nil
	default:
		return nil, fmt.Errorf("unsupported hal: %s", cfg.HAL)
	}
}

// simPins sizes the simulated pin bank to fit the GPIO table and the button pins.
func simPins(cfg *config.Config) int {
	n := cfg.GPIO.TotalPins
	for _, pin := range []int{cfg.Button.Pin, cfg.Button.LEDPin} {
		if pin >= n {
			n = pin + 1
		}
	}
	return n
}

// Open creates the stack and hardware selected by cfg and builds a
// Peripheral on them. The stack is closed if the peripheral cannot be built.
func Open(cfg *config.Config, logger *logrus.Logger) (*Peripheral, error) {
	stack, err := StackFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s stack: %w", cfg.Backend, err)
	}
	hw, err := HardwareFactory(cfg)
	if err != nil {
		_ = stack.Close()
		return nil, fmt.Errorf("failed to open %s hardware: %w", cfg.HAL, err)
	}
	p, err := New(cfg, stack, hw, logger)
	if err != nil {
		_ = stack.Close()
		return nil, err
	}
	return p, nil
}
