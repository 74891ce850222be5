// Package periph implements hal.Hardware on top of periph.io for Linux
// single-board computers.
package periph

import (
	"fmt"
	"sync"

	"github.com/srg/blesvc/internal/hal"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// Options configures the periph.io driver.
type Options struct {
	// PinNameFormat maps a pin number to a gpioreg name, e.g. "GPIO%d" for BCM numbering.
	PinNameFormat string
	// ADCs maps channel numbers to analog pins provided by an ADC driver.
	ADCs map[int]analog.PinADC
	// IIODevice opens channels missing from ADCs as inputs of a Linux IIO
	// device, e.g. "iio:device0". Empty disables IIO.
	IIODevice string
	// IIOInputs overrides the input name of a channel; the default for
	// channel n is "in_voltage<n>".
	IIOInputs map[int]string
	// IIORoot defaults to DefaultIIORoot.
	IIORoot string
}

// Hardware drives GPIO pins through gpioreg and ADC channels through
// analog.PinADC implementations.
type Hardware struct {
	mu        sync.Mutex
	format    string
	pins      map[int]gpio.PinIO
	adcs      map[int]analog.PinADC
	iioRoot   string
	iioDevice string
	iioInputs map[int]string
}

// New initializes the periph.io host drivers.
func New(opts *Options) (*Hardware, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	return newHardware(opts), nil
}

func newHardware(opts *Options) *Hardware {
	if opts == nil {
		opts = &Options{}
	}
	format := opts.PinNameFormat
	if format == "" {
		format = "GPIO%d"
	}
	adcs := make(map[int]analog.PinADC, len(opts.ADCs))
	for ch, p := range opts.ADCs {
		adcs[ch] = p
	}
	inputs := make(map[int]string, len(opts.IIOInputs))
	for ch, name := range opts.IIOInputs {
		inputs[ch] = name
	}
	return &Hardware{
		format:    format,
		pins:      make(map[int]gpio.PinIO),
		adcs:      adcs,
		iioRoot:   opts.IIORoot,
		iioDevice: opts.IIODevice,
		iioInputs: inputs,
	}
}

func (h *Hardware) adc(channel int) (analog.PinADC, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.adcs[channel]; ok {
		return p, nil
	}
	if h.iioDevice == "" {
		return nil, fmt.Errorf("%w: %d", hal.ErrNoChannel, channel)
	}
	input, ok := h.iioInputs[channel]
	if !ok {
		input = fmt.Sprintf("in_voltage%d", channel)
	}
	p, err := OpenIIOPin(h.iioRoot, h.iioDevice, input, channel)
	if err != nil {
		return nil, err
	}
	h.adcs[channel] = p
	return p, nil
}

func (h *Hardware) pin(n int) (gpio.PinIO, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.pins[n]; ok {
		return p, nil
	}
	p := gpioreg.ByName(fmt.Sprintf(h.format, n))
	if p == nil {
		return nil, fmt.Errorf("%w: %d", hal.ErrInvalidPin, n)
	}
	h.pins[n] = p
	return p, nil
}

// ConfigurePin sets the pin direction and pull.
func (h *Hardware) ConfigurePin(n int, mode hal.PinMode) error {
	p, err := h.pin(n)
	if err != nil {
		return err
	}
	switch mode {
	case hal.ModeInput:
		err = p.In(gpio.Float, gpio.NoEdge)
	case hal.ModeInputPullUp:
		err = p.In(gpio.PullUp, gpio.NoEdge)
	case hal.ModeOutput:
		err = p.Out(gpio.Low)
	default:
		return fmt.Errorf("unsupported pin mode %s", mode)
	}
	if err != nil {
		return fmt.Errorf("configure %s as %s: %w", p.Name(), mode, err)
	}
	return nil
}

// ReadPin samples the pin level.
func (h *Hardware) ReadPin(n int) (bool, error) {
	p, err := h.pin(n)
	if err != nil {
		return false, err
	}
	return p.Read() == gpio.High, nil
}

// WritePin drives the pin high or low.
func (h *Hardware) WritePin(n int, high bool) error {
	p, err := h.pin(n)
	if err != nil {
		return err
	}
	level := gpio.Low
	if high {
		level = gpio.High
	}
	if err := p.Out(level); err != nil {
		return fmt.Errorf("write %s: %w", p.Name(), err)
	}
	return nil
}

// Convert reads one sample from the ADC channel.
func (h *Hardware) Convert(channel int) (hal.Sample, error) {
	p, err := h.adc(channel)
	if err != nil {
		return hal.Sample{}, err
	}
	s, err := p.Read()
	if err != nil {
		return hal.Sample{}, fmt.Errorf("convert %s: %w", p.Name(), err)
	}
	return hal.Sample{
		Raw:        s.Raw,
		MilliVolts: int32(s.V / physic.MilliVolt),
	}, nil
}
