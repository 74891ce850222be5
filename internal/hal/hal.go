// Package hal declares the hardware boundary of the peripheral: digital pins
// and ADC channels. Every call is synchronous and owned by a driver; the
// services only see these interfaces.
package hal

import (
	"errors"
	"fmt"
)

// PinMode is the electrical configuration of a digital pin.
type PinMode int

const (
	ModeInput PinMode = iota
	ModeInputPullUp
	ModeOutput
)

func (m PinMode) String() string {
	switch m {
	case ModeInput:
		return "input"
	case ModeInputPullUp:
		return "input_pullup"
	case ModeOutput:
		return "output"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Sample is one ADC conversion result.
type Sample struct {
	Raw        int32
	MilliVolts int32
}

// Pins gives access to digital GPIO pins.
type Pins interface {
	ConfigurePin(pin int, mode PinMode) error
	ReadPin(pin int) (bool, error)
	WritePin(pin int, high bool) error
}

// ADC performs a blocking conversion on an analog channel.
type ADC interface {
	Convert(channel int) (Sample, error)
}

// Hardware is the full driver surface used by the services.
type Hardware interface {
	Pins
	ADC
}

var (
	// ErrInvalidPin is returned for pins the driver does not know.
	ErrInvalidPin = errors.New("invalid pin")
	// ErrNoChannel is returned for ADC channels the driver does not know.
	ErrNoChannel = errors.New("no such ADC channel")
)
