package periph

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/srg/blesvc/internal/hal"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
)

// DefaultIIORoot is where the kernel exposes Industrial I/O devices.
const DefaultIIORoot = "/sys/bus/iio/devices"

// IIOPin is an analog.PinADC backed by a Linux IIO voltage input, e.g.
// /sys/bus/iio/devices/iio:device0/in_voltage2_raw.
type IIOPin struct {
	dir    string
	device string
	input  string
	num    int
}

var _ analog.PinADC = (*IIOPin)(nil)

// OpenIIOPin opens input (such as "in_voltage2") of the IIO device under root.
func OpenIIOPin(root, device, input string, num int) (*IIOPin, error) {
	if root == "" {
		root = DefaultIIORoot
	}
	p := &IIOPin{
		dir:    filepath.Join(root, device),
		device: device,
		input:  input,
		num:    num,
	}
	if _, err := os.Stat(p.path("_raw")); err != nil {
		return nil, fmt.Errorf("%w: %d (%s): %v", hal.ErrNoChannel, num, p.Name(), err)
	}
	return p, nil
}

func (p *IIOPin) path(suffix string) string {
	return filepath.Join(p.dir, p.input+suffix)
}

// Name returns "<device>/<input>".
func (p *IIOPin) Name() string {
	return p.device + "/" + p.input
}

func (p *IIOPin) String() string { return p.Name() }

// Number returns the ADC channel number.
func (p *IIOPin) Number() int { return p.num }

// Function implements pin.Pin.
func (p *IIOPin) Function() string { return string(p.Func()) }

// Func implements pin.PinFunc.
func (p *IIOPin) Func() pin.Func { return analog.ADC }

// Halt implements conn.Resource.
func (p *IIOPin) Halt() error { return nil }

// Range is not reported by IIO; both bounds are zero.
func (p *IIOPin) Range() (analog.Sample, analog.Sample) {
	return analog.Sample{}, analog.Sample{}
}

// Read converts once. The voltage is raw * scale, where scale is taken from
// <input>_scale or the device-wide in_voltage_scale, in millivolts per LSB.
// Without a scale file only Raw is set.
func (p *IIOPin) Read() (analog.Sample, error) {
	raw, err := readIIOValue(p.path("_raw"))
	if err != nil {
		return analog.Sample{}, err
	}
	s := analog.Sample{Raw: int32(raw)}

	scale, err := readIIOValue(p.path("_scale"))
	if err != nil {
		scale, err = readIIOValue(filepath.Join(p.dir, "in_voltage_scale"))
	}
	if err == nil {
		s.V = physic.ElectricPotential(raw * scale * float64(physic.MilliVolt))
	}
	return s, nil
}

func readIIOValue(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}
