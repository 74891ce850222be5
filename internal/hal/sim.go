package hal

import (
	"fmt"
	"sync"
)

// SimFullScaleMilliVolts is the reference voltage of the simulated 12-bit ADC.
const SimFullScaleMilliVolts = 3300

// SimSample returns the conversion the simulated ADC produces for mv.
func SimSample(mv int32) Sample {
	raw := int64(mv) * 4095 / SimFullScaleMilliVolts
	if raw > 4095 {
		raw = 4095
	}
	if raw < 0 {
		raw = 0
	}
	return Sample{Raw: int32(raw), MilliVolts: mv}
}

// Simulated is an in-memory Hardware implementation. Input levels and ADC
// samples are set by the caller; writes are recorded. It backs the "sim" HAL
// of the CLI and the service tests.
//
// A pin configured as ModeInputPullUp idles high until something drives it.
type Simulated struct {
	mu       sync.Mutex
	numPins  int
	levels   map[int]bool
	driven   map[int]bool
	fallback *Sample
	modes    map[int]PinMode
	samples  map[int]Sample
	writes   map[int]int
	failPins map[int]error
	failADC  map[int]error
}

// NewSimulated creates simulated hardware with numPins digital pins. ADC
// channels exist once a sample has been set for them.
func NewSimulated(numPins int) *Simulated {
	return &Simulated{
		numPins:  numPins,
		levels:   make(map[int]bool),
		driven:   make(map[int]bool),
		modes:    make(map[int]PinMode),
		samples:  make(map[int]Sample),
		writes:   make(map[int]int),
		failPins: make(map[int]error),
		failADC:  make(map[int]error),
	}
}

func (s *Simulated) checkPin(pin int) error {
	if pin < 0 || pin >= s.numPins {
		return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	if err := s.failPins[pin]; err != nil {
		return err
	}
	return nil
}

// ConfigurePin records the pin mode.
func (s *Simulated) ConfigurePin(pin int, mode PinMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPin(pin); err != nil {
		return err
	}
	s.modes[pin] = mode
	if mode == ModeInputPullUp && !s.driven[pin] {
		s.levels[pin] = true
	}
	return nil
}

// ReadPin returns the level last set with SetLevel or WritePin.
func (s *Simulated) ReadPin(pin int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPin(pin); err != nil {
		return false, err
	}
	return s.levels[pin], nil
}

// WritePin drives the pin and counts the write.
func (s *Simulated) WritePin(pin int, high bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPin(pin); err != nil {
		return err
	}
	s.levels[pin] = high
	s.driven[pin] = true
	s.writes[pin]++
	return nil
}

// Convert returns the sample set for the channel.
func (s *Simulated) Convert(channel int) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failADC[channel]; err != nil {
		return Sample{}, err
	}
	if sample, ok := s.samples[channel]; ok {
		return sample, nil
	}
	if s.fallback != nil {
		return *s.fallback, nil
	}
	return Sample{}, fmt.Errorf("%w: %d", ErrNoChannel, channel)
}

// SetLevel simulates an external signal on an input pin.
func (s *Simulated) SetLevel(pin int, high bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[pin] = high
	s.driven[pin] = true
}

// SetSample sets the value future conversions on channel return.
func (s *Simulated) SetSample(channel int, sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[channel] = sample
}

// SetDefaultSample makes every channel without its own sample return sample.
func (s *Simulated) SetDefaultSample(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = &sample
}

// FailPin makes every access to pin return err; a nil err clears the fault.
func (s *Simulated) FailPin(pin int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failPins, pin)
		return
	}
	s.failPins[pin] = err
}

// FailChannel makes conversions on channel return err; a nil err clears the fault.
func (s *Simulated) FailChannel(channel int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failADC, channel)
		return
	}
	s.failADC[channel] = err
}

// Writes returns how many times pin has been written.
func (s *Simulated) Writes(pin int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[pin]
}

// Mode returns the configured mode of pin and whether it was configured.
func (s *Simulated) Mode(pin int) (PinMode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modes[pin]
	return m, ok
}

// Level returns the current level of pin.
func (s *Simulated) Level(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[pin]
}
