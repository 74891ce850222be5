package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Supported host stack backends.
const (
	BackendGoBLE  = "go-ble"
	BackendTinyGo = "tinygo"
	BackendSim    = "sim"
)

// Supported hardware drivers.
const (
	HALSim    = "sim"
	HALPeriph = "periph"
)

// Config holds application configuration
type Config struct {
	LogLevel   logrus.Level `yaml:"log_level" json:"log_level"`
	DeviceName string       `yaml:"device_name" json:"device_name" default:"blesvc"`
	Backend    string       `yaml:"backend" json:"backend" default:"go-ble"`
	HAL        string       `yaml:"hal" json:"hal" default:"sim"`

	// AdvertiseWindow limits each advertising run; zero advertises until shutdown.
	AdvertiseWindow time.Duration `yaml:"advertise_window" json:"advertise_window"`

	NotifyPolicy         string `yaml:"notify_policy" json:"notify_policy" default:"always"`
	NotifyLatestPeerOnly bool   `yaml:"notify_latest_peer_only" json:"notify_latest_peer_only"`
	FailureThreshold     int    `yaml:"failure_threshold" json:"failure_threshold" default:"3"`
	MaxCharacteristics   int    `yaml:"max_characteristics" json:"max_characteristics" default:"64"`

	Battery BatteryConfig `yaml:"battery" json:"battery"`
	Button  ButtonConfig  `yaml:"button" json:"button"`
	GPIO    GPIOConfig    `yaml:"gpio" json:"gpio"`
	DIS     DISConfig     `yaml:"dis" json:"dis"`
	ADC     ADCConfig     `yaml:"adc" json:"adc"`
	Periph  PeriphConfig  `yaml:"periph" json:"periph"`

	// Identity is the persistent identity store read by the device information service.
	Identity Identity `yaml:"identity,omitempty" json:"identity,omitempty"`
}

// BatteryConfig configures the battery service.
type BatteryConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled" default:"true"`
	Channel  int           `yaml:"channel" json:"channel"`
	Samples  int           `yaml:"samples" json:"samples" default:"1"`
	Interval time.Duration `yaml:"interval" json:"interval" default:"30m"`
}

// ButtonConfig configures the button service.
type ButtonConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled" default:"true"`
	Pin      int           `yaml:"pin" json:"pin" default:"13"`
	LEDPin   int           `yaml:"led_pin" json:"led_pin" default:"17"`
	Inverted bool          `yaml:"inverted" json:"inverted" default:"true"`
	PullUp   bool          `yaml:"pull_up" json:"pull_up" default:"true"`
	Interval time.Duration `yaml:"interval" json:"interval" default:"50ms"`
}

// GPIOConfig configures the GPIO service.
type GPIOConfig struct {
	Enabled   bool          `yaml:"enabled" json:"enabled" default:"true"`
	TotalPins int           `yaml:"total_pins" json:"total_pins" default:"32"`
	Interval  time.Duration `yaml:"interval" json:"interval" default:"500ms"`
}

// DISConfig configures the device information service.
type DISConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled" default:"true"`
	MaxLen  int  `yaml:"max_len" json:"max_len" default:"64"`
}

// ADCConfig configures the analog channels used by battery sampling and GPIO
// analog reporting.
type ADCConfig struct {
	// IIODevice is the Linux IIO device serving channels on the periph HAL.
	IIODevice string `yaml:"iio_device" json:"iio_device" default:"iio:device0"`
	// SimMilliVolts is what every sim channel not listed in Channels reads.
	SimMilliVolts int32 `yaml:"sim_millivolts" json:"sim_millivolts" default:"3000"`

	Channels map[int]ADCChannel `yaml:"channels,omitempty" json:"channels,omitempty"`
}

// ADCChannel overrides one ADC channel.
type ADCChannel struct {
	// Input is the IIO input name, "in_voltage<channel>" when empty.
	Input         string `yaml:"input,omitempty" json:"input,omitempty"`
	SimMilliVolts int32  `yaml:"sim_millivolts,omitempty" json:"sim_millivolts,omitempty"`
}

// PeriphConfig configures the periph.io hardware driver.
type PeriphConfig struct {
	PinNameFormat string `yaml:"pin_name_format" json:"pin_name_format" default:"GPIO%d"`
}

// Identity maps identity keys such as "id/serial" to their values.
type Identity map[string]string

// Lookup returns the value stored under key.
func (id Identity) Lookup(key string) (string, bool) {
	v, ok := id[key]
	return v, ok
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel: logrus.InfoLevel,
	}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file on top of DefaultConfig and validates it.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration data on top of DefaultConfig and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks field values and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	if c.DeviceName == "" {
		errs = append(errs, errors.New("device_name cannot be empty"))
	}
	switch c.Backend {
	case BackendGoBLE, BackendTinyGo, BackendSim:
	default:
		errs = append(errs, fmt.Errorf("invalid backend: %s (must be %s, %s or %s)", c.Backend, BackendGoBLE, BackendTinyGo, BackendSim))
	}
	switch c.HAL {
	case HALSim, HALPeriph:
	default:
		errs = append(errs, fmt.Errorf("invalid hal: %s (must be %s or %s)", c.HAL, HALSim, HALPeriph))
	}
	switch c.NotifyPolicy {
	case "always", "on_change":
	default:
		errs = append(errs, fmt.Errorf("invalid notify_policy: %s (must be always or on_change)", c.NotifyPolicy))
	}
	if c.AdvertiseWindow < 0 {
		errs = append(errs, errors.New("advertise_window cannot be negative"))
	}
	if c.FailureThreshold <= 0 {
		errs = append(errs, errors.New("failure_threshold must be > 0"))
	}
	if c.MaxCharacteristics <= 0 {
		errs = append(errs, errors.New("max_characteristics must be > 0"))
	}

	if c.Battery.Enabled {
		if c.Battery.Samples <= 0 {
			errs = append(errs, errors.New("battery.samples must be > 0"))
		}
		if c.Battery.Interval <= 0 {
			errs = append(errs, errors.New("battery.interval must be > 0"))
		}
	}
	if c.Button.Enabled {
		if c.Button.Interval <= 0 {
			errs = append(errs, errors.New("button.interval must be > 0"))
		}
		if c.Button.Pin == c.Button.LEDPin {
			errs = append(errs, fmt.Errorf("button.pin and button.led_pin must differ (both %d)", c.Button.Pin))
		}
	}
	if c.GPIO.Enabled {
		if c.GPIO.TotalPins <= 0 || c.GPIO.TotalPins > 256 {
			errs = append(errs, fmt.Errorf("gpio.total_pins must be in [1, 256], got %d", c.GPIO.TotalPins))
		}
		if c.GPIO.Interval <= 0 {
			errs = append(errs, errors.New("gpio.interval must be > 0"))
		}
	}
	if c.ADC.SimMilliVolts < 0 {
		errs = append(errs, errors.New("adc.sim_millivolts cannot be negative"))
	}
	for ch, a := range c.ADC.Channels {
		if ch < 0 {
			errs = append(errs, fmt.Errorf("adc.channels: invalid channel %d", ch))
		}
		if a.SimMilliVolts < 0 {
			errs = append(errs, fmt.Errorf("adc.channels[%d].sim_millivolts cannot be negative", ch))
		}
	}
	if c.DIS.Enabled && c.DIS.MaxLen <= 0 {
		errs = append(errs, errors.New("dis.max_len must be > 0"))
	}

	return errors.Join(errs...)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
