package gpio

import (
	"fmt"
	"time"

	"github.com/srg/blesvc/internal/gatt"
	"github.com/srg/blesvc/internal/hal"
)

// Config command bytes, numbered as in Firmata.
const (
	CmdSetPinMode       byte = 0xF4
	CmdReportAnalog     byte = 0xC0
	CmdReportDigital    byte = 0xD0
	CmdSamplingInterval byte = 0x7A
)

// Pin mode values of CmdSetPinMode.
const (
	ModeInput       byte = 0x00
	ModeOutput      byte = 0x01
	ModeInputPullUp byte = 0x0B
)

// command is a parsed config characteristic write: [cmd, pin, value].
type command struct {
	cmd      byte
	pin      int
	value    byte
	mode     hal.PinMode
	interval time.Duration
}

func parseCommand(b []byte, totalPins int) (command, error) {
	if len(b) < 2 {
		return command{}, gatt.Rejected("config command needs at least 2 bytes")
	}
	c := command{cmd: b[0], pin: int(b[1])}
	if len(b) > 2 {
		c.value = b[2]
	}

	switch c.cmd {
	case CmdSetPinMode:
		if c.pin >= totalPins {
			return c, gatt.Rejected("pin %d out of range", c.pin)
		}
		switch c.value {
		case ModeInput:
			c.mode = hal.ModeInput
		case ModeInputPullUp:
			c.mode = hal.ModeInputPullUp
		case ModeOutput:
			c.mode = hal.ModeOutput
		default:
			return c, gatt.Rejected("unsupported pin mode 0x%02x", c.value)
		}

	case CmdReportAnalog, CmdReportDigital:
		if c.pin >= totalPins {
			return c, gatt.Rejected("pin %d out of range", c.pin)
		}

	case CmdSamplingInterval:
		ms := int(b[1])
		if len(b) > 2 {
			ms |= int(b[2]) << 8
		}
		if ms == 0 {
			return c, gatt.Rejected("sampling interval cannot be zero")
		}
		c.interval = time.Duration(ms) * time.Millisecond

	default:
		return c, gatt.Rejected("unknown config command 0x%02x", c.cmd)
	}
	return c, nil
}

func (c command) String() string {
	switch c.cmd {
	case CmdSetPinMode:
		return fmt.Sprintf("set_pin_mode(%d, %s)", c.pin, c.mode)
	case CmdReportAnalog:
		return fmt.Sprintf("report_analog(%d, %t)", c.pin, c.value != 0)
	case CmdReportDigital:
		return fmt.Sprintf("report_digital(%d, %t)", c.pin, c.value != 0)
	case CmdSamplingInterval:
		return fmt.Sprintf("sampling_interval(%s)", c.interval)
	default:
		return fmt.Sprintf("command(0x%02x)", c.cmd)
	}
}
