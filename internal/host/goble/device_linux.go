//go:build linux

package goble

import (
	"github.com/go-ble/ble/linux"
)

// DeviceFactory creates the platform BLE device (can be overridden in tests).
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (Device, error) {
	return linux.NewDevice()
}
