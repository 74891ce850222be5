//go:build darwin

package goble

import (
	"github.com/go-ble/ble/darwin"
)

// DeviceFactory creates the platform BLE device (can be overridden in tests).
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (Device, error) {
	return darwin.NewDevice()
}
