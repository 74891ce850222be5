//go:build !linux && !darwin

package goble

import (
	"errors"
	"runtime"
)

// DeviceFactory creates the platform BLE device (can be overridden in tests).
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (Device, error) {
	return nil, errors.New("go-ble backend is not supported on " + runtime.GOOS)
}
